// Command gpio-sequencer drives GPIO output lines through named,
// cooldown-checked sequences, from the command line or as a daemon with
// HTTP and MQTT control.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sweeney/gpio-sequencer/internal/config"
	"github.com/sweeney/gpio-sequencer/internal/logging"
	"github.com/sweeney/gpio-sequencer/internal/output"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	dryRun     bool
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "gpio-sequencer",
		Short:         "Drive GPIO outputs through timed, cooldown-checked sequences",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "config file, YAML or TOML (default $"+config.EnvPath+", else built-in demo)")
	pf.BoolVar(&opts.dryRun, "dry-run", false, "log output writes instead of driving GPIO lines")
	pf.String("chip", "", "GPIO chip name, overrides the config file")
	pf.String("http", "", `HTTP listen address, overrides the config file ("off" disables)`)
	pf.String("broker", "", `MQTT broker URL, overrides the config file ("off" disables)`)
	pf.String("log-level", "", "log level: trace, debug, info, warn, error")
	pf.String("log-format", "", "log format: text or json")

	root.AddCommand(
		newListCmd(opts),
		newValidateCmd(opts),
		newRunCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// loadConfig resolves the config file (flag, then environment, then the
// built-in default) and applies flag overrides. It returns the path that
// was loaded, empty for the built-in default.
func loadConfig(cmd *cobra.Command, opts *options) (config.Config, string, error) {
	path := opts.configPath
	if path == "" {
		path = os.Getenv(config.EnvPath)
	}

	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, "", err
		}
	}

	applyFlags(cmd.Flags(), &cfg)
	return cfg, path, nil
}

// applyFlags copies explicitly set override flags into cfg.
func applyFlags(flags *pflag.FlagSet, cfg *config.Config) {
	flags.Visit(func(f *pflag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "chip":
			cfg.Chip = v
		case "http":
			cfg.HTTP = disabled(v)
		case "broker":
			cfg.MQTT.Broker = disabled(v)
		case "log-level":
			cfg.Logging.Level = v
		case "log-format":
			cfg.Logging.Format = v
		}
	})
}

func disabled(v string) string {
	if v == config.Off {
		return ""
	}
	return v
}

func newLogger(cfg config.Config) (*slog.Logger, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	return logger, nil
}

// newDriver opens the GPIO lines, or a recording driver for dry runs.
func newDriver(cfg config.Config, dryRun bool, logger *slog.Logger) (output.Driver, error) {
	if dryRun {
		d := output.NewFakeDriver(cfg.Pins())
		d.Logger = logger.With("driver", "dry-run")
		return d, nil
	}
	d, err := output.NewRealDriver(cfg.Chip, cfg.Consumer, cfg.Pins())
	if err != nil {
		return nil, fmt.Errorf("init gpio: %w", err)
	}
	return d, nil
}
