package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/gpio-sequencer/internal/output"
	"github.com/sweeney/gpio-sequencer/internal/sequence"
)

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configured sequences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			cat := cfg.Catalog()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTEPS\tPERIOD\tREPEAT\tCOOLDOWN")
			for _, name := range cat.Names() {
				req := cat[name]
				verdict := "ok"
				if v := sequence.Validate(req.Sequence, req.Period, cfg.Cooldown()); len(v) > 0 {
					verdict = fmt.Sprintf("%d violation(s)", len(v))
				}
				fmt.Fprintf(w, "%s\t%d\t%v\t%s\t%s\n", name, len(req.Sequence), req.Period, repeatString(req.Repeat), verdict)
			}
			return w.Flush()
		},
	}
}

func repeatString(n int) string {
	if n == sequence.Forever {
		return "forever"
	}
	return fmt.Sprint(n)
}

// errInvalid is returned by validate when any sequence fails its checks.
var errInvalid = errors.New("invalid sequences")

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [NAME...]",
		Short: "Check sequences against the output map and cooldown",
		Long:  "Check the named sequences, or all of them, without touching any output.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			cat := cfg.Catalog()
			if len(args) == 0 {
				args = cat.Names()
			}

			pins := cfg.Pins()
			d := output.NewFakeDriver(pins)
			seq := sequence.New(d, d.Outputs(), cfg.Cooldown())

			out := cmd.OutOrStdout()
			bad := 0
			for _, name := range args {
				req, ok := cat[name]
				if !ok {
					fmt.Fprintf(out, "%s: unknown sequence\n", name)
					bad++
					continue
				}
				err := seq.Check(req)
				if err == nil {
					fmt.Fprintf(out, "%s: ok\n", name)
					continue
				}
				bad++
				var verr *sequence.ValidationError
				if !errors.As(err, &verr) {
					fmt.Fprintf(out, "%s: %v\n", name, err)
					continue
				}
				fmt.Fprintf(out, "%s: %d cooldown violation(s)\n", name, len(verr.Violations))
				for _, v := range verr.Violations {
					fmt.Fprintf(out, "  %s\n", v)
				}
			}
			if bad > 0 {
				return fmt.Errorf("%w: %d of %d", errInvalid, bad, len(args))
			}
			return nil
		},
	}
}

func newRunCmd(opts *options) *cobra.Command {
	var (
		repeat   int
		forever  bool
		periodMs int
	)
	cmd := &cobra.Command{
		Use:   "run NAME",
		Short: "Run one sequence in the foreground",
		Long: "Run one sequence in the foreground. SIGINT or SIGTERM stops it at the next " +
			"wait and applies the terminal state before exiting.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			req, ok := cfg.Catalog()[args[0]]
			if !ok {
				return fmt.Errorf("unknown sequence %q", args[0])
			}
			if cmd.Flags().Changed("repeat") {
				req.Repeat = repeat
			}
			if forever {
				req.Repeat = sequence.Forever
			}
			if cmd.Flags().Changed("period-ms") {
				req.Period = time.Duration(periodMs) * time.Millisecond
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			drv, err := newDriver(cfg, opts.dryRun, logger)
			if err != nil {
				return err
			}
			defer drv.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			seq := sequence.New(drv, drv.Outputs(), cfg.Cooldown(), sequence.WithLogger(logger))
			return runOnce(ctx, seq, req, cmd)
		},
	}
	cmd.Flags().IntVar(&repeat, "repeat", 0, "extra passes after the first (-1 = forever)")
	cmd.Flags().BoolVar(&forever, "forever", false, "repeat until interrupted")
	cmd.Flags().IntVar(&periodMs, "period-ms", 0, "override the step period in milliseconds")
	return cmd
}

// runOnce runs req and reports the outcome on the command's output.
func runOnce(ctx context.Context, seq *sequence.Sequencer, req sequence.Request, cmd *cobra.Command) error {
	err := seq.Run(ctx, req)

	var verr *sequence.ValidationError
	switch {
	case errors.As(err, &verr):
		for _, v := range verr.Violations {
			fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", v)
		}
		return fmt.Errorf("%s rejected: %d cooldown violation(s)", req.Name, len(verr.Violations))
	case err != nil:
		return err
	case ctx.Err() != nil:
		fmt.Fprintf(cmd.OutOrStdout(), "%s: cancelled\n", req.Name)
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "%s: completed\n", req.Name)
	}
	return nil
}
