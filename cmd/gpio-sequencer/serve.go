package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/sweeney/gpio-sequencer/internal/config"
	"github.com/sweeney/gpio-sequencer/internal/control"
	"github.com/sweeney/gpio-sequencer/internal/events"
	"github.com/sweeney/gpio-sequencer/internal/metrics"
	"github.com/sweeney/gpio-sequencer/internal/mqtt"
	"github.com/sweeney/gpio-sequencer/internal/sequence"
	"github.com/sweeney/gpio-sequencer/internal/status"
	"github.com/sweeney/gpio-sequencer/internal/web"
)

const (
	// statusInterval is how often the MQTT connection state is sampled.
	statusInterval = 5 * time.Second

	// reloadSettle is how long the config file must stay untouched before
	// it is reloaded.
	reloadSettle = 500 * time.Millisecond
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run as a daemon with HTTP and MQTT control",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return serve(cfg, path, opts.dryRun)
		},
	}
}

func serve(cfg config.Config, path string, dryRun bool) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	drv, err := newDriver(cfg, dryRun, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := drv.Close(); err != nil {
			logger.Error("close gpio", "error", err)
		}
	}()

	bus := events.New()
	seq := sequence.New(drv, drv.Outputs(), cfg.Cooldown(),
		sequence.WithLogger(logger),
		sequence.WithNotifier(bus),
	)
	ctrl := control.New(seq, cfg.Catalog(), logger)

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		Chip:       cfg.Chip,
		CooldownMs: int64(cfg.CooldownMs),
		Broker:     cfg.MQTT.Broker,
		HTTPAddr:   cfg.HTTP,
		DryRun:     dryRun,
	}, drv.Outputs(), cfg.Labels())
	tracker.SetSequences(ctrl.Names())
	defer tracker.Subscribe(bus)()
	defer metrics.Subscribe(bus)()

	var (
		publisher mqtt.Publisher
		conn      mqtt.ConnectionStatus
	)
	if cfg.MQTT.Broker != "" {
		pub, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topics:   mqtt.NewTopics(cfg.MQTT.TopicPrefix),
			OnCommand: func(c mqtt.Command) {
				if err := mqtt.Dispatch(c, ctrl); err != nil {
					logger.Warn("mqtt command failed", "action", c.Action, "sequence", c.Sequence, "error", err)
				}
			},
			Logger: logger.With("component", "mqtt"),
		})
		if err != nil {
			return err
		}
		defer pub.Close()
		publisher, conn = pub, pub
		defer mqtt.Forward(bus, pub, logger)()

		tracker.SetMQTTConnected(pub.IsConnected())
		snap := tracker.Snapshot()
		startupEvent := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "STARTUP",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
		}
		if err := pub.PublishSystem(startupEvent); err != nil {
			logger.Warn("failed to publish startup event", "error", err)
		} else {
			logger.Info("published startup event")
		}
	}

	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker, ctrl, metrics.Handler(), logger.With("component", "http"))
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		logger.Info("http server listening", "addr", cfg.HTTP)
	}

	reload := make(chan config.Config, 1)
	if path != "" {
		w, err := config.Watch(path, reloadSettle, logger.With("component", "config"),
			func(c config.Config) {
				select {
				case reload <- c:
				default:
					logger.Warn("config reload dropped, previous reload still pending")
				}
			},
			func(err error) {
				logger.Warn("config reload rejected, keeping current sequences", "path", path, "error", err)
			},
		)
		if err != nil {
			logger.Warn("config watcher disabled", "path", path, "error", err)
		} else {
			defer w.Stop()
		}
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("systemd notify failed", "error", err)
	} else if ok {
		logger.Debug("notified systemd")
	}
	logger.Info("started",
		"outputs", drv.Outputs(),
		"cooldown", cfg.Cooldown(),
		"sequences", ctrl.Names(),
		"dry_run", dryRun,
	)

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	d := &daemonLoop{
		ctrl:      ctrl,
		tracker:   tracker,
		publisher: publisher,
		conn:      conn,
		live:      cfg,
		logger:    logger,
		now:       time.Now,
	}
	err = d.run(reload, ticker.C, sigCh)
	daemon.SdNotify(false, daemon.SdNotifyStopping)
	return err
}

// daemonLoop reacts to signals, config reloads and status ticks until a
// shutdown signal arrives.
type daemonLoop struct {
	ctrl      *control.Controller
	tracker   *status.Tracker
	publisher mqtt.Publisher        // nil when MQTT is disabled
	conn      mqtt.ConnectionStatus // nil when MQTT is disabled
	live      config.Config         // what the driver and sequencer were built from
	logger    *slog.Logger
	now       func() time.Time
}

func (d *daemonLoop) run(reload <-chan config.Config, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			d.shutdown(s)
			return nil

		case cfg := <-reload:
			d.applyReload(cfg)

		case <-tick:
			if d.conn != nil {
				d.tracker.SetMQTTConnected(d.conn.IsConnected())
			}
		}
	}
}

// shutdown closes the controller, so HTTP and MQTT commands arriving from
// here on are refused, waits for the terminal state of any active run and
// announces the shutdown.
func (d *daemonLoop) shutdown(s os.Signal) {
	reason := signalName(s)
	d.logger.Info("shutting down", "signal", reason)

	if d.ctrl.Close() {
		d.logger.Info("active run stopped")
	}

	if d.publisher == nil {
		return
	}
	if d.conn != nil {
		d.tracker.SetMQTTConnected(d.conn.IsConnected())
	}
	snap := d.tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  d.now(),
		Event:      "SHUTDOWN",
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", reason),
	}
	if err := d.publisher.PublishSystem(event); err != nil {
		d.logger.Warn("failed to publish shutdown event", "error", err)
	} else {
		d.logger.Info("published shutdown event")
	}
}

// applyReload swaps in the sequences of a reloaded config. Output map and
// cooldown changes are only picked up on restart.
func (d *daemonLoop) applyReload(cfg config.Config) {
	if !reflect.DeepEqual(cfg.Pins(), d.live.Pins()) || cfg.CooldownMs != d.live.CooldownMs {
		d.logger.Warn("output map or cooldown changed; restart to apply")
	}
	d.ctrl.SetCatalog(cfg.Catalog())
	d.tracker.SetSequences(d.ctrl.Names())
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
