// Command alarmd wires the store, event bus, clock and coordinator into
// a standalone process: a reference host for the alarm core, the way the
// teacher's main.go wired alarm.Manager, timer.Manager and display.App
// together for its TUI.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"alarmhost/internal/alarmlog"
	"alarmhost/internal/clock"
	"alarmhost/internal/coordinator"
	"alarmhost/internal/eventbus"
	"alarmhost/internal/model"
	"alarmhost/internal/scriptrunner"
	"alarmhost/internal/store"
)

func main() {
	storePath := flag.String("store", "alarmhost.json", "path to the persisted alarm store")
	devLog := flag.Bool("dev-log", false, "use zap's development logger instead of production")
	knownRoutines := flag.String("known-routines", "", "comma-separated routine names the host recognizes, for the script-reference health check; empty means every name resolves")
	flag.Parse()

	log, err := newLogger(*devLog)
	if err != nil {
		os.Exit(1)
	}

	st, err := store.Open(*storePath)
	if err != nil {
		log.Warnf("store load failed, continuing with empty store: %v", err)
	}

	bus := eventbus.New()
	bus.Subscribe(func(ev eventbus.Event) {
		log.Infof("event %s alarm=%s state=%s", ev.Kind, ev.AlarmID, ev.AlarmState)
	})

	coord := coordinator.New(coordinator.Config{
		Store:          st,
		Bus:            bus,
		ScriptRunner:   newLoggingRunner(log, *knownRoutines),
		Clock:          clock.NewSystemClock(),
		DeviceDefaults: &model.DeviceDefaults{ScriptTimeoutS: 30, ScriptRetryCount: 2},
		Log:            log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coord.Start(ctx); err != nil {
		log.Errorf("coordinator start failed: %v", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Infof("shutting down")
	coord.Shutdown()
}

func newLogger(dev bool) (alarmlog.Logger, error) {
	if dev {
		return alarmlog.NewZapDevelopment()
	}
	return alarmlog.NewZap()
}

// loggingRunner is the host-supplied scriptrunner.Runner; dispatch to real
// automation routines is out of scope (spec.md §1), so this stands in as
// a logging no-op the way a reference host would before wiring its own
// automation backend. It also implements scriptrunner.Resolver against a
// fixed allow-list, so the coordinator's script-reference health check
// (spec.md §4.5) has something to probe.
type loggingRunner struct {
	log   alarmlog.Logger
	known map[string]bool // nil means every routine resolves
}

func newLoggingRunner(log alarmlog.Logger, knownRoutinesCSV string) *loggingRunner {
	r := &loggingRunner{log: log}
	if strings.TrimSpace(knownRoutinesCSV) == "" {
		return r
	}
	r.known = make(map[string]bool)
	for _, name := range strings.Split(knownRoutinesCSV, ",") {
		if name = strings.TrimSpace(name); name != "" {
			r.known[name] = true
		}
	}
	return r
}

func (r *loggingRunner) Run(ctx context.Context, routine string, payload scriptrunner.Context) error {
	r.log.Debugf("would run routine %q for alarm %s (trigger=%s)", routine, payload.AlarmID, payload.TriggerType)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(0):
		return nil
	}
}

// Resolve reports whether routine is recognized (scriptrunner.Resolver).
func (r *loggingRunner) Resolve(routine string) bool {
	if r.known == nil {
		return true
	}
	return r.known[routine]
}
