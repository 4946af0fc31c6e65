// Package coordinator is the top-level orchestrator of spec.md §4.4: it
// owns every alarm, exposes the command API, and enforces the
// concurrency discipline of §5. External commands enter here, mutate the
// StateMachine, update the Store, (re)schedule via the Scheduler, and
// drive the ExecutionPipeline when a timer fires.
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"alarmhost/internal/alarmlog"
	"alarmhost/internal/clock"
	"alarmhost/internal/eventbus"
	"alarmhost/internal/execpipeline"
	"alarmhost/internal/health"
	"alarmhost/internal/model"
	"alarmhost/internal/scriptrunner"
	"alarmhost/internal/store"
)

// Coordinator owns all alarms for one integration instance (spec.md
// design notes: "one Coordinator per integration instance is held by its
// owner; no process-global registry is required").
type Coordinator struct {
	mu     sync.RWMutex
	alarms map[string]*alarmHandle

	store    *store.Store
	bus      *eventbus.Bus
	pipeline *execpipeline.Pipeline
	clock    clock.Clock
	timers   *clock.TimerService
	defaults *model.DeviceDefaults
	loc      *time.Location
	log      alarmlog.Logger
	health   *health.Monitor

	settingsMu sync.RWMutex
	settings   model.GlobalSettings

	ctx       context.Context
	cancel    context.CancelFunc
	accepting atomic.Bool
}

// Config bundles the collaborators a Coordinator needs, wired together
// in one place the way a process entrypoint wires its dependencies.
type Config struct {
	Store          *store.Store
	Bus            *eventbus.Bus
	ScriptRunner   scriptrunner.Runner
	Clock          clock.Clock
	DeviceDefaults *model.DeviceDefaults
	Location       *time.Location
	Log            alarmlog.Logger
}

// New wires a Coordinator from its collaborators but does not start it;
// call Start to run the startup sequence of spec.md §4.4.
func New(cfg Config) *Coordinator {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	bus := cfg.Bus
	if bus == nil {
		bus = eventbus.New()
	}

	c := &Coordinator{
		alarms:   make(map[string]*alarmHandle),
		store:    cfg.Store,
		bus:      bus,
		pipeline: execpipeline.New(cfg.ScriptRunner, bus, cfg.Log),
		clock:    cfg.Clock,
		timers:   clock.NewTimerService(cfg.Clock),
		defaults: cfg.DeviceDefaults,
		loc:      cfg.Location,
		log:      cfg.Log,
		settings: cfg.Store.Settings(),
	}
	c.health = health.New(c, time.Duration(c.getSettings().WatchdogTimeoutS)*time.Second, bus, cfg.Log)
	return c
}

// Bus exposes the EventBus so hosts can subscribe.
func (c *Coordinator) Bus() *eventbus.Bus { return c.bus }

// Health exposes the HealthMonitor's last report.
func (c *Coordinator) Health() health.Report { return c.health.LastReport() }

func (c *Coordinator) getSettings() model.GlobalSettings {
	c.settingsMu.RLock()
	defer c.settingsMu.RUnlock()
	return c.settings
}

func (c *Coordinator) setSettings(s model.GlobalSettings) {
	c.settingsMu.Lock()
	c.settings = s
	c.settingsMu.Unlock()
}

// Start runs the exact startup sequence of spec.md §4.4: load the store,
// build in-memory alarms, restore and sanitize runtime state, re-arm
// snooze timers, scan for missed alarms, then start the HealthMonitor.
// Command handlers are "registered" simply by Start returning: the
// Coordinator is ready to accept AddAlarm/UpdateAlarm/etc. calls.
func (c *Coordinator) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	now := c.clock.Now()

	persisted := c.store.AllAlarms()
	for id, alarm := range persisted {
		rt, _ := c.store.RuntimeState(id)
		rt = sanitizeRuntimeState(rt, alarm)
		h := newAlarmHandle(alarm, rt, c.onTransition, c.onTransitionPanic)
		c.mu.Lock()
		c.alarms[id] = h
		c.mu.Unlock()
	}

	for _, h := range c.snapshotHandles() {
		c.recoverOne(h, now)
	}

	c.accepting.Store(true)
	c.health.Start()
	return nil
}

// Shutdown runs spec.md §4.4's shutdown sequence: refuse new commands,
// cancel all timers, persist every RuntimeState, stop the HealthMonitor,
// and let in-flight script executions complete on their own (best-effort
// cancellation is achieved by cancelling the Coordinator's context, which
// every ExecutionPipeline attempt is derived from).
func (c *Coordinator) Shutdown() {
	c.accepting.Store(false)
	c.health.Stop()

	for _, h := range c.snapshotHandles() {
		h.mu.Lock()
		h.timers.CancelAll()
		rt := h.machine.Snapshot()
		alarmID := h.alarm.ID
		h.mu.Unlock()
		if err := c.store.SaveRuntimeState(alarmID, rt); err != nil {
			c.log.Errorf("shutdown: failed to persist runtime state for %s: %v", alarmID, err)
		}
	}

	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Coordinator) snapshotHandles() []*alarmHandle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*alarmHandle, 0, len(c.alarms))
	for _, h := range c.alarms {
		out = append(out, h)
	}
	return out
}

func (c *Coordinator) handle(id string) (*alarmHandle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.alarms[id]
	return h, ok
}

func (c *Coordinator) onTransition(alarmID string, old, new model.State) {
	c.log.Debugf("alarm %s: %s -> %s", alarmID, old, new)
}

func (c *Coordinator) onTransitionPanic(alarmID string, recovered interface{}) {
	c.log.Errorf("alarm %s: transition callback panicked: %v", alarmID, recovered)
}
