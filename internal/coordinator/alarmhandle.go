package coordinator

import (
	"sync"

	"alarmhost/internal/model"
	"alarmhost/internal/scheduler"
	"alarmhost/internal/statemachine"
)

// alarmHandle bundles everything the Coordinator owns for one alarm. The
// mutex is the per-alarm critical section of spec.md §5: state
// transitions, the (cancel, persist, re-arm) sequence, and command
// handling for this alarm are all serialized through it. No entity other
// than the Coordinator ever touches a handle (spec.md design notes,
// "Cyclic and shared references").
type alarmHandle struct {
	mu sync.Mutex

	alarm   model.Alarm
	machine *statemachine.Machine
	timers  *scheduler.Handles
}

func newAlarmHandle(alarm model.Alarm, rt model.RuntimeState, onTrans statemachine.TransitionCallback, onPanic func(string, interface{})) *alarmHandle {
	return &alarmHandle{
		alarm:   alarm,
		machine: statemachine.New(alarm.ID, rt, onTrans, onPanic),
		timers:  scheduler.NewHandles(),
	}
}
