package engine

import (
	"fmt"
	"time"

	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/message"
	"github.com/c360/graphmesh/value"
)

// Timer command properties: "timer_id" names the timer, "timeout_us"
// sets the tick interval, "times" bounds the tick count (missing or -1
// means until stopped), and "cancel" true stops a running timer.
const (
	propTimerID   = "timer_id"
	propTimeoutUS = "timeout_us"
	propTimes     = "times"
	propCancel    = "cancel"
)

// handleTimer answers the built-in timer command. A started timer posts
// a timeout command to the requesting extension on every tick until its
// count is exhausted, it is cancelled, or the graph stops.
func (e *Engine) handleTimer(from message.Location, cmd *message.Cmd, handler func(*message.CmdResult, error)) error {
	fail := func(detail string) error {
		r := message.NewCmdResultForID(message.StatusInvalidArgument, cmd.CmdID(), cmd.Name())
		r.SetDetail(detail)
		e.answer(from, handler, r)
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Engine", "handleTimer", detail)
	}

	idNode := cmd.PeekProperty(propTimerID)
	if idNode == nil {
		return fail("timer_id is required")
	}
	timerID, err := idNode.GetString()
	if err != nil || timerID == "" {
		return fail("timer_id must be a non-empty string")
	}

	if cancelNode := cmd.PeekProperty(propCancel); cancelNode != nil {
		cancel, err := cancelNode.GetBool()
		if err != nil {
			return fail("cancel must be a bool")
		}
		if cancel {
			if !e.stopTimer(timerID) {
				return fail(fmt.Sprintf("timer %q not found", timerID))
			}
			r := message.NewCmdResultForID(message.StatusOk, cmd.CmdID(), cmd.Name())
			r.SetDetail("timer cancelled")
			e.answer(from, handler, r)
			return nil
		}
	}

	intervalNode := cmd.PeekProperty(propTimeoutUS)
	if intervalNode == nil {
		return fail("timeout_us is required")
	}
	intervalUS, err := intervalNode.GetInt64()
	if err != nil || intervalUS <= 0 {
		return fail("timeout_us must be a positive integer")
	}

	times := int64(-1)
	if timesNode := cmd.PeekProperty(propTimes); timesNode != nil {
		if times, err = timesNode.GetInt64(); err != nil || times == 0 || times < -1 {
			return fail("times must be -1 or a positive integer")
		}
	}

	stop := make(chan struct{})
	e.timerMu.Lock()
	if _, exists := e.timers[timerID]; exists {
		e.timerMu.Unlock()
		return fail(fmt.Sprintf("timer %q already running", timerID))
	}
	e.timers[timerID] = stop
	e.timerMu.Unlock()

	go e.runTimer(timerID, from, time.Duration(intervalUS)*time.Microsecond, times, stop)

	r := message.NewCmdResultForID(message.StatusOk, cmd.CmdID(), cmd.Name())
	r.SetDetail("timer started")
	e.answer(from, handler, r)
	return nil
}

func (e *Engine) runTimer(timerID string, target message.Location, interval time.Duration, times int64, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var fired int64
	for {
		select {
		case <-ticker.C:
			tick := message.NewTimeoutCmd()
			tick.SetSrc(message.Location{AppURI: e.appURI, GraphID: e.graphID})
			tick.AddDest(target)
			_ = tick.SetProperty(propTimerID, value.NewString(timerID))
			e.deliver(target, tick)

			fired++
			if times > 0 && fired >= times {
				e.removeTimer(timerID)
				return
			}
		case <-stop:
			return
		case <-e.done:
			return
		}
	}
}

func (e *Engine) removeTimer(timerID string) {
	e.timerMu.Lock()
	delete(e.timers, timerID)
	e.timerMu.Unlock()
}

// stopTimer cancels one timer. Reports false when no such timer runs.
func (e *Engine) stopTimer(timerID string) bool {
	e.timerMu.Lock()
	stop, ok := e.timers[timerID]
	if ok {
		delete(e.timers, timerID)
	}
	e.timerMu.Unlock()
	if ok {
		close(stop)
	}
	return ok
}

// stopTimers cancels every timer; graph teardown calls this once.
func (e *Engine) stopTimers() {
	select {
	case <-e.done:
		return
	default:
	}
	close(e.done)
	e.timerMu.Lock()
	e.timers = make(map[string]chan struct{})
	e.timerMu.Unlock()
}
