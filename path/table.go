package path

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/message"
)

// Table holds the in/out correlation records for one engine. It is safe
// for concurrent use; handlers are returned to the caller, never invoked
// under the table lock.
type Table struct {
	mu   sync.Mutex
	outs map[string]*PathOut
	ins  map[string]*PathIn

	logger *slog.Logger

	// expire is invoked from the deadline timer goroutine with the
	// expired record already removed from the table.
	expire func(out *PathOut)
}

// NewTable creates an empty correlation table. onExpire receives records
// whose deadline passed before a terminal result arrived; it may be nil
// when deadlines are unused.
func NewTable(logger *slog.Logger, onExpire func(out *PathOut)) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		outs:   make(map[string]*PathOut),
		ins:    make(map[string]*PathIn),
		logger: logger.With("component", "path_table"),
		expire: onExpire,
	}
}

// AddOut records an in-flight command. A zero deadline means the command
// waits forever. Registering a cmd ID twice is a correlation bug.
func (t *Table) AddOut(out *PathOut) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.outs[out.CmdID]; exists {
		return errors.WrapInvalid(errors.ErrNoPath, "Table", "AddOut",
			fmt.Sprintf("duplicate cmd_id %s", out.CmdID))
	}
	t.outs[out.CmdID] = out

	if !out.Deadline.IsZero() && t.expire != nil {
		wait := time.Until(out.Deadline)
		out.timer = time.AfterFunc(wait, func() {
			t.expireOut(out.CmdID)
		})
	}
	return nil
}

func (t *Table) expireOut(cmdID string) {
	t.mu.Lock()
	out, ok := t.outs[cmdID]
	if ok {
		delete(t.outs, cmdID)
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	t.logger.Warn("command deadline expired",
		"cmd_id", cmdID,
		"origin", out.Origin.String())
	t.expire(out)
}

// AddIn records a received command so the result it produces can be
// re-correlated upstream.
func (t *Table) AddIn(in *PathIn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ins[in.CmdID] = in
}

// ResolveIn looks up and, when the result is final, consumes the PathIn
// for cmdID.
func (t *Table) ResolveIn(cmdID string, isFinal bool) (*PathIn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	in, ok := t.ins[cmdID]
	if !ok {
		return nil, false
	}
	if isFinal {
		delete(t.ins, cmdID)
	}
	return in, true
}

// ResolveOut matches a result against its PathOut. A final result
// consumes the record and stops its deadline timer; a streaming result
// leaves it in place. The second return is false when no record matches,
// in which case the caller drops the result.
func (t *Table) ResolveOut(result *message.CmdResult) (*PathOut, bool) {
	t.mu.Lock()
	out, ok := t.outs[result.CmdID()]
	if ok && result.IsFinal() {
		delete(t.outs, result.CmdID())
		if out.timer != nil {
			out.timer.Stop()
		}
	}
	t.mu.Unlock()

	if !ok {
		t.logger.Warn("dropping result with no matching path",
			"cmd_id", result.CmdID(),
			"name", result.Name(),
			"status", result.Status().String())
		return nil, false
	}
	return out, true
}

// OutDepth reports the number of in-flight commands.
func (t *Table) OutDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.outs)
}

// InDepth reports the number of pending received-command records.
func (t *Table) InDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ins)
}

// Drain removes every record and returns the outs so teardown can fail
// their handlers. Deadline timers are stopped.
func (t *Table) Drain() []*PathOut {
	t.mu.Lock()
	defer t.mu.Unlock()

	outs := make([]*PathOut, 0, len(t.outs))
	for _, out := range t.outs {
		if out.timer != nil {
			out.timer.Stop()
		}
		outs = append(outs, out)
	}
	t.outs = make(map[string]*PathOut)
	t.ins = make(map[string]*PathIn)
	return outs
}
