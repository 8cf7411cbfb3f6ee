package extension

import (
	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/value"
)

// EnvProxy is the one handle to an Env that may cross goroutines. It is
// clonable and freely copyable; its primitive operation is Notify, which
// enqueues a closure onto the owning group's loop and returns without
// waiting. ReadProperty is built on Notify and waits for the reply.
type EnvProxy struct {
	group  *Group
	target string
}

// NewEnvProxy creates a proxy for the named extension's Env.
func NewEnvProxy(group *Group, extName string) *EnvProxy {
	return &EnvProxy{group: group, target: extName}
}

// Clone returns an independent handle to the same Env.
func (p *EnvProxy) Clone() *EnvProxy {
	return &EnvProxy{group: p.group, target: p.target}
}

// Notify enqueues f to run on the Env's goroutine. It returns once the
// closure is queued; a shutting-down group refuses the work.
func (p *EnvProxy) Notify(f func(env *Env)) error {
	if err := p.group.NotifyEnv(p.target, f); err != nil {
		return errors.Wrap(err, "EnvProxy", "Notify", "enqueue")
	}
	return nil
}

// ReadProperty fetches a self-consistent snapshot of the property at the
// dotted path from a foreign goroutine. The clone happens on the Env's
// goroutine; the caller receives a value sharing no state with the tree.
// A nil value means the property is absent.
func (p *EnvProxy) ReadProperty(path string) (*value.Value, error) {
	reply := make(chan *value.Value, 1)
	err := p.Notify(func(env *Env) {
		node := env.PeekProperty(path)
		if node == nil {
			reply <- nil
			return
		}
		reply <- node.Clone()
	})
	if err != nil {
		return nil, err
	}
	return <-reply, nil
}
