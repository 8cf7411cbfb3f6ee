// Package extension holds the user-facing side of the runtime: the
// Extension callback interface, the Env capability object handed to
// every callback, the goroutine-confined ExtensionGroup that serialises
// a set of extensions, and the EnvProxy handle for crossing goroutines.
package extension

import (
	"github.com/c360/graphmesh/message"
)

// Extension is the set of callbacks a graph node may implement. All of
// them are optional in spirit: embed DefaultExtension and override only
// what the node needs. Lifecycle callbacks must acknowledge through the
// matching Env method (ConfigureDone, InitDone, ...) or the graph stalls
// in that phase.
type Extension interface {
	OnConfigure(env *Env)
	OnInit(env *Env)
	OnStart(env *Env)
	OnStop(env *Env)
	OnDeinit(env *Env)

	OnCmd(env *Env, cmd *message.Cmd)
	OnData(env *Env, data *message.Data)
	OnAudioFrame(env *Env, frame *message.AudioFrame)
	OnVideoFrame(env *Env, frame *message.VideoFrame)
}

// DefaultExtension implements every callback. Lifecycle callbacks
// acknowledge immediately; OnCmd answers with an Ok result carrying
// detail "default"; frame callbacks drop their input.
type DefaultExtension struct{}

func (DefaultExtension) OnConfigure(env *Env) { _ = env.ConfigureDone() }
func (DefaultExtension) OnInit(env *Env)      { _ = env.InitDone() }
func (DefaultExtension) OnStart(env *Env)     { _ = env.StartDone() }
func (DefaultExtension) OnStop(env *Env)      { _ = env.StopDone() }
func (DefaultExtension) OnDeinit(env *Env)    { _ = env.DeinitDone() }

func (DefaultExtension) OnCmd(env *Env, cmd *message.Cmd) {
	result := message.NewCmdResult(message.StatusOk, cmd)
	result.SetDetail("default")
	_ = env.ReturnResult(result, cmd)
}

func (DefaultExtension) OnData(*Env, *message.Data)             {}
func (DefaultExtension) OnAudioFrame(*Env, *message.AudioFrame) {}
func (DefaultExtension) OnVideoFrame(*Env, *message.VideoFrame) {}
