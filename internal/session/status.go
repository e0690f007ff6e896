package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rbright/murmur/internal/fsm"
	"github.com/rbright/murmur/internal/ipc"
)

// Status is a point-in-time view of the daemon for IPC clients.
type Status struct {
	State       fsm.State
	Refine      bool
	ModelLoaded bool
	SessionID   string
	LastError   string
	LastElapsed time.Duration
}

// Status snapshots the machine, the engine, and the last session.
func (c *Controller) Status() Status {
	state, _ := c.machine.Snapshot()
	status := Status{
		State:       state,
		Refine:      c.machine.Refine(),
		ModelLoaded: c.engine.Loaded(),
	}

	c.mu.Lock()
	status.SessionID = c.lastID
	status.LastError = c.lastError
	status.LastElapsed = c.lastElapsed
	c.mu.Unlock()
	return status
}

// Handle serves daemon IPC commands.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		s := c.Status()
		return ipc.Response{
			OK:          true,
			State:       string(s.State),
			Refine:      s.Refine,
			ModelLoaded: s.ModelLoaded,
			SessionID:   s.SessionID,
			LastError:   s.LastError,
		}
	case ipc.CommandStop:
		return c.requestStop()
	case ipc.CommandUnload:
		return c.requestUnload()
	default:
		return ipc.Response{OK: false, State: string(c.machine.Current()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func (c *Controller) requestStop() ipc.Response {
	applied, err := c.machine.CompareAndSet(fsm.StateRecording, fsm.StateProcessing, fsm.Data{Refine: c.machine.Refine()})
	state := c.machine.Current()
	if err != nil {
		return ipc.Response{OK: false, State: string(state), Error: err.Error()}
	}
	if !applied {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot stop from state %s", state)}
	}
	return ipc.Response{OK: true, State: string(state), Message: "stop requested"}
}

func (c *Controller) requestUnload() ipc.Response {
	state := c.machine.Current()
	if state == fsm.StateRecording || state == fsm.StateProcessing {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot unload while %s", state)}
	}

	c.mu.Lock()
	c.scheduler.Cancel(c.unloadToken)
	c.unloadToken = 0
	c.mu.Unlock()

	if !c.engine.Unload() {
		return ipc.Response{OK: true, State: string(state), Message: "model not loaded"}
	}
	return ipc.Response{OK: true, State: string(state), Message: "model unloaded"}
}
