// Package ipc carries newline-delimited JSON commands between the murmur CLI
// and the running daemon over a unix socket.
package ipc

// Commands understood by the daemon.
const (
	CommandStatus = "status"
	CommandStop   = "stop"
	CommandUnload = "unload"
)

type Request struct {
	Command string `json:"command"`
}

type Response struct {
	OK          bool   `json:"ok"`
	State       string `json:"state,omitempty"`
	Refine      bool   `json:"refine,omitempty"`
	ModelLoaded bool   `json:"model_loaded,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
}
