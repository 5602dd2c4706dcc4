// Package bridge implements session.Client over a JSON WebSocket control channel
// to the external messaging engine.
package bridge

// frame is the single wire shape for both directions: commands carry ID+Op,
// replies echo ID, and unsolicited engine notifications carry Event.
type frame struct {
	// Command / reply correlation.
	ID int64  `json:"id,omitempty"`
	Op string `json:"op,omitempty"`

	// Command arguments.
	To   string `json:"to,omitempty"`
	Body string `json:"body,omitempty"`

	// Reply payload.
	OK        bool   `json:"ok,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	State     string `json:"state,omitempty"`
	Error     string `json:"error,omitempty"`

	// Engine notifications.
	Event    string `json:"event,omitempty"`
	Payload  string `json:"payload,omitempty"`
	Identity string `json:"identity,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Command ops understood by the engine.
const (
	opConnect = "connect"
	opDestroy = "destroy"
	opState   = "state"
	opSend    = "send"
	opRefresh = "refresh"
)

// Engine notification names.
const (
	evQR            = "qr"
	evAuthenticated = "authenticated"
	evReady         = "ready"
	evDisconnected  = "disconnected"
)
