package server

import "encoding/json"

// Request kinds accepted on the WebSocket endpoint.
const (
	KindBattle       = "battle"
	KindMonteCarlo   = "monte_carlo"
	KindMatrix       = "matrix"
	KindImbalance    = "imbalance"
	KindCurve        = "curve"
	KindCorrelation  = "correlation"
	KindDeadZones    = "dead_zones"
	KindEconomy      = "economy"
	KindSinglePlayer = "single_player"
)

// Request is one analysis call. ID is echoed on every message that answers
// it so a client can pipeline requests.
type Request struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MessageType is the type of a server message.
type MessageType string

const (
	MessageProgress MessageType = "progress"
	MessageResult   MessageType = "result"
	MessageError    MessageType = "error"
)

// Message is sent from the server to a client. A request is answered by zero
// or more progress messages followed by exactly one result or error.
type Message struct {
	ID   string      `json:"id,omitempty"`
	Type MessageType `json:"type"`
	Kind string      `json:"kind,omitempty"`

	// Percent is set on progress messages only.
	Percent *float64 `json:"percent,omitempty"`

	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	// Invalid marks errors caused by the request's own input.
	Invalid bool `json:"invalid,omitempty"`

	// Cached is set when the result was served from the cache or archive.
	Cached      bool   `json:"cached,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	RunID       string `json:"runId,omitempty"`
}

func progressMessage(req Request, pct float64) Message {
	return Message{ID: req.ID, Type: MessageProgress, Kind: req.Kind, Percent: &pct}
}

func errorMessage(req Request, err error, invalid bool) Message {
	return Message{ID: req.ID, Type: MessageError, Kind: req.Kind, Error: err.Error(), Invalid: invalid}
}
