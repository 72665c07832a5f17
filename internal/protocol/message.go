package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Operation names a compute operation understood by backends.
type Operation string

const (
	OpFibonacci  Operation = "fibonacci"
	OpPrime      Operation = "prime"
	OpReverse    Operation = "reverse"
	OpPalindrome Operation = "palindrome"
	OpWordCount  Operation = "wordcount"
	OpEcho       Operation = "echo"
	OpSquare     Operation = "square"
)

var knownOperations = map[Operation]struct{}{
	OpFibonacci:  {},
	OpPrime:      {},
	OpReverse:    {},
	OpPalindrome: {},
	OpWordCount:  {},
	OpEcho:       {},
	OpSquare:     {},
}

// Known reports whether o belongs to the closed operation set.
func (o Operation) Known() bool {
	_, ok := knownOperations[o]
	return ok
}

// Control message types exchanged between the health prober and a backend.
const (
	TypePing = "PING"
	TypePong = "PONG"
)

// AllBackendsDownMessage is the balancer-level error returned on total outage.
const AllBackendsDownMessage = "All backend servers are down or unresponsive."

var (
	ErrMissingOperation = errors.New("missing operation")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrControlMessage   = errors.New("control message not allowed")
	ErrEmptyResponse    = errors.New("response object has no fields")
)

// Request is a client compute request. Value and Data are kept as raw JSON
// so they reach the backend exactly as the client encoded them.
type Request struct {
	Type      string          `json:"type,omitempty"`
	Operation Operation       `json:"operation,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Validate rejects control frames and operations outside the known set.
func (r Request) Validate() error {
	if r.Type != "" {
		return fmt.Errorf("%w: %s", ErrControlMessage, r.Type)
	}

	if r.Operation == "" {
		return ErrMissingOperation
	}

	if !r.Operation.Known() {
		return fmt.Errorf("%w: %s", ErrUnknownOperation, r.Operation)
	}

	return nil
}

// IsPing reports whether the frame is a liveness probe.
func (r Request) IsPing() bool {
	return r.Type == TypePing
}

func (r Request) String() string {
	return compact(r)
}

// Response carries either a success payload or an error message, plus the
// identifier of the backend that produced it. Balancer-level errors have no
// ServerID.
type Response struct {
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
	ServerID string `json:"server_id,omitempty"`
}

// ErrorResponse builds a response holding only an error message.
func ErrorResponse(msg string) Response {
	return Response{Error: msg}
}

// DecodeResponse parses a backend reply. Any field present counts as an
// answer, including an empty "response" string; only {} is ErrEmptyResponse.
func DecodeResponse(frame []byte) (Response, error) {
	var fields map[string]json.RawMessage
	if err := Decode(frame, &fields); err != nil {
		return Response{}, err
	}
	if len(fields) == 0 {
		return Response{}, ErrEmptyResponse
	}

	var resp Response
	if err := Decode(frame, &resp); err != nil {
		return Response{}, err
	}

	return resp, nil
}

func (r Response) String() string {
	return compact(r)
}

// Control is a PING or PONG frame.
type Control struct {
	Type string `json:"type"`
}

var (
	Ping = Control{Type: TypePing}
	Pong = Control{Type: TypePong}
)

// IsPong reports whether c answers a liveness probe.
func (c Control) IsPong() bool {
	return c.Type == TypePong
}

func compact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}
