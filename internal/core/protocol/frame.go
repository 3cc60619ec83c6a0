// Package protocol defines the JSON frames exchanged between scene hub
// clients and the hub, and a websocket connection that reads and writes them.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/zeusync/scenesync/internal/core/store"
	"github.com/zeusync/scenesync/pkg/generic"
)

var bufferPool = generic.NewPool(
	func() *bytes.Buffer { return new(bytes.Buffer) },
	func(b *bytes.Buffer) { b.Reset() },
)

type Op string

const (
	// Client requests.
	OpEnsure      Op = "ensure"
	OpGet         Op = "get"
	OpSave        Op = "save"
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"

	// Hub replies and pushes.
	OpAck    Op = "ack"
	OpError  Op = "error"
	OpUpdate Op = "update"
)

func (op Op) IsRequest() bool {
	switch op {
	case OpEnsure, OpGet, OpSave, OpSubscribe, OpUnsubscribe:
		return true
	default:
		return false
	}
}

func (op Op) Valid() bool {
	return op.IsRequest() || op == OpAck || op == OpError || op == OpUpdate
}

// Frame is one websocket message. Requests carry a RequestID that the hub
// echoes on the matching ack or error. Update frames carry the Subscription
// they belong to, which is the RequestID of the subscribe request.
type Frame struct {
	Op           Op              `json:"op"`
	RequestID    string          `json:"rid,omitempty"`
	Subscription string          `json:"sub,omitempty"`
	SceneID      string          `json:"scene,omitempty"`
	Canvas       json.RawMessage `json:"canvas,omitempty"`
	Title        string          `json:"title,omitempty"`
	Revision     uint64          `json:"rev,omitempty"`
	CreatedAt    int64           `json:"created,omitempty"`
	UpdatedAt    int64           `json:"updated,omitempty"`
	Error        *Error          `json:"error,omitempty"`
}

// NewRequestID returns a fresh, lexically sortable request id.
func NewRequestID() string {
	return ulid.Make().String()
}

func Request(op Op, sceneID string) Frame {
	return Frame{Op: op, RequestID: NewRequestID(), SceneID: sceneID}
}

// Ack answers req, optionally carrying a record.
func Ack(req Frame, rec *store.Record) Frame {
	f := Frame{Op: OpAck, RequestID: req.RequestID, SceneID: req.SceneID}
	if rec != nil {
		f.setRecord(*rec)
	}
	return f
}

func ErrorFrame(req Frame, err error) Frame {
	return Frame{Op: OpError, RequestID: req.RequestID, SceneID: req.SceneID, Error: WrapError(err)}
}

// Update pushes rec to the subscription sub.
func Update(sub string, rec store.Record) Frame {
	f := Frame{Op: OpUpdate, Subscription: sub}
	f.setRecord(rec)
	return f
}

func (f *Frame) setRecord(rec store.Record) {
	f.SceneID = rec.SceneID
	f.Canvas = rec.Canvas
	f.Title = rec.Title
	f.Revision = rec.Revision
	if !rec.CreatedAt.IsZero() {
		f.CreatedAt = rec.CreatedAt.UnixMilli()
	}
	if !rec.UpdatedAt.IsZero() {
		f.UpdatedAt = rec.UpdatedAt.UnixMilli()
	}
}

// Record rebuilds the store record carried by an ack or update frame.
func (f Frame) Record() store.Record {
	rec := store.Record{
		SceneID:  f.SceneID,
		Canvas:   f.Canvas,
		Title:    f.Title,
		Revision: f.Revision,
	}
	if f.CreatedAt != 0 {
		rec.CreatedAt = time.UnixMilli(f.CreatedAt).UTC()
	}
	if f.UpdatedAt != 0 {
		rec.UpdatedAt = time.UnixMilli(f.UpdatedAt).UTC()
	}
	return rec
}

// Err returns the error carried by an error frame, or nil.
func (f Frame) Err() error {
	if f.Op != OpError {
		return nil
	}
	if f.Error == nil {
		return &Error{Code: ErrorCodeUnknownError, Message: "unknown error"}
	}
	return f.Error
}

// Validate checks the fields each op needs.
func (f Frame) Validate() error {
	if !f.Op.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownOp, f.Op)
	}
	if f.Op.IsRequest() && f.RequestID == "" {
		return fmt.Errorf("%w: %s without request id", ErrInvalidFrame, f.Op)
	}
	switch f.Op {
	case OpEnsure, OpGet, OpSubscribe:
		if f.SceneID == "" {
			return fmt.Errorf("%w: %s without scene", ErrInvalidFrame, f.Op)
		}
	case OpSave:
		if f.SceneID == "" || len(f.Canvas) == 0 {
			return fmt.Errorf("%w: save without scene or canvas", ErrInvalidFrame)
		}
	case OpUnsubscribe:
		if f.Subscription == "" {
			return fmt.Errorf("%w: unsubscribe without subscription", ErrInvalidFrame)
		}
	case OpUpdate:
		if f.Subscription == "" {
			return fmt.Errorf("%w: update without subscription", ErrInvalidFrame)
		}
	case OpAck, OpError:
		if f.RequestID == "" {
			return fmt.Errorf("%w: %s without request id", ErrInvalidFrame, f.Op)
		}
	}
	return nil
}

func Encode(f Frame) ([]byte, error) {
	buf := bufferPool.Get()
	defer bufferPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(f); err != nil {
		return nil, err
	}
	return append([]byte(nil), bytes.TrimSuffix(buf.Bytes(), []byte("\n"))...), nil
}

// Decode parses and validates one frame.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}
