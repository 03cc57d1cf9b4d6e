// Package fdv2proto defines the model for the v2 data transfer protocol: the named events
// shared by the streaming and polling transports, the selector used to resume a session, and
// the change-set builder that turns a well-ordered event sequence into a ChangeSet.
package fdv2proto

import (
	"encoding/json"

	"github.com/launchdarkly/go-server-sdk-core/internal/datakinds"
	"github.com/launchdarkly/go-server-sdk-core/subsystems/ldstoretypes"
)

// EventName identifies a protocol event, carried as the SSE event name in streaming and as the
// "event" property in polling responses.
type EventName string

const (
	// EventServerIntent announces what the server is about to send and opens a transfer.
	EventServerIntent = EventName("server-intent")
	// EventPutObject carries a full flag or segment.
	EventPutObject = EventName("put-object")
	// EventDeleteObject carries a deletion of a flag or segment.
	EventDeleteObject = EventName("delete-object")
	// EventPayloadTransferred marks the end of a transfer and carries the selector for it.
	EventPayloadTransferred = EventName("payload-transferred")
	// EventError indicates a server-side problem with the current payload; any partially
	// transferred data must be discarded.
	EventError = EventName("error")
	// EventGoodbye announces that the server is about to drop the connection.
	EventGoodbye = EventName("goodbye")
	// EventHeartbeat is a keepalive with no payload.
	EventHeartbeat = EventName("heart-beat")
)

// IntentCode is the server's declaration of what a transfer will contain.
type IntentCode string

const (
	// IntentTransferFull means the server will send the full data set.
	IntentTransferFull = IntentCode("xfer-full")
	// IntentTransferChanges means the server will send a delta against the client's selector.
	IntentTransferChanges = IntentCode("xfer-changes")
	// IntentTransferNone means the client's data is already current.
	IntentTransferNone = IntentCode("none")
)

// ObjectKind is the wire name of a data kind.
type ObjectKind string

const (
	// FlagKind is the wire name for feature flag objects.
	FlagKind = ObjectKind("flag")
	// SegmentKind is the wire name for segment objects.
	SegmentKind = ObjectKind("segment")
)

// ToDataKind maps a wire object kind to the corresponding store data kind. The second return
// value is false for kinds this SDK version does not recognize, which must be ignored rather
// than treated as errors.
func (o ObjectKind) ToDataKind() (ldstoretypes.DataKind, bool) {
	switch o {
	case FlagKind:
		return datakinds.Features, true
	case SegmentKind:
		return datakinds.Segments, true
	default:
		return nil, false
	}
}

// ServerIntent is the body of a server-intent event.
type ServerIntent struct {
	Payloads []Payload `json:"payloads"`
}

// Payload is one entry in a server-intent event. The protocol allows multiple payloads, but
// the current service sends exactly one.
type Payload struct {
	ID     string     `json:"id"`
	Target int        `json:"target"`
	Code   IntentCode `json:"intentCode"`
	Reason string     `json:"reason"`
}

// PutObject is the body of a put-object event.
type PutObject struct {
	Version int             `json:"version"`
	Kind    ObjectKind      `json:"kind"`
	Key     string          `json:"key"`
	Object  json.RawMessage `json:"object"`
}

// DeleteObject is the body of a delete-object event.
type DeleteObject struct {
	Version int        `json:"version"`
	Kind    ObjectKind `json:"kind"`
	Key     string     `json:"key"`
}

// PayloadTransferred is the body of a payload-transferred event. State and Version together
// form the selector for the data just received.
type PayloadTransferred struct {
	State   string `json:"state"`
	Version int    `json:"version"`
}

// ErrorEvent is the body of an error event.
type ErrorEvent struct {
	PayloadID string `json:"payloadId"`
	Reason    string `json:"reason"`
}

// Goodbye is the body of a goodbye event.
type Goodbye struct {
	Reason      string `json:"reason"`
	Silent      bool   `json:"silent"`
	Catastrophe bool   `json:"catastrophe"`
}
