package fdv2proto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/launchdarkly/go-server-sdk-core/subsystems/ldstoretypes"
)

// ChangeAction distinguishes puts from deletes within a ChangeSet.
type ChangeAction int

const (
	// ChangeActionPut means the item was created or updated.
	ChangeActionPut ChangeAction = iota
	// ChangeActionDelete means the item was deleted.
	ChangeActionDelete
)

// Change is one flag or segment modification within a ChangeSet. For a put, Object holds the
// parsed item; for a delete, Object is a tombstone descriptor with a nil item.
type Change struct {
	Action ChangeAction
	Kind   ldstoretypes.DataKind
	Key    string
	Object ldstoretypes.ItemDescriptor
}

// ChangeSet is a transport-neutral batch of modifications, produced by a ChangeSetBuilder from
// a well-ordered protocol event sequence.
type ChangeSet struct {
	intentCode IntentCode
	changes    []Change
	selector   Selector
}

// IntentCode returns the intent the server declared for this transfer.
func (c *ChangeSet) IntentCode() IntentCode {
	return c.intentCode
}

// Changes returns the modifications in protocol order.
func (c *ChangeSet) Changes() []Change {
	return c.changes
}

// Selector returns the selector identifying the state after applying this change-set.
func (c *ChangeSet) Selector() Selector {
	return c.selector
}

// ChangeSetBuilder enforces the per-session protocol state machine: a transfer opens with a
// server intent, accumulates puts and deletes in order, and is finalized by a
// payload-transferred event. Out-of-order events are errors and reset the builder.
type ChangeSetBuilder struct {
	intent  *ServerIntent
	changes []Change
}

// NewChangeSetBuilder creates an empty builder in the idle state.
func NewChangeSetBuilder() *ChangeSetBuilder {
	return &ChangeSetBuilder{}
}

// errors returned by the builder on protocol violations
var (
	errNoIntent       = errors.New("changeset: event received before server-intent")
	errNoIntentCode   = errors.New("changeset: server-intent event contained no payloads")
	errIntentNoneData = errors.New("changeset: data event received under a none intent")
)

// Start begins a new transfer. Any partially accumulated data from a previous transfer is
// discarded.
func (b *ChangeSetBuilder) Start(intent ServerIntent) error {
	if len(intent.Payloads) == 0 {
		b.Reset()
		return errNoIntentCode
	}
	b.intent = &intent
	b.changes = nil
	return nil
}

// AddPut records an upsert. The object JSON is parsed immediately; a parse failure is an error
// and no partial item is recorded. Objects of unrecognized kinds are silently ignored.
func (b *ChangeSetBuilder) AddPut(kind ObjectKind, key string, version int, object json.RawMessage) error {
	if err := b.checkTransferring(); err != nil {
		return err
	}
	dataKind, known := kind.ToDataKind()
	if !known {
		return nil
	}
	item, err := dataKind.Deserialize(object)
	if err != nil {
		return fmt.Errorf("changeset: malformed %s object %q: %w", kind, key, err)
	}
	if item.Version == 0 {
		item.Version = version
	}
	b.changes = append(b.changes, Change{
		Action: ChangeActionPut,
		Kind:   dataKind,
		Key:    key,
		Object: item,
	})
	return nil
}

// AddDelete records a deletion.
func (b *ChangeSetBuilder) AddDelete(kind ObjectKind, key string, version int) error {
	if err := b.checkTransferring(); err != nil {
		return err
	}
	dataKind, known := kind.ToDataKind()
	if !known {
		return nil
	}
	b.changes = append(b.changes, Change{
		Action: ChangeActionDelete,
		Kind:   dataKind,
		Key:    key,
		Object: ldstoretypes.ItemDescriptor{Version: version, Item: nil},
	})
	return nil
}

// Finish completes the transfer, returning the accumulated ChangeSet and returning the builder
// to the idle state. Under a none intent the result is an empty ChangeSet carrying only the
// selector.
func (b *ChangeSetBuilder) Finish(selector Selector) (*ChangeSet, error) {
	if b.intent == nil {
		return nil, errNoIntent
	}
	changeSet := &ChangeSet{
		intentCode: b.intent.Payloads[0].Code,
		changes:    b.changes,
		selector:   selector,
	}
	b.Reset()
	return changeSet, nil
}

// Reset discards any accumulated state, returning the builder to idle.
func (b *ChangeSetBuilder) Reset() {
	b.intent = nil
	b.changes = nil
}

// IsTransferring returns true if a server intent has been received and the transfer has not
// yet been finalized or reset.
func (b *ChangeSetBuilder) IsTransferring() bool {
	return b.intent != nil
}

func (b *ChangeSetBuilder) checkTransferring() error {
	if b.intent == nil {
		return errNoIntent
	}
	if b.intent.Payloads[0].Code == IntentTransferNone {
		return errIntentNoneData
	}
	return nil
}
