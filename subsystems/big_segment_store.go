package subsystems

import (
	"io"

	"github.com/launchdarkly/go-sdk-common/v3/ldtime"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
)

// BigSegmentStore is the interface for an external store of big segment membership, keyed by
// hashed context keys. Implementations are provided externally.
type BigSegmentStore interface {
	io.Closer

	// GetMetadata returns information about the overall state of the store, used to detect
	// staleness. It is polled at a configurable interval.
	GetMetadata() (BigSegmentStoreMetadata, error)

	// GetMembership queries the inclusion/exclusion state for one context. The hash parameter
	// is base64(SHA-256(context key)). A nil membership with a nil error means the store has no
	// data for this context.
	GetMembership(contextHash string) (BigSegmentMembership, error)
}

// BigSegmentStoreMetadata is the return type of BigSegmentStore.GetMetadata.
type BigSegmentStoreMetadata struct {
	// LastUpToDate is the timestamp of the last update to the store.
	LastUpToDate ldtime.UnixMillisecondTime
}

// BigSegmentMembership is the per-context result of a big segment store query. Keys passed to
// CheckMembership are big segment references in "{segment_key}.g{generation}" form.
//
// The value is undefined if the store has no explicit inclusion or exclusion for the segment,
// in which case the segment's own rules decide.
type BigSegmentMembership interface {
	CheckMembership(segmentRef string) ldvalue.OptionalBool
}
