package ldstoretypes

// DataKind classifies the kinds of data the data system handles: feature flags and segments.
// The concrete implementations are in the internal datakinds package; everything else treats
// items of different kinds generically through this interface.
type DataKind interface {
	// GetName returns a short string identifying the kind ("features", "segments"). This is used
	// in log messages and as a namespace by persistent store implementations.
	GetName() string
	// Serialize returns the wire JSON representation of an item of this kind. A tombstone is
	// serialized as a minimal object with "deleted": true.
	Serialize(item ItemDescriptor) []byte
	// Deserialize parses the wire JSON representation of an item of this kind.
	Deserialize(data []byte) (ItemDescriptor, error)
}
