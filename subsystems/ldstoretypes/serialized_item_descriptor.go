package ldstoretypes

// SerializedItemDescriptor is a versioned item in the serialized form used by persistent data
// stores, which treat item data as opaque JSON.
type SerializedItemDescriptor struct {
	// Version is the version number of this data, provided by the source of the data.
	Version int
	// Deleted is true if this is a deleted item placeholder (tombstone). SerializedItem should
	// still contain a tombstone representation in that case, for stores that cannot represent
	// deletions any other way.
	Deleted bool
	// SerializedItem is the JSON representation of the item or tombstone.
	SerializedItem []byte
}

// KeyedSerializedItemDescriptor is a SerializedItemDescriptor paired with its key.
type KeyedSerializedItemDescriptor struct {
	Key  string
	Item SerializedItemDescriptor
}

// SerializedCollection is all of the serialized items of one kind.
type SerializedCollection struct {
	Kind  DataKind
	Items []KeyedSerializedItemDescriptor
}
