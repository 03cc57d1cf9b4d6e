// Package ldstoretypes contains the types used to represent flag and segment data as it is
// stored and exchanged between data system components.
package ldstoretypes

// ItemDescriptor is a versioned item (or placeholder) in a data store.
//
// Item is nil if this is a deleted item placeholder (tombstone). The version is retained in
// either case so that out-of-order updates can be rejected.
type ItemDescriptor struct {
	// Version is the version number of this data, provided by the source of the data.
	Version int
	// Item is the data item, or nil if this is a deleted item placeholder.
	Item interface{}
}

// NotFound returns an ItemDescriptor whose version is -1, representing an item that does not
// exist at all (as opposed to a tombstone for a deleted item).
func NotFound() ItemDescriptor {
	return ItemDescriptor{Version: -1, Item: nil}
}

// KeyedItemDescriptor is an ItemDescriptor paired with its key.
type KeyedItemDescriptor struct {
	Key  string
	Item ItemDescriptor
}

// Collection is all of the stored items of one kind.
type Collection struct {
	Kind  DataKind
	Items []KeyedItemDescriptor
}
