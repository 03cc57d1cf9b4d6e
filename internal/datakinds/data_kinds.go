// Package datakinds defines the concrete DataKind implementations for feature flags and
// segments, including their JSON serializations.
package datakinds

import (
	"encoding/json"
	"fmt"

	"github.com/launchdarkly/go-server-sdk-core/evaluation/ldmodel"
	"github.com/launchdarkly/go-server-sdk-core/subsystems/ldstoretypes"
)

// Features is the DataKind for feature flags.
var Features ldstoretypes.DataKind = featureFlagKind{} //nolint:gochecknoglobals

// Segments is the DataKind for segments.
var Segments ldstoretypes.DataKind = segmentKind{} //nolint:gochecknoglobals

// AllKinds returns all supported data kinds, in an order suitable for dependency-safe
// enumeration: segments first, since flags can reference segments but not vice versa.
func AllKinds() []ldstoretypes.DataKind {
	return []ldstoretypes.DataKind{Segments, Features}
}

type featureFlagKind struct{}

func (fk featureFlagKind) GetName() string {
	return "features"
}

func (fk featureFlagKind) Serialize(item ldstoretypes.ItemDescriptor) []byte {
	if item.Item == nil {
		return tombstoneJSON(item.Version)
	}
	if flag, ok := item.Item.(*ldmodel.FeatureFlag); ok {
		if data, err := json.Marshal(flag); err == nil {
			return data
		}
	}
	return nil
}

func (fk featureFlagKind) Deserialize(data []byte) (ldstoretypes.ItemDescriptor, error) {
	var flag ldmodel.FeatureFlag
	if err := json.Unmarshal(data, &flag); err != nil {
		return ldstoretypes.NotFound(), err
	}
	if flag.Deleted {
		return ldstoretypes.ItemDescriptor{Version: flag.Version, Item: nil}, nil
	}
	return ldstoretypes.ItemDescriptor{Version: flag.Version, Item: &flag}, nil
}

type segmentKind struct{}

func (sk segmentKind) GetName() string {
	return "segments"
}

func (sk segmentKind) Serialize(item ldstoretypes.ItemDescriptor) []byte {
	if item.Item == nil {
		return tombstoneJSON(item.Version)
	}
	if segment, ok := item.Item.(*ldmodel.Segment); ok {
		if data, err := json.Marshal(segment); err == nil {
			return data
		}
	}
	return nil
}

func (sk segmentKind) Deserialize(data []byte) (ldstoretypes.ItemDescriptor, error) {
	var segment ldmodel.Segment
	if err := json.Unmarshal(data, &segment); err != nil {
		return ldstoretypes.NotFound(), err
	}
	if segment.Deleted {
		return ldstoretypes.ItemDescriptor{Version: segment.Version, Item: nil}, nil
	}
	return ldstoretypes.ItemDescriptor{Version: segment.Version, Item: &segment}, nil
}

func tombstoneJSON(version int) []byte {
	return []byte(fmt.Sprintf(`{"version":%d,"deleted":true}`, version))
}
