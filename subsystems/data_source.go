package subsystems

import (
	"context"
	"io"

	"github.com/launchdarkly/go-server-sdk-core/interfaces"
	"github.com/launchdarkly/go-server-sdk-core/internal/fdv2proto"
)

// Basis is the result of a successful DataInitializer fetch: a change-set that can seed the
// store before any synchronizer has connected.
type Basis struct {
	// ChangeSet holds the fetched data and the selector to resume from.
	ChangeSet *fdv2proto.ChangeSet
	// Persist is true if this data should also be written to a persistent store, false if it
	// came from the persistent store itself or another local source of unknown freshness.
	Persist bool
}

// Update is one item in the stream produced by a DataSynchronizer.
type Update struct {
	// State says whether the synchronizer is operating normally. A Valid update usually carries
	// a ChangeSet; Interrupted and Off updates carry error information instead.
	State interfaces.DataSourceState
	// ChangeSet is the data accompanying a Valid update, or nil.
	ChangeSet *fdv2proto.ChangeSet
	// EnvironmentID is the environment identifier reported by the service for this session, if
	// known.
	EnvironmentID string
	// RevertToFDv1 is true if the service has instructed the client to fall back permanently to
	// the v1 protocol.
	RevertToFDv1 bool
	// Err describes the problem behind an Interrupted or Off state.
	Err interfaces.DataSourceErrorInfo
}

// DataInitializer fetches a data basis once, during the data system's startup phase.
type DataInitializer interface {
	// Name identifies the initializer in log messages.
	Name() string
	// Fetch retrieves a data basis, honoring cancellation of the context.
	Fetch(ctx context.Context) (*Basis, error)
}

// DataSynchronizer maintains an ongoing connection to a data source, delivering updates until
// it is closed or fails unrecoverably.
type DataSynchronizer interface {
	io.Closer

	// Name identifies the synchronizer in log messages.
	Name() string

	// Sync starts the synchronizer, resuming from the given selector if it is defined. The
	// returned channel carries updates in protocol order and is closed when the synchronizer
	// has permanently stopped, whether from an unrecoverable error or from Close.
	Sync(ctx context.Context, selector fdv2proto.Selector) <-chan Update
}
