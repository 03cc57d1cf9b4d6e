// Package sdkcore assembles the data system, evaluation engine, and change propagation
// subsystems of a server-side LaunchDarkly SDK. An SDK façade constructs a Core, starts it,
// and evaluates flags through it; the analytics event pipeline and the public client API are
// out of scope and live in the façade.
package sdkcore

import (
	"context"
	"errors"

	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldreason"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/go-server-sdk-core/config"
	"github.com/launchdarkly/go-server-sdk-core/evaluation"
	"github.com/launchdarkly/go-server-sdk-core/evaluation/ldmodel"
	"github.com/launchdarkly/go-server-sdk-core/interfaces"
	"github.com/launchdarkly/go-server-sdk-core/internal/bigsegments"
	"github.com/launchdarkly/go-server-sdk-core/internal/broadcasters"
	"github.com/launchdarkly/go-server-sdk-core/internal/datakinds"
	"github.com/launchdarkly/go-server-sdk-core/internal/datasource"
	"github.com/launchdarkly/go-server-sdk-core/internal/datasourcev2"
	"github.com/launchdarkly/go-server-sdk-core/internal/datastore"
	"github.com/launchdarkly/go-server-sdk-core/internal/datasystem"
	"github.com/launchdarkly/go-server-sdk-core/internal/filedata"
	"github.com/launchdarkly/go-server-sdk-core/internal/flagtracker"
	"github.com/launchdarkly/go-server-sdk-core/internal/httpconfig"
	"github.com/launchdarkly/go-server-sdk-core/subsystems"
)

var errNoSDKKey = errors.New("an SDK key is required unless the SDK is configured offline")

// Options are the pluggable components of a Core, beyond what config.Config describes.
type Options struct {
	// PersistentStore is an optional persistent store implementation. When set, the data
	// system mirrors its data into the store and can serve from it before fresh data arrives.
	PersistentStore subsystems.PersistentDataStore

	// PersistentStoreReadOnly means some other process maintains the persistent store and
	// this one must not write to it.
	PersistentStoreReadOnly bool

	// BigSegmentStore is an optional store of big segment membership. Without it, evaluations
	// that reference a big segment report a not-configured status.
	BigSegmentStore subsystems.BigSegmentStore

	// FileDataPath, if set, replaces the network data sources with a local JSON data file.
	FileDataPath string

	// FileDataWatch, with FileDataPath, reloads the file whenever it changes.
	FileDataWatch bool
}

// Core is the assembled SDK core. Create one with New, call Start, and evaluate flags with
// Evaluate. All methods are safe for concurrent use.
type Core struct {
	loggers    ldlog.Loggers
	store      *datasystem.Store
	dataSystem *datasystem.DataSystem
	evaluator  evaluation.Evaluator

	flagTracker *flagtracker.FlagTracker
	bigSegments *bigsegments.BigSegmentStoreManager

	flagChangeBroadcaster       *broadcasters.Broadcaster[interfaces.FlagChangeEvent]
	dataSourceStatusBroadcaster *broadcasters.Broadcaster[interfaces.DataSourceStatus]
	dataStoreStatusBroadcaster  *broadcasters.Broadcaster[interfaces.DataStoreStatus]
	bigSegmentStatusBroadcaster *broadcasters.Broadcaster[interfaces.BigSegmentStoreStatus]
}

// New validates the configuration and assembles a Core. It performs no network activity;
// call Start to begin receiving data.
func New(sdkKey config.SDKKey, c config.Config, loggers ldlog.Loggers, options Options) (*Core, error) {
	if !sdkKey.Defined() && !c.Offline && options.FileDataPath == "" {
		return nil, errNoSDKKey
	}
	if err := config.ValidateConfig(&c, loggers); err != nil {
		return nil, err
	}
	httpConfig, err := httpconfig.NewHTTPConfig(c, sdkKey, loggers)
	if err != nil {
		return nil, err
	}

	core := &Core{
		loggers:                     loggers,
		flagChangeBroadcaster:       broadcasters.NewBroadcaster[interfaces.FlagChangeEvent](),
		dataSourceStatusBroadcaster: broadcasters.NewBroadcaster[interfaces.DataSourceStatus](),
		dataStoreStatusBroadcaster:  broadcasters.NewBroadcaster[interfaces.DataStoreStatus](),
		bigSegmentStatusBroadcaster: broadcasters.NewBroadcaster[interfaces.BigSegmentStoreStatus](),
	}

	var persistent subsystems.DataStore
	mode := datastore.StoreModeRead
	var dataStoreStatusCh <-chan interfaces.DataStoreStatus
	if options.PersistentStore != nil {
		if !options.PersistentStoreReadOnly {
			mode = datastore.StoreModeReadWrite
		}
		persistent = datastore.NewPersistentDataStoreWrapper(
			options.PersistentStore, mode, 0, core.dataStoreStatusBroadcaster, loggers)
		dataStoreStatusCh = core.dataStoreStatusBroadcaster.AddListener()
	}

	core.store = datasystem.NewStore(
		datastore.NewInMemoryDataStore(loggers),
		persistent,
		mode,
		core.flagChangeBroadcaster,
		loggers,
	)

	dataSystemConfig := datasystem.DataSystemConfig{
		Store:             core.store,
		DataStoreStatusCh: dataStoreStatusCh,
	}
	switch {
	case c.Offline:
		loggers.Info("Starting in offline mode")
	case options.FileDataPath != "":
		fileSource := filedata.NewFileDataSource(options.FileDataPath, loggers)
		if options.FileDataWatch {
			dataSystemConfig.Synchronizers = []subsystems.DataSynchronizer{fileSource}
		} else {
			dataSystemConfig.Initializers = []subsystems.DataInitializer{fileSource}
		}
	default:
		client := httpConfig.Client()
		headers := httpConfig.DefaultHeaders
		requesterV2 := datasourcev2.NewRequester(
			client, c.BaseURI(), c.PayloadFilterKey, headers, loggers)
		pollingV2 := datasourcev2.NewPollingDataSource(
			requesterV2, c.EffectivePollInterval(), loggers)
		streaming := datasourcev2.NewStreamingDataSource(
			client, c.StreamURI(), c.PayloadFilterKey, headers,
			c.InitialReconnectDelay.GetOrElse(config.DefaultInitialReconnectDelay), loggers)
		requesterV1 := datasource.NewRequester(
			client, c.BaseURI(), c.PayloadFilterKey, headers, loggers)
		fallback := datasource.NewPollingDataSource(
			requesterV1, c.EffectivePollInterval(), loggers)

		dataSystemConfig.Initializers = []subsystems.DataInitializer{pollingV2}
		dataSystemConfig.Synchronizers = []subsystems.DataSynchronizer{streaming, pollingV2}
		dataSystemConfig.FallbackSynchronizer = fallback
	}
	core.dataSystem = datasystem.NewDataSystem(
		dataSystemConfig, core.dataSourceStatusBroadcaster, loggers)

	evalOptions := []evaluation.EvaluatorOption{
		evaluation.EvaluatorOptionErrorLogger(loggers),
	}
	if options.BigSegmentStore != nil {
		core.bigSegments = bigsegments.NewBigSegmentStoreManager(
			options.BigSegmentStore, c.BigSegments, core.bigSegmentStatusBroadcaster, loggers)
		evalOptions = append(evalOptions, evaluation.EvaluatorOptionBigSegmentProvider(core.bigSegments))
	}
	core.evaluator = evaluation.NewEvaluator(storeDataProvider{store: core.store}, evalOptions...)

	core.flagTracker = flagtracker.NewFlagTracker(core.flagChangeBroadcaster,
		func(flagKey string, context ldcontext.Context) ldvalue.Value {
			return core.Evaluate(flagKey, context, nil).Detail.Value
		})
	return core, nil
}

// Start launches the data system. The returned channel is closed when the SDK has data to
// evaluate with or has failed permanently; it is the same channel on every call.
func (c *Core) Start(ctx context.Context) <-chan struct{} {
	return c.dataSystem.Start(ctx)
}

// Close permanently shuts down all components. It is safe to call more than once.
func (c *Core) Close() error {
	err := c.dataSystem.Close()
	if c.bigSegments != nil {
		_ = c.bigSegments.Close()
	}
	c.flagChangeBroadcaster.Close()
	c.dataSourceStatusBroadcaster.Close()
	c.dataStoreStatusBroadcaster.Close()
	c.bigSegmentStatusBroadcaster.Close()
	return err
}

// Evaluate computes the value of a feature flag for the given context. An unknown or deleted
// flag yields an error result with the FLAG_NOT_FOUND reason. recorder may be nil.
func (c *Core) Evaluate(
	flagKey string,
	context ldcontext.Context,
	recorder evaluation.PrerequisiteFlagEventRecorder,
) evaluation.Result {
	flag := storeDataProvider{store: c.store}.GetFeatureFlag(flagKey)
	if flag == nil {
		return evaluation.Result{
			Detail: ldreason.NewEvaluationDetailForError(ldreason.EvalErrorFlagNotFound, ldvalue.Null()),
		}
	}
	return c.evaluator.Evaluate(flag, context, recorder)
}

// DataSourceStatus returns the current status of the data source.
func (c *Core) DataSourceStatus() interfaces.DataSourceStatus {
	return c.dataSystem.Status()
}

// AddDataSourceStatusListener subscribes to data source status changes.
func (c *Core) AddDataSourceStatusListener() <-chan interfaces.DataSourceStatus {
	return c.dataSourceStatusBroadcaster.AddListener()
}

// RemoveDataSourceStatusListener unsubscribes a channel returned by
// AddDataSourceStatusListener.
func (c *Core) RemoveDataSourceStatusListener(ch <-chan interfaces.DataSourceStatus) {
	c.dataSourceStatusBroadcaster.RemoveListener(ch)
}

// AddFlagChangeListener subscribes to configuration-change events for all flags.
func (c *Core) AddFlagChangeListener() <-chan interfaces.FlagChangeEvent {
	return c.flagTracker.AddFlagChangeListener()
}

// RemoveFlagChangeListener unsubscribes a channel returned by AddFlagChangeListener.
func (c *Core) RemoveFlagChangeListener(ch <-chan interfaces.FlagChangeEvent) {
	c.flagTracker.RemoveFlagChangeListener(ch)
}

// AddFlagValueChangeListener subscribes to value changes of one flag as evaluated for one
// context. Events are delivered only when the evaluated value actually changes.
func (c *Core) AddFlagValueChangeListener(
	flagKey string,
	context ldcontext.Context,
) <-chan interfaces.FlagValueChangeEvent {
	return c.flagTracker.AddFlagValueChangeListener(flagKey, context)
}

// RemoveFlagValueChangeListener unsubscribes a channel returned by
// AddFlagValueChangeListener.
func (c *Core) RemoveFlagValueChangeListener(ch <-chan interfaces.FlagValueChangeEvent) {
	c.flagTracker.RemoveFlagValueChangeListener(ch)
}

// AddBigSegmentStoreStatusListener subscribes to big segment store status changes.
func (c *Core) AddBigSegmentStoreStatusListener() <-chan interfaces.BigSegmentStoreStatus {
	return c.bigSegmentStatusBroadcaster.AddListener()
}

// DataAvailability returns the level of data the SDK currently holds.
func (c *Core) DataAvailability() interfaces.DataAvailability {
	return c.store.Availability()
}

// EnvironmentID returns the environment identifier reported by the service, if known.
func (c *Core) EnvironmentID() string {
	return c.dataSystem.EnvironmentID()
}

// storeDataProvider adapts the data system's store to the evaluator's read interface.
type storeDataProvider struct {
	store *datasystem.Store
}

func (p storeDataProvider) GetFeatureFlag(key string) *ldmodel.FeatureFlag {
	item, err := p.store.Get(datakinds.Features, key)
	if err != nil || item.Item == nil {
		return nil
	}
	flag, _ := item.Item.(*ldmodel.FeatureFlag)
	return flag
}

func (p storeDataProvider) GetSegment(key string) *ldmodel.Segment {
	item, err := p.store.Get(datakinds.Segments, key)
	if err != nil || item.Item == nil {
		return nil
	}
	segment, _ := item.Item.(*ldmodel.Segment)
	return segment
}
