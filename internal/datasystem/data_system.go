package datasystem

import (
	"context"
	"sync"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/launchdarkly/go-server-sdk-core/interfaces"
	"github.com/launchdarkly/go-server-sdk-core/internal/broadcasters"
	"github.com/launchdarkly/go-server-sdk-core/subsystems"
)

// DefaultSynchronizerTimeout is how long a synchronizer may run without delivering valid
// data before the data system promotes the next one in the list.
const DefaultSynchronizerTimeout = 30 * time.Second

// consumeOutcome says why consuming a synchronizer's update stream ended.
type consumeOutcome int

const (
	outcomePromote consumeOutcome = iota
	outcomeFallback
	outcomeHalt
)

// DataSystem sequences the data sources: initializers run once, in order, until one
// succeeds; then synchronizers run one at a time, with promotion to the next on permanent
// failure or on a timeout without valid data. A fallback signal from the service switches
// permanently to the v1 synchronizer.
type DataSystem struct {
	store                *Store
	initializers         []subsystems.DataInitializer
	synchronizers        []subsystems.DataSynchronizer
	fallbackSynchronizer subsystems.DataSynchronizer
	synchronizerTimeout  time.Duration

	statusBroadcaster *broadcasters.Broadcaster[interfaces.DataSourceStatus]
	dataStoreStatusCh <-chan interfaces.DataStoreStatus

	status        interfaces.DataSourceStatus
	environmentID string
	lock          sync.Mutex

	readyCh   chan struct{}
	readyOnce sync.Once

	halt      chan struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc
	loggers   ldlog.Loggers
}

// DataSystemConfig assembles the pieces of a DataSystem.
type DataSystemConfig struct {
	Store *Store
	// Initializers are tried in order during startup; the first success seeds the store.
	Initializers []subsystems.DataInitializer
	// Synchronizers are the primary ordered list, normally the v2 transports.
	Synchronizers []subsystems.DataSynchronizer
	// FallbackSynchronizer is the v1 transport used after a fallback signal, or nil.
	FallbackSynchronizer subsystems.DataSynchronizer
	// SynchronizerTimeout overrides DefaultSynchronizerTimeout if positive.
	SynchronizerTimeout time.Duration
	// DataStoreStatusCh, if non-nil, receives persistent store status updates so the data
	// system can rewrite the store after an outage.
	DataStoreStatusCh <-chan interfaces.DataStoreStatus
}

// NewDataSystem creates a DataSystem, but does not start it.
func NewDataSystem(
	config DataSystemConfig,
	statusBroadcaster *broadcasters.Broadcaster[interfaces.DataSourceStatus],
	loggers ldlog.Loggers,
) *DataSystem {
	timeout := config.SynchronizerTimeout
	if timeout <= 0 {
		timeout = DefaultSynchronizerTimeout
	}
	return &DataSystem{
		store:                config.Store,
		initializers:         config.Initializers,
		synchronizers:        config.Synchronizers,
		fallbackSynchronizer: config.FallbackSynchronizer,
		synchronizerTimeout:  timeout,
		statusBroadcaster:    statusBroadcaster,
		dataStoreStatusCh:    config.DataStoreStatusCh,
		status: interfaces.DataSourceStatus{
			State:      interfaces.DataSourceStateInitializing,
			StateSince: time.Now(),
		},
		readyCh: make(chan struct{}),
		halt:    make(chan struct{}),
		loggers: loggers,
	}
}

// Start launches the data system. The returned channel is closed when the system first
// reaches the refreshed availability level or permanently fails; it is the same channel on
// every call.
func (d *DataSystem) Start(ctx context.Context) <-chan struct{} {
	runCtx, cancel := context.WithCancel(ctx)
	d.lock.Lock()
	if d.cancel != nil {
		d.lock.Unlock()
		cancel()
		return d.readyCh
	}
	d.cancel = cancel
	d.lock.Unlock()

	if d.dataStoreStatusCh != nil {
		go d.watchStoreStatus()
	}
	go d.run(runCtx)
	return d.readyCh
}

// Close permanently shuts down the data system and all of its sources. It is safe to call
// more than once.
func (d *DataSystem) Close() error {
	d.closeOnce.Do(func() {
		close(d.halt)
		d.lock.Lock()
		cancel := d.cancel
		d.lock.Unlock()
		if cancel != nil {
			cancel()
		}
		for _, sync := range d.synchronizers {
			_ = sync.Close()
		}
		if d.fallbackSynchronizer != nil {
			_ = d.fallbackSynchronizer.Close()
		}
		_ = d.store.Close()
		d.signalReady()
	})
	return nil
}

// Status returns the current data source status.
func (d *DataSystem) Status() interfaces.DataSourceStatus {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.status
}

// EnvironmentID returns the environment identifier reported by the service, if known.
func (d *DataSystem) EnvironmentID() string {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.environmentID
}

// DataStore returns the store this data system feeds.
func (d *DataSystem) DataStore() *Store {
	return d.store
}

func (d *DataSystem) run(ctx context.Context) {
	d.runInitializers(ctx)

	if len(d.synchronizers) == 0 && d.fallbackSynchronizer == nil {
		// no ongoing sources configured; whatever the initializers produced is all we get
		d.signalReady()
		return
	}
	d.runSynchronizers(ctx)
}

func (d *DataSystem) runInitializers(ctx context.Context) {
	for _, initializer := range d.initializers {
		select {
		case <-d.halt:
			return
		case <-ctx.Done():
			return
		default:
		}
		basis, err := initializer.Fetch(ctx)
		if err != nil {
			d.loggers.Warnf("Initializer %s failed: %s", initializer.Name(), err)
			continue
		}
		if err := d.store.ApplyChangeSet(basis.ChangeSet, basis.Persist, interfaces.DataAvailabilityCached); err != nil {
			d.loggers.Errorf("Failed to apply data from initializer %s: %s", initializer.Name(), err)
		}
		d.loggers.Infof("Initialized with data from %s", initializer.Name())
		return
	}
}

func (d *DataSystem) runSynchronizers(ctx context.Context) {
	current := d.synchronizers
	usingFallback := false

	for idx := 0; idx < len(current); idx++ {
		synchronizer := current[idx]
		d.loggers.Infof("Starting synchronizer %s", synchronizer.Name())
		updatesCh := synchronizer.Sync(ctx, d.store.Selector())

		switch d.consume(ctx, updatesCh) {
		case outcomeHalt:
			return
		case outcomeFallback:
			if !usingFallback && d.fallbackSynchronizer != nil {
				d.loggers.Warn("Switching permanently to the v1 data transport")
				for _, s := range current {
					_ = s.Close()
				}
				current = []subsystems.DataSynchronizer{d.fallbackSynchronizer}
				usingFallback = true
				idx = -1
				continue
			}
			_ = synchronizer.Close()
		case outcomePromote:
			_ = synchronizer.Close()
			if idx < len(current)-1 {
				d.loggers.Warnf("Synchronizer %s failed permanently; promoting the next one", synchronizer.Name())
			}
		}
	}

	d.loggers.Error("All data synchronizers have failed permanently")
	d.updateStatus(interfaces.DataSourceStateOff, interfaces.DataSourceErrorInfo{})
	d.signalReady()
}

// consume processes one synchronizer's update stream until it ends or times out without
// valid data.
func (d *DataSystem) consume(ctx context.Context, updatesCh <-chan subsystems.Update) consumeOutcome {
	timeout := time.NewTimer(d.synchronizerTimeout)
	defer timeout.Stop()
	sawValid := false

	for {
		var timeoutCh <-chan time.Time
		if !sawValid {
			timeoutCh = timeout.C
		}
		select {
		case <-d.halt:
			return outcomeHalt
		case <-ctx.Done():
			return outcomeHalt
		case <-timeoutCh:
			d.loggers.Warnf("No valid data received within %s", d.synchronizerTimeout)
			return outcomePromote
		case update, ok := <-updatesCh:
			if !ok {
				return outcomePromote
			}
			if update.EnvironmentID != "" {
				d.setEnvironmentID(update.EnvironmentID)
			}
			if update.RevertToFDv1 {
				return outcomeFallback
			}
			switch update.State {
			case interfaces.DataSourceStateValid:
				sawValid = true
				if update.ChangeSet != nil {
					if err := d.store.ApplyChangeSet(update.ChangeSet, true, interfaces.DataAvailabilityRefreshed); err != nil {
						d.updateStatus(interfaces.DataSourceStateInterrupted, interfaces.DataSourceErrorInfo{
							Kind:    interfaces.DataSourceErrorKindStoreError,
							Message: err.Error(),
							Time:    time.Now(),
						})
						continue
					}
				} else {
					d.store.MarkRefreshed()
				}
				d.updateStatus(interfaces.DataSourceStateValid, interfaces.DataSourceErrorInfo{})
				d.signalReady()
			case interfaces.DataSourceStateInterrupted:
				d.updateStatus(interfaces.DataSourceStateInterrupted, update.Err)
			case interfaces.DataSourceStateOff:
				if update.Err.Kind != "" || update.Err.StatusCode != 0 {
					d.recordError(update.Err)
				}
				return outcomePromote
			}
		}
	}
}

func (d *DataSystem) watchStoreStatus() {
	for {
		select {
		case <-d.halt:
			return
		case status, ok := <-d.dataStoreStatusCh:
			if !ok {
				return
			}
			if status.Available && status.NeedsRefresh {
				d.store.RefreshPersistent()
			}
		}
	}
}

func (d *DataSystem) updateStatus(state interfaces.DataSourceState, errorInfo interfaces.DataSourceErrorInfo) {
	d.lock.Lock()
	changed := false
	if state != d.status.State {
		d.status.State = state
		d.status.StateSince = time.Now()
		changed = true
	}
	if errorInfo.Kind != "" || errorInfo.StatusCode != 0 {
		d.status.LastError = errorInfo
		changed = true
	}
	status := d.status
	d.lock.Unlock()

	if changed && d.statusBroadcaster != nil {
		d.statusBroadcaster.Broadcast(status)
	}
}

func (d *DataSystem) recordError(errorInfo interfaces.DataSourceErrorInfo) {
	d.lock.Lock()
	d.status.LastError = errorInfo
	d.lock.Unlock()
}

func (d *DataSystem) setEnvironmentID(envID string) {
	d.lock.Lock()
	d.environmentID = envID
	d.lock.Unlock()
}

func (d *DataSystem) signalReady() {
	d.readyOnce.Do(func() {
		close(d.readyCh)
	})
}
