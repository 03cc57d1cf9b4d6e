package datastore

import (
	"sync"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/launchdarkly/go-server-sdk-core/interfaces"
	"github.com/launchdarkly/go-server-sdk-core/internal/broadcasters"
)

// DefaultStatusPollInterval is how often the outage poller probes an unavailable store.
const DefaultStatusPollInterval = 500 * time.Millisecond

// DataStoreStatusManager tracks the availability of a persistent store. When a write fails,
// the owner reports unavailability here; the manager broadcasts the status change and probes
// the store until it answers again, then broadcasts recovery (with NeedsRefresh set if the
// store's data may have missed updates during the outage).
type DataStoreStatusManager struct {
	isAvailable       bool
	pollerActive      bool
	probeFn           func() bool
	refreshOnRecovery bool
	pollInterval      time.Duration
	broadcaster       *broadcasters.Broadcaster[interfaces.DataStoreStatus]
	loggers           ldlog.Loggers
	closeCh           chan struct{}
	closeOnce         sync.Once
	lock              sync.Mutex
}

// NewDataStoreStatusManager creates a DataStoreStatusManager. probeFn is a cheap availability
// check; refreshOnRecovery is true if recovery should tell listeners to rewrite the store's
// contents. A nonpositive pollInterval uses DefaultStatusPollInterval.
func NewDataStoreStatusManager(
	availableNow bool,
	probeFn func() bool,
	refreshOnRecovery bool,
	pollInterval time.Duration,
	broadcaster *broadcasters.Broadcaster[interfaces.DataStoreStatus],
	loggers ldlog.Loggers,
) *DataStoreStatusManager {
	if pollInterval <= 0 {
		pollInterval = DefaultStatusPollInterval
	}
	return &DataStoreStatusManager{
		isAvailable:       availableNow,
		probeFn:           probeFn,
		refreshOnRecovery: refreshOnRecovery,
		pollInterval:      pollInterval,
		broadcaster:       broadcaster,
		loggers:           loggers,
		closeCh:           make(chan struct{}),
	}
}

// IsAvailable returns the current believed availability.
func (m *DataStoreStatusManager) IsAvailable() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.isAvailable
}

// UpdateAvailability reports an observed state change. Transitions broadcast a status; a
// transition to unavailable also starts the outage poller.
func (m *DataStoreStatusManager) UpdateAvailability(available bool) {
	m.lock.Lock()
	if m.isAvailable == available {
		m.lock.Unlock()
		return
	}
	m.isAvailable = available
	startPoller := false
	if !available && !m.pollerActive {
		m.pollerActive = true
		startPoller = true
	}
	m.lock.Unlock()

	status := interfaces.DataStoreStatus{Available: available}
	if available {
		status.NeedsRefresh = m.refreshOnRecovery
		m.loggers.Warn("Persistent store is available again")
	} else {
		m.loggers.Error("Detected persistent store unavailability; updates will be lost until it recovers")
	}
	m.broadcaster.Broadcast(status)

	if startPoller {
		go m.pollUntilAvailable()
	}
}

// Close stops the outage poller if it is running. It is idempotent and does not close the
// broadcaster, which is owned by the caller.
func (m *DataStoreStatusManager) Close() {
	m.closeOnce.Do(func() {
		close(m.closeCh)
	})
}

func (m *DataStoreStatusManager) pollUntilAvailable() {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.closeCh:
			return
		case <-ticker.C:
			if m.probeFn() {
				m.lock.Lock()
				m.pollerActive = false
				m.lock.Unlock()
				m.UpdateAvailability(true)
				return
			}
		}
	}
}
