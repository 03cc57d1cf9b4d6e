// Package bigsegments provides the manager that the evaluator queries for big segment
// membership. It caches per-context membership results and monitors the freshness of the
// underlying store.
package bigsegments

import (
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"time"

	"github.com/launchdarkly/ccache"
	"golang.org/x/sync/singleflight"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldreason"
	"github.com/launchdarkly/go-sdk-common/v3/ldtime"

	"github.com/launchdarkly/go-server-sdk-core/config"
	"github.com/launchdarkly/go-server-sdk-core/evaluation"
	"github.com/launchdarkly/go-server-sdk-core/interfaces"
	"github.com/launchdarkly/go-server-sdk-core/internal/broadcasters"
	"github.com/launchdarkly/go-server-sdk-core/subsystems"
)

// BigSegmentStoreManager wraps a BigSegmentStore with a membership cache and a background
// status poller. It implements evaluation.BigSegmentProvider.
//
// Membership queries are keyed by the hashed context key. Results, including the absence of
// a membership record, are cached with an LRU bound and a TTL; concurrent queries for the
// same context are coalesced so the store sees at most one request per key at a time. Query
// failures are reported to the evaluator as a store error and are never cached.
type BigSegmentStoreManager struct {
	store             subsystems.BigSegmentStore
	cache             *ccache.Cache
	cacheTTL          time.Duration
	staleAfter        time.Duration
	pollInterval      time.Duration
	requests          singleflight.Group
	statusBroadcaster *broadcasters.Broadcaster[interfaces.BigSegmentStoreStatus]

	haveStatus bool
	status     interfaces.BigSegmentStoreStatus
	statusLock sync.RWMutex

	halt      chan struct{}
	closeOnce sync.Once
	loggers   ldlog.Loggers
}

// NewBigSegmentStoreManager creates a manager around the given store and starts its status
// poller. The status broadcaster may be nil if no one subscribes to store status.
func NewBigSegmentStoreManager(
	store subsystems.BigSegmentStore,
	bsConfig config.BigSegmentsConfig,
	statusBroadcaster *broadcasters.Broadcaster[interfaces.BigSegmentStoreStatus],
	loggers ldlog.Loggers,
) *BigSegmentStoreManager {
	capacity := bsConfig.ContextCacheCapacity.GetOrElse(config.DefaultBigSegmentsContextCacheCapacity)
	m := &BigSegmentStoreManager{
		store:             store,
		cache:             ccache.New(ccache.Configure().MaxSize(int64(capacity))),
		cacheTTL:          bsConfig.ContextCacheTime.GetOrElse(config.DefaultBigSegmentsContextCacheTime),
		staleAfter:        bsConfig.StaleAfter.GetOrElse(config.DefaultBigSegmentsStaleAfter),
		pollInterval:      bsConfig.StatusPollInterval.GetOrElse(config.DefaultBigSegmentsStatusPollInterval),
		statusBroadcaster: statusBroadcaster,
		halt:              make(chan struct{}),
		loggers:           loggers,
	}
	go m.runStatusPoller()
	return m
}

// Close stops the status poller and closes the underlying store. It is safe to call more
// than once.
func (m *BigSegmentStoreManager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.halt)
		m.cache.Stop()
		err = m.store.Close()
	})
	return err
}

// GetBigSegmentMembership implements evaluation.BigSegmentProvider.
func (m *BigSegmentStoreManager) GetBigSegmentMembership(
	contextKey string,
) (evaluation.BigSegmentMembership, ldreason.BigSegmentsStatus) {
	hash := HashForContextKey(contextKey)

	membership, found := m.getCachedMembership(hash)
	if !found {
		value, err, _ := m.requests.Do(hash, func() (interface{}, error) {
			fetched, err := m.store.GetMembership(hash)
			if err != nil {
				return nil, err
			}
			m.cache.Set(hash, fetched, m.cacheTTL)
			return fetched, nil
		})
		if err != nil {
			m.loggers.Errorf("Big segment store query failed: %s", err)
			return nil, ldreason.BigSegmentsStoreError
		}
		membership, _ = value.(subsystems.BigSegmentMembership)
	}

	status := m.currentStatus()
	resultStatus := ldreason.BigSegmentsHealthy
	switch {
	case !status.Available:
		resultStatus = ldreason.BigSegmentsStoreError
	case status.Stale:
		resultStatus = ldreason.BigSegmentsStale
	}
	if membership == nil {
		return nil, resultStatus
	}
	return membership, resultStatus
}

// Status returns the most recently polled store status.
func (m *BigSegmentStoreManager) Status() interfaces.BigSegmentStoreStatus {
	return m.currentStatus()
}

func (m *BigSegmentStoreManager) getCachedMembership(hash string) (subsystems.BigSegmentMembership, bool) {
	item := m.cache.Get(hash)
	if item == nil || item.Expired() {
		return nil, false
	}
	membership, _ := item.Value().(subsystems.BigSegmentMembership)
	return membership, true
}

func (m *BigSegmentStoreManager) runStatusPoller() {
	m.pollStoreStatus()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.halt:
			return
		case <-ticker.C:
			m.pollStoreStatus()
		}
	}
}

func (m *BigSegmentStoreManager) pollStoreStatus() {
	var newStatus interfaces.BigSegmentStoreStatus
	metadata, err := m.store.GetMetadata()
	if err != nil {
		m.loggers.Errorf("Big segment store status query failed: %s", err)
	} else {
		newStatus.Available = true
		newStatus.Stale = m.isStale(metadata.LastUpToDate)
	}

	m.statusLock.Lock()
	changed := !m.haveStatus || newStatus != m.status
	m.haveStatus = true
	m.status = newStatus
	m.statusLock.Unlock()

	if changed {
		m.loggers.Infof("Big segment store status is now: available=%t, stale=%t",
			newStatus.Available, newStatus.Stale)
		if m.statusBroadcaster != nil {
			m.statusBroadcaster.Broadcast(newStatus)
		}
	}
}

func (m *BigSegmentStoreManager) isStale(lastUpToDate ldtime.UnixMillisecondTime) bool {
	if m.staleAfter <= 0 {
		return false
	}
	threshold := lastUpToDate + ldtime.UnixMillisecondTime(m.staleAfter/time.Millisecond)
	return ldtime.UnixMillisNow() > threshold
}

func (m *BigSegmentStoreManager) currentStatus() interfaces.BigSegmentStoreStatus {
	m.statusLock.RLock()
	defer m.statusLock.RUnlock()
	return m.status
}

// HashForContextKey computes the hashed form of a context key used for big segment store
// queries: the base64 encoding of the SHA-256 of the key.
func HashForContextKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return base64.StdEncoding.EncodeToString(sum[:])
}
