package bigsegments

import (
	"errors"
	"sync"
	"testing"
	"time"

	ct "github.com/launchdarkly/go-configtypes"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldreason"
	"github.com/launchdarkly/go-sdk-common/v3/ldtime"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/go-server-sdk-core/config"
	"github.com/launchdarkly/go-server-sdk-core/interfaces"
	"github.com/launchdarkly/go-server-sdk-core/internal/broadcasters"
	"github.com/launchdarkly/go-server-sdk-core/subsystems"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStatusPollInterval = 10 * time.Millisecond

type fakeMembership map[string]bool

func (m fakeMembership) CheckMembership(segmentRef string) ldvalue.OptionalBool {
	if value, ok := m[segmentRef]; ok {
		return ldvalue.NewOptionalBool(value)
	}
	return ldvalue.OptionalBool{}
}

type fakeBigSegmentStore struct {
	lock          sync.Mutex
	metadata      subsystems.BigSegmentStoreMetadata
	metadataErr   error
	memberships   map[string]subsystems.BigSegmentMembership
	membershipErr error
	queries       int
	gate          chan struct{}
	closed        bool
}

func (s *fakeBigSegmentStore) GetMetadata() (subsystems.BigSegmentStoreMetadata, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.metadata, s.metadataErr
}

func (s *fakeBigSegmentStore) GetMembership(contextHash string) (subsystems.BigSegmentMembership, error) {
	s.lock.Lock()
	gate := s.gate
	s.queries++
	err := s.membershipErr
	membership := s.memberships[contextHash]
	s.lock.Unlock()
	if gate != nil {
		<-gate
	}
	return membership, err
}

func (s *fakeBigSegmentStore) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed = true
	return nil
}

func (s *fakeBigSegmentStore) queryCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.queries
}

func (s *fakeBigSegmentStore) setMetadata(metadata subsystems.BigSegmentStoreMetadata, err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.metadata = metadata
	s.metadataErr = err
}

func upToDateMetadata() subsystems.BigSegmentStoreMetadata {
	return subsystems.BigSegmentStoreMetadata{LastUpToDate: ldtime.UnixMillisNow()}
}

func staleMetadata() subsystems.BigSegmentStoreMetadata {
	return subsystems.BigSegmentStoreMetadata{LastUpToDate: 1}
}

func makeTestManager(t *testing.T, store *fakeBigSegmentStore, cacheTime time.Duration) *BigSegmentStoreManager {
	m := NewBigSegmentStoreManager(store, config.BigSegmentsConfig{
		ContextCacheTime:   ct.NewOptDuration(cacheTime),
		StatusPollInterval: ct.NewOptDuration(testStatusPollInterval),
	}, nil, ldlog.NewDisabledLoggers())
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func requireStatusEventually(t *testing.T, m *BigSegmentStoreManager, expected interfaces.BigSegmentStoreStatus) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Status() == expected },
		time.Second, time.Millisecond)
}

func TestHashForContextKey(t *testing.T) {
	assert.Equal(t, "aUr6lmHHp8W3gyjzJpPEc9oOuizQtmscKH8wHbyEvyQ=", HashForContextKey("contextkey"))
}

func TestMembershipQueryUsesHashedKey(t *testing.T) {
	store := &fakeBigSegmentStore{
		metadata: upToDateMetadata(),
		memberships: map[string]subsystems.BigSegmentMembership{
			HashForContextKey("contextkey"): fakeMembership{"seg1.g1": true},
		},
	}
	m := makeTestManager(t, store, time.Minute)
	requireStatusEventually(t, m, interfaces.BigSegmentStoreStatus{Available: true})

	membership, status := m.GetBigSegmentMembership("contextkey")
	assert.Equal(t, ldreason.BigSegmentsHealthy, status)
	require.NotNil(t, membership)
	assert.Equal(t, ldvalue.NewOptionalBool(true), membership.CheckMembership("seg1.g1"))
	assert.Equal(t, ldvalue.OptionalBool{}, membership.CheckMembership("other.g1"))
}

func TestMembershipIsCached(t *testing.T) {
	store := &fakeBigSegmentStore{
		metadata: upToDateMetadata(),
		memberships: map[string]subsystems.BigSegmentMembership{
			HashForContextKey("contextkey"): fakeMembership{"seg1.g1": true},
		},
	}
	m := makeTestManager(t, store, time.Minute)
	requireStatusEventually(t, m, interfaces.BigSegmentStoreStatus{Available: true})

	m.GetBigSegmentMembership("contextkey")
	m.GetBigSegmentMembership("contextkey")
	assert.Equal(t, 1, store.queryCount())
}

func TestAbsentMembershipIsCachedToo(t *testing.T) {
	store := &fakeBigSegmentStore{metadata: upToDateMetadata()}
	m := makeTestManager(t, store, time.Minute)
	requireStatusEventually(t, m, interfaces.BigSegmentStoreStatus{Available: true})

	membership, status := m.GetBigSegmentMembership("contextkey")
	assert.Nil(t, membership)
	assert.Equal(t, ldreason.BigSegmentsHealthy, status)

	m.GetBigSegmentMembership("contextkey")
	assert.Equal(t, 1, store.queryCount())
}

func TestCacheExpiryCausesRequery(t *testing.T) {
	store := &fakeBigSegmentStore{metadata: upToDateMetadata()}
	m := makeTestManager(t, store, 10*time.Millisecond)
	requireStatusEventually(t, m, interfaces.BigSegmentStoreStatus{Available: true})

	m.GetBigSegmentMembership("contextkey")
	require.Eventually(t, func() bool {
		m.GetBigSegmentMembership("contextkey")
		return store.queryCount() > 1
	}, time.Second, 5*time.Millisecond)
}

func TestQueryFailureIsStoreErrorAndNotCached(t *testing.T) {
	store := &fakeBigSegmentStore{
		metadata:      upToDateMetadata(),
		membershipErr: errors.New("boom"),
	}
	m := makeTestManager(t, store, time.Minute)
	requireStatusEventually(t, m, interfaces.BigSegmentStoreStatus{Available: true})

	membership, status := m.GetBigSegmentMembership("contextkey")
	assert.Nil(t, membership)
	assert.Equal(t, ldreason.BigSegmentsStoreError, status)

	m.GetBigSegmentMembership("contextkey")
	assert.Equal(t, 2, store.queryCount())
}

func TestConcurrentQueriesForSameContextAreCoalesced(t *testing.T) {
	gate := make(chan struct{})
	store := &fakeBigSegmentStore{metadata: upToDateMetadata(), gate: gate}
	m := makeTestManager(t, store, time.Minute)
	requireStatusEventually(t, m, interfaces.BigSegmentStoreStatus{Available: true})

	var group sync.WaitGroup
	for i := 0; i < 5; i++ {
		group.Add(1)
		go func() {
			defer group.Done()
			m.GetBigSegmentMembership("contextkey")
		}()
	}
	require.Eventually(t, func() bool { return store.queryCount() == 1 },
		time.Second, time.Millisecond)
	// let the remaining goroutines join the in-flight request before releasing it
	time.Sleep(50 * time.Millisecond)
	close(gate)
	group.Wait()
	assert.Equal(t, 1, store.queryCount())
}

func TestStaleStoreIsReportedInQueryStatus(t *testing.T) {
	store := &fakeBigSegmentStore{metadata: staleMetadata()}
	m := makeTestManager(t, store, time.Minute)
	requireStatusEventually(t, m, interfaces.BigSegmentStoreStatus{Available: true, Stale: true})

	_, status := m.GetBigSegmentMembership("contextkey")
	assert.Equal(t, ldreason.BigSegmentsStale, status)
}

func TestStoreStatusRecovers(t *testing.T) {
	store := &fakeBigSegmentStore{metadataErr: errors.New("down")}
	m := makeTestManager(t, store, time.Minute)
	requireStatusEventually(t, m, interfaces.BigSegmentStoreStatus{})

	store.setMetadata(upToDateMetadata(), nil)
	requireStatusEventually(t, m, interfaces.BigSegmentStoreStatus{Available: true})
}

func TestStatusChangesAreBroadcast(t *testing.T) {
	statusBroadcaster := broadcasters.NewBroadcaster[interfaces.BigSegmentStoreStatus]()
	t.Cleanup(statusBroadcaster.Close)
	statusCh := statusBroadcaster.AddListener()

	store := &fakeBigSegmentStore{metadata: upToDateMetadata()}
	m := NewBigSegmentStoreManager(store, config.BigSegmentsConfig{
		StatusPollInterval: ct.NewOptDuration(testStatusPollInterval),
	}, statusBroadcaster, ldlog.NewDisabledLoggers())
	t.Cleanup(func() { _ = m.Close() })

	select {
	case status := <-statusCh:
		assert.Equal(t, interfaces.BigSegmentStoreStatus{Available: true}, status)
	case <-time.After(time.Second):
		require.FailNow(t, "timed out waiting for status broadcast")
	}

	store.setMetadata(subsystems.BigSegmentStoreMetadata{}, errors.New("down"))
	select {
	case status := <-statusCh:
		assert.Equal(t, interfaces.BigSegmentStoreStatus{}, status)
	case <-time.After(time.Second):
		require.FailNow(t, "timed out waiting for status broadcast")
	}
}

func TestManagerCloseClosesStoreAndIsIdempotent(t *testing.T) {
	store := &fakeBigSegmentStore{metadata: upToDateMetadata()}
	m := makeTestManager(t, store, time.Minute)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	store.lock.Lock()
	defer store.lock.Unlock()
	assert.True(t, store.closed)
}
