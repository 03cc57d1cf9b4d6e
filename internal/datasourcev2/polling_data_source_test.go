package datasourcev2

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-test-helpers/v3/httphelpers"

	"github.com/launchdarkly/go-server-sdk-core/interfaces"
	"github.com/launchdarkly/go-server-sdk-core/internal/fdv2proto"
	"github.com/launchdarkly/go-server-sdk-core/subsystems"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPollInterval = 10 * time.Millisecond

func makePollResponseBody(events ...string) []byte {
	body := `{"events":[`
	for i, e := range events {
		if i > 0 {
			body += ","
		}
		body += e
	}
	return []byte(body + `]}`)
}

func intentEventJSON(code fdv2proto.IntentCode) string {
	return fmt.Sprintf(`{"event":"server-intent","data":{"payloads":[{"id":"p1","intentCode":%q}]}}`, code)
}

func putEventJSON(kind fdv2proto.ObjectKind, key string, version int) string {
	return fmt.Sprintf(
		`{"event":"put-object","data":{"kind":%q,"key":%q,"version":%d,"object":{"key":%q,"version":%d}}}`,
		kind, key, version, key, version)
}

func transferredEventJSON(state string, version int) string {
	return fmt.Sprintf(`{"event":"payload-transferred","data":{"state":%q,"version":%d}}`, state, version)
}

func fullPollResponse() []byte {
	return makePollResponseBody(
		intentEventJSON(fdv2proto.IntentTransferFull),
		putEventJSON(fdv2proto.FlagKind, "flag1", 1),
		putEventJSON(fdv2proto.SegmentKind, "seg1", 2),
		transferredEventJSON("state1", 10),
	)
}

func makePollingSource(serverURL string) *PollingDataSource {
	requester := NewRequester(&http.Client{}, serverURL, "", nil, ldlog.NewDisabledLoggers())
	return NewPollingDataSource(requester, testPollInterval, ldlog.NewDisabledLoggers())
}

func requireUpdate(t *testing.T, updatesCh <-chan subsystems.Update) subsystems.Update {
	t.Helper()
	select {
	case update, ok := <-updatesCh:
		require.True(t, ok, "update channel was closed unexpectedly")
		return update
	case <-time.After(time.Second):
		require.FailNow(t, "timed out waiting for update")
		return subsystems.Update{}
	}
}

func requireClosed(t *testing.T, updatesCh <-chan subsystems.Update) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-updatesCh:
			if !ok {
				return
			}
		case <-deadline:
			require.FailNow(t, "timed out waiting for update channel to close")
		}
	}
}

func TestPollingV2FetchReturnsBasis(t *testing.T) {
	handler := httphelpers.HandlerWithResponse(200, nil, fullPollResponse())
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		basis, err := makePollingSource(server.URL).Fetch(context.Background())
		require.NoError(t, err)
		assert.True(t, basis.Persist)
		assert.Len(t, basis.ChangeSet.Changes(), 2)
		assert.Equal(t, fdv2proto.NewSelector("state1", 10), basis.ChangeSet.Selector())
	})
}

func TestPollingV2SyncDeliversDataAndAdvancesSelector(t *testing.T) {
	handler, requestsCh := httphelpers.RecordingHandler(
		httphelpers.HandlerWithResponse(200, nil, fullPollResponse()))
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		p := makePollingSource(server.URL)
		t.Cleanup(func() { _ = p.Close() })
		updatesCh := p.Sync(context.Background(), fdv2proto.NoSelector())

		update := requireUpdate(t, updatesCh)
		assert.Equal(t, interfaces.DataSourceStateValid, update.State)
		require.NotNil(t, update.ChangeSet)

		first := <-requestsCh
		assert.Equal(t, "", first.Request.URL.Query().Get("basis"))

		second := <-requestsCh
		assert.Equal(t, "state1", second.Request.URL.Query().Get("basis"))
	})
}

func TestPollingV2NoneIntentYieldsEmptyValidUpdate(t *testing.T) {
	body := makePollResponseBody(
		intentEventJSON(fdv2proto.IntentTransferNone),
		transferredEventJSON("state1", 10),
	)
	handler := httphelpers.HandlerWithResponse(200, nil, body)
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		p := makePollingSource(server.URL)
		t.Cleanup(func() { _ = p.Close() })
		updatesCh := p.Sync(context.Background(), fdv2proto.NewSelector("state1", 10))

		update := requireUpdate(t, updatesCh)
		assert.Equal(t, interfaces.DataSourceStateValid, update.State)
		require.NotNil(t, update.ChangeSet)
		assert.Equal(t, fdv2proto.IntentTransferNone, update.ChangeSet.IntentCode())
		assert.Empty(t, update.ChangeSet.Changes())
	})
}

func TestPollingV2MalformedResponseIsRecoverable(t *testing.T) {
	handler := httphelpers.SequentialHandler(
		httphelpers.HandlerWithResponse(200, nil, []byte(`{"oh no`)),
		httphelpers.HandlerWithResponse(200, nil, fullPollResponse()),
	)
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		p := makePollingSource(server.URL)
		t.Cleanup(func() { _ = p.Close() })
		updatesCh := p.Sync(context.Background(), fdv2proto.NoSelector())

		first := requireUpdate(t, updatesCh)
		assert.Equal(t, interfaces.DataSourceStateInterrupted, first.State)
		assert.Equal(t, interfaces.DataSourceErrorKindInvalidData, first.Err.Kind)

		second := requireUpdate(t, updatesCh)
		assert.Equal(t, interfaces.DataSourceStateValid, second.State)
	})
}

func TestPollingV2MissingEnvelopePhaseIsMalformed(t *testing.T) {
	// puts with no payload-transferred
	body := makePollResponseBody(
		intentEventJSON(fdv2proto.IntentTransferFull),
		putEventJSON(fdv2proto.FlagKind, "flag1", 1),
	)
	handler := httphelpers.HandlerWithResponse(200, nil, body)
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		p := makePollingSource(server.URL)
		t.Cleanup(func() { _ = p.Close() })
		updatesCh := p.Sync(context.Background(), fdv2proto.NoSelector())

		update := requireUpdate(t, updatesCh)
		assert.Equal(t, interfaces.DataSourceStateInterrupted, update.State)
		assert.Equal(t, interfaces.DataSourceErrorKindInvalidData, update.Err.Kind)
	})
}

func TestPollingV2FallbackHeaderStopsSourceEvenOnMalformedBody(t *testing.T) {
	headers := make(http.Header)
	headers.Set(fdv2proto.FallbackHeader, "true")
	headers.Set(fdv2proto.EnvironmentIDHeader, "env1")
	handler := httphelpers.HandlerWithResponse(200, headers, []byte(`{"oh no`))
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		p := makePollingSource(server.URL)
		t.Cleanup(func() { _ = p.Close() })
		updatesCh := p.Sync(context.Background(), fdv2proto.NoSelector())

		update := requireUpdate(t, updatesCh)
		assert.True(t, update.RevertToFDv1)
		assert.Equal(t, interfaces.DataSourceStateOff, update.State)
		assert.Equal(t, "env1", update.EnvironmentID)
		requireClosed(t, updatesCh)
	})
}

func TestPollingV2UnauthorizedIsPermanentOff(t *testing.T) {
	handler := httphelpers.HandlerWithStatus(401)
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		p := makePollingSource(server.URL)
		t.Cleanup(func() { _ = p.Close() })
		updatesCh := p.Sync(context.Background(), fdv2proto.NoSelector())

		update := requireUpdate(t, updatesCh)
		assert.Equal(t, interfaces.DataSourceStateOff, update.State)
		assert.Equal(t, 401, update.Err.StatusCode)
		requireClosed(t, updatesCh)
	})
}

func TestPollingV2RecoverableHTTPErrorIsInterrupted(t *testing.T) {
	handler := httphelpers.SequentialHandler(
		httphelpers.HandlerWithStatus(503),
		httphelpers.HandlerWithResponse(200, nil, fullPollResponse()),
	)
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		p := makePollingSource(server.URL)
		t.Cleanup(func() { _ = p.Close() })
		updatesCh := p.Sync(context.Background(), fdv2proto.NoSelector())

		first := requireUpdate(t, updatesCh)
		assert.Equal(t, interfaces.DataSourceStateInterrupted, first.State)
		assert.Equal(t, 503, first.Err.StatusCode)

		second := requireUpdate(t, updatesCh)
		assert.Equal(t, interfaces.DataSourceStateValid, second.State)
	})
}
