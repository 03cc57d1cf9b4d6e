package sdkcore

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	ct "github.com/launchdarkly/go-configtypes"
	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldreason"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"github.com/launchdarkly/go-test-helpers/v3/httphelpers"

	"github.com/launchdarkly/go-server-sdk-core/config"
	"github.com/launchdarkly/go-server-sdk-core/interfaces"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSDKKey = config.SDKKey("sdk-key")

func boolFlagJSON(key string, on bool, version int) string {
	return fmt.Sprintf(
		`{"key":%q,"version":%d,"on":%t,"variations":[true,false],"fallthrough":{"variation":0},"offVariation":1,"salt":"salty"}`,
		key, version, on)
}

func requireReady(t *testing.T, readyCh <-chan struct{}) {
	t.Helper()
	select {
	case <-readyCh:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for the SDK core to be ready")
	}
}

func TestNewRequiresSDKKeyUnlessOffline(t *testing.T) {
	_, err := New("", config.Config{}, ldlog.NewDisabledLoggers(), Options{})
	require.Error(t, err)

	core, err := New("", config.Config{Offline: true}, ldlog.NewDisabledLoggers(), Options{})
	require.NoError(t, err)
	_ = core.Close()
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	c := config.Config{Offline: true, WrapperVersion: "1.0.0"} // version without a name
	_, err := New("", c, ldlog.NewDisabledLoggers(), Options{})
	require.Error(t, err)
}

func TestOfflineCoreIsReadyImmediatelyWithDefaultsOnly(t *testing.T) {
	core, err := New("", config.Config{Offline: true}, ldlog.NewDisabledLoggers(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = core.Close() })

	requireReady(t, core.Start(context.Background()))
	assert.Equal(t, interfaces.DataAvailabilityDefaults, core.DataAvailability())

	result := core.Evaluate("flag1", ldcontext.New("userkey"), nil)
	assert.Equal(t, ldreason.EvalErrorFlagNotFound, result.Detail.Reason.GetErrorKind())
	assert.Equal(t, ldvalue.Null(), result.Detail.Value)
}

func TestCoreWithFileData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.json")
	content := fmt.Sprintf(`{"flags": {"flag1": %s}}`, boolFlagJSON("flag1", true, 1))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	core, err := New("", config.Config{}, ldlog.NewDisabledLoggers(), Options{FileDataPath: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = core.Close() })

	requireReady(t, core.Start(context.Background()))

	result := core.Evaluate("flag1", ldcontext.New("userkey"), nil)
	assert.Equal(t, ldvalue.Bool(true), result.Detail.Value)
	assert.Equal(t, ldreason.NewEvalReasonFallthrough(), result.Detail.Reason)
}

func TestCoreWithWatchedFileDataDeliversValueChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.json")
	content := fmt.Sprintf(`{"flags": {"flag1": %s}}`, boolFlagJSON("flag1", true, 1))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	core, err := New("", config.Config{}, ldlog.NewDisabledLoggers(),
		Options{FileDataPath: path, FileDataWatch: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = core.Close() })

	requireReady(t, core.Start(context.Background()))

	valueCh := core.AddFlagValueChangeListener("flag1", ldcontext.New("userkey"))

	// turning the flag off switches the value to the off variation
	updated := fmt.Sprintf(`{"flags": {"flag1": %s}}`, boolFlagJSON("flag1", false, 2))
	require.NoError(t, os.WriteFile(path, []byte(updated), 0600))

	select {
	case event := <-valueCh:
		assert.Equal(t, "flag1", event.Key)
		assert.Equal(t, ldvalue.Bool(true), event.OldValue)
		assert.Equal(t, ldvalue.Bool(false), event.NewValue)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for flag value change event")
	}
}

func makeServiceHandler(t *testing.T) (http.Handler, httphelpers.SSEStreamControl) {
	t.Helper()
	pollBody := fmt.Sprintf(`{"events":[`+
		`{"event":"server-intent","data":{"payloads":[{"id":"p1","intentCode":"xfer-full"}]}},`+
		`{"event":"put-object","data":{"kind":"flag","key":"flag1","version":1,"object":%s}},`+
		`{"event":"payload-transferred","data":{"state":"state1","version":1}}`+
		`]}`, boolFlagJSON("flag1", true, 1))

	streamHandler, stream := httphelpers.SSEHandler(nil)
	t.Cleanup(func() { _ = stream.Close() })

	mux := http.NewServeMux()
	mux.Handle("/sdk/poll", httphelpers.HandlerWithResponse(200, nil, []byte(pollBody)))
	mux.Handle("/sdk/stream", streamHandler)
	return mux, stream
}

func TestCoreInitializesFromPollingAndStaysOnStream(t *testing.T) {
	handler, _ := makeServiceHandler(t)
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		serviceURL, err := ct.NewOptURLAbsoluteFromString(server.URL)
		require.NoError(t, err)
		c := config.Config{
			ServiceEndpoints: config.ServiceEndpoints{Streaming: serviceURL, Polling: serviceURL},
		}

		core, err := New(testSDKKey, c, ldlog.NewDisabledLoggers(), Options{})
		require.NoError(t, err)
		t.Cleanup(func() { _ = core.Close() })

		statusCh := core.AddDataSourceStatusListener()
		requireReady(t, core.Start(context.Background()))

		// the polling initializer has provided data even though the stream has sent nothing
		result := core.Evaluate("flag1", ldcontext.New("userkey"), nil)
		assert.Equal(t, ldvalue.Bool(true), result.Detail.Value)

		select {
		case status := <-statusCh:
			assert.Equal(t, interfaces.DataSourceStateValid, status.State)
		case <-time.After(5 * time.Second):
			require.FailNow(t, "timed out waiting for data source status")
		}
	})
}

func TestCoreReceivesStreamUpdates(t *testing.T) {
	handler, stream := makeServiceHandler(t)
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		serviceURL, err := ct.NewOptURLAbsoluteFromString(server.URL)
		require.NoError(t, err)
		c := config.Config{
			ServiceEndpoints: config.ServiceEndpoints{Streaming: serviceURL, Polling: serviceURL},
		}

		core, err := New(testSDKKey, c, ldlog.NewDisabledLoggers(), Options{})
		require.NoError(t, err)
		t.Cleanup(func() { _ = core.Close() })

		requireReady(t, core.Start(context.Background()))
		valueCh := core.AddFlagValueChangeListener("flag1", ldcontext.New("userkey"))

		stream.Enqueue(httphelpers.SSEEvent{Event: "server-intent",
			Data: `{"payloads":[{"id":"p1","intentCode":"xfer-changes"}]}`})
		stream.Enqueue(httphelpers.SSEEvent{Event: "put-object",
			Data: fmt.Sprintf(`{"kind":"flag","key":"flag1","version":2,"object":%s}`,
				boolFlagJSON("flag1", false, 2))})
		stream.Enqueue(httphelpers.SSEEvent{Event: "payload-transferred",
			Data: `{"state":"state2","version":2}`})

		select {
		case event := <-valueCh:
			assert.Equal(t, ldvalue.Bool(false), event.NewValue)
		case <-time.After(5 * time.Second):
			require.FailNow(t, "timed out waiting for flag value change event")
		}
	})
}

func TestCoreReadyEvenIfStreamIsDownViaInitializer(t *testing.T) {
	// only the polling endpoint works; the stream endpoint rejects connections
	pollBody := fmt.Sprintf(`{"events":[`+
		`{"event":"server-intent","data":{"payloads":[{"id":"p1","intentCode":"xfer-full"}]}},`+
		`{"event":"put-object","data":{"kind":"flag","key":"flag1","version":1,"object":%s}},`+
		`{"event":"payload-transferred","data":{"state":"state1","version":1}}`+
		`]}`, boolFlagJSON("flag1", true, 1))
	mux := http.NewServeMux()
	mux.Handle("/sdk/poll", httphelpers.HandlerWithResponse(200, nil, []byte(pollBody)))
	mux.Handle("/sdk/stream", httphelpers.HandlerWithStatus(503))

	httphelpers.WithServer(mux, func(server *httptest.Server) {
		serviceURL, err := ct.NewOptURLAbsoluteFromString(server.URL)
		require.NoError(t, err)
		c := config.Config{
			ServiceEndpoints: config.ServiceEndpoints{Streaming: serviceURL, Polling: serviceURL},
		}

		core, err := New(testSDKKey, c, ldlog.NewDisabledLoggers(), Options{})
		require.NoError(t, err)
		t.Cleanup(func() { _ = core.Close() })

		_ = core.Start(context.Background())

		// cached data from the initializer is evaluable before any synchronizer succeeds
		require.Eventually(t, func() bool {
			return core.DataAvailability() == interfaces.DataAvailabilityCached
		}, 5*time.Second, 10*time.Millisecond)
		result := core.Evaluate("flag1", ldcontext.New("userkey"), nil)
		assert.Equal(t, ldvalue.Bool(true), result.Detail.Value)
	})
}
