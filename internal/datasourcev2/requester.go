package datasourcev2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/launchdarkly/go-server-sdk-core/internal/datasource"
	"github.com/launchdarkly/go-server-sdk-core/internal/fdv2proto"
)

// pollingPath is the v2 endpoint that returns protocol events.
const pollingPath = "/sdk/poll"

type malformedResponseError struct {
	innerError error
}

func (e malformedResponseError) Error() string {
	return e.innerError.Error()
}

// pollingEvent is one element of the v2 polling response: the same named events as in
// streaming, carried as JSON objects instead of SSE messages.
type pollingEvent struct {
	Event fdv2proto.EventName `json:"event"`
	Data  json.RawMessage     `json:"data"`
}

type pollingResponse struct {
	Events []pollingEvent `json:"events"`
}

// pollResult carries the outcome of one v2 poll. The header-derived fields are populated
// whenever a response was received, even if its body was unusable, because the fallback
// signal must be honored regardless.
type pollResult struct {
	changeSet     *fdv2proto.ChangeSet
	environmentID string
	revertToFDv1  bool
}

// Requester fetches v2 polling responses and converts them to change-sets.
type Requester struct {
	httpClient *http.Client
	baseURI    string
	filterKey  string
	headers    http.Header
	loggers    ldlog.Loggers
}

// NewRequester creates a v2 polling Requester.
func NewRequester(
	httpClient *http.Client,
	baseURI string,
	filterKey string,
	headers http.Header,
	loggers ldlog.Loggers,
) *Requester {
	return &Requester{
		httpClient: httpClient,
		baseURI:    baseURI,
		filterKey:  filterKey,
		headers:    headers,
		loggers:    loggers,
	}
}

// Request performs one poll, presenting the given selector so the server can reply with a
// delta or a none intent.
func (r *Requester) Request(ctx context.Context, selector fdv2proto.Selector) (pollResult, error) {
	if r.loggers.IsDebugEnabled() {
		r.loggers.Debug("Polling LaunchDarkly for feature flag updates")
	}

	requestURL := r.baseURI + pollingPath
	query := url.Values{}
	if selector.IsDefined() {
		query.Set("basis", selector.State())
	}
	if r.filterKey != "" {
		query.Set("filter", r.filterKey)
	}
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	req, reqErr := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if reqErr != nil {
		return pollResult{}, reqErr
	}
	for k, vv := range r.headers {
		req.Header[k] = vv
	}

	res, resErr := r.httpClient.Do(req)
	if resErr != nil {
		return pollResult{}, resErr
	}

	defer func() {
		_, _ = io.ReadAll(res.Body)
		_ = res.Body.Close()
	}()

	result := pollResult{
		environmentID: res.Header.Get(fdv2proto.EnvironmentIDHeader),
		revertToFDv1:  res.Header.Get(fdv2proto.FallbackHeader) == "true",
	}

	if err := datasource.CheckForHTTPError(res.StatusCode, requestURL); err != nil {
		return result, err
	}

	body, ioErr := io.ReadAll(res.Body)
	if ioErr != nil {
		return result, ioErr
	}

	var response pollingResponse
	if jsonErr := json.Unmarshal(body, &response); jsonErr != nil {
		return result, malformedResponseError{jsonErr}
	}
	changeSet, convErr := buildChangeSet(response.Events)
	if convErr != nil {
		return result, malformedResponseError{convErr}
	}
	result.changeSet = changeSet
	return result, nil
}

// buildChangeSet runs the polled events through the protocol state machine. Unlike
// streaming, a polling response is a complete session: the intent, any data events, and the
// payload-transferred marker must all be present and in order.
func buildChangeSet(events []pollingEvent) (*fdv2proto.ChangeSet, error) {
	builder := fdv2proto.NewChangeSetBuilder()
	var changeSet *fdv2proto.ChangeSet

	for _, event := range events {
		switch event.Event {
		case fdv2proto.EventServerIntent:
			var intent fdv2proto.ServerIntent
			if err := json.Unmarshal(event.Data, &intent); err != nil {
				return nil, fmt.Errorf("malformed %s event: %w", event.Event, err)
			}
			if err := builder.Start(intent); err != nil {
				return nil, err
			}

		case fdv2proto.EventPutObject:
			var put fdv2proto.PutObject
			if err := json.Unmarshal(event.Data, &put); err != nil {
				return nil, fmt.Errorf("malformed %s event: %w", event.Event, err)
			}
			if err := builder.AddPut(put.Kind, put.Key, put.Version, put.Object); err != nil {
				return nil, err
			}

		case fdv2proto.EventDeleteObject:
			var del fdv2proto.DeleteObject
			if err := json.Unmarshal(event.Data, &del); err != nil {
				return nil, fmt.Errorf("malformed %s event: %w", event.Event, err)
			}
			if err := builder.AddDelete(del.Kind, del.Key, del.Version); err != nil {
				return nil, err
			}

		case fdv2proto.EventPayloadTransferred:
			var transferred fdv2proto.PayloadTransferred
			if err := json.Unmarshal(event.Data, &transferred); err != nil {
				return nil, fmt.Errorf("malformed %s event: %w", event.Event, err)
			}
			finished, err := builder.Finish(fdv2proto.NewSelector(transferred.State, transferred.Version))
			if err != nil {
				return nil, err
			}
			changeSet = finished

		default:
			// unrecognized events are ignored for forward compatibility
		}
	}

	if changeSet == nil {
		return nil, errors.New("polling response contained no completed transfer")
	}
	return changeSet, nil
}
