package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gregjones/httpcache"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/launchdarkly/go-server-sdk-core/internal/fdv2proto"
)

// latestAllPath is the v1 endpoint that returns the full data set.
const latestAllPath = "/sdk/latest-all"

// allData is the shape of the v1 polling response.
type allData struct {
	Flags    map[string]json.RawMessage `json:"flags"`
	Segments map[string]json.RawMessage `json:"segments"`
}

// Requester fetches the full v1 data set and converts it to a change-set. Responses are
// cached by ETag so an unchanged data set costs only a 304.
type Requester struct {
	httpClient *http.Client
	baseURI    string
	filterKey  string
	headers    http.Header
	loggers    ldlog.Loggers
}

// NewRequester creates a Requester. The given client's transport is wrapped with an in-memory
// ETag cache.
func NewRequester(
	httpClient *http.Client,
	baseURI string,
	filterKey string,
	headers http.Header,
	loggers ldlog.Loggers,
) *Requester {
	modifiedClient := *httpClient
	modifiedClient.Transport = &httpcache.Transport{
		Cache:               httpcache.NewMemoryCache(),
		MarkCachedResponses: true,
		Transport:           httpClient.Transport,
	}
	return &Requester{
		httpClient: &modifiedClient,
		baseURI:    baseURI,
		filterKey:  filterKey,
		headers:    headers,
		loggers:    loggers,
	}
}

// RequestAll fetches the full data set. The returned change-set is nil with a true cached
// flag if the response was served from the ETag cache, meaning nothing has changed since the
// last successful request.
func (r *Requester) RequestAll(ctx context.Context) (*fdv2proto.ChangeSet, bool, error) {
	if r.loggers.IsDebugEnabled() {
		r.loggers.Debug("Polling LaunchDarkly for feature flag updates")
	}

	body, cached, err := r.makeRequest(ctx, latestAllPath)
	if err != nil {
		return nil, false, err
	}
	if cached {
		return nil, true, nil
	}

	var data allData
	if jsonErr := json.Unmarshal(body, &data); jsonErr != nil {
		return nil, false, malformedJSONError{jsonErr}
	}
	changeSet, convErr := makeFullChangeSet(data)
	if convErr != nil {
		return nil, false, malformedJSONError{convErr}
	}
	return changeSet, false, nil
}

func (r *Requester) makeRequest(ctx context.Context, resource string) ([]byte, bool, error) {
	requestURL := r.baseURI + resource
	if r.filterKey != "" {
		requestURL += "?filter=" + url.QueryEscape(r.filterKey)
	}
	req, reqErr := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if reqErr != nil {
		return nil, false, reqErr
	}

	for k, vv := range r.headers {
		req.Header[k] = vv
	}

	res, resErr := r.httpClient.Do(req)
	if resErr != nil {
		return nil, false, resErr
	}

	defer func() {
		_, _ = io.ReadAll(res.Body)
		_ = res.Body.Close()
	}()

	if err := CheckForHTTPError(res.StatusCode, requestURL); err != nil {
		return nil, false, err
	}

	cached := res.Header.Get(httpcache.XFromCache) != ""

	body, ioErr := io.ReadAll(res.Body)
	if ioErr != nil {
		return nil, false, ioErr
	}
	return body, cached, nil
}

// makeFullChangeSet converts a v1 full data set to a full-transfer change-set. The v1
// protocol has no selector, so the result carries no selector and cannot be used to resume a
// v2 session.
func makeFullChangeSet(data allData) (*fdv2proto.ChangeSet, error) {
	builder := fdv2proto.NewChangeSetBuilder()
	if err := builder.Start(fdv2proto.ServerIntent{
		Payloads: []fdv2proto.Payload{{Code: fdv2proto.IntentTransferFull}},
	}); err != nil {
		return nil, err
	}
	if err := addItems(builder, fdv2proto.FlagKind, data.Flags); err != nil {
		return nil, err
	}
	if err := addItems(builder, fdv2proto.SegmentKind, data.Segments); err != nil {
		return nil, err
	}
	return builder.Finish(fdv2proto.NoSelector())
}

func addItems(
	builder *fdv2proto.ChangeSetBuilder,
	kind fdv2proto.ObjectKind,
	items map[string]json.RawMessage,
) error {
	for key, raw := range items {
		var probe struct {
			Version *int `json:"version"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return fmt.Errorf("malformed %s %q: %w", kind, key, err)
		}
		if probe.Version == nil {
			return fmt.Errorf("%s %q has no version", kind, key)
		}
		if err := builder.AddPut(kind, key, *probe.Version, raw); err != nil {
			return err
		}
	}
	return nil
}
