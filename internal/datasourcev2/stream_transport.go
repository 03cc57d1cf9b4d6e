package datasourcev2

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/launchdarkly/go-server-sdk-core/internal/fdv2proto"
)

// streamTransport wraps an http.RoundTripper to do two things the eventsource client cannot:
// inject the current selector and payload filter into the query string at request time, so
// that internal reconnects resume from the latest transfer, and capture the environment ID
// and fallback headers from each response.
type streamTransport struct {
	base        http.RoundTripper
	getSelector func() fdv2proto.Selector
	filterKey   string

	lock     sync.Mutex
	envID    string
	fallback bool
}

func newStreamTransport(
	base http.RoundTripper,
	getSelector func() fdv2proto.Selector,
	filterKey string,
) *streamTransport {
	return &streamTransport{
		base:        base,
		getSelector: getSelector,
		filterKey:   filterKey,
	}
}

func (t *streamTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	query := url.Values{}
	if selector := t.getSelector(); selector.IsDefined() {
		query.Set("basis", selector.State())
	}
	if t.filterKey != "" {
		query.Set("filter", t.filterKey)
	}
	if len(query) > 0 {
		modifiedReq := req.Clone(req.Context())
		modifiedReq.URL.RawQuery = query.Encode()
		req = modifiedReq
	}

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if resp != nil {
		t.lock.Lock()
		if envID := resp.Header.Get(fdv2proto.EnvironmentIDHeader); envID != "" {
			t.envID = envID
		}
		if resp.Header.Get(fdv2proto.FallbackHeader) == "true" {
			t.fallback = true
		}
		t.lock.Unlock()
	}
	return resp, err
}

func (t *streamTransport) environmentID() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.envID
}

func (t *streamTransport) revertToFDv1() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.fallback
}
