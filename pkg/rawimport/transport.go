package rawimport

import (
	"net/http"
	"time"
)

// Transport is the collaborator described in SPEC_FULL.md §6.1: it owns
// the actual HTTP round trip. A custom Transport can be supplied via
// WithTransport for testing or to route through a proxy, but it must
// preserve the ordering guarantees of net/http.Client.Do: headers visible
// before the body is read, body bytes in offset order, redirects followed
// transparently.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// httpTransport is the default Transport, a thin wrapper around
// *http.Client for a long-lived streaming download.
type httpTransport struct {
	client *http.Client
}

// NewDefaultTransport returns the Transport used when Session is created
// without WithTransport. It intentionally sets no overall request
// timeout: per spec.md §5, "no timeouts enforced by the core" — the
// caller's context.Context is the only deadline.
func NewDefaultTransport() Transport {
	return &httpTransport{
		client: &http.Client{
			Timeout: 0,
		},
	}
}

func (t *httpTransport) Do(req *http.Request) (*http.Response, error) {
	return t.client.Do(req)
}

// rateLimitInterval is the minimum spacing between two progress log
// lines for the same download, matching spec.md §4.4's "at least one
// second has elapsed" rule.
const rateLimitInterval = time.Second
