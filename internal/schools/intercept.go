package schools

import (
	"context"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// interceptor captures the body of the first network response whose URL
// contains fragment. Bodies smaller than minBytes are rejected as
// truncated captures and the interceptor keeps listening.
type interceptor struct {
	fragment string
	minBytes int

	mu      sync.Mutex
	pending map[network.RequestID]bool
	body    []byte
}

// newInterceptor attaches to the browser context's event stream. It must
// be created before the navigation that triggers the target call.
func newInterceptor(ctx context.Context, fragment string, minBytes int) *interceptor {
	ic := &interceptor{
		fragment: fragment,
		minBytes: minBytes,
		pending:  make(map[network.RequestID]bool),
	}

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if strings.Contains(e.Response.URL, ic.fragment) {
				ic.mu.Lock()
				ic.pending[e.RequestID] = true
				ic.mu.Unlock()
			}
		case *network.EventLoadingFinished:
			ic.mu.Lock()
			want := ic.pending[e.RequestID]
			delete(ic.pending, e.RequestID)
			ic.mu.Unlock()
			if !want {
				return
			}
			// Body retrieval needs its own goroutine: the event handler
			// must not issue CDP commands synchronously.
			go ic.fetch(ctx, e.RequestID)
		}
	})
	return ic
}

func (ic *interceptor) fetch(ctx context.Context, id network.RequestID) {
	c := chromedp.FromContext(ctx)
	body, err := network.GetResponseBody(id).Do(cdp.WithExecutor(ctx, c.Target))
	if err != nil {
		zap.L().Debug("schools: response body fetch failed",
			zap.String("fragment", ic.fragment), zap.Error(err))
		return
	}
	if len(body) < ic.minBytes {
		zap.L().Debug("schools: intercepted body below size floor",
			zap.String("fragment", ic.fragment), zap.Int("bytes", len(body)))
		return
	}

	ic.mu.Lock()
	defer ic.mu.Unlock()
	if ic.body == nil {
		ic.body = body
	}
}

// take returns the captured body once available.
func (ic *interceptor) take() ([]byte, bool) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.body, ic.body != nil
}
