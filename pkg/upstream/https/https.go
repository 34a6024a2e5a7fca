package https

import (
	"context"
	"time"

	"gitlab.com/go-extension/http"

	"github.com/pmkol/mosproxy/pkg/upstream"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultMaxBodySize     = 32 << 20
	defaultIdleConnTimeout = 90 * time.Second
)

var _ upstream.Upstream = (*Upstream)(nil)

type Opts struct {
	// Timeout bounds the whole exchange, body included. Default is 10s.
	Timeout time.Duration

	// MaxBodySize is the largest accepted body. Default is 32 MiB.
	// Negative disables the limit.
	MaxBodySize int64

	// IdleConnTimeout is how long an idle keep-alive connection to the
	// origin is kept. Default is 90s.
	IdleConnTimeout time.Duration
}

func (opts *Opts) init() {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBodySize == 0 {
		opts.MaxBodySize = defaultMaxBodySize
	}
	if opts.IdleConnTimeout <= 0 {
		opts.IdleConnTimeout = defaultIdleConnTimeout
	}
}

// Upstream talks to the origin over HTTP/1.1 or h2.
type Upstream struct {
	opts      Opts
	transport *http.Transport
}

func NewUpstream(opts Opts) *Upstream {
	opts.init()
	return &Upstream{
		opts: opts,
		transport: &http.Transport{
			IdleConnTimeout:     opts.IdleConnTimeout,
			MaxIdleConnsPerHost: 64,
			TLSHandshakeTimeout: opts.Timeout,
			DisableCompression:  true,
		},
	}
}

func (u *Upstream) Get(ctx context.Context, url string) (*upstream.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, u.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &upstream.TransportError{URL: url, Err: err}
	}
	// An empty value stops the transport from sending its default.
	req.Header.Set("User-Agent", "")

	res, err := u.transport.RoundTrip(req)
	if err != nil {
		return nil, &upstream.TransportError{URL: url, Err: err}
	}
	defer res.Body.Close()

	body, err := upstream.ReadBody(res.Body, u.opts.MaxBodySize)
	if err != nil {
		return nil, &upstream.TransportError{URL: url, Err: err}
	}
	return &upstream.Response{StatusCode: res.StatusCode, Body: body}, nil
}

func (u *Upstream) Close() error {
	u.transport.CloseIdleConnections()
	return nil
}
