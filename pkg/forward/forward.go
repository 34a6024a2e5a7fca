package forward

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pmkol/mosproxy/pkg/cache"
	"github.com/pmkol/mosproxy/pkg/request_key"
	"github.com/pmkol/mosproxy/pkg/upstream"
)

var nopLogger = zap.NewNop()

type Outcome uint8

const (
	// OutcomeHit is a response served from the cache.
	OutcomeHit Outcome = iota
	// OutcomeStored is a 200 response fetched from the origin and cached.
	OutcomeStored
	// OutcomePassthrough is a non-200 origin response, returned verbatim.
	OutcomePassthrough
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHit:
		return labelHit
	case OutcomeStored:
		return labelStored
	case OutcomePassthrough:
		return labelPassthrough
	default:
		return fmt.Sprintf("outcome(%d)", o)
	}
}

type Result struct {
	StatusCode int
	Body       []byte
	Outcome    Outcome
}

type Opts struct {
	// Origin is the host (no scheme, no path) requests are forwarded to.
	Origin string

	Cache    cache.Backend
	Upstream upstream.Upstream

	// Logger is the *zap.Logger for this Forwarder.
	// A nil Logger will disable logging.
	Logger *zap.Logger

	// MetricsReg registers forwarding metrics. Optional.
	MetricsReg prometheus.Registerer
}

func (opts *Opts) init() error {
	if len(opts.Origin) == 0 {
		return errors.New("empty origin")
	}
	if opts.Cache == nil {
		return errors.New("nil cache")
	}
	if opts.Upstream == nil {
		return errors.New("nil upstream")
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

// Forwarder serves GET requests from its cache or from the origin.
// Concurrent identical misses each fetch from the origin; the last Insert wins.
type Forwarder struct {
	opts    Opts
	metrics *metrics
}

func NewForwarder(opts Opts) (*Forwarder, error) {
	if err := opts.init(); err != nil {
		return nil, err
	}
	f := &Forwarder{opts: opts, metrics: newMetrics()}
	if opts.MetricsReg != nil {
		if err := f.metrics.register(opts.MetricsReg); err != nil {
			return nil, fmt.Errorf("failed to register metrics, %w", err)
		}
	}
	return f, nil
}

// UpstreamURL returns the origin url of path and rawQuery.
// "?" is only added when rawQuery is not empty.
func UpstreamURL(origin, path, rawQuery string) string {
	u := "https://" + origin + path
	if len(rawQuery) != 0 {
		u += "?" + rawQuery
	}
	return u
}

// Forward returns the response to a GET of path?rawQuery. Both values are
// used as received. A returned error is an *upstream.TransportError or
// a ctx error; nothing is cached in that case.
func (f *Forwarder) Forward(ctx context.Context, path, rawQuery string) (*Result, error) {
	key := request_key.New(path, rawQuery)
	url := UpstreamURL(f.opts.Origin, path, rawQuery)

	if body, ok := f.opts.Cache.Get(key); ok {
		f.metrics.requests.WithLabelValues(labelHit).Inc()
		f.opts.Logger.Debug("cache hit", zap.Stringer("key", key))
		return &Result{StatusCode: http.StatusOK, Body: body, Outcome: OutcomeHit}, nil
	}

	start := time.Now()
	res, err := f.opts.Upstream.Get(ctx, url)
	f.metrics.upstreamDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		f.metrics.requests.WithLabelValues(labelUpstreamError).Inc()
		f.opts.Logger.Warn("upstream failed", zap.String("url", url), zap.Error(err))
		return nil, err
	}

	if res.StatusCode != http.StatusOK {
		f.metrics.requests.WithLabelValues(labelPassthrough).Inc()
		f.opts.Logger.Debug("upstream non-200, not caching", zap.String("url", url), zap.Int("status", res.StatusCode))
		return &Result{StatusCode: res.StatusCode, Body: res.Body, Outcome: OutcomePassthrough}, nil
	}

	f.opts.Cache.Insert(key, res.Body)
	f.metrics.requests.WithLabelValues(labelStored).Inc()
	f.opts.Logger.Debug("response cached", zap.Stringer("key", key), zap.Int("size", len(res.Body)))
	return &Result{StatusCode: http.StatusOK, Body: res.Body, Outcome: OutcomeStored}, nil
}
