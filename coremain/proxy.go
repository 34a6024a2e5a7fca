package coremain

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pmkol/mosproxy/mlog"
	"github.com/pmkol/mosproxy/pkg/cache/mem_cache"
	"github.com/pmkol/mosproxy/pkg/forward"
	"github.com/pmkol/mosproxy/pkg/safe_close"
	"github.com/pmkol/mosproxy/pkg/server"
	"github.com/pmkol/mosproxy/pkg/server/http_handler"
	"github.com/pmkol/mosproxy/pkg/upstream"
	"github.com/pmkol/mosproxy/pkg/upstream/h3"
	"github.com/pmkol/mosproxy/pkg/upstream/https"
)

type Proxy struct {
	cfg    *Config
	logger *zap.Logger

	cache     *mem_cache.MemCache
	upstream  upstream.Upstream
	forwarder *forward.Forwarder
	server    *server.Server

	httpAPIMux *http.ServeMux
	metricsReg *prometheus.Registry

	sc *safe_close.SafeClose
}

// RunProxy validates cfg, starts the proxy and blocks until it is closed
// by a signal or a fatal error. If started is not nil, it is called once
// the listener is up.
func RunProxy(cfg *Config, started func(p *Proxy)) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	lg, err := mlog.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	mlog.SetLogger(lg)

	p, err := NewProxy(cfg, lg)
	if err != nil {
		return err
	}

	l, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		p.closeComponents()
		return fmt.Errorf("failed to listen on %s, %w", cfg.Listen, err)
	}
	lg.Info("mosproxy starting",
		zap.String("origin", cfg.Origin),
		zap.String("listen", l.Addr().String()),
		zap.Duration("ttl", cfg.Cache.TTL),
	)

	if started != nil {
		started(p)
	}
	return p.Serve(l)
}

// NewProxy builds every component from a validated cfg. Nothing is
// started except the cache cleaner.
func NewProxy(cfg *Config, lg *zap.Logger) (*Proxy, error) {
	p := &Proxy{
		cfg:        cfg,
		logger:     lg,
		httpAPIMux: http.NewServeMux(),
		metricsReg: newMetricsReg(),
		sc:         safe_close.NewSafeClose(),
	}

	c, err := mem_cache.NewMemCache(cfg.Cache.TTL, mem_cache.Opts{
		Shards:          cfg.Cache.Shards,
		MaxEntries:      cfg.Cache.MaxEntries,
		CleanerInterval: cfg.Cache.CleanerInterval,
		Logger:          lg.Named("cache"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init cache, %w", err)
	}
	p.cache = c

	if cfg.Upstream.HTTP3 {
		p.upstream = h3.NewUpstream(h3.Opts{
			Timeout:     cfg.Upstream.Timeout,
			MaxBodySize: cfg.Upstream.MaxBodySize,
		})
	} else {
		p.upstream = https.NewUpstream(https.Opts{
			Timeout:     cfg.Upstream.Timeout,
			MaxBodySize: cfg.Upstream.MaxBodySize,
		})
	}

	reg := p.GetMetricsReg()
	if err := reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "cache_entries",
		Help: "The number of entries in the cache, expired entries not yet swept included",
	}, func() float64 { return float64(p.cache.Len()) })); err != nil {
		p.closeComponents()
		return nil, fmt.Errorf("failed to register cache metrics, %w", err)
	}

	p.forwarder, err = forward.NewForwarder(forward.Opts{
		Origin:     cfg.Origin,
		Cache:      p.cache,
		Upstream:   p.upstream,
		Logger:     lg.Named("forward"),
		MetricsReg: reg,
	})
	if err != nil {
		p.closeComponents()
		return nil, fmt.Errorf("failed to init forwarder, %w", err)
	}

	h, err := http_handler.NewHandler(http_handler.HandlerOpts{
		Forwarder:  p.forwarder,
		HealthPath: cfg.Server.HealthPath,
		Logger:     lg.Named("http"),
	})
	if err != nil {
		p.closeComponents()
		return nil, fmt.Errorf("failed to init http handler, %w", err)
	}
	p.server = server.NewServer(server.ServerOpts{
		Logger:        lg.Named("server"),
		HttpHandler:   h,
		IdleTimeout:   cfg.Server.IdleTimeout,
		ProxyProtocol: cfg.Server.ProxyProtocol,
		MaxConns:      cfg.Server.MaxConns,
	})

	p.httpAPIMux.Handle("/metrics", promhttp.HandlerFor(p.metricsReg, promhttp.HandlerOpts{}))
	p.httpAPIMux.HandleFunc("/debug/pprof/", pprof.Index)
	p.httpAPIMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	p.httpAPIMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	p.httpAPIMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	p.httpAPIMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return p, nil
}

// Serve runs the proxy server on l, the api server and the signal
// watcher until one of them fails or Close is called.
func (p *Proxy) Serve(l net.Listener) error {
	p.sc.Attach(func(closeSignal <-chan struct{}) error {
		errChan := make(chan error, 1)
		go func() {
			errChan <- p.server.ServeHTTP(l)
		}()
		select {
		case err := <-errChan:
			return fmt.Errorf("proxy server exited, %w", err)
		case <-closeSignal:
			p.server.Close()
			return nil
		}
	})

	if httpAddr := p.cfg.API.HTTP; len(httpAddr) > 0 {
		httpServer := &http.Server{
			Addr:    httpAddr,
			Handler: p.httpAPIMux,
		}
		p.sc.Attach(func(closeSignal <-chan struct{}) error {
			errChan := make(chan error, 1)
			go func() {
				p.logger.Info("starting api http server", zap.String("addr", httpAddr))
				errChan <- httpServer.ListenAndServe()
			}()
			select {
			case err := <-errChan:
				return fmt.Errorf("api server exited, %w", err)
			case <-closeSignal:
				if err := httpServer.Close(); err != nil {
					return fmt.Errorf("failed to close api server, %w", err)
				}
				return nil
			}
		})
	}

	p.sc.Attach(func(closeSignal <-chan struct{}) error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			p.logger.Info("signal received, exiting", zap.Stringer("signal", sig))
			p.sc.SendCloseSignal(nil)
		case <-closeSignal:
		}
		return nil
	})

	<-p.sc.ReceiveCloseSignal()
	p.sc.Done()
	p.sc.CloseWait()
	// l is not closed by the server if it never started
	_ = l.Close()
	p.closeComponents()

	if errors.Is(p.sc.Cause(), server.ErrServerClosed) {
		return nil
	}
	return p.sc.Err()
}

// Close stops a running proxy and waits for it.
func (p *Proxy) Close() {
	p.sc.CloseWait()
}

func (p *Proxy) closeComponents() {
	if p.cache != nil {
		_ = p.cache.Close()
	}
	if p.upstream != nil {
		_ = p.upstream.Close()
	}
}

func (p *Proxy) GetSafeClose() *safe_close.SafeClose {
	return p.sc
}

func (p *Proxy) GetMetricsReg() prometheus.Registerer {
	return prometheus.WrapRegistererWithPrefix("mosproxy_", p.metricsReg)
}

func (p *Proxy) GetHTTPAPIMux() *http.ServeMux {
	return p.httpAPIMux
}

func newMetricsReg() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}
