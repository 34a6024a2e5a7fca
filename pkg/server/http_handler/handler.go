/*
 * Copyright (C) 2020-2022, IrineSistiana
 *
 * This file is part of mosdns.
 */

package http_handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/pmkol/mosproxy/pkg/forward"
	"github.com/pmkol/mosproxy/pkg/upstream"
)

var nopLogger = zap.NewNop()

// Forwarder is implemented by *forward.Forwarder.
type Forwarder interface {
	Forward(ctx context.Context, path, rawQuery string) (*forward.Result, error)
}

type HandlerOpts struct {
	Forwarder Forwarder

	// HealthPath, if set, is answered locally with 200 "OK" instead of
	// being forwarded. Disabled by default because every path belongs
	// to the origin.
	HealthPath string

	Logger *zap.Logger
}

func (opts *HandlerOpts) Init() error {
	if opts.Forwarder == nil {
		return errors.New("nil forwarder")
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

type Handler struct {
	opts HandlerOpts
}

func NewHandler(opts HandlerOpts) (*Handler, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &Handler{opts: opts}, nil
}

func (h *Handler) warnErr(req Request, err error) {
	h.opts.Logger.Warn(err.Error(), zap.String("from", req.GetRemoteAddr()), zap.String("method", req.Method()), zap.String("url", req.RequestURI()))
}

// Interfaces to abstract http requests of different server implementations.
type ResponseWriter interface {
	Header() Header
	Write([]byte) (int, error)
	WriteHeader(statusCode int)
}

type Header interface {
	Get(key string) string
	Set(key string, value string)
}

type Request interface {
	URL() *url.URL
	Method() string
	Context() context.Context
	RequestURI() string
	GetRemoteAddr() string
}

func (h *Handler) ServeHTTP(w ResponseWriter, req Request) {
	if req.Method() != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	u := req.URL()
	if len(h.opts.HealthPath) != 0 && u.Path == h.opts.HealthPath {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	}

	h.opts.Logger.Debug("incoming request", zap.String("from", req.GetRemoteAddr()), zap.String("url", req.RequestURI()))

	r, err := h.opts.Forwarder.Forward(req.Context(), receivedPath(req), u.RawQuery)
	if err != nil {
		if errors.Is(err, upstream.ErrTransport) {
			w.WriteHeader(http.StatusBadGateway)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
		h.warnErr(req, err)
		return
	}

	if r.Outcome == forward.OutcomeHit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(r.StatusCode)
	_, _ = w.Write(r.Body)
}

// receivedPath returns the path of req as it appeared on the request line.
// URL.Path is decoded and URL.EscapedPath may re-encode it, so both would
// merge distinct paths into one cache key.
func receivedPath(req Request) string {
	uri := req.RequestURI()
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		uri = uri[:i]
	}
	if strings.HasPrefix(uri, "/") {
		return uri
	}
	// absolute-form or a request built without a request line
	return req.URL().EscapedPath()
}
