/*
 * Copyright (C) 2020-2022, IrineSistiana
 *
 * This file is part of mosdns.
 *
 * mosdns is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * mosdns is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 */

package server

import (
	"net"
	"time"

	"github.com/pires/go-proxyproto"
	"gitlab.com/go-extension/http"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

const (
	defaultHTTPIdleTimeout = 60 * time.Second

	// Slowloris protection
	defaultReadHeaderTimeout = 5 * time.Second

	// GET requests carry no body
	defaultReadTimeout = 10 * time.Second

	defaultMaxHeaderBytes = 16 << 10

	proxyProtocolHeaderTimeout = 5 * time.Second
)

// ServeHTTP serves plain HTTP on l until l fails or the Server is closed.
func (s *Server) ServeHTTP(l net.Listener) error {
	defer l.Close()

	if s.opts.HttpHandler == nil {
		return errMissingHTTPHandler
	}

	if s.opts.ProxyProtocol {
		l = &proxyproto.Listener{Listener: l, ReadHeaderTimeout: proxyProtocolHeaderTimeout}
	}
	if s.opts.MaxConns > 0 {
		l = netutil.LimitListener(l, s.opts.MaxConns)
	}

	idleTimeout := s.opts.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = defaultHTTPIdleTimeout
	}

	hs := &http.Server{
		Handler:           &eHttpHandlerWrapper{s},
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       defaultReadTimeout,
		IdleTimeout:       idleTimeout,
		MaxHeaderBytes:    defaultMaxHeaderBytes,
	}
	if ok := s.trackCloser(hs, true); !ok {
		return ErrServerClosed
	}
	defer s.trackCloser(hs, false)

	s.opts.Logger.Info("http server started", zap.Stringer("addr", l.Addr()))
	err := hs.Serve(l)
	if err == http.ErrServerClosed {
		return ErrServerClosed
	}
	return err
}
