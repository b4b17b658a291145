// Package server is the connection/stream dispatcher: it accepts QUIC
// connections, fans each connection's streams out to independent request
// tasks, and writes exactly one response per stream. One request per
// stream, HTTP/1.1 framing on the wire.
package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/rotiride/orderd/internal/apperr"
	"github.com/rotiride/orderd/internal/config"
	"github.com/rotiride/orderd/internal/observability"
	"github.com/rotiride/orderd/internal/router"
)

// Server owns the listening endpoint and the accept loops.
type Server struct {
	cfg     *config.ServerConfig
	router  *router.Router
	logger  observability.Logger
	metrics *observability.Metrics

	listener *quic.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithServerLogger sets the server's logger.
func WithServerLogger(logger observability.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithServerMetrics sets the server's metrics.
func WithServerMetrics(m *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a server over the given router.
func New(cfg *config.ServerConfig, rt *router.Router, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		router: rt,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the listening endpoint. A bind failure is fatal to the
// process; the caller exits on error.
func (s *Server) Start() error {
	tlsConf, err := buildTLSConfig(s.cfg)
	if err != nil {
		return err
	}

	listener, err := quic.ListenAddr(s.cfg.Address(), tlsConf, &quic.Config{
		MaxIdleTimeout:        5 * time.Minute,
		MaxIncomingStreams:    1 << 10,
		MaxIncomingUniStreams: -1,
	})
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.Address(), err)
	}
	s.listener = listener

	s.logger.Info("server listening",
		observability.String("addr", listener.Addr().String()))
	return nil
}

// Addr returns the bound address. Valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve accepts connections until the context is cancelled or the
// listener is closed. Each connection gets its own task; a failing
// connection never affects its siblings.
func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("accept connection: %w", err)
		}
		go s.handleConnection(ctx, conn)
	}
}

// Shutdown closes the listener. In-flight streams finish on their own.
func (s *Server) Shutdown() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// handleConnection accepts request streams for one connection. Every
// accepted stream is promoted to its own task immediately so a slow
// request never blocks sibling streams on the same connection.
func (s *Server) handleConnection(ctx context.Context, conn quic.Connection) {
	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()

	remote := conn.RemoteAddr().String()
	s.logger.Debug("connection accepted",
		observability.String("remoteAddr", remote))

	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			// Peer closed the connection or the transport failed;
			// either way only this connection's loop ends.
			s.logger.Debug("connection closed",
				observability.String("remoteAddr", remote),
				observability.Error(err))
			return
		}
		go s.handleStream(ctx, stream, remote)
	}
}

// handleStream reads one request from the stream, drives it through the
// router, and writes exactly one response. All errors are converted to
// responses at this boundary; a bad request never tears down the
// connection.
func (s *Server) handleStream(ctx context.Context, stream quic.Stream, remote string) {
	s.metrics.StreamStarted()
	defer s.metrics.StreamFinished()
	defer stream.Close()

	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in request handler",
				observability.Any("panic", r))
			s.writeResponse(stream,
				router.NewErrorResponse(apperr.Internal("internal error"), ""))
		}
	}()

	req, err := http.ReadRequest(bufio.NewReader(stream))
	if err != nil {
		s.writeResponse(stream,
			router.NewErrorResponse(apperr.Validation("malformed request"), ""))
		return
	}

	// OPTIONS short-circuits to a cacheable 204 before the pipeline or
	// router ever run.
	if req.Method == http.MethodOptions {
		s.writeResponse(stream, router.NewPreflightResponse())
		s.metrics.RecordRequest(req.Method, req.URL.Path, http.StatusNoContent, time.Since(start))
		return
	}

	body, err := s.readBody(req)
	if err != nil {
		s.writeResponse(stream, router.NewErrorResponse(err, ""))
		return
	}

	rc := router.NewRequestContext(req.Method, req.URL, req.Header, body, remote)

	resp, err := s.router.Dispatch(ctx, rc)
	if err != nil {
		resp = router.NewErrorResponse(err, rc.RequestID)
	}
	resp.Finalize(rc)

	s.writeResponse(stream, resp)
	s.metrics.RecordRequest(rc.Method, rc.Path, resp.Status, time.Since(start))
}

// readBody drains the request body up to the configured limit.
func (s *Server) readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()

	limit := s.cfg.MaxBodyBytes
	if limit <= 0 {
		limit = 10 << 20
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, limit+1))
	if err != nil {
		return nil, apperr.Validation("unreadable request body")
	}
	if int64(len(body)) > limit {
		return nil, apperr.Validation("request body too large")
	}
	return body, nil
}

// writeResponse frames the response descriptor as HTTP/1.1 and writes it
// to the stream.
func (s *Server) writeResponse(stream quic.Stream, resp *router.Response) {
	httpResp := &http.Response{
		StatusCode:    resp.Status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        resp.Header,
		Body:          io.NopCloser(bytes.NewReader(resp.Body)),
		ContentLength: int64(len(resp.Body)),
	}

	if err := httpResp.Write(stream); err != nil {
		s.logger.Debug("response write failed",
			observability.Error(err))
	}
}
