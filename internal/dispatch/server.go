package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"hermes/internal/socket"
)

// State tracks the server lifecycle. Registrations move the server
// from Created to Configured (re-entrant); Start binds the listener
// and activates the request entry; Stop closes it for good.
type State int32

const (
	StateCreated State = iota
	StateConfigured
	StateStarted
	StateStopped
)

var (
	// ErrAlreadyStarted is returned by a second Start, and by
	// registration calls once the server is running. The route table,
	// pipeline and CORS policy are read-only after Start; mutating
	// them mid-flight is unsupported.
	ErrAlreadyStarted = errors.New("dispatch: server already started")

	// ErrNotStarted is returned by Stop when the server never started
	// or was already stopped.
	ErrNotStarted = errors.New("dispatch: server not started")

	// ErrStopped is returned by Start on a stopped server; servers are
	// not restartable.
	ErrStopped = errors.New("dispatch: server stopped")
)

// Options configures a Server. Immutable once the server is started.
type Options struct {
	Host     string
	Port     int    `validate:"min=0,max=65535"`
	BasePath string `validate:"omitempty,startswith=/"`

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string `validate:"required_with=KeyFile"`
	KeyFile  string `validate:"required_with=CertFile"`

	// CORS enables cross-origin decoration and preflight handling
	// when non-nil.
	CORS *CORSConfig
}

var validate = validator.New()

// Server owns the route table, middleware pipeline, CORS policy and
// WebSocket registration, and exposes the single request entry point
// composing them. It implements http.Handler so it can be embedded in
// an existing mux; Start/Stop run it standalone on its own listener.
type Server struct {
	opts      Options
	logger    *slog.Logger
	table     *Table
	pipeline  *Pipeline
	broker    *socket.Broker
	wsHandler socket.Handler

	mu         sync.Mutex
	state      State
	listener   net.Listener
	httpServer *http.Server
}

// NewServer validates opts and builds a server in the Created state.
func NewServer(opts Options, logger *slog.Logger) (*Server, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid server options: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts.BasePath = strings.TrimSuffix(opts.BasePath, "/")
	return &Server{
		opts:     opts,
		logger:   logger.With(slog.String("component", "dispatch.server")),
		table:    NewTable(),
		pipeline: NewPipeline(),
		broker:   socket.NewBroker(logger),
	}, nil
}

// Handle appends a route registration. Routes are matched in
// registration order, first match wins.
func (s *Server) Handle(method, pattern string, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.configurable(); err != nil {
		return err
	}
	if err := s.table.Add(method, pattern, handler); err != nil {
		return err
	}
	s.state = StateConfigured
	return nil
}

// Get registers a GET route.
func (s *Server) Get(pattern string, handler Handler) error {
	return s.Handle(http.MethodGet, pattern, handler)
}

// Post registers a POST route.
func (s *Server) Post(pattern string, handler Handler) error {
	return s.Handle(http.MethodPost, pattern, handler)
}

// Put registers a PUT route.
func (s *Server) Put(pattern string, handler Handler) error {
	return s.Handle(http.MethodPut, pattern, handler)
}

// Delete registers a DELETE route.
func (s *Server) Delete(pattern string, handler Handler) error {
	return s.Handle(http.MethodDelete, pattern, handler)
}

// Patch registers a PATCH route.
func (s *Server) Patch(pattern string, handler Handler) error {
	return s.Handle(http.MethodPatch, pattern, handler)
}

// Options registers an OPTIONS route. Note that with CORS configured,
// OPTIONS requests are answered by the preflight short-circuit and
// never reach the route table.
func (s *Server) Options(pattern string, handler Handler) error {
	return s.Handle(http.MethodOptions, pattern, handler)
}

// Use appends a middleware entry to the pipeline.
func (s *Server) Use(m Middleware) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.configurable(); err != nil {
		return err
	}
	s.pipeline.Use(m)
	s.state = StateConfigured
	return nil
}

// SetWebSocketHandler replaces the single active WebSocket handler.
// Last write wins; there is no per-route differentiation.
func (s *Server) SetWebSocketHandler(h socket.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.configurable(); err != nil {
		return err
	}
	s.wsHandler = h
	s.state = StateConfigured
	return nil
}

// Broker returns the topic broker shared by all upgraded connections.
func (s *Server) Broker() *socket.Broker {
	return s.broker
}

func (s *Server) configurable() error {
	switch s.state {
	case StateStarted:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrStopped
	}
	return nil
}

// Start binds the configured host/port and begins serving. It returns
// once the listener is bound; serving continues in the background
// until Stop. A second Start returns ErrAlreadyStarted.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateStarted:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrStopped
	}

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: s}
	s.state = StateStarted

	tls := s.opts.CertFile != "" && s.opts.KeyFile != ""
	s.logger.Info("server started",
		slog.String("addr", ln.Addr().String()),
		slog.Bool("tls", tls),
		slog.Int("routes", s.table.Len()),
		slog.Int("middleware", s.pipeline.Len()))

	go func() {
		var serveErr error
		if tls {
			serveErr = s.httpServer.ServeTLS(ln, s.opts.CertFile, s.opts.KeyFile)
		} else {
			serveErr = s.httpServer.Serve(ln)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("serve error", slog.String("error", serveErr.Error()))
		}
	}()
	return nil
}

// Stop closes the listener and drains in-flight requests until ctx
// expires. Stopping a server that never started, or stopping twice,
// returns ErrNotStarted.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStarted {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.state = StateStopped
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("server stopping")
	return srv.Shutdown(ctx)
}

// Addr returns the bound listener address, or "" before Start. Useful
// when the server was configured with port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ServeHTTP is the single request entry point. Order of operations:
// CORS preflight short-circuit, WebSocket upgrade, middleware pipeline
// ending in route dispatch, CORS decoration of whatever response comes
// back, including the 404 and 500 boundaries.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	// Preflight never reaches middleware or handlers.
	if s.opts.CORS != nil && r.Method == http.MethodOptions {
		s.opts.CORS.Apply(w.Header(), origin)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if s.wsHandler != nil && websocket.IsWebSocketUpgrade(r) {
		s.upgrade(w, r)
		return
	}

	resp := s.execute(r)
	if s.opts.CORS != nil {
		s.opts.CORS.Apply(resp.Header, origin)
	}
	resp.write(w)
}

// execute runs the pipeline under the top-level error boundary. Any
// error returned from, or panic raised in, middleware or handlers is
// logged and collapsed into a generic 500; internal detail never
// reaches the response body.
func (s *Server) execute(r *http.Request) (resp *Response) {
	defer func() {
		if rvr := recover(); rvr != nil {
			s.logger.ErrorContext(r.Context(), "panic recovered",
				slog.Any("panic", rvr),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("stack", string(debug.Stack())))
			resp = internalErrorResponse()
		}
	}()

	resp, err := s.pipeline.Run(r, func() (*Response, error) {
		return s.route(r)
	})
	if err != nil {
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		return internalErrorResponse()
	}
	if resp == nil {
		s.logger.ErrorContext(r.Context(), "pipeline produced no response",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path))
		return internalErrorResponse()
	}
	// Hand-built responses may carry a nil header map; CORS decoration
	// needs a writable one.
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	return resp
}

// route is the pipeline terminal: route table dispatch with a 404
// fallback. It matches on the raw, undecoded request path.
func (s *Server) route(r *http.Request) (*Response, error) {
	path := rawPath(r)
	if s.opts.BasePath != "" {
		if !strings.HasPrefix(path, s.opts.BasePath) {
			return notFoundResponse(), nil
		}
		path = path[len(s.opts.BasePath):]
		if path == "" {
			path = "/"
		}
	}
	handler, params, ok := s.table.Match(r.Method, path)
	if !ok {
		return notFoundResponse(), nil
	}
	return handler(r, params)
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) {
	up := &socket.Upgrader{
		Handler:     s.wsHandler,
		Broker:      s.broker,
		Logger:      s.logger,
		CheckOrigin: s.checkOrigin,
	}
	if _, err := up.Upgrade(w, r); err != nil {
		// Upgrade already wrote the handshake error.
		s.logger.Error("websocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()))
	}
}

// checkOrigin admits upgrades from origins the CORS policy names. No
// policy, an empty Origin header, or a wildcard policy admits all.
func (s *Server) checkOrigin(r *http.Request) bool {
	if s.opts.CORS == nil || len(s.opts.CORS.Origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.opts.CORS.Origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// rawPath prefers the unmodified escaped path so that parameter
// extraction sees exactly what the client sent.
func rawPath(r *http.Request) string {
	if r.URL.RawPath != "" {
		return r.URL.RawPath
	}
	return r.URL.Path
}
