package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Options tunes the admin listener. Zero fields take the defaults below.
type Options struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	// WriteTimeout bounds a whole routed request, fallbacks included.
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// ShutdownGrace caps how long in-flight requests may drain.
	ShutdownGrace time.Duration
}

const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 15 * time.Second
	DefaultWriteTimeout      = 60 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultShutdownGrace     = 5 * time.Second
)

func (o Options) withDefaults() Options {
	pick := func(v, def time.Duration) time.Duration {
		if v <= 0 {
			return def
		}
		return v
	}
	o.ReadHeaderTimeout = pick(o.ReadHeaderTimeout, DefaultReadHeaderTimeout)
	o.ReadTimeout = pick(o.ReadTimeout, DefaultReadTimeout)
	o.WriteTimeout = pick(o.WriteTimeout, DefaultWriteTimeout)
	o.IdleTimeout = pick(o.IdleTimeout, DefaultIdleTimeout)
	o.ShutdownGrace = pick(o.ShutdownGrace, DefaultShutdownGrace)
	return o
}

// Server serves the router's HTTP surface on one listener.
type Server struct {
	server *http.Server
	grace  time.Duration

	mutex    sync.Mutex
	listener net.Listener
}

// New validates addr and prepares a server. Nothing is bound until Listen
// or Serve.
func New(addr string, handler http.Handler, opts Options) (*Server, error) {
	if err := ValidateAddr(addr); err != nil {
		return nil, fmt.Errorf("listen address %q: %w", addr, err)
	}
	opts = opts.withDefaults()

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: opts.ReadHeaderTimeout,
			ReadTimeout:       opts.ReadTimeout,
			WriteTimeout:      opts.WriteTimeout,
			IdleTimeout:       opts.IdleTimeout,
		},
		grace: opts.ShutdownGrace,
	}, nil
}

// Listen binds the address. Calling it again is a no-op.
func (s *Server) Listen() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln
	return nil
}

// Addr is the bound address once listening, otherwise the configured one.
// With port 0 it reports the port the kernel picked.
func (s *Server) Addr() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Serve accepts connections until ctx is done or Shutdown is called. When
// ctx ends it returns only after in-flight requests drained, reporting a
// drain that overran the grace. A clean stop returns nil.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mutex.Lock()
	ln := s.listener
	s.mutex.Unlock()

	drained := make(chan error, 1)
	stop := context.AfterFunc(ctx, func() {
		drained <- s.Shutdown(context.Background())
	})

	err := s.server.Serve(ln)
	if stop() {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return <-drained
}

// Shutdown stops accepting and waits for in-flight requests, for at most
// the configured grace. A server that was bound but never served releases
// its listener.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.grace)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)

	s.mutex.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mutex.Unlock()
	return err
}

// ValidateAddr checks that value is a host:port listen address. Port 0 is
// accepted and asks for an ephemeral port. It is an ozzo-validation rule
// function, so config validation reuses it.
func ValidateAddr(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}
	if host != "" && is.Host.Validate(host) != nil {
		return validation.NewError("validation_invalid_host", "invalid host")
	}

	switch n, err := strconv.Atoi(port); {
	case port == "":
		return validation.NewError("validation_invalid_port", "port cant be empty")
	case err != nil, n < 0, n > 65535:
		return validation.NewError("validation_invalid_port", "invalid port")
	}
	return nil
}
