// Package ops exposes a small local HTTP surface for operators: status,
// trigger enable/disable, forced digest runs, and optional pprof endpoints.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	logx "briefbot/pkg/logx"
)

// Controller is the application surface the HTTP handlers drive.
type Controller interface {
	EnableTrigger()
	DisableTrigger()
	ForceDigest(ctx context.Context) error
	ForceDigestAfter(delay time.Duration)
	Status() any
}

// Config controls the ops HTTP server.
//
// Binding to a non-loopback address requires Token; the server refuses to
// start otherwise.
type Config struct {
	Enabled bool
	Addr    string // defaults to 127.0.0.1:6060
	Token   string
	Pprof   bool
}

type Server struct {
	log logx.Logger
	ctl Controller

	mu  sync.Mutex
	cfg Config
	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, ctl Controller, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, ctl: ctl, log: log}
}

// Start binds the listener and serves in the background. Idempotent.
func (s *Server) Start(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.srv != nil {
		return nil
	}

	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:6060"
	}
	if s.cfg.Token == "" && !isLoopbackAddr(addr) {
		return errors.New("ops: non-loopback bind requires a token")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  time.Minute,
	}
	s.ln = ln
	s.srv = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("ops server exited", logx.Err(err))
		}
	}()
	s.log.Info("ops server listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Addr reports the bound address (empty when not running).
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure applies cfg at runtime, restarting the server when the bind
// address, token, or pprof exposure changed.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled && running:
		_ = s.Stop(ctx)
	case cfg.Enabled && !running:
		if err := s.Start(ctx); err != nil {
			s.log.Warn("ops server start failed", logx.Err(err))
		}
	case cfg.Enabled && running && prev != cfg:
		_ = s.Stop(ctx)
		if err := s.Start(ctx); err != nil {
			s.log.Warn("ops server restart failed", logx.Err(err))
		}
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	auth := s.withAuth

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /status", auth(s.handleStatus))
	mux.HandleFunc("POST /trigger/enable", auth(s.handleEnable))
	mux.HandleFunc("POST /trigger/disable", auth(s.handleDisable))
	mux.HandleFunc("POST /digest/run", auth(s.handleRun))
	mux.HandleFunc("POST /digest/once", auth(s.handleOnce))

	// Called from Start with s.mu already held; sync.Mutex is not
	// reentrant, so read cfg without re-locking.
	if s.cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", auth(hpprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", auth(hpprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", auth(hpprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", auth(hpprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", auth(hpprof.Trace))
	}
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.ctl.Status()); err != nil {
		s.log.Debug("status encode failed", logx.Err(err))
	}
}

func (s *Server) handleEnable(w http.ResponseWriter, _ *http.Request) {
	s.ctl.EnableTrigger()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisable(w http.ResponseWriter, _ *http.Request) {
	s.ctl.DisableTrigger()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.ForceDigest(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleOnce arms a one-shot digest after ?delay= (default 0).
func (s *Server) handleOnce(w http.ResponseWriter, r *http.Request) {
	var delay time.Duration
	if raw := r.URL.Query().Get("delay"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			http.Error(w, "invalid delay", http.StatusBadRequest)
			return
		}
		delay = d
	}
	s.ctl.ForceDigestAfter(delay)
	w.WriteHeader(http.StatusAccepted)
}

// withAuth checks a bearer token or ?token= query parameter. A server with no
// token configured (loopback only) passes requests through.
func (s *Server) withAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		tok := strings.TrimSpace(s.cfg.Token)
		s.mu.Unlock()
		if tok == "" {
			h(w, r)
			return
		}
		if got := r.URL.Query().Get("token"); got == tok {
			h(w, r)
			return
		}
		const bearer = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, bearer) &&
			strings.TrimSpace(strings.TrimPrefix(ah, bearer)) == tok {
			h(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host binds all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
