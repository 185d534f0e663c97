// Package pprof serves the debug HTTP endpoints: net/http/pprof under a
// prefix, /healthz and an optional /status handler supplied by the app.
package pprof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	logx "dyncron/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6060"

// Config controls the debug HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Prefix        string
	Token         string
	AllowInsecure bool
}

// Validate rejects a public bind without auth.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	addr := c.addr()
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("debug.addr: %w", err)
	}
	if !c.AllowInsecure && strings.TrimSpace(c.Token) == "" && !isLoopbackAddr(addr) {
		return fmt.Errorf("debug.addr %q: non-loopback addr requires token or allow_insecure", addr)
	}
	return nil
}

func (c Config) addr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultAddr
}

type Service struct {
	cfg    Config
	status http.Handler
	log    logx.Logger

	mu   sync.Mutex
	addr string
}

// New returns a debug server. status, when non-nil, is served at /status.
func New(cfg Config, status http.Handler, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, status: status, log: log}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Addr returns the bound address while serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Handler returns the routed, auth-wrapped mux.
func (s *Service) Handler() http.Handler {
	prefix := normalizePrefix(s.cfg.Prefix)
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(s.cfg.Token, h) }

	mux.HandleFunc("/healthz", wrap(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	if s.status != nil {
		mux.HandleFunc("/status", wrap(s.status.ServeHTTP))
	}

	base := strings.TrimSuffix(prefix, "/")
	mux.HandleFunc(prefix, wrap(pprofIndexAt(prefix)))
	mux.HandleFunc(base+"/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc(base+"/profile", wrap(hpprof.Profile))
	mux.HandleFunc(base+"/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc(base+"/trace", wrap(hpprof.Trace))
	mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, prefix, http.StatusPermanentRedirect)
	})
	return mux
}

// Serve listens and serves until ctx is done. A listener or server failure
// is returned so a supervisor can restart it.
func (s *Service) Serve(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		s.log.Error("debug server refused to start", logx.Err(err))
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.addr())
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       time.Minute,
	}
	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	s.log.Info("debug server started",
		logx.String("addr", ln.Addr().String()),
		logx.String("prefix", normalizePrefix(s.cfg.Prefix)),
		logx.Bool("token_set", s.cfg.Token != ""))

	err = srv.Serve(ln)

	s.mu.Lock()
	s.addr = ""
	s.mu.Unlock()

	if ctx.Err() != nil {
		s.log.Info("debug server stopped")
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("debug server exited unexpectedly")
	}
	return err
}

func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		// Accept either "Authorization: Bearer <token>" or ?token=<token>.
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// pprof.Index assumes requests are rooted at /debug/pprof/; rewrite the
// path for custom prefixes.
func pprofIndexAt(prefix string) http.HandlerFunc {
	canon := normalizePrefix(prefix)
	return func(w http.ResponseWriter, r *http.Request) {
		suffix := strings.TrimPrefix(r.URL.Path, canon)
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + suffix
		hpprof.Index(w, r2)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
