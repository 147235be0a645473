// Package server provides the admin/control HTTP API for a topologyd host:
// Location Tree CRUD, the six occupancy operations, state inspection,
// snapshot dump/restore, and a server-sent-events stream of bus traffic.
package server

import (
	"cmp"
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"hometopology/internal/auth"
	"hometopology/internal/bus"
	"hometopology/internal/cert"
	"hometopology/internal/config"
	"hometopology/internal/logging"
	"hometopology/internal/occupancy"
	"hometopology/internal/snapshot"
	"hometopology/internal/topology"
)

// Version is set at build time.
var Version = "dev"

// Dispatch submits fn to run on the host's single engine/tree/bus execution
// context (SPEC_FULL.md §5). Handlers never touch the tree, module, or bus
// directly; they always go through Server.do, which wraps Dispatch.
// A nil Dispatch runs fn inline, which is sufficient for unit tests that
// construct a Server without a host dispatch loop.
type Dispatch func(fn func())

// CertManager provides TLS certificates for dynamic HTTPS.
type CertManager interface {
	Certificate(name string) *tls.Certificate
	GetCertificate(clientHello *tls.ClientHelloInfo) (*tls.Certificate, error)
	TLSConfig() *tls.Config
	LoadFromConfig(defaultCert string, certs map[string]cert.CertSource) error
}

// Config holds Server configuration.
type Config struct {
	Logger *slog.Logger

	// CertManager provides TLS certificates. When non-nil and TLSEnabled,
	// the server additionally serves HTTPS on HTTPSPort (or HTTP port + 1).
	CertManager CertManager
	TLSEnabled  bool
	DefaultCert string
	HTTPSPort   string
	// HTTPToHTTPSRedirect redirects non-loopback HTTP requests to HTTPS.
	HTTPToHTTPSRedirect bool

	// AdminUsername/AdminPasswordHash authenticate the single admin account
	// against which /v1/auth/login issues JWTs. AdminPasswordHash is an
	// Argon2id PHC string produced by auth.HashPassword.
	AdminUsername     string
	AdminPasswordHash string

	// RefreshTokenDuration is how long an issued refresh token remains
	// valid. Defaults to 168h (7 days) when zero.
	RefreshTokenDuration time.Duration
}

// Server is the admin/control HTTP API. HTTP is always on; HTTPS is added
// when TLS is enabled and a default cert is available.
type Server struct {
	tree      *topology.Tree
	module    *occupancy.Module
	bus       *bus.Bus
	cfgStore  config.Store
	snapStore snapshot.Store
	tokens    *auth.TokenService
	dispatch  Dispatch

	certManager          CertManager
	tlsEnabled           bool
	defaultCert          string
	configuredHTTPSPort  string
	httpToHTTPSRedirect  bool
	adminUsername        string
	adminPasswordHash    string
	refreshTokenDuration time.Duration

	logger    *slog.Logger
	startTime time.Time

	refresh refreshStore

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	handler  http.Handler // core handler (mux + CORS + tracking), shared by HTTP and HTTPS
	shutdown chan struct{}
	inFlight sync.WaitGroup
	draining atomic.Bool

	rl       *rateLimiter
	rlCancel context.CancelFunc
	rlWG     sync.WaitGroup

	httpsListener   net.Listener
	httpsServer     *http.Server
	httpsPort       string
	redirectToHTTPS atomic.Bool
}

// New creates a new Server.
func New(tree *topology.Tree, module *occupancy.Module, b *bus.Bus, cfgStore config.Store, snapStore snapshot.Store, tokens *auth.TokenService, dispatch Dispatch, cfg Config) *Server {
	refreshDuration := cfg.RefreshTokenDuration
	if refreshDuration <= 0 {
		refreshDuration = 168 * time.Hour
	}
	return &Server{
		tree:      tree,
		module:    module,
		bus:       b,
		cfgStore:  cfgStore,
		snapStore: snapStore,
		tokens:    tokens,
		dispatch:  dispatch,

		certManager:          cfg.CertManager,
		tlsEnabled:           cfg.TLSEnabled,
		defaultCert:          cfg.DefaultCert,
		configuredHTTPSPort:  cfg.HTTPSPort,
		httpToHTTPSRedirect:  cfg.HTTPToHTTPSRedirect,
		adminUsername:        cfg.AdminUsername,
		adminPasswordHash:    cfg.AdminPasswordHash,
		refreshTokenDuration: refreshDuration,

		logger:    logging.Default(cfg.Logger).With("component", "server"),
		startTime: time.Now(),
		refresh:   newRefreshStore(),
		shutdown:  make(chan struct{}),
		rl:        newRateLimiter(5.0/60.0, 5), // 5 req/min per IP, burst of 5
	}
}

// do runs fn on the engine/tree/bus execution context and blocks until it
// completes.
func (s *Server) do(fn func()) {
	if s.dispatch == nil {
		fn()
		return
	}
	done := make(chan struct{})
	s.dispatch(func() {
		fn()
		close(done)
	})
	<-done
}

// registerProbes adds Kubernetes liveness and readiness probe endpoints.
func (s *Server) registerProbes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

// isLoopback returns true if host is a loopback address.
func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// corsMiddleware adds CORS headers for browser clients. Only allows
// same-origin requests; never reflects arbitrary Origin, since that would
// let any page read Location/occupancy state via a logged-in browser.
// For loopback (dev with proxy), allows Origin from same hostname on any port.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && isOriginAllowed(origin, r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Accept")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isOriginAllowed(origin string, r *http.Request) bool {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if origin == scheme+"://"+r.Host {
		return true
	}
	reqHost, _, _ := net.SplitHostPort(r.Host)
	reqHost = cmp.Or(reqHost, r.Host)
	if !isLoopback(reqHost) {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	oHost, _, _ := net.SplitHostPort(u.Host)
	if oHost == "" {
		oHost = u.Host
	}
	return isLoopback(oHost)
}

// securityHeadersMiddleware sets baseline hardening headers appropriate for
// a JSON admin API with no embedded browser UI of its own.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// trackingMiddleware wraps an http.Handler to track in-flight requests.
func (s *Server) trackingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			http.Error(w, "server is draining", http.StatusServiceUnavailable)
			return
		}
		s.inFlight.Add(1)
		defer s.inFlight.Done()
		next.ServeHTTP(w, r)
	})
}

// buildMux registers every admin route from SPEC_FULL.md §4.8.
func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/auth/login", s.handleLogin)
	mux.HandleFunc("POST /v1/auth/refresh", s.handleRefresh)

	protect := func(h http.HandlerFunc) http.Handler {
		return auth.RequireAuth(s.tokens)(h)
	}

	mux.Handle("POST /v1/locations", protect(s.handleCreateLocation))
	mux.Handle("GET /v1/locations", protect(s.handleListLocations))
	mux.Handle("GET /v1/locations/{id}", protect(s.handleGetLocation))
	mux.Handle("DELETE /v1/locations/{id}", protect(s.handleDeleteLocation))
	mux.Handle("POST /v1/locations/{id}/reparent", protect(s.handleReparentLocation))

	mux.Handle("POST /v1/occupancy/trigger", protect(s.handleTrigger))
	mux.Handle("POST /v1/occupancy/clear", protect(s.handleClear))
	mux.Handle("POST /v1/occupancy/vacate", protect(s.handleVacate))
	mux.Handle("POST /v1/occupancy/vacate_area", protect(s.handleVacateArea))
	mux.Handle("POST /v1/occupancy/lock", protect(s.handleLock))
	mux.Handle("POST /v1/occupancy/unlock", protect(s.handleUnlock))
	mux.Handle("POST /v1/occupancy/unlock_all", protect(s.handleUnlockAll))
	mux.Handle("GET /v1/occupancy/dump", protect(s.handleDump))
	mux.Handle("POST /v1/occupancy/restore", protect(s.handleRestore))
	mux.Handle("GET /v1/occupancy/{id}", protect(s.handleGetLocationState))

	mux.Handle("GET /v1/events", protect(http.HandlerFunc(s.handleEvents)))

	mux.Handle("POST /v1/shutdown", protect(s.handleShutdown))

	s.registerProbes(mux)
	s.registerMetrics(mux)

	return mux
}

// Serve accepts connections on listener and blocks until the server stops.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	rlCtx, rlCancel := context.WithCancel(context.Background())
	s.rlCancel = rlCancel
	s.rl.startCleanup(rlCtx, &s.rlWG, 3*time.Minute, 5*time.Minute)

	mux := s.buildMux()
	// Chain: tracking -> CORS -> securityHeaders -> rateLimit -> compress -> mux
	s.handler = s.trackingMiddleware(s.corsMiddleware(securityHeadersMiddleware(rateLimitMiddleware(s.rl)(compressMiddleware(mux)))))

	redirectHandler := s.redirectMiddleware(s.handler)
	s.server = &http.Server{
		Handler:           h2c.NewHandler(redirectHandler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.reconfigureTLS()

	s.logger.Info("server starting", "addr", listener.Addr().String())

	err := s.server.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// redirectMiddleware redirects HTTP requests to HTTPS when both listeners
// are active. Skips redirect for localhost so dev clients on HTTP keep working.
func (s *Server) redirectMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.redirectToHTTPS.Load() {
			next.ServeHTTP(w, r)
			return
		}
		port := s.httpsPort
		if port == "" {
			next.ServeHTTP(w, r)
			return
		}
		host, _, _ := net.SplitHostPort(r.Host)
		if host == "" {
			host = r.Host
		}
		if isLoopback(host) {
			next.ServeHTTP(w, r)
			return
		}
		httpsURL := "https://" + host + ":" + port + r.URL.RequestURI()
		http.Redirect(w, r, httpsURL, http.StatusTemporaryRedirect)
	})
}

// reconfigureTLS starts/stops the HTTPS listener based on Config. Safe to
// call from any goroutine; used at startup and whenever cert config changes.
func (s *Server) reconfigureTLS() {
	s.mu.Lock()
	defer s.mu.Unlock()

	redirectEnabled := s.httpToHTTPSRedirect && s.tlsEnabled
	s.redirectToHTTPS.Store(redirectEnabled)

	if !s.tlsEnabled || s.certManager == nil {
		s.stopHTTPSLocked()
		return
	}

	httpsPort := s.configuredHTTPSPort
	if httpsPort == "" {
		httpsPort = s.deriveHTTPSPort()
	}
	if httpsPort == "" {
		s.logger.Warn("reconfigure TLS: cannot determine HTTPS port")
		return
	}
	s.httpsPort = httpsPort

	if s.httpsListener != nil {
		return
	}

	httpsAddr := ":" + httpsPort
	ln, err := net.Listen("tcp", httpsAddr)
	if err != nil {
		s.logger.Warn("reconfigure TLS: listen failed", "addr", httpsAddr, "error", err)
		return
	}
	tlsConfig := s.certManager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12
	tlsConfig.CurvePreferences = []tls.CurveID{tls.X25519, tls.CurveP256}
	tlsLn := tls.NewListener(ln, tlsConfig)

	s.httpsListener = tlsLn
	s.httpsServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTPS listener started", "addr", httpsAddr)

	go func() {
		if err := s.httpsServer.Serve(tlsLn); err != nil && err != http.ErrServerClosed {
			s.logger.Warn("HTTPS serve error", "error", err)
		}
	}()
}

func (s *Server) deriveHTTPSPort() string {
	if s.listener == nil {
		return ""
	}
	_, portStr, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		return ""
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ""
	}
	return strconv.Itoa(port + 1)
}

func (s *Server) stopHTTPSLocked() {
	if s.httpsServer != nil {
		_ = s.httpsServer.Shutdown(context.Background())
		s.httpsServer = nil
	}
	if s.httpsListener != nil {
		_ = s.httpsListener.Close()
		s.httpsListener = nil
	}
	s.httpsPort = ""
}

// ServeUnix starts the server on a Unix socket.
func (s *Server) ServeUnix(path string) error {
	listener, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// ServeTCP starts the server on a TCP address.
func (s *Server) ServeTCP(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.rlCancel != nil {
		s.rlCancel()
		s.rlWG.Wait()
	}

	s.mu.Lock()
	server := s.server
	httpsServer := s.httpsServer
	s.httpsServer = nil
	s.httpsListener = nil
	s.mu.Unlock()

	if httpsServer != nil {
		_ = httpsServer.Shutdown(ctx)
	}

	if server == nil {
		return nil
	}

	s.logger.Info("server stopping")
	return server.Shutdown(ctx)
}

// initiateShutdown triggers shutdown. If drain is true, it waits for
// in-flight requests to complete before signaling.
func (s *Server) initiateShutdown(drain bool) {
	s.mu.Lock()
	alreadyShuttingDown := false
	select {
	case <-s.shutdown:
		alreadyShuttingDown = true
	default:
	}
	s.mu.Unlock()

	if alreadyShuttingDown {
		return
	}

	if drain {
		s.logger.Info("draining in-flight requests")
		s.draining.Store(true)
		s.inFlight.Wait()
		s.logger.Info("drain complete")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
}

// ShutdownChan returns a channel that is closed when shutdown is initiated.
func (s *Server) ShutdownChan() <-chan struct{} {
	return s.shutdown
}

// Handler returns an http.Handler for the server, useful for testing or
// embedding in another server.
func (s *Server) Handler() http.Handler {
	mux := s.buildMux()
	handler := h2c.NewHandler(mux, &http2.Server{})
	return s.trackingMiddleware(handler)
}
