package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/olympstage/olympstage/internal/platform/otel"
	"github.com/olympstage/olympstage/internal/platform/ratelimit"
	"github.com/olympstage/olympstage/internal/services/auth/account"
	"github.com/olympstage/olympstage/internal/services/auth/api/httpapi"
	"github.com/olympstage/olympstage/internal/services/auth/mailer"
	"github.com/olympstage/olympstage/internal/services/auth/oauth"
	"github.com/olympstage/olympstage/internal/services/auth/otp"
	"github.com/olympstage/olympstage/internal/services/auth/passkey"
	"github.com/olympstage/olympstage/internal/services/auth/storage/sqlite"
	"github.com/olympstage/olympstage/internal/services/auth/token"
	"golang.org/x/time/rate"
)

const serviceName = "auth"

// Config controls where the auth server listens and persists.
type Config struct {
	HTTPAddr string `env:"OLYMPSTAGE_HTTP_ADDR" envDefault:":8080"`
	DBPath   string `env:"OLYMPSTAGE_DB_PATH"   envDefault:"data/auth.db"`
}

// LoadConfigFromEnv loads server configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	_ = env.Parse(&cfg)
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "auth.db")
	}
	return cfg
}

// Server hosts the auth HTTP service.
type Server struct {
	listener     net.Listener
	httpServer   *http.Server
	store        *sqlite.Store
	otelShutdown func(context.Context) error
}

// New creates a configured auth server listening on the configured address.
func New(ctx context.Context, cfg Config) (*Server, error) {
	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}
	store, err := openStore(cfg.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	tokenConfig, err := token.LoadConfigFromEnv()
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}
	passkeys, err := passkey.NewEngine(store, passkey.LoadConfigFromEnv())
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	handler := httpapi.New(httpapi.Deps{
		DB:       store,
		Codec:    token.NewCodec(tokenConfig),
		OTPs:     otp.NewLedger(store, otp.LoadConfigFromEnv()),
		Resolver: oauth.NewResolver(oauth.LoadConfigFromEnv()),
		Accounts: account.NewEngine(store),
		Passkeys: passkeys,
		Sender:   mailer.FromEnv(),
		LoginLimiter: ratelimit.NewKeyed(ratelimit.Config{
			Rate:    rate.Every(6 * time.Second),
			Burst:   10,
			IdleTTL: 15 * time.Minute,
		}),
		SendLimiter: ratelimit.NewKeyed(ratelimit.Config{
			Rate:    rate.Every(time.Minute),
			Burst:   3,
			IdleTTL: time.Hour,
		}),
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	otelShutdown, err := otel.Setup(ctx, serviceName)
	if err != nil {
		log.Printf("otel setup: %v", err)
		otelShutdown = nil
	}

	return &Server{
		listener: listener,
		httpServer: &http.Server{
			Handler:           otel.HTTPMiddleware(serviceName, mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
		store:        store,
		otelShutdown: otelShutdown,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves an auth server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the auth server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.closeStore()
	defer s.shutdownOtel()

	log.Printf("auth server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

func openStore(path string) (*sqlite.Store, error) {
	path = strings.TrimSpace(path)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close auth store: %v", err)
	}
}

func (s *Server) shutdownOtel() {
	if s == nil || s.otelShutdown == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.otelShutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
}
