package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentra.org/internal/audit"
	"sentra.org/internal/config"
	"sentra.org/internal/engine"
	"sentra.org/internal/httpapi"
	"sentra.org/internal/obs"
	"sentra.org/internal/rbac"
	"sentra.org/internal/session"
	"sentra.org/internal/signer"
	"sentra.org/internal/store/pg"
	"sentra.org/internal/subject"
	"sentra.org/internal/token"
	"sentra.org/internal/totp"
)

var (
	version = "0.3.1"
	commit  = "none"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (optional; env-only otherwise)")
	flag.Parse()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg := config.MustLoad(*configPath)

	// Stores: Postgres when a DSN is configured, in-memory otherwise.
	var (
		tokens   token.Store
		sessions session.Store
		rbacSt   rbac.Store
		probe    httpapi.ReadyProbe
		closeDB  func() error
	)
	if cfg.DB.DSN != "" {
		store, err := pg.Open(cfg.DB.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := store.EnsureSchema(ctx); err != nil {
			cancel()
			log.Fatalf("ensure schema: %v", err)
		}
		cancel()
		tokens = store.Tokens()
		sessions = store.Sessions()
		rbacSt = store.RBAC()
		probe = httpapi.ReadyProbe{Ping: store.Ping}
		closeDB = store.Close
	} else {
		log.Println("No DSN configured; using in-memory stores")
		tokens = token.NewInMemory()
		sessions = session.NewInMemory()
		rbacSt = rbac.NewInMemory()
	}

	sink := audit.LogSink{}

	ledger := token.NewLedger(tokens, token.WithAudit(sink))
	tracker := session.NewTracker(sessions,
		session.WithAudit(sink),
		session.WithTTL(cfg.Session.TTL),
		session.WithMaxFailedAttempts(cfg.Session.MaxFailedAttempts),
	)
	resolver := rbac.NewResolver(rbacSt)
	grants := rbac.NewGrants(rbacSt, rbac.WithGrantsAudit(sink))

	sgn, err := signer.New([]byte(cfg.Auth.SignerSecret), cfg.Auth.Issuer, cfg.Auth.AccessTTL)
	if err != nil {
		log.Fatalf("signer: %v", err)
	}

	eng := engine.New(ledger, tokens, tracker, resolver, sgn,
		engine.WithAudit(sink),
		engine.WithRefreshTTL(cfg.Auth.RefreshTTL),
		engine.WithTOTP(totp.NewCodec(totp.WithWindow(cfg.TOTP.Window))),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := seedPermissions(ctx, grants); err != nil {
		cancel()
		log.Fatalf("seed permissions: %v", err)
	}
	cancel()

	api := httpapi.New(eng, subject.NewInMemory(), probe, version)
	handler := httpapi.RequestID(
		httpapi.LoggingJSON(
			httpapi.SecurityHeaders(
				httpapi.RateLimit(
					httpapi.MaxBodyBytes(api.Handler(), 1<<20),
					cfg.RateLimit.Burst, cfg.RateLimit.PerSecond,
				),
			),
		),
	)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting sentra-api %s on %s (env=%s)", version, srv.Addr, cfg.Env)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if closeDB != nil {
		_ = closeDB()
	}
	log.Println("Stopped")
}

// seedPermissions makes sure the built-in permission catalog exists.
func seedPermissions(ctx context.Context, grants *rbac.Grants) error {
	for _, p := range rbac.BuiltinPermissions {
		if _, err := grants.EnsurePermission(ctx, p.Resource, p.Action, p.Description); err != nil {
			return err
		}
	}
	return nil
}
