package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"pagat.app/internal/audit"
	"pagat.app/internal/auth"
	"pagat.app/internal/config"
	"pagat.app/internal/httpapi"
	"pagat.app/internal/migrate"
	"pagat.app/internal/oauth"
	"pagat.app/internal/obs"
	"pagat.app/internal/passkey"
	"pagat.app/internal/session"
	"pagat.app/internal/store"
	"pagat.app/migrations"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var (
		configPath  = flag.StringP("config", "c", os.Getenv("PAGAT_CONFIG"), "path to a YAML or TOML config file")
		addr        = flag.String("addr", "", "listen address, overrides server.addr")
		autoMigrate = flag.Bool("migrate", true, "apply pending migrations on start")
	)
	flag.Parse()

	if err := run(*configPath, *addr, *autoMigrate); err != nil {
		obs.Logger().Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath, addr string, autoMigrate bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	obs.SetLevel(cfg.Logging.Level)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger := obs.Component("api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if db.Dialect() == store.Postgres && cfg.Database.MaxOpenConns > 0 {
		db.SQL().SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if autoMigrate {
		mgr, err := migrate.NewManager(db, migrations.FS)
		if err != nil {
			return err
		}
		applied, err := mgr.Up(ctx)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		for _, name := range applied {
			logger.Info("applied migration", "name", name)
		}
	}

	recorder := audit.NewRecorder(db.AuditLog())
	limiter := auth.NewFixedWindowLimiter(cfg.Auth.LoginWindow.Std(), cfg.Auth.LoginAttempts)
	svc, err := auth.NewService(db.Users(),
		auth.WithLimiter(limiter),
		auth.WithRecorder(recorder),
		auth.WithBcryptCost(cfg.Auth.BcryptCost),
		auth.WithBootstrap(auth.Bootstrap{
			Username:        cfg.Auth.BootstrapAdmin.Username,
			Password:        cfg.Auth.BootstrapAdmin.Password,
			RecreateOnLogin: cfg.Auth.BootstrapAdmin.RecreateOnLogin,
		}),
	)
	if err != nil {
		return err
	}
	if created, err := svc.EnsureBootstrapAdmin(ctx); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	} else if created {
		logger.Warn("created bootstrap admin, change its password", "username", cfg.Auth.BootstrapAdmin.Username)
	}
	directory, err := auth.NewDirectory(db.Users(), recorder)
	if err != nil {
		return err
	}

	sessions := session.NewManager(db.Sessions(), session.Config{
		CookieName:   cfg.Session.CookieName,
		Secret:       []byte(cfg.Session.Secret),
		RememberFor:  cfg.Session.RememberFor.Std(),
		EphemeralTTL: cfg.Session.EphemeralTTL.Std(),
		Secure:       cfg.Session.Secure,
	})

	rp, err := passkey.NewRPStrategy(passkey.RelyingParty{
		ID:          cfg.WebAuthn.RPID,
		Origin:      cfg.WebAuthn.RPOrigin,
		DisplayName: cfg.WebAuthn.RPDisplayName,
	}, cfg.WebAuthn.DynamicRP, cfg.App.DevMode)
	if err != nil {
		return err
	}
	passkeys, err := passkey.NewManager(db.Credentials(), db.Users(), rp, passkey.WithRecorder(recorder))
	if err != nil {
		return err
	}

	var google *oauth.Service
	if cfg.Google.Enabled() {
		exchanger, err := oauth.NewOIDCExchanger(ctx, oauth.ProviderConfig{
			IssuerURL:    cfg.Google.IssuerURL,
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
		})
		if err != nil {
			return err
		}
		signer, err := oauth.NewStateSigner([]byte(cfg.Session.Secret), oauth.DefaultStateTTL, nil)
		if err != nil {
			return err
		}
		google, err = oauth.NewService(exchanger, signer, db.Users(), oauth.WithRecorder(recorder))
		if err != nil {
			return err
		}
	}

	api, err := httpapi.New(httpapi.Deps{
		Ready:     db,
		Auth:      svc,
		Directory: directory,
		Sessions:  sessions,
		Passkeys:  passkeys,
		OAuth:     google,
		Audit:     recorder,
	}, httpapi.Options{
		Version:               version,
		Debug:                 cfg.App.Debug,
		CORSOrigins:           cfg.Server.CORSOrigins,
		MaxBodyBytes:          cfg.Server.MaxBodyBytes,
		RatePerSec:            cfg.Server.RequestRate.PerSecond,
		RateBurst:             cfg.Server.RequestRate.Burst,
		TrustedProxies:        cfg.Server.TrustedProxies,
		GoogleSuccessRedirect: cfg.Google.SuccessRedirect,
		GooglePendingRedirect: cfg.Google.PendingRedirect,
	})
	if err != nil {
		return err
	}

	go limiter.Run(ctx, cfg.Auth.SweepInterval.Std())
	go sessions.Store().Run(ctx, cfg.Session.CleanupInterval.Std())

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting pagat-api", "version", version, "addr", srv.Addr, "driver", db.Dialect())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
