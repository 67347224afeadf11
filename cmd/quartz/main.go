package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quartzid/quartz/cmd/quartz/server"
	"github.com/quartzid/quartz/internal/config"
	"github.com/quartzid/quartz/internal/events"
	"github.com/quartzid/quartz/internal/oauth"
	"github.com/quartzid/quartz/internal/registry"
	"github.com/quartzid/quartz/internal/store"
	"github.com/quartzid/quartz/internal/users"
)

const serviceVersion = "v1.0.0"

const authorizationCodeTTL = 5 * time.Minute

func main() {
	config.LoadEnv(".env")
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("quartz exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registryPath := envOr("QUARTZ_REGISTRY_PATH", "config/registry.yaml")
	reg, err := registry.Load(registryPath)
	if err != nil {
		return err
	}

	keys, err := loadKeyMaterial()
	if err != nil {
		return err
	}

	issuerURL := envOr("QUARTZ_ISSUER", "http://localhost:8080")
	issuer := oauth.NewIssuer(issuerURL, keys)

	tokenStore, err := store.FromEnv(ctx)
	if err != nil {
		return err
	}
	defer tokenStore.Close()

	userStore, err := users.FromEnv()
	if err != nil {
		return err
	}
	defer userStore.Close()

	publisher, err := events.Connect(os.Getenv("AMQP_URL"))
	if err != nil {
		return err
	}
	defer publisher.Close()

	engine := oauth.NewEngine(reg, tokenStore, issuer, userStore, authorizationCodeTTL)
	srv := server.NewServer(reg, engine, issuer, tokenStore, userStore, publisher)

	addr := ":" + envOr("PORT", "8080")
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("quartz listening",
			"version", serviceVersion,
			"addr", addr,
			"issuer", issuerURL,
			"registry", registryPath,
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// loadKeyMaterial reads the RSA signing key from QUARTZ_SIGNING_KEY (PEM
// value, possibly with escaped newlines) or QUARTZ_SIGNING_KEY_PATH.
func loadKeyMaterial() (*oauth.KeyMaterial, error) {
	if pemValue := os.Getenv("QUARTZ_SIGNING_KEY"); pemValue != "" {
		return oauth.ParseKeyMaterial(pemValue)
	}
	path := envOr("QUARTZ_SIGNING_KEY_PATH", "config/signing_key.pem")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return oauth.ParseKeyMaterial(string(raw))
}

func envOr(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}
