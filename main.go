package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/config"
	"storefront/handlers"
	"storefront/payment"
	"storefront/services"
	"storefront/utils"
)

const (
	cacheCleanupInterval = time.Minute
	shutdownTimeout      = 10 * time.Second
)

// generateSelfSignedCert creates a self-signed certificate for localhost
func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Storefront Development"},
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(365 * 24 * time.Hour), // 1 year
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1)},
		DNSNames:    []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  priv,
	}, nil
}

func isLocalHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// shouldUseHTTPS is true when the public URL is https on localhost, so
// Stripe.js works without a tunnel in front of the app.
func shouldUseHTTPS(cfg *config.Config) bool {
	u, err := url.Parse(cfg.PublicURL)
	if err != nil {
		return false
	}
	return u.Scheme == "https" && isLocalHost(u.Hostname())
}

// registerWebhookEndpoint registers the Stripe webhook when the app is
// reachable from the internet and no signing secret was configured.
func registerWebhookEndpoint(ctx context.Context, cfg *config.Config, gateway *services.StripeGateway) {
	if gateway == nil || cfg.StripeWebhookSecret != "" {
		return
	}
	u, err := url.Parse(cfg.PublicURL)
	if err != nil || u.Scheme != "https" || isLocalHost(u.Hostname()) {
		utils.Info("webhook", "Using polling only (no public https url)")
		return
	}

	secret, err := gateway.RegisterWebhook(ctx, cfg.PublicURL+"/stripe-webhook")
	if err != nil {
		utils.Error("webhook", "Failed to register webhook endpoint, falling back to polling", "error", err)
		return
	}
	cfg.StripeWebhookSecret = secret
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.Error("main", "Error loading configuration", "error", err)
		os.Exit(1)
	}
	utils.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache, err := services.NewStatusCache(ctx, cfg.RedisURL, cfg.PaymentTimeout)
	if err != nil {
		utils.Error("main", "Error connecting to status cache", "error", err)
		os.Exit(1)
	}
	switch c := cache.(type) {
	case *services.MemoryStatusCache:
		go c.RunCleanup(ctx, cacheCleanupInterval)
	case *services.RedisStatusCache:
		defer func() {
			if err := c.Close(); err != nil {
				utils.Error("main", "Error closing status cache", "error", err)
			}
		}()
	}

	backendCfg := services.BackendConfig{
		BaseURL:   cfg.BackendURL,
		Token:     cfg.BackendToken,
		PublicURL: cfg.PublicURL,
		Timeout:   cfg.HTTPTimeout,
	}
	backend := services.NewBackend(backendCfg, cache)
	orders := services.NewOrders(backendCfg)

	var stripeGateway *services.StripeGateway
	if cfg.StripeEnabled() {
		stripeGateway = services.NewStripeGateway(services.StripeConfig{
			SecretKey: cfg.StripeSecretKey,
			PublicKey: cfg.StripePublicKey,
			Currency:  cfg.StripeCurrency,
		}, orders, cache, backend.ReturnURL)
		registerWebhookEndpoint(ctx, cfg, stripeGateway)
		utils.Info("main", "Stripe provider enabled", "webhooks", cfg.WebhookEnabled())
	}
	gateway := services.NewGateway(backend, stripeGateway)

	bus := payment.NewBus()
	events := handlers.NewEventBroadcaster()
	decisions := handlers.NewDecisionBroker(bus, cfg.PaymentTimeout)
	orch := payment.NewOrchestrator(payment.OrchestratorConfig{
		Backend:       gateway,
		Bus:           bus,
		Confirmer:     decisions,
		Interval:      cfg.PollInterval,
		MaxAttempts:   cfg.PollMaxAttempts,
		OnWidgetError: events.WidgetFailed,
	})
	defer orch.Close()

	opts := handlers.Options{
		Orchestrator: orch,
		Orders:       orders,
		Cache:        cache,
		Decisions:    decisions,
		Events:       events,
	}
	if cfg.StripeEnabled() {
		opts.StripePublicKey = cfg.StripePublicKey
		opts.StripeWebhookSecret = cfg.StripeWebhookSecret
	}
	h := handlers.New(opts)
	defer h.Close()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		// event streams end with the signal context
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	useHTTPS := shouldUseHTTPS(cfg)
	if useHTTPS {
		cert, err := generateSelfSignedCert()
		if err != nil {
			utils.Error("main", "Failed to generate self-signed certificate", "error", err)
			os.Exit(1)
		}
		server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		utils.Warn("main", "Serving a self-signed certificate, accept the browser warning", "url", cfg.PublicURL)
	}

	serveErr := make(chan error, 1)
	go func() {
		utils.Info("main", "Storefront listening", "port", cfg.Port, "https", useHTTPS, "public_url", cfg.PublicURL)
		if useHTTPS {
			serveErr <- server.ListenAndServeTLS("", "")
			return
		}
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			utils.Error("main", "Server stopped", "error", err)
		}
	case <-ctx.Done():
		utils.Info("main", "Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			utils.Error("main", "Graceful shutdown failed", "error", err)
		}
	}
}
