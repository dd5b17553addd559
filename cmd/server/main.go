package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-guard/internal/config"
	"storefront-guard/internal/factory"
	"storefront-guard/internal/handler"
	"storefront-guard/internal/util"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()
	router := setupRouter(f)

	if cfg.Server.EnableTLS {
		startTLSServers(f, cfg, router)
		return
	}

	util.Warn("Starting HTTP server - TLS is disabled",
		util.String("environment", cfg.Environment),
		util.String("address", cfg.GetServerAddress()),
	)
	server := newServer(cfg, cfg.GetServerAddress(), router)
	go serve(server, func() error { return server.ListenAndServe() })
	waitForShutdown(f, server)
}

// setupRouter creates the HTTP router with all handlers using Chi
func setupRouter(f *factory.Factory) http.Handler {
	cfg := f.Config()
	logger := util.Get()
	services := f.ServiceFactory()

	var limiter *handler.IPRateLimiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = handler.NewIPRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}

	return handler.NewRouter(handler.RouterConfig{
		OTP:            handler.NewOTPHandler(services.OTPService(), logger.Named("otp_handler")),
		Simulation:     handler.NewSimulationHandler(f.Scheduler(), logger.Named("simulation_handler")),
		Refund:         handler.NewRefundHandler(services.RefundService(), logger.Named("refund_handler")),
		Events:         handler.NewEventsHandler(f.Collector(), f.EventLog(), logger.Named("events_handler")),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequireHTTPS:   cfg.Server.EnableTLS && cfg.IsProduction(),
		OTPLimiter:     limiter,
		Health:         f.Healthy,
	}, logger)
}

func newServer(cfg *config.Config, addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

// startTLSServers serves the API over TLS. With AutoCert the plain port only
// answers ACME challenges and redirects everything else to HTTPS.
func startTLSServers(f *factory.Factory, cfg *config.Config, router http.Handler) {
	tlsManager := f.TLSManager()

	httpsServer := newServer(cfg, cfg.GetTLSAddress(), router)
	httpsServer.TLSConfig = tlsManager.TLSConfig()

	var httpServer *http.Server
	if acme := tlsManager.AutocertManager(); acme != nil {
		httpServer = newServer(cfg, cfg.GetServerAddress(), acme.HTTPHandler(nil))
		go serve(httpServer, func() error { return httpServer.ListenAndServe() })
	} else if cfg.IsProduction() {
		util.Warn("TLS enabled without AutoCert, plain HTTP port is not served")
	}

	util.Info("Starting HTTPS server",
		util.String("environment", cfg.Environment),
		util.String("address", httpsServer.Addr),
		util.Bool("auto_cert", cfg.Server.AutoCert),
		util.String("domain", cfg.Server.Domain),
	)
	// Certificates come from TLSConfig.GetCertificate.
	go serve(httpsServer, func() error { return httpsServer.ListenAndServeTLS("", "") })

	waitForShutdown(f, httpsServer, httpServer)
}

func serve(server *http.Server, listen func() error) {
	if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		util.Fatal("Server failed to start", util.String("address", server.Addr), util.ErrorField(err))
	}
}

func waitForShutdown(f *factory.Factory, servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
		} else {
			util.Info("Server shutdown completed", util.String("address", srv.Addr))
		}
	}
	f.Close()
}
