package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auth-security/internal/factory"
	"auth-security/internal/handler"
	"auth-security/internal/util"
)

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      setupRouter(f),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	consumerDone := make(chan struct{})
	if c := f.EventConsumer(); c != nil {
		go func() {
			defer close(consumerDone)
			if err := c.Run(consumerCtx); err != nil {
				util.Error("Event consumer stopped", util.ErrorField(err))
			}
		}()
	} else {
		close(consumerDone)
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Fatal("Server failed to start", util.ErrorField(err))
		}
	}()

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.String("address", server.Addr),
		util.Bool("require_https", cfg.Server.RequireHTTPS),
	)

	waitForShutdown(f, server, func() {
		stopConsumer()
		<-consumerDone
	})
}

// setupRouter creates the HTTP router with all handlers using Chi
func setupRouter(f *factory.Factory) http.Handler {
	cfg := f.Config()
	logger := util.Get()

	securityHandler := handler.NewSecurityHandler(
		f.EventService(),
		f.AuthService(),
		f.AccessPolicy(),
		f.Enricher(),
		logger,
	)
	authenticator := handler.NewAuthenticator(cfg.Auth.JWTSecret, logger)

	return handler.NewRouter(securityHandler, authenticator, f.Healthy, handler.RouterOptions{
		RequireHTTPS:   cfg.Server.RequireHTTPS,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)
}

func waitForShutdown(f *factory.Factory, server *http.Server, stopConsumer func()) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
	} else {
		util.Info("Server shutdown completed")
	}

	stopConsumer()
	f.Close()
}
