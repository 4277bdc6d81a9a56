package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/loanledger/pkg/auth"
	"github.com/mcclellann/loanledger/pkg/config"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/logging"
	"github.com/mcclellann/loanledger/pkg/metrics"
	"github.com/mcclellann/loanledger/pkg/store"
)

const tokenTTL = 12 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// `api token <actor>` prints a bearer token for the given actor and exits.
	if len(os.Args) == 3 && os.Args[1] == "token" {
		token, err := auth.IssueToken(os.Args[2], cfg.JWTSecret, tokenTTL)
		if err != nil {
			slog.Error("failed to issue token", "error", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	logger := logging.Init("loanledger-api", cfg.LogLevel, cfg.AppEnv)

	sqliteStore, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		slog.Error("failed to initialize SQLite store", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer sqliteStore.Close()

	rate, _ := cfg.InterestRate()
	m := metrics.New()
	l := ledger.NewLedger(sqliteStore,
		ledger.WithLogger(logger),
		ledger.WithMetrics(m),
		ledger.WithDefaultRate(rate),
		ledger.WithDefaultTerm(cfg.DefaultTermMonths),
		ledger.WithPrepaidChargeName(cfg.PrepaidChargeName),
	)
	server := NewServer(l, sqliteStore, m)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Routes(cfg.JWTSecret),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr, "database", cfg.DatabasePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		return
	}
	slog.Info("server stopped")
}
