// Command dgraph runs a DecisionGraph node: it opens (or bootstraps) a
// chain, wires the RFA engine, and serves the HTTP boundary.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/decisiongraph/core/pkg/api"
	"github.com/decisiongraph/core/pkg/chain"
	"github.com/decisiongraph/core/pkg/config"
	"github.com/decisiongraph/core/pkg/engine"
	"github.com/decisiongraph/core/pkg/observability"
	"github.com/decisiongraph/core/pkg/signer"
	"github.com/decisiongraph/core/pkg/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "dgraph:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if cfg.ProfileYML != "" {
		profile, err := config.LoadProfile(cfg.ProfileYML)
		if err != nil {
			return err
		}
		cfg.Merge(profile)
	}
	logger := observability.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Telemetry {
		provider, m, err := observability.NewProvider("dgraph")
		if err != nil {
			return err
		}
		metrics = m
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = provider.Shutdown(shutCtx)
		}()
	}

	ch, persist, err := openChain(ctx, cfg, logger)
	if err != nil {
		return err
	}

	engineOpts := []engine.Option{engine.WithLogger(logger)}
	if cfg.SigningSeedHex != "" {
		seed, err := hex.DecodeString(cfg.SigningSeedHex)
		if err != nil {
			return fmt.Errorf("parse signing seed: %w", err)
		}
		keyring, err := signer.NewKeyring(seed)
		if err != nil {
			return err
		}
		graphSigner, err := keyring.DeriveSigner(cfg.GraphID)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, engine.WithSigner(graphSigner))
		logger.Info("packet signing enabled", "public_key", graphSigner.PublicKeyString())
	}
	eng := engine.New(ch, engineOpts...)

	serverOpts := []api.ServerOption{api.WithMetrics(metrics)}
	if cfg.RateRPS > 0 {
		var limiterStore api.LimiterStore
		if cfg.RedisAddr != "" {
			limiterStore = api.NewRedisLimiterStore(cfg.RedisAddr, int(cfg.RateRPS))
		} else {
			limiterStore = api.NewMemoryLimiterStore(cfg.RateRPS, cfg.RateBurst)
		}
		serverOpts = append(serverOpts, api.WithRateLimiter(api.NewRateLimiter(limiterStore)))
	}
	if cfg.JWTSecret != "" {
		serverOpts = append(serverOpts, api.WithAuthenticator(api.NewAuthenticator([]byte(cfg.JWTSecret), "dgraph")))
	}

	srv := api.NewServer(eng, ch, logger, serverOpts...)
	logger.Info("dgraph serving",
		"addr", cfg.ListenAddr,
		"graph_id", cfg.GraphID,
		"cells", ch.Len(),
		"persisted", persist)
	return srv.ListenAndServe(ctx, cfg.ListenAddr)
}

// openChain loads the persisted chain, bootstrapping a genesis when the
// store is empty.
func openChain(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*chain.Chain, string, error) {
	genesis := chain.GenesisParams{
		RootNamespace: cfg.RootNamespace,
		Witnesses:     []string{"system_admin"},
		Threshold:     1,
		Timestamp:     time.Now(),
	}

	switch {
	case cfg.SQLitePath != "":
		st, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, "", err
		}
		n, err := st.Count(ctx)
		if err != nil {
			return nil, "", err
		}
		if n == 0 {
			ch, err := chain.Bootstrap(cfg.GraphID, genesis)
			if err != nil {
				return nil, "", err
			}
			if err := st.AppendCell(ctx, ch.Head()); err != nil {
				return nil, "", err
			}
			logger.Info("bootstrapped new graph", "root_namespace", cfg.RootNamespace)
			return ch, "sqlite", nil
		}
		ch, err := st.Load(ctx, cfg.GraphID)
		if err != nil {
			return nil, "", err
		}
		return ch, "sqlite", nil

	case cfg.ChainFilePath != "":
		cf, err := store.NewChainFile(cfg.ChainFilePath)
		if err != nil {
			return nil, "", err
		}
		ch, err := cf.Load(cfg.GraphID)
		if err != nil {
			return nil, "", err
		}
		if ch.Len() == 0 {
			ch, err = chain.Bootstrap(cfg.GraphID, genesis)
			if err != nil {
				return nil, "", err
			}
			if err := cf.Append(ch.Head()); err != nil {
				return nil, "", err
			}
			logger.Info("bootstrapped new graph", "root_namespace", cfg.RootNamespace)
		}
		return ch, "file", nil

	default:
		ch, err := chain.Bootstrap(cfg.GraphID, genesis)
		if err != nil {
			return nil, "", err
		}
		return ch, "memory", nil
	}
}
