package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stablevault/config"
	"stablevault/native/stable"
	"stablevault/native/token"
	"stablevault/observability/logging"
	"stablevault/oracle"
	"stablevault/rpc"
	"stablevault/storage"
)

const (
	debtSymbol        = "SUSD"
	manualFeedRefresh = time.Minute
	shutdownDeadline  = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "svd.toml", "path to the daemon configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("svd", cfg.Environment)

	moduleAddr := common.HexToAddress(cfg.ModuleAddress)

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("open state database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	symbols := make([]string, 0, len(cfg.Assets))
	feeds := make([]stable.PriceFeed, 0, len(cfg.Assets))
	assets := make([]stable.AssetToken, 0, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		symbols = append(symbols, asset.Symbol)
		feed, err := buildFeed(ctx, asset)
		if err != nil {
			logger.Error("configure price feed", "asset", asset.Symbol, "err", err)
			os.Exit(1)
		}
		feeds = append(feeds, feed)
		assets = append(assets, token.NewLedger(asset.Symbol, moduleAddr).Session(moduleAddr))
	}

	debtLedger := token.NewLedger(debtSymbol, moduleAddr)

	engine, err := stable.NewEngine(moduleAddr, debtLedger.Session(moduleAddr), symbols, feeds, assets, cfg.RiskParameters())
	if err != nil {
		logger.Error("construct engine", "err", err)
		os.Exit(1)
	}
	engine.SetState(stable.NewStoreState(db))

	router := chi.NewRouter()
	router.Method(http.MethodPost, "/", rpc.NewServer(engine).Handler())
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("json-rpc listening", "addr", cfg.ListenAddress, "assets", symbols)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve rpc", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}

// buildFeed wires either the HTTP feed or a pinned manual quote for the asset.
// Manual quotes are re-stamped on an interval so they stay inside the
// staleness window for development deployments.
func buildFeed(ctx context.Context, asset config.AssetConfig) (stable.PriceFeed, error) {
	if asset.FeedURL != "" {
		apiKey := ""
		if asset.FeedAPIKeyEnv != "" {
			apiKey = os.Getenv(asset.FeedAPIKeyEnv)
		}
		return oracle.NewHTTPFeed(nil, asset.FeedURL, apiKey), nil
	}

	feed := oracle.NewManualFeed()
	if err := feed.SetDecimal(asset.Price, time.Now()); err != nil {
		return nil, err
	}
	go func() {
		ticker := time.NewTicker(manualFeedRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = feed.SetDecimal(asset.Price, time.Now())
			}
		}
	}()
	return feed, nil
}
