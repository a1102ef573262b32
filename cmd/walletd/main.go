package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimbus-wallet/wallet-engine/internal/api"
	"github.com/nimbus-wallet/wallet-engine/internal/approval"
	"github.com/nimbus-wallet/wallet-engine/internal/config"
	"github.com/nimbus-wallet/wallet-engine/internal/eth"
	"github.com/nimbus-wallet/wallet-engine/internal/keywrap"
	"github.com/nimbus-wallet/wallet-engine/internal/logger"
	"github.com/nimbus-wallet/wallet-engine/internal/networks"
	"github.com/nimbus-wallet/wallet-engine/internal/rpc"
	"github.com/nimbus-wallet/wallet-engine/internal/storage"
	"github.com/nimbus-wallet/wallet-engine/internal/wallet"
)

func main() {
	root := &cobra.Command{
		Use:           "walletd",
		Short:         "Browser-extension wallet controller daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCommand())

	if err := root.Execute(); err != nil {
		log.Fatalf("walletd: %v", err)
	}
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the wallet engine HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	backend, err := storage.NewPostgresBackend(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		return err
	}
	defer backend.Close()
	store := storage.NewEncryptedStore(backend)
	slog.Info("connected to database")

	wrapper, err := keywrap.New(&keywrap.Config{
		Backend:         cfg.KeywrapBackend,
		LocalMasterKey:  cfg.LocalMasterKey,
		KMSKeyID:        cfg.KMSKeyID,
		KMSRegion:       cfg.KMSRegion,
		VaultAddr:       cfg.VaultAddr,
		VaultToken:      cfg.VaultToken,
		VaultTransitKey: cfg.VaultTransitKey,
	})
	if err != nil {
		return err
	}
	slog.Info("initialized key wrapping", "backend", wrapper.Backend())

	registry := networks.New()
	broker := approval.NewBroker()
	bus := wallet.NewBus()
	controller := wallet.New(store, registry, func(rpcURL string) (wallet.NodeClient, error) {
		return eth.Dial(rpcURL)
	}, bus)
	dapp := rpc.New(controller, broker)

	server := api.NewServer(cfg, controller, dapp, broker, store, wrapper)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "port", cfg.Port)
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
