package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/config"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/devserver"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/domain"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/logger"
)

const shutdownTimeout = 5 * time.Second

// newDevServerCommand builds the devserver subcommand: a local tracking
// backend so an integration can be exercised without the production API.
func newDevServerCommand() *cobra.Command {
	var (
		addr          string
		priceSelector string
		buySelector   string
	)

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local tracking backend for integration work",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			return runDevServer(addr, cfg, log, domain.SiteConfig{
				PriceSelector:          priceSelector,
				PurchaseButtonSelector: buySelector,
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8093", "listen address")
	cmd.Flags().StringVar(&priceSelector, "price-selector", "", "price selector served in the site configuration")
	cmd.Flags().StringVar(&buySelector, "buy-selector", "", "purchase button selector served in the site configuration")
	return cmd
}

func runDevServer(addr string, cfg *config.Config, log logger.Logger, siteCfg domain.SiteConfig) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := devserver.New(log)
	if cfg.Site.ID != "" {
		srv.SetConfig(cfg.Site.ID, siteCfg)
		code := srv.IssueCode(cfg.Site.ID)
		log.Info("mapper activation code issued",
			logger.String("site_id", cfg.Site.ID),
			logger.String("code", code),
		)
	}

	httpSrv := srv.HTTPServer(addr, reg)

	errCh := make(chan error, 1)
	go func() {
		log.Info("dev backend listening", logger.String("addr", addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("dev backend failed: %w", err)
		}
		return nil
	case sig := <-sigCh:
		log.Info("shutting down", logger.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
