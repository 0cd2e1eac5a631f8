// Command relayd is the signaling relay server.
//
// relayd tracks room membership (two participants per room) and forwards
// negotiation messages between the members of a room. Media never touches
// this process; once negotiation succeeds the participants talk directly.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/duocall/duocall/internal/config"
	"github.com/duocall/duocall/internal/relay"
	"github.com/duocall/duocall/internal/util"
)

var (
	flagPort  string
	flagDebug bool
)

func main() {
	root := &cobra.Command{
		Use:           "relayd",
		Short:         "Signaling relay for two-party calls",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().StringVar(&flagPort, "port", "", "listen port (overrides RELAY_PORT)")
	root.Flags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if flagDebug {
		util.EnableDebug()
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg := config.LoadRelay()
	if flagPort != "" {
		cfg.Port = flagPort
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	registry := relay.NewRegistry()
	router := relay.NewRouter(cfg, relay.New(registry))
	util.StartStatsReporter(ctx)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	util.LogInfo("relay listening on :%s", cfg.Port)

	select {
	case err := <-errCh:
		return fmt.Errorf("relay server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	util.LogInfo("relay stopped")
	return nil
}
