package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kilupskalvis/swivel/internal/core"
	"github.com/kilupskalvis/swivel/internal/index"
	"github.com/kilupskalvis/swivel/internal/server"
	"github.com/kilupskalvis/swivel/internal/weaviate"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the control API without the feed",
	Long: `Serve the control API without consuming the change feed. Useful for
inspecting and driving a migration whose writes are mirrored by
another process. Prefer 'swivel run', which serves the same API
alongside the dispatcher.`,
	Run: runServeCmd,
}

var serveListen string

func init() {
	registerLogFlags(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides config)")
}

func runServeCmd(cmd *cobra.Command, args []string) {
	logger := newLogger()
	c := initContext()
	defer c.Close()
	cfg := c.Config

	rawTarget, err := weaviate.NewStore(cfg.Target.Endpoint, cfg.Target.Class)
	if err != nil {
		exitError("failed to create target client: %v", err)
	}
	target := index.NewRetryStore(rawTarget, retryConfig(cfg))

	fence := core.NewDeleteFence(c.Meta, target, c.Audit, logger)
	phases, err := core.NewController(c.Meta, logger)
	if err != nil {
		exitError("failed to load phase state: %v", err)
	}
	phases.SetReleaser(fence)

	listen := cfg.Listen
	if serveListen != "" {
		listen = serveListen
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord := &server.Coordinator{Phases: phases, Fence: fence, Meta: c.Meta, Audit: c.Audit}
	if err := server.Serve(ctx, listen, coord, logger); err != nil {
		exitError("control server failed: %v", err)
	}
}
