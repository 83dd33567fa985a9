package cli

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/swivel/internal/config"
	"github.com/kilupskalvis/swivel/internal/models"
	"github.com/kilupskalvis/swivel/internal/weaviate"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new swivel migration",
	Long: `Initialize a new swivel migration in the current directory.
This creates a .swivel directory holding the migration config, the
phase metastore and the audit log. The migration starts in the
Preparing phase.`,
	Run: runInitCmd,
}

var (
	initLegacyURL   string
	initLegacyClass string
	initTargetURL   string
	initTargetClass string
	initFeedURL     string
	initListen      string
	initSkipPing    bool
)

func init() {
	initCmd.Flags().StringVar(&initLegacyURL, "legacy-url", "http://localhost:8080", "Legacy Weaviate URL")
	initCmd.Flags().StringVar(&initLegacyClass, "legacy-class", "", "Legacy class name (required)")
	initCmd.Flags().StringVar(&initTargetURL, "target-url", "http://localhost:8080", "Target Weaviate URL")
	initCmd.Flags().StringVar(&initTargetClass, "target-class", "", "Target class name (required)")
	initCmd.Flags().StringVar(&initFeedURL, "feed-url", "ws://localhost:7070/feed", "Change feed websocket URL")
	initCmd.Flags().StringVar(&initListen, "listen", "", "Control server listen address")
	initCmd.Flags().BoolVar(&initSkipPing, "skip-ping", false, "Skip connectivity checks against both indexes")
	initCmd.MarkFlagRequired("legacy-class")
	initCmd.MarkFlagRequired("target-class")
}

func runInitCmd(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	if _, err := config.FindRoot(); err == nil {
		exitError("swivel migration already exists")
	}

	legacy := models.IndexTarget{
		Name:     models.RoleLegacy,
		Endpoint: initLegacyURL,
		Class:    initLegacyClass,
	}
	target := models.IndexTarget{
		Name:     models.RoleTarget,
		Endpoint: initTargetURL,
		Class:    initTargetClass,
	}

	fmt.Printf("Initializing swivel migration...\n")
	fmt.Printf("Legacy: %s (%s)\n", legacy.Endpoint, legacy.Class)
	fmt.Printf("Target: %s (%s)\n", target.Endpoint, target.Class)

	if !initSkipPing {
		for _, t := range []models.IndexTarget{legacy, target} {
			st, err := weaviate.NewStore(t.Endpoint, t.Class)
			if err != nil {
				exitError("failed to create %s client: %v", t.Name, err)
			}
			if err := st.Ping(ctx); err != nil {
				exitError("failed to connect to %s index at %s: %v", t.Name, t.Endpoint, err)
			}
		}
		fmt.Printf("Both indexes reachable\n")
	}

	cfg, err := config.Initialize(legacy, target, initFeedURL)
	if err != nil {
		exitError("failed to initialize config: %v", err)
	}

	if initListen != "" {
		cfg.Listen = initListen
		if err := cfg.Save(); err != nil {
			exitError("failed to save config: %v", err)
		}
	}

	fmt.Printf("Migration initialized in %s (phase: preparing)\n", cfg.SwivelPath())
	fmt.Printf("Next: start the coordinator with 'swivel run'\n")
}
