package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gzhole/calshield/internal/intel"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull the community threat feed into the local cache",
	RunE:  syncCommand,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func syncCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Cloud.Enabled {
		fmt.Println("Cloud threat intel is disabled; nothing to sync.")
		return nil
	}

	cache := intel.NewCache(cfg.CachePath(), cfg.CacheTTL())
	client := intel.NewClient(intel.Config{
		APIURL:       cfg.Cloud.APIURL,
		Enabled:      true,
		SyncInterval: cfg.SyncInterval(),
		StateDir:     cfg.StateDir,
	}, cache)

	imported := client.SyncFeed(context.Background())
	fmt.Printf("Imported %d feed entr%s; cache now holds %d.\n",
		imported, plural(imported, "y", "ies"), cache.Len())
	return nil
}
