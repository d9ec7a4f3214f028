package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gzhole/calshield/internal/intel"
	"github.com/gzhole/calshield/internal/quarantine"
	"github.com/gzhole/calshield/internal/scan"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show state paths, cache and quarantine counts, and cloud settings",
	RunE:  statusCommand,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cache := intel.NewCache(cfg.CachePath(), cfg.CacheTTL())
	client := intel.NewClient(intel.Config{
		APIURL:       cfg.Cloud.APIURL,
		Enabled:      cfg.Cloud.Enabled,
		SyncInterval: cfg.SyncInterval(),
		StateDir:     cfg.StateDir,
	}, cache)
	store := quarantine.NewStore(cfg.QuarantineDir(), cfg.QuarantineTTL())

	fmt.Println("CalShield status")
	fmt.Println()
	fmt.Printf("State dir:        %s\n", cfg.StateDir)
	fmt.Printf("Config:           %s\n", cfg.ConfigPath())
	fmt.Printf("Audit logs:       %s\n", cfg.LogsDir())
	fmt.Printf("Quarantine:       %s (%d entries)\n", cfg.QuarantineDir(), len(store.List(scan.LevelSafe)))
	fmt.Printf("Threat cache:     %s (%d entries)\n", cfg.CachePath(), cache.Len())
	fmt.Println()
	fmt.Printf("Owner domain:     %s\n", orUnknown(cfg.OwnerDomain))
	fmt.Printf("Thresholds:       suspicious=%.2f dangerous=%.2f critical=%.2f\n",
		cfg.Thresholds.Suspicious, cfg.Thresholds.Dangerous, cfg.Thresholds.Critical)
	fmt.Println()
	if cfg.Cloud.Enabled {
		fmt.Printf("Cloud intel:      enabled (%s)\n", cfg.Cloud.APIURL)
		fmt.Printf("Client id:        %s\n", client.ClientID())
		if last := client.LastSync(); !last.IsZero() {
			fmt.Printf("Last feed sync:   %s\n", last.Format("2006-01-02 15:04:05"))
		} else {
			fmt.Println("Last feed sync:   never (this session)")
		}
	} else {
		fmt.Println("Cloud intel:      disabled (cache-only)")
	}
	return nil
}
