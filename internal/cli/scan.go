package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gzhole/calshield/internal/engine"
	"github.com/gzhole/calshield/internal/scan"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Self-test: verify detection of known injection payloads",
	Long: `Run the engine against the built-in canonical fixture set: known
indirect-prompt-injection payloads that must be flagged, and routine
calendar events that must not. Nothing is persisted and no network is
touched.

  calshield scan`,
	RunE: scanCommand,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func scanCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Detection tiers only: no quarantine, audit, or cloud during a
	// self-test.
	eng := engine.New(engine.Config{
		Scorer: scan.NewScorer(cfg.Thresholds),
	})
	ctx := context.Background()

	fmt.Println("═══════════════════════════════════════════════════════")
	fmt.Println("  CalShield Self-Test")
	fmt.Println("═══════════════════════════════════════════════════════")
	fmt.Println()

	fmt.Println("─── Injection payloads (must be flagged) ──────────────")
	caught := 0
	for _, tc := range injectionFixtures {
		result, _ := eng.ScanEvent(ctx, tc.event, fixtureOwnerDomain)
		pass := result.OverallRiskLevel != scan.LevelSafe
		icon := passIcon()
		if pass {
			caught++
		} else {
			icon = failIcon()
		}
		fmt.Printf("  %s  %-32s %s (%.2f)\n", icon, tc.label, result.OverallRiskLevel, result.OverallRiskScore)
	}
	fmt.Printf("\n  Detected: %d/%d (%.1f%%)\n\n", caught, len(injectionFixtures),
		100*float64(caught)/float64(len(injectionFixtures)))

	fmt.Println("─── Benign events (must stay safe) ────────────────────")
	clean := 0
	for _, tc := range benignFixtures {
		result, _ := eng.ScanEvent(ctx, tc.event, fixtureOwnerDomain)
		pass := result.OverallRiskLevel == scan.LevelSafe
		icon := passIcon()
		if pass {
			clean++
		} else {
			icon = failIcon()
		}
		fmt.Printf("  %s  %-32s %s (%.2f)\n", icon, tc.label, result.OverallRiskLevel, result.OverallRiskScore)
	}
	fmt.Printf("\n  Clean: %d/%d (%.1f%%)\n\n", clean, len(benignFixtures),
		100*float64(clean)/float64(len(benignFixtures)))

	if caught < len(injectionFixtures) || clean < len(benignFixtures) {
		fmt.Println("Self-test finished with failures.")
	} else {
		fmt.Println("All self-test cases passed.")
	}
	return nil
}
