package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gzhole/calshield/internal/event"
	"github.com/gzhole/calshield/internal/intel"
	"github.com/gzhole/calshield/internal/scan"
)

var checkOwnerDomain string

var checkCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Scan one event given as JSON (file or stdin)",
	Long: `Read a single calendar event as JSON from a file or stdin, scan it,
and print the result. The sanitized event is printed as well unless the
action is pass.

  calshield check suspicious-event.json
  cat event.json | calshield check --owner-domain company.com`,
	Args: cobra.MaximumNArgs(1),
	RunE: checkCommand,
}

func init() {
	checkCmd.Flags().StringVar(&checkOwnerDomain, "owner-domain", "", "Calendar owner's email domain, for external-organizer weighting")
	rootCmd.AddCommand(checkCmd)
}

func checkCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var data []byte
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("failed to read event: %w", err)
	}

	var ev event.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("failed to parse event JSON: %w", err)
	}
	if ev.ID == "" {
		return fmt.Errorf("event has no id")
	}

	owner := checkOwnerDomain
	if owner == "" {
		owner = cfg.OwnerDomain
	}

	eng, _ := buildEngine(cfg)
	result, sanitized := eng.ScanEvent(context.Background(), &ev, owner)
	eng.Drain()

	fmt.Printf("Event:    %s\n", result.EventID)
	fmt.Printf("Level:    %s\n", result.OverallRiskLevel)
	fmt.Printf("Score:    %.2f\n", result.OverallRiskScore)
	fmt.Printf("Action:   %s\n", result.OverallAction)
	if result.IsExternalOrganizer {
		fmt.Printf("Organizer: %s (external)\n", result.OrganizerEmail)
	}

	var ruleIDs []string
	for _, fr := range result.FieldResults {
		for _, d := range fr.Detections {
			ruleIDs = append(ruleIDs, d.RuleID)
			fmt.Printf("  [%s] %s on %s (severity %.2f)\n", d.RuleID, d.RuleName, fr.FieldName, d.Severity)
		}
	}
	if len(ruleIDs) > 0 {
		fmt.Printf("Category: %s\n", intel.Categorize(ruleIDs))
	}

	if result.OverallAction != scan.ActionPass {
		out, err := json.MarshalIndent(sanitized, "", "  ")
		if err == nil {
			fmt.Printf("\nSanitized event:\n%s\n", out)
		}
	}
	return nil
}
