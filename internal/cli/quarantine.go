package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gzhole/calshield/internal/quarantine"
	"github.com/gzhole/calshield/internal/scan"
)

var quarantineMinLevel string

var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Inspect quarantined event content",
}

var quarantineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List quarantined events, newest first",
	RunE:  quarantineListCommand,
}

var quarantineShowCmd = &cobra.Command{
	Use:   "show <event-id>",
	Short: "Show the original content of a quarantined event",
	Long: `Print a quarantine entry including the original, unsanitized field
content. The content was quarantined because it tried to manipulate an
LLM; on a terminal you are asked to confirm before it is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: quarantineShowCommand,
}

var quarantineCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired quarantine entries",
	RunE:  quarantineCleanupCommand,
}

func init() {
	quarantineListCmd.Flags().StringVar(&quarantineMinLevel, "min-level", "", "Only list entries at or above this level (suspicious|dangerous|critical)")
	quarantineCmd.AddCommand(quarantineListCmd)
	quarantineCmd.AddCommand(quarantineShowCmd)
	quarantineCmd.AddCommand(quarantineCleanupCmd)
	rootCmd.AddCommand(quarantineCmd)
}

func openStore() (*quarantine.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return quarantine.NewStore(cfg.QuarantineDir(), cfg.QuarantineTTL()), nil
}

func quarantineListCommand(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	entries := store.List(scan.ParseLevel(quarantineMinLevel))
	if len(entries) == 0 {
		fmt.Println("Quarantine is empty.")
		return nil
	}

	for _, e := range entries {
		fmt.Printf("%-28s %-10s %.2f  %s  organizer=%s\n",
			e.EventID, e.RiskLevel, e.RiskScore,
			e.QuarantinedAt.Format("2006-01-02 15:04"), orUnknown(e.OrganizerEmail))
	}
	fmt.Printf("\n%d entr%s.\n", len(entries), plural(len(entries), "y", "ies"))
	return nil
}

func quarantineShowCommand(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	entry := store.Get(args[0])
	if entry == nil {
		return fmt.Errorf("no quarantine entry for %q (missing or expired)", args[0])
	}

	fmt.Printf("Event:       %s\n", entry.EventID)
	if entry.CalendarID != "" {
		fmt.Printf("Calendar:    %s\n", entry.CalendarID)
	}
	fmt.Printf("Quarantined: %s (expires %s)\n",
		entry.QuarantinedAt.Format("2006-01-02 15:04"), entry.ExpiresAt.Format("2006-01-02 15:04"))
	fmt.Printf("Organizer:   %s\n", orUnknown(entry.OrganizerEmail))
	fmt.Printf("Risk:        %s (%.2f), action %s\n", entry.RiskLevel, entry.RiskScore, entry.Action)
	for _, d := range entry.Detections {
		fmt.Printf("  [%s] %s via %s on %s (severity %.2f)\n", d.RuleID, d.RuleName, d.Tier, d.FieldName, d.Severity)
	}

	if isInteractive() {
		fmt.Print("\nThe original content below attempted to manipulate an LLM. Print it? [y/N] ")
		if !confirm() {
			fmt.Println("Skipped.")
			return nil
		}
	}

	fmt.Println("\nOriginal fields:")
	for name, text := range entry.OriginalFields {
		fmt.Printf("--- %s ---\n%s\n", name, text)
	}
	return nil
}

func quarantineCleanupCommand(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	removed := store.Cleanup()
	fmt.Printf("Removed %d expired entr%s.\n", removed, plural(removed, "y", "ies"))
	return nil
}

func confirm() bool {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
