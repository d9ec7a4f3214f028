package cli

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gzhole/calshield/internal/audit"
	"github.com/gzhole/calshield/internal/config"
	"github.com/gzhole/calshield/internal/engine"
	"github.com/gzhole/calshield/internal/intel"
	"github.com/gzhole/calshield/internal/quarantine"
	"github.com/gzhole/calshield/internal/scan"
)

var (
	configPath string
	stateDir   string
)

var rootCmd = &cobra.Command{
	Use:   "calshield",
	Short: "CalShield - prompt-injection shield for calendar tool responses",
	Long: `CalShield sits between an LLM host and a calendar service, inspecting
every event the LLM reads through its tools. Third-party event content is
scanned for indirect prompt injection and passed, flagged, redacted, or
blocked before the model ever sees it.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default: ~/.calshield/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "State directory override (default: ~/.calshield)")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads the config file and applies the state-dir override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	return cfg, nil
}

// buildEngine assembles the full pipeline from a config.
func buildEngine(cfg *config.Config) (*engine.Engine, *intel.Client) {
	cache := intel.NewCache(cfg.CachePath(), cfg.CacheTTL())
	client := intel.NewClient(intel.Config{
		APIURL:       cfg.Cloud.APIURL,
		Enabled:      cfg.Cloud.Enabled,
		SyncInterval: cfg.SyncInterval(),
		StateDir:     cfg.StateDir,
		CacheTTL:     cfg.CacheTTL(),
	}, cache)

	eng := engine.New(engine.Config{
		Scorer:     scan.NewScorer(cfg.Thresholds),
		Quarantine: quarantine.NewStore(cfg.QuarantineDir(), cfg.QuarantineTTL()),
		Audit:      audit.New(cfg.LogsDir()),
		Intel:      client,
	})
	return eng, client
}

// isInteractive reports whether stdin is a terminal. Icons and
// confirmation prompts only make sense on one.
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// icons degrade to plain ASCII off-terminal.
func passIcon() string {
	if isInteractive() {
		return "✅"
	}
	return "PASS"
}

func failIcon() string {
	if isInteractive() {
		return "❌"
	}
	return "FAIL"
}
