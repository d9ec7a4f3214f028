package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gzhole/calshield/internal/config"
	"github.com/gzhole/calshield/internal/proxy"
	"github.com/gzhole/calshield/internal/scan"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Run the tool-response sanitizer over stdio",
	Long: `Read upstream tool-response bodies from stdin, one per line, and write
the sanitized version to stdout. Events found in each response are
scanned; dangerous content is redacted or blocked and a security notice
is prepended for the LLM. Diagnostics go to stderr.

The config file is watched while the proxy runs: threshold changes take
effect on the next response without a restart.`,
	RunE: proxyCommand,
}

func init() {
	rootCmd.AddCommand(proxyCmd)
}

// maxResponseLine bounds a single tool-response body on stdin.
const maxResponseLine = 16 << 20

func proxyCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	eng, _ := buildEngine(cfg)
	sanitizer := proxy.NewSanitizer(eng, cfg.OwnerDomain)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := proxy.NewReloadWatcher(cfg.ConfigPath(), func(next *config.Config) {
		if stateDir != "" {
			next.StateDir = stateDir
		}
		fresh, _ := buildEngine(next)
		sanitizer.SwapEngine(fresh)
		sanitizer.SetOwnerDomain(next.OwnerDomain)
		fmt.Fprintln(os.Stderr, "[CalShield] configuration reloaded")
	})
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "[CalShield] config watcher stopped: %v\n", err)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), maxResponseLine)
	writer := bufio.NewWriter(os.Stdout)
	defer func() { _ = writer.Flush() }()

	for scanner.Scan() {
		line := scanner.Text()
		body, _, err := sanitizer.SanitizeToolResult(ctx, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[CalShield] sanitize failed, withholding response: %v\n", err)
			body = blockAllNotice()
		}
		if _, err := fmt.Fprintln(writer, body); err != nil {
			return err
		}
		if err := writer.Flush(); err != nil {
			return err
		}
	}
	eng.Drain()
	return scanner.Err()
}

// blockAllNotice replaces a response the sanitizer could not process.
// Failing closed beats handing the LLM unscanned third-party content.
func blockAllNotice() string {
	return "[SECURITY NOTICE]\nThe upstream response could not be scanned and was withheld. " +
		"Action: " + string(scan.ActionBlock) + "."
}
