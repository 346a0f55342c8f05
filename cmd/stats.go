package cmd

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arin/xx-chat/internal/stats"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show usage statistics and streaming performance",
	Long: `Display a dashboard of your xx-chat usage: exchange counts, success rate,
time to first token, total answer time, providers and most-used models.

Data is collected automatically and stored locally in ~/.xx-chat/stats.json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := stats.Summarize()
		if err != nil {
			return fmt.Errorf("failed to load stats: %w", err)
		}

		cyan := color.New(color.FgCyan, color.Bold)
		green := color.New(color.FgGreen)
		yellow := color.New(color.FgYellow)
		dim := color.New(color.FgHiBlack)

		cyan.Fprintf(os.Stderr, "\n  📊 xx-chat stats\n\n")

		if summary.TotalExchanges == 0 {
			dim.Fprintln(os.Stderr, "  No data yet. Chat for a while and come back.")
			fmt.Fprintln(os.Stderr)
			return nil
		}

		green.Fprintf(os.Stderr, "  Exchanges: ")
		fmt.Fprintf(os.Stderr, "%d total", summary.TotalExchanges)
		dim.Fprintf(os.Stderr, "  (%d today, %d this week)\n", summary.TodayCount, summary.ThisWeekCount)

		green.Fprintf(os.Stderr, "  Success:   ")
		if summary.SuccessRate >= 90 {
			fmt.Fprintf(os.Stderr, "%.0f%%\n", summary.SuccessRate)
		} else {
			yellow.Fprintf(os.Stderr, "%.0f%%\n", summary.SuccessRate)
		}

		green.Fprintf(os.Stderr, "  First token: ")
		fmt.Fprintf(os.Stderr, "%dms avg\n", summary.AvgTTFTMs)
		green.Fprintf(os.Stderr, "  Full answer: ")
		fmt.Fprintf(os.Stderr, "%dms avg\n", summary.AvgDurationMs)

		printBreakdown := func(title string, counts map[string]int) {
			if len(counts) == 0 {
				return
			}
			fmt.Fprintln(os.Stderr)
			cyan.Fprintf(os.Stderr, "  %s\n", title)
			for _, k := range slices.Sorted(maps.Keys(counts)) {
				pct := float64(counts[k]) / float64(summary.TotalExchanges) * 100
				bar := strings.Repeat("█", int(pct/5))
				dim.Fprintf(os.Stderr, "  %-12s ", k)
				fmt.Fprintf(os.Stderr, "%s %d (%.0f%%)\n", bar, counts[k], pct)
			}
		}
		printBreakdown("Providers", summary.ProviderBreakdown)
		printBreakdown("Outcomes", summary.OutcomeBreakdown)

		if len(summary.TopModels) > 0 {
			fmt.Fprintln(os.Stderr)
			cyan.Fprintln(os.Stderr, "  Top Models")
			for i, mc := range summary.TopModels {
				dim.Fprintf(os.Stderr, "  %d. ", i+1)
				fmt.Fprintf(os.Stderr, "%s ", mc.Model)
				dim.Fprintf(os.Stderr, "(%dx)\n", mc.Count)
			}
		}

		fmt.Fprintln(os.Stderr)
		return nil
	},
}
