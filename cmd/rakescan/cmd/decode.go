package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MeKo-Tech/rakescan/internal/report"
	"github.com/MeKo-Tech/rakescan/internal/wagonid"
	"github.com/spf13/cobra"
)

// decodeResult is one decoded argument; Identifier is nil when the text
// does not hold a wagon number.
type decodeResult struct {
	Text       string              `json:"text"`
	Valid      bool                `json:"valid"`
	Formatted  string              `json:"formatted,omitempty"`
	Identifier *wagonid.Identifier `json:"identifier,omitempty"`
}

var decodeCmd = &cobra.Command{
	Use:   "decode <text...>",
	Short: "Decode wagon number text into its fields",
	Long: `Decode recognized wagon number text. Everything but digits is ignored and
the remaining digits must number exactly 11.

Examples:
  rakescan decode 30014567891
  rakescan decode "WR 40-08-19-0042-3" --format json`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		results := make([]decodeResult, 0, len(args))
		invalid := 0
		for _, text := range args {
			res := decodeResult{Text: text}
			if id := wagonid.Decode(text); id != nil {
				res.Valid = true
				res.Formatted = id.Formatted()
				res.Identifier = id
			} else {
				invalid++
			}
			results = append(results, res)
		}

		out := cmd.OutOrStdout()
		format, _ := cmd.Flags().GetString("format")
		switch strings.ToLower(format) {
		case report.FormatJSON:
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return err
			}
		case "", report.FormatText:
			for _, res := range results {
				if !res.Valid {
					_, _ = fmt.Fprintf(out, "%q: not a wagon number (need %d digits, got %d)\n",
						res.Text, wagonid.DigitCount, len(wagonid.StripNonDigits(res.Text)))
					continue
				}
				id := res.Identifier
				_, _ = fmt.Fprintf(out, "%s | Type: %s | Rly: %s | Yr: %s | Serial: %s | Check: %s\n",
					res.Formatted, id.Type, id.Authority, id.Year, id.Serial, id.CheckDigit)
			}
		default:
			return fmt.Errorf("unsupported decode format %q (use text or json)", format)
		}

		if invalid > 0 {
			return fmt.Errorf("%d of %d inputs are not wagon numbers", invalid, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().StringP("format", "f", "text", "output format: text or json")
}
