package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/MeKo-Tech/rakescan/internal/report"
	"github.com/spf13/cobra"
)

// reportCmd re-renders a stored inspection.
var reportCmd = &cobra.Command{
	Use:   "report <id|latest>",
	Short: "Render the inventory of a stored inspection",
	Long: `Render the wagon inventory of an inspection from the history database as
text, JSON, CSV, YAML or PDF. "latest" selects the most recent inspection.

Examples:
  rakescan report 12
  rakescan report latest --format csv --output inventory.csv
  rakescan report 12 --pdf inventory.pdf`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runReportCommand,
}

func runReportCommand(cmd *cobra.Command, args []string) error {
	st, err := openHistoryStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var id int64
	if args[0] == "latest" {
		in, err := st.LatestInspection(ctx)
		if err != nil {
			return fmt.Errorf("no inspections recorded: %w", err)
		}
		id = in.ID
	} else if id, err = strconv.ParseInt(args[0], 10, 64); err != nil {
		return fmt.Errorf("invalid inspection id %q", args[0])
	}

	doc, err := loadDocument(ctx, st, id)
	if err != nil {
		return err
	}

	if pdfPath, _ := cmd.Flags().GetString("pdf"); pdfPath != "" {
		data, err := report.ToPDF(doc)
		if err != nil {
			return fmt.Errorf("failed to render PDF: %w", err)
		}
		if err := os.WriteFile(pdfPath, data, 0o600); err != nil {
			return fmt.Errorf("failed to write PDF: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "PDF report written to %s\n", pdfPath)
		return nil
	}

	format, _ := cmd.Flags().GetString("format")
	rendered, err := report.Render(doc, format)
	if err != nil {
		return err
	}

	if output, _ := cmd.Flags().GetString("output"); output != "" {
		if err := os.WriteFile(output, []byte(rendered), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", output)
		return nil
	}
	_, _ = fmt.Fprint(cmd.OutOrStdout(), rendered)
	return nil
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringP("format", "f", "text", "output format: text, json, csv or yaml")
	reportCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	reportCmd.Flags().String("pdf", "", "write a PDF report to this file")
	reportCmd.Flags().String("db", "inspections.db", "inspection history database")
}
