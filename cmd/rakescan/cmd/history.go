package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/MeKo-Tech/rakescan/internal/report"
	"github.com/MeKo-Tech/rakescan/internal/store"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// historyCmd lists stored inspections or shows one of them.
var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "List past inspections or show one of them",
	Long: `Without arguments, list the inspections recorded in the history database,
newest first. With an inspection id, print that inspection's inventory.

Examples:
  rakescan history
  rakescan history --limit 5 --format json
  rakescan history 12
  rakescan history 12 --delete`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         runHistoryCommand,
}

func runHistoryCommand(cmd *cobra.Command, args []string) error {
	st, err := openHistoryStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	format, _ := cmd.Flags().GetString("format")
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		limit, _ := cmd.Flags().GetInt("limit")
		inspections, err := st.ListInspections(ctx, limit)
		if err != nil {
			return fmt.Errorf("failed to list inspections: %w", err)
		}
		return writeHistory(out, inspections, format)
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid inspection id %q", args[0])
	}

	if del, _ := cmd.Flags().GetBool("delete"); del {
		if err := st.DeleteInspection(ctx, id); err != nil {
			return inspectionError(id, err)
		}
		_, _ = fmt.Fprintf(out, "Deleted inspection %d\n", id)
		return nil
	}

	doc, err := loadDocument(ctx, st, id)
	if err != nil {
		return err
	}
	rendered, err := report.Render(doc, format)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprint(out, rendered)
	return nil
}

// openHistoryStore opens the database named by --db or the configuration.
func openHistoryStore(cmd *cobra.Command) (*store.Store, error) {
	path := GetConfig().Store.Path
	if cmd.Flags().Changed("db") {
		path, _ = cmd.Flags().GetString("db")
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open inspection store: %w", err)
	}
	return st, nil
}

// loadDocument reads one stored inspection back as a report document.
func loadDocument(ctx context.Context, st *store.Store, id int64) (*report.Document, error) {
	in, err := st.GetInspection(ctx, id)
	if err != nil {
		return nil, inspectionError(id, err)
	}
	wagons, err := st.ListWagons(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load wagons of inspection %d: %w", id, err)
	}
	return report.FromStore(in, wagons), nil
}

func inspectionError(id int64, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("inspection %d not found", id)
	}
	return fmt.Errorf("failed to load inspection %d: %w", id, err)
}

func writeHistory(w io.Writer, inspections []store.Inspection, format string) error {
	switch format {
	case report.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(inspections)
	case report.FormatYAML:
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return enc.Encode(inspections)
	case "", report.FormatText:
	default:
		return fmt.Errorf("unsupported history format %q (use text, json or yaml)", format)
	}

	if len(inspections) == 0 {
		_, _ = fmt.Fprintln(w, "No inspections recorded")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tDATE\tVIDEO\tWAGONS\tFRAMES\tDROPPED")
	for _, in := range inspections {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\n",
			in.ID, in.Timestamp.Format("2006-01-02 15:04:05"), in.VideoName, in.TotalWagons, in.Frames, in.Dropped)
	}
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Int("limit", 20, "number of inspections to list (0 lists all)")
	historyCmd.Flags().StringP("format", "f", "text", "output format: text, json or yaml (csv for one inspection)")
	historyCmd.Flags().Bool("delete", false, "delete the given inspection")
	historyCmd.Flags().String("db", "inspections.db", "inspection history database")
}
