package cmd

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/MeKo-Tech/rakescan/internal/models"
	"github.com/MeKo-Tech/rakescan/internal/onnx"
	"github.com/spf13/cobra"
)

// checkCmd verifies the runtime dependencies and model files.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check ONNX Runtime, ffmpeg and model files",
	Long: `Check that the pieces an inspection needs are in place:
- the ONNX Runtime shared library loads
- ffmpeg and ffprobe are on the PATH (or configured)
- every model file is present in the models directory

Only the wagon detector is required; a missing optional model means the
inspection runs without that stage.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		out := cmd.OutOrStdout()
		var failed bool

		_, _ = fmt.Fprintln(out, "ONNX Runtime:")
		if err := onnx.InitializeEnvironment(cfg.GPU.Enabled); err != nil {
			failed = true
			_, _ = fmt.Fprintf(out, "  [FAIL] %v\n", err)
			_, _ = fmt.Fprintf(out, "  searched: %v\n", onnx.LibraryCandidates(cfg.GPU.Enabled))
		} else {
			_, _ = fmt.Fprintln(out, "  [ok] runtime initialized")
			_ = onnx.DestroyEnvironment()
		}

		_, _ = fmt.Fprintln(out, "Video tools:")
		for _, tool := range []string{cfg.Video.FFmpegPath, cfg.Video.FFprobePath} {
			if path, err := exec.LookPath(tool); err != nil {
				_, _ = fmt.Fprintf(out, "  [missing] %s\n", tool)
			} else {
				_, _ = fmt.Fprintf(out, "  [ok] %s\n", path)
			}
		}

		modelsDir := models.GetModelsDir(cfg.ModelsDir)
		_, _ = fmt.Fprintf(out, "Models (%s):\n", modelsDir)
		for _, m := range models.ListAvailableModels() {
			path := models.ResolveModelPath(modelsDir, m.Type, m.Filename)
			status := "ok"
			if err := models.ValidateModelExists(path); err != nil {
				status = "missing"
				if m.Required {
					status = "FAIL"
					failed = true
				}
			}
			_, _ = fmt.Fprintf(out, "  [%s] %-18s %s\n", status, m.Name, path)
		}

		if failed {
			return errors.New("required dependencies are missing")
		}
		_, _ = fmt.Fprintln(out, "All required dependencies found.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
