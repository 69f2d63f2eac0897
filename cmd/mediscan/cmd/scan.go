package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mediscan-tech/mediscan/internal/pipeline"
	"github.com/mediscan-tech/mediscan/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// scanCmd represents the scan command.
var scanCmd = &cobra.Command{
	Use:   "scan <front-image> [back-image]",
	Short: "Recognize a medicine label from photos",
	Long: `Run the recognition pipeline on a front photo and an optional back photo
of a medicine package and print the structured record.

Examples:
  mediscan scan front.jpg
  mediscan scan front.jpg back.jpg --format json
  mediscan scan front.jpg --save --store-path records.db`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	front, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read front image: %w", err)
	}
	var back []byte
	if len(args) > 1 {
		back, err = os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read back image: %w", err)
		}
	}

	pcfg, err := cfg.ToPipelineConfig()
	if err != nil {
		return err
	}
	pl, err := pipeline.NewBuilder().WithConfig(pcfg).Build()
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer func() { _ = pl.Close() }()

	record, err := pl.ProcessPair(cmd.Context(), front, back)
	if err != nil {
		return err
	}

	if save, _ := cmd.Flags().GetBool("save"); save {
		storePath := cfg.Store.Path
		if cmd.Flags().Changed("store-path") {
			storePath, _ = cmd.Flags().GetString("store-path")
		}
		st, err := store.Open(storePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer func() { _ = st.Close() }()
		if err := st.SaveRecord(cmd.Context(), record); err != nil {
			return fmt.Errorf("save record: %w", err)
		}
	}

	format, _ := cmd.Flags().GetString("format")
	return writeRecord(cmd, record, format)
}

func writeRecord(cmd *cobra.Command, record *pipeline.MedicineRecord, format string) error {
	out := cmd.OutOrStdout()
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	case "text":
		_, _ = fmt.Fprintf(out, "Image ID:    %s\n", record.ImageID)
		_, _ = fmt.Fprintf(out, "Language:    %s\n", record.DetectedLanguage)
		_, _ = fmt.Fprintf(out, "Name:        %s\n", record.MedicineName)
		_, _ = fmt.Fprintf(out, "Ingredients: %s\n", strings.Join(record.Ingredients, "; "))
		_, _ = fmt.Fprintf(out, "Quantity:    %s\n", record.Quantity)
		_, _ = fmt.Fprintf(out, "Source:      %s\n", record.Source)
		_, _ = fmt.Fprintf(out, "Confidence:  %.2f\n", record.Confidence)
		return nil
	default:
		return fmt.Errorf("invalid format: %s (must be json or text)", format)
	}
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringP("format", "f", "json", "output format (json, text)")
	scanCmd.Flags().Bool("save", false, "persist the record to the local store")
	scanCmd.Flags().String("store-path", "", "path of the record store database")
	scanCmd.Flags().String("vocabulary", "", "path to a YAML vocabulary override file")

	_ = viper.BindPFlag("pipeline.extraction.vocabulary_path", scanCmd.Flags().Lookup("vocabulary"))
}
