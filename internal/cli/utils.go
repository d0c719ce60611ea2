// Package cli provides output helpers for the chosei commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/hyperjump/chosei/internal/evaluate"
	"github.com/hyperjump/chosei/internal/models"
	"github.com/hyperjump/chosei/internal/pipeline"
	"github.com/hyperjump/chosei/internal/storage"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat returns the output format for a -format flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (use text or json)", s)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteBaseline writes per-split accuracy of the raw embeddings.
func WriteBaseline(w io.Writer, results map[models.Split]evaluate.Result, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, results)
	}
	for _, split := range models.Splits {
		if res, ok := results[split]; ok {
			fmt.Fprintf(w, "%s accuracy: %s (threshold %.3f, n=%d)\n", split, res, res.Threshold, res.N)
		}
	}
	return nil
}

// WriteReport writes the before and after comparison of a training run.
func WriteReport(w io.Writer, report *pipeline.Report, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	if report.Best != nil {
		b := report.Best
		fmt.Fprintf(w, "\nBest matrix: run %s epoch %d (%s accuracy %.1f%%, batch_size=%d learning_rate=%g dropout=%g)\n",
			b.RunID, b.Epoch, b.Split, 100*b.Accuracy, b.Params.BatchSize, b.Params.LearningRate, b.Params.DropoutFraction)
	} else {
		fmt.Fprintln(w, "\nNo epochs were run; the initial matrix was applied.")
	}
	if res, ok := report.Baseline[models.SplitTest]; ok {
		fmt.Fprintf(w, "Test accuracy: %s\n", res)
	}
	if res, ok := report.Custom[models.SplitTest]; ok {
		fmt.Fprintf(w, "Test accuracy after customization: %s\n", res)
	}
	if len(report.Files) > 0 {
		fmt.Fprintln(w, "\nWrote:")
		for _, f := range report.Files {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
	return nil
}

// WriteRuns writes stored run summaries.
func WriteRuns(w io.Writer, runs []storage.RunSummary, format OutputFormat) error {
	if format == OutputJSON {
		if runs == nil {
			runs = []storage.RunSummary{}
		}
		return writeJSON(w, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tCREATED\tEPOCHS\tBATCH\tLR\tDROPOUT\tDIM\tBEST ACC")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%g\t%g\t%d\t%.1f%%\n",
			r.ID, r.CreatedAt.Format("2006-01-02 15:04"), r.Epochs,
			r.Params.BatchSize, r.Params.LearningRate, r.Params.DropoutFraction,
			r.Params.ModifiedEmbeddingLength, 100*r.BestAccuracy)
	}
	return tw.Flush()
}

// CacheStats summarizes an embedding cache.
type CacheStats struct {
	Path      string         `json:"path"`
	Entries   int            `json:"entries"`
	Models    map[string]int `json:"models"`
	SizeBytes int64          `json:"size_bytes"`
}

// WriteCacheStats writes cache statistics.
func WriteCacheStats(w io.Writer, stats CacheStats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "Cache: %s\n", stats.Path)
	fmt.Fprintf(w, "Entries: %d (%s on disk)\n", stats.Entries, FormatBytes(stats.SizeBytes))
	models := make([]string, 0, len(stats.Models))
	for m := range stats.Models {
		models = append(models, m)
	}
	sort.Strings(models)
	for _, m := range models {
		fmt.Fprintf(w, "  %s: %d\n", m, stats.Models[m])
	}
	return nil
}

// FormatBytes formats n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
