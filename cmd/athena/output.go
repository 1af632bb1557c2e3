package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fyrsmithlabs/athena/internal/learning"
)

const (
	outputText = "text"
	outputJSON = "json"
)

func validateOutput(format string) error {
	if format != outputText && format != outputJSON {
		return fmt.Errorf("--output must be %s or %s, got %q", outputText, outputJSON, format)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writePatternTable(w io.Writer, patterns []learning.Pattern) error {
	if len(patterns) == 0 {
		_, err := fmt.Fprintln(w, "no patterns")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tSUCCESS\tSAMPLES\tCONFIDENCE\tVALIDATED")
	for _, p := range patterns {
		fmt.Fprintf(tw, "%s\t%s\t%.0f%%\t%d\t%.3f\t%t\n",
			p.Name, p.Type, p.SuccessRate*100, p.SampleSize, p.ConfidenceScore, p.Validated)
	}
	return tw.Flush()
}
