package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/athena/internal/learning"
)

func newIngestCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [file]",
		Short: "Record task executions from a file or stdin",
		Long: `Record completed task executions in the store. Input is either a JSON
array of executions or one JSON execution per line. Records with an
existing task_id replace the stored one. The input is recorded in one
transaction: either every execution is stored or none is.

Examples:
  # Record a file
  athena ingest executions.json

  # Record from stdin
  cat executions.ndjson | athena ingest -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", args[0], err)
				}
				defer f.Close()
				r = f
			}

			records, err := decodeExecutions(r)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return errors.New("no executions to record")
			}

			a, err := loadApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = a.close(ctx)
			}()

			if err := a.store.RecordExecutions(cmd.Context(), records); err != nil {
				return fmt.Errorf("recording executions: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %d executions\n", len(records))
			return nil
		},
	}
}

// decodeExecutions reads a JSON array or a stream of JSON objects and
// checks every record carries a task ID and completion time.
func decodeExecutions(r io.Reader) ([]learning.ExecutionRecord, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	var records []learning.ExecutionRecord
	dec := json.NewDecoder(br)
	if first == '[' {
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
	} else {
		for {
			var rec learning.ExecutionRecord
			err := dec.Decode(&rec)
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("invalid execution #%d: %w", len(records)+1, err)
			}
			records = append(records, rec)
		}
	}

	for i, rec := range records {
		if rec.TaskID == "" {
			return nil, fmt.Errorf("execution #%d: task_id is required", i+1)
		}
		if rec.CompletedAt.IsZero() {
			return nil, fmt.Errorf("execution #%d (%s): completed_at is required", i+1, rec.TaskID)
		}
	}
	return records, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
		default:
			return b, br.UnreadByte()
		}
	}
}
