// Package learning extracts outcome-predicting patterns from task
// execution history and calibrates their confidence.
//
// A run has two tiers. The Extractor makes a cheap deterministic pass over
// every record, grouping by task attributes and scoring each group's
// success rate. Patterns whose confidence falls below the validation
// threshold are then reviewed by an Evaluator (usually an LLM). When the
// evaluator fails or misbehaves, the Validator substitutes a deterministic
// heuristic so a run always completes.
//
// Basic usage:
//
//	orch, err := learning.NewOrchestrator(learning.DefaultConfig(), evaluator, logger,
//	    learning.WithSink(store))
//	if err != nil {
//	    return err
//	}
//	result, err := orch.RunFromSource(ctx, store)
package learning
