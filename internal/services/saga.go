package services

import (
	"context"
	"log"
)

// compensation collects the reversing actions for a multi-owner operation.
// Ledger atomicity is scoped to one owner, so operations that touch several
// wallets (round start, mass refund) commit one step at a time and roll back
// by running every recorded undo when a later step fails.
type compensation struct {
	steps []compensationStep
}

type compensationStep struct {
	name string
	undo func(context.Context) error
}

// add records the undo for a step that has already committed.
func (c *compensation) add(name string, undo func(context.Context) error) {
	c.steps = append(c.steps, compensationStep{name: name, undo: undo})
}

// run executes the recorded undos in reverse order. Failures are collected
// rather than aborting: every remaining step still gets its chance to revert.
func (c *compensation) run(ctx context.Context) []error {
	var failed []error
	for i := len(c.steps) - 1; i >= 0; i-- {
		step := c.steps[i]
		if err := step.undo(ctx); err != nil {
			log.Printf("[SAGA] Compensation step %s failed: %v", step.name, err)
			failed = append(failed, err)
		}
	}
	return failed
}

func (c *compensation) size() int {
	return len(c.steps)
}
