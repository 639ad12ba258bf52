package main

import (
	"context"
	"fmt"

	"github.com/edvin/maintconsole/internal/console"
	"github.com/edvin/maintconsole/internal/jobstate"
	"github.com/edvin/maintconsole/internal/progress"
)

// watchJob follows id until it succeeds or fails, the user dismisses the
// view, or ctx ends. The job keeps running on the backend either way.
func watchJob(ctx context.Context, c *console.Console, id int64, title string, plain bool) error {
	panel := progress.Open(c.Store, id)
	defer panel.Close()

	if plain {
		return watchPlain(ctx, panel)
	}

	m, err := progress.Run(ctx, panel, title, progress.ExitOnTerminal())
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	return jobResult(m.State())
}

func watchPlain(ctx context.Context, panel *progress.Panel) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-panel.Updates():
			if !ok {
				return nil
			}
			fmt.Fprintln(stdout, progress.Line(v))
			if v.State.Kind.Terminal() {
				return jobResult(v)
			}
		}
	}
}

// jobResult makes a failed job a non-zero exit.
func jobResult(v jobstate.View) error {
	if v.State.Kind != jobstate.Failed {
		return nil
	}
	if v.State.Reason != "" {
		return fmt.Errorf("job %d failed: %s", v.JobID, v.State.Reason)
	}
	return fmt.Errorf("job %d failed", v.JobID)
}
