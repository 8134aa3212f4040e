package projection

import (
	"context"
	"slices"
	"time"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/uptrace/bun"
)

// RebuildOptions lists the differences a rebuild may commit.
type RebuildOptions struct {
	AllowCreate          bool
	AllowRemove          bool
	AllowedChangedFields []string
	// AllowAllFields accepts changes to any field.
	AllowAllFields bool
	// DryRun rolls back even when nothing is flagged.
	DryRun bool
}

// Discrepancy is one difference between the projection before and after a
// rebuild.
type Discrepancy struct {
	UserID  int64  `json:"user_id"`
	Kind    string `json:"kind"`
	Field   string `json:"field,omitempty"`
	Allowed bool   `json:"allowed"`
}

const (
	DiscrepancyCreated = "created"
	DiscrepancyRemoved = "removed"
	DiscrepancyChanged = "changed"
)

// RebuildReport summarizes a rebuild.
type RebuildReport struct {
	Events        int           `json:"events"`
	Skipped       int           `json:"skipped"`
	UsersBefore   int           `json:"users_before"`
	UsersAfter    int           `json:"users_after"`
	Discrepancies []Discrepancy `json:"discrepancies"`
	Committed     bool          `json:"committed"`
	Duration      time.Duration `json:"duration"`
}

// Flagged returns the discrepancies the options did not allow.
func (r *RebuildReport) Flagged() []Discrepancy {
	var out []Discrepancy
	for _, d := range r.Discrepancies {
		if !d.Allowed {
			out = append(out, d)
		}
	}
	return out
}

// Rebuild replays the whole event log into an empty projection inside one
// transaction and compares the result with the rows it replaced. Any
// discrepancy the options do not allow rolls the transaction back and
// returns ErrRebuildDrift along with the report.
//
// The live listener must be paused around a rebuild; see Listener.RunPaused.
func (e *Engine) Rebuild(ctx context.Context, opts RebuildOptions) (*RebuildReport, error) {
	started := time.Now()
	report := &RebuildReport{}

	messages, err := e.gateway.Fetch(ctx, SubjectPattern)
	if err != nil {
		e.metrics.Rebuild("failed")
		return nil, err
	}

	err = e.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		users := e.repos.Users()

		before, err := users.ListTx(ctx, tx)
		if err != nil {
			return err
		}
		report.UsersBefore = len(before)

		if err := users.TruncateTx(ctx, tx); err != nil {
			return err
		}

		for _, msg := range messages {
			evt, err := DecodeEvent(msg.Payload)
			if err != nil {
				e.logger.Warn("skipping undecodable event", "subject", msg.Subject, "sequence", msg.Sequence, "error", err)
				report.Skipped++
				continue
			}
			if err := e.ApplyEvent(ctx, tx, evt, msg.Sequence, msg.Timestamp); err != nil {
				return err
			}
			report.Events++
		}

		after, err := users.ListTx(ctx, tx)
		if err != nil {
			return err
		}
		report.UsersAfter = len(after)
		report.Discrepancies = diffSnapshots(before, after, opts)

		if flagged := report.Flagged(); len(flagged) > 0 {
			return auth.NewError(auth.ErrRebuildDrift, "", map[string]any{
				"flagged": len(flagged),
			})
		}
		if opts.DryRun {
			return errDryRun
		}
		return nil
	})
	report.Duration = time.Since(started)

	switch {
	case err == errDryRun:
		e.metrics.Rebuild("dry_run")
		return report, nil
	case err != nil:
		if auth.HasTextCode(err, auth.TextCodeRebuildDrift) {
			e.metrics.Rebuild("drift")
			e.logger.Warn("rebuild rolled back", "discrepancies", len(report.Flagged()))
		} else {
			e.metrics.Rebuild("failed")
		}
		return report, err
	}

	report.Committed = true
	e.metrics.Rebuild("committed")
	e.logger.Info("projection rebuilt",
		"events", report.Events,
		"users", report.UsersAfter,
		"discrepancies", len(report.Discrepancies),
		"duration", report.Duration,
	)
	return report, nil
}

var errDryRun = auth.NewError(auth.ErrRebuildDrift, "dry run")

func diffSnapshots(before, after []*auth.User, opts RebuildOptions) []Discrepancy {
	prev := make(map[int64]*auth.User, len(before))
	for _, u := range before {
		prev[u.ID] = u
	}

	var out []Discrepancy
	for _, u := range after {
		old, ok := prev[u.ID]
		if !ok {
			out = append(out, Discrepancy{UserID: u.ID, Kind: DiscrepancyCreated, Allowed: opts.AllowCreate})
			continue
		}
		delete(prev, u.ID)
		for _, field := range auth.DiffUsers(old, u) {
			out = append(out, Discrepancy{
				UserID:  u.ID,
				Kind:    DiscrepancyChanged,
				Field:   field,
				Allowed: opts.AllowAllFields || slices.Contains(opts.AllowedChangedFields, field),
			})
		}
	}
	for _, u := range before {
		if _, ok := prev[u.ID]; ok {
			out = append(out, Discrepancy{UserID: u.ID, Kind: DiscrepancyRemoved, Allowed: opts.AllowRemove})
		}
	}
	return out
}
