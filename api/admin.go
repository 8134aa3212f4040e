package api

import (
	"context"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/TKOaly/user-service-sub000/projection"
	"github.com/gofiber/fiber/v2"
)

type rebuildRequest struct {
	AllowCreate    bool     `json:"allow_create"`
	AllowRemove    bool     `json:"allow_remove"`
	AllowFields    []string `json:"allow_fields"`
	AllowAllFields bool     `json:"allow_all_fields"`
	DryRun         bool     `json:"dry_run"`
}

// rebuild replays the event log into the projection with the listener
// paused. Drift the request did not allow is reported with 409 and nothing
// is committed.
func (h *Controller) rebuild(c *fiber.Ctx) error {
	var req rebuildRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return bodyError(err)
		}
	}

	opts := projection.RebuildOptions{
		AllowCreate:          req.AllowCreate,
		AllowRemove:          req.AllowRemove,
		AllowedChangedFields: req.AllowFields,
		AllowAllFields:       req.AllowAllFields,
		DryRun:               req.DryRun,
	}

	var report *projection.RebuildReport
	run := func(ctx context.Context) error {
		var err error
		report, err = h.cfg.Users.Rebuild(ctx, opts)
		return err
	}

	var err error
	if h.cfg.Listener != nil {
		err = h.cfg.Listener.RunPaused(c.UserContext(), run)
	} else {
		err = run(c.UserContext())
	}

	switch {
	case err == nil:
		return c.JSON(report)
	case auth.HasTextCode(err, auth.TextCodeRebuildDrift) && report != nil:
		return c.Status(fiber.StatusConflict).JSON(report)
	default:
		return err
	}
}
