package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// Consents persists privacy policy decisions.
type Consents interface {
	ConsentStore
	DeleteForUser(ctx context.Context, userID int64) error
}

type consents struct {
	db  *bun.DB
	now func() time.Time
}

var _ Consents = (*consents)(nil)

func NewConsentsRepository(db *bun.DB) Consents {
	return &consents{db: db, now: time.Now}
}

// Get returns ConsentUnknown when the user never answered.
func (c *consents) Get(ctx context.Context, userID int64, serviceID string) (ConsentStatus, error) {
	record := &Consent{}
	err := c.db.NewSelect().
		Model(record).
		Where("user_id = ?", userID).
		Where("service_id = ?", serviceID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ConsentUnknown, nil
		}
		return ConsentUnknown, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load consent")
	}
	return record.Status, nil
}

func (c *consents) Record(ctx context.Context, userID int64, serviceID string, status ConsentStatus) error {
	record := &Consent{
		UserID:    userID,
		ServiceID: serviceID,
		Status:    status,
		UpdatedAt: c.now().UTC(),
	}
	_, err := c.db.NewInsert().
		Model(record).
		On("CONFLICT (user_id, service_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to record consent")
	}
	return nil
}

func (c *consents) DeleteForUser(ctx context.Context, userID int64) error {
	_, err := c.db.NewDelete().Model((*Consent)(nil)).Where("user_id = ?", userID).Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete consents")
	}
	return nil
}
