package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// Reservations holds usernames and email addresses while the events that
// claim them travel through the event log.
type Reservations interface {
	ReserveUsername(ctx context.Context, username string, userID int64) (int64, error)
	ReserveEmail(ctx context.Context, email string, userID int64) (int64, error)
	Release(ctx context.Context, ids ...int64) error
	// ReleaseAppliedTx drops the reservations of userID for values the
	// projected row now holds itself.
	ReleaseAppliedTx(ctx context.Context, tx bun.IDB, record *User) error
	ReleaseForUserTx(ctx context.Context, tx bun.IDB, userID int64) error
	HasUser(ctx context.Context, userID int64) (bool, error)
}

// DefaultReservationTTL bounds how long a reservation can outlive the
// request that took it, for example after a crash between reserving and
// publishing.
const DefaultReservationTTL = 15 * time.Minute

type reservations struct {
	db  *bun.DB
	ttl time.Duration
	now func() time.Time
}

var _ Reservations = (*reservations)(nil)

func NewReservationsRepository(db *bun.DB) Reservations {
	return &reservations{db: db, ttl: DefaultReservationTTL, now: time.Now}
}

func (r *reservations) ReserveUsername(ctx context.Context, username string, userID int64) (int64, error) {
	username = strings.TrimSpace(username)
	return r.reserve(ctx, &Reservation{Username: &username, UserID: userID}, "username", username)
}

func (r *reservations) ReserveEmail(ctx context.Context, email string, userID int64) (int64, error) {
	email = NormalizeEmail(email)
	return r.reserve(ctx, &Reservation{Email: &email, UserID: userID}, "email", email)
}

func (r *reservations) reserve(ctx context.Context, record *Reservation, field, value string) (int64, error) {
	err := r.insert(ctx, record)
	if isUniqueViolation(err) {
		reclaimed, rerr := r.reclaimStale(ctx, field, value)
		if rerr != nil {
			return 0, rerr
		}
		if reclaimed {
			err = r.insert(ctx, record)
		}
	}
	if err != nil {
		if isUniqueViolation(err) {
			return 0, NewError(ErrAlreadyInUse, field+" is already in use", map[string]any{
				"field": field,
				"value": value,
			})
		}
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reserve "+field)
	}
	return record.ID, nil
}

func (r *reservations) insert(ctx context.Context, record *Reservation) error {
	record.ID = 0
	record.CreatedAt = r.now().UTC()
	_, err := r.db.NewInsert().Model(record).Returning("id").Exec(ctx)
	return err
}

// reclaimStale deletes a reservation of value older than the ttl.
func (r *reservations) reclaimStale(ctx context.Context, field, value string) (bool, error) {
	res, err := r.db.NewDelete().
		Model((*Reservation)(nil)).
		Where("? = ?", bun.Ident(field), value).
		Where("created_at < ?", r.now().UTC().Add(-r.ttl)).
		Exec(ctx)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reclaim reservation")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *reservations) Release(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.NewDelete().
		Model((*Reservation)(nil)).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to release reservations")
	}
	return nil
}

func (r *reservations) ReleaseAppliedTx(ctx context.Context, tx bun.IDB, record *User) error {
	_, err := tx.NewDelete().
		Model((*Reservation)(nil)).
		Where("user_id = ?", record.ID).
		WhereGroup(" AND ", func(q *bun.DeleteQuery) *bun.DeleteQuery {
			return q.Where("username = ?", record.Username).WhereOr("email = ?", record.Email)
		}).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to release applied reservations")
	}
	return nil
}

func (r *reservations) ReleaseForUserTx(ctx context.Context, tx bun.IDB, userID int64) error {
	_, err := tx.NewDelete().
		Model((*Reservation)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to release user reservations")
	}
	return nil
}

// HasUser reports whether any reservation is held for userID.
func (r *reservations) HasUser(ctx context.Context, userID int64) (bool, error) {
	ok, err := r.db.NewSelect().
		Model((*Reservation)(nil)).
		Where("user_id = ?", userID).
		Exists(ctx)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up reservations")
	}
	return ok, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}
