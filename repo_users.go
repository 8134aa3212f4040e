package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/mail"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// Users is the read side of the user projection. Write methods are only
// called by the projection engine, always inside a transaction.
type Users interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	ListTx(ctx context.Context, tx bun.IDB) ([]*User, error)
	LastSequence(ctx context.Context, id int64) (uint64, bool, error)

	UpsertTx(ctx context.Context, tx bun.IDB, record *User) error
	UpdateTx(ctx context.Context, tx bun.IDB, record *User) error
	DeleteTx(ctx context.Context, tx bun.IDB, id int64) error
	TruncateTx(ctx context.Context, tx bun.IDB) error
}

type users struct {
	db *bun.DB
}

var _ Users = (*users)(nil)

func NewUsersRepository(db *bun.DB) Users {
	return &users{db: db}
}

func (a *users) GetByID(ctx context.Context, id int64) (*User, error) {
	return a.GetByIDTx(ctx, a.db, id)
}

func (a *users) GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*User, error) {
	record := &User{}
	err := tx.NewSelect().Model(record).Where("?TableAlias.id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewError(ErrNotFound, "user not found", map[string]any{"id": id})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user")
	}
	return record, nil
}

// GetByIdentifier resolves a numeric id, an email address or a username.
func (a *users) GetByIdentifier(ctx context.Context, identifier string) (*User, error) {
	identifier = strings.TrimSpace(identifier)

	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		return a.GetByID(ctx, id)
	}

	var (
		record *User
		err    error
	)
	if isEmail(identifier) {
		record, err = a.FindByEmail(ctx, identifier)
	} else {
		record, err = a.FindByUsername(ctx, identifier)
	}
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, NewError(ErrNotFound, "user not found", map[string]any{"identifier": identifier})
	}
	return record, nil
}

func (a *users) FindByUsername(ctx context.Context, username string) (*User, error) {
	return a.findBy(ctx, "username", strings.TrimSpace(username))
}

func (a *users) FindByEmail(ctx context.Context, email string) (*User, error) {
	return a.findBy(ctx, "email", NormalizeEmail(email))
}

func (a *users) findBy(ctx context.Context, column, value string) (*User, error) {
	if value == "" {
		return nil, nil
	}
	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find user")
	}
	return record, nil
}

func (a *users) List(ctx context.Context) ([]*User, error) {
	return a.ListTx(ctx, a.db)
}

func (a *users) ListTx(ctx context.Context, tx bun.IDB) ([]*User, error) {
	var records []*User
	if err := tx.NewSelect().Model(&records).Order("id ASC").Scan(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list users")
	}
	return records, nil
}

// LastSequence returns the applied sequence of a user and whether the row exists.
func (a *users) LastSequence(ctx context.Context, id int64) (uint64, bool, error) {
	var seq uint64
	err := a.db.NewSelect().
		Model((*User)(nil)).
		Column("last_applied_sequence").
		Where("id = ?", id).
		Scan(ctx, &seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read user sequence")
	}
	return seq, true, nil
}

func (a *users) UpsertTx(ctx context.Context, tx bun.IDB, record *User) error {
	_, err := tx.NewInsert().
		Model(record).
		On("CONFLICT (id) DO UPDATE").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to upsert user")
	}
	return nil
}

func (a *users) UpdateTx(ctx context.Context, tx bun.IDB, record *User) error {
	_, err := tx.NewUpdate().Model(record).WherePK().Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user")
	}
	return nil
}

func (a *users) DeleteTx(ctx context.Context, tx bun.IDB, id int64) error {
	_, err := tx.NewDelete().Model((*User)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete user")
	}
	return nil
}

func (a *users) TruncateTx(ctx context.Context, tx bun.IDB) error {
	_, err := tx.NewDelete().Model((*User)(nil)).Where("1 = 1").Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to truncate users")
	}
	return nil
}

func isEmail(identifier string) bool {
	if !strings.Contains(identifier, "@") {
		return false
	}
	_, err := mail.ParseAddress(identifier)
	return err == nil
}
