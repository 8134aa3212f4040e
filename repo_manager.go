package auth

import (
	"context"
	"database/sql"
	"log"

	"github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	Validate() error
	MustValidate()
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	DB() *bun.DB
	Users() Users
	Reservations() Reservations
	Services() Services
	Consents() Consents
}

type mngr struct {
	db           *bun.DB
	users        Users
	reservations Reservations
	services     Services
	consents     Consents
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:           db,
		users:        NewUsersRepository(db),
		reservations: NewReservationsRepository(db),
		services:     NewServicesRepository(db),
		consents:     NewConsentsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository manager requires a database", errors.CategoryInternal)
	}
	if m.users == nil {
		return errors.New("repository users should be initialized", errors.CategoryInternal)
	}
	if m.reservations == nil {
		return errors.New("repository reservations should be initialized", errors.CategoryInternal)
	}
	if m.services == nil {
		return errors.New("repository services should be initialized", errors.CategoryInternal)
	}
	if m.consents == nil {
		return errors.New("repository consents should be initialized", errors.CategoryInternal)
	}
	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

// RunInTx runs f inside a transaction. f must only use tx: the sqlite pool
// holds a single connection.
func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) DB() *bun.DB {
	return m.db
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Reservations() Reservations {
	return m.reservations
}

func (m mngr) Services() Services {
	return m.services
}

func (m mngr) Consents() Consents {
	return m.consents
}
