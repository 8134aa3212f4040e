package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Services stores registered OAuth clients.
type Services interface {
	ServiceStore
	PolicyProvider
	GetByID(ctx context.Context, id uuid.UUID) (*Service, error)
	List(ctx context.Context) ([]*Service, error)
	Create(ctx context.Context, record *Service) (*Service, error)
	UpdatePermissions(ctx context.Context, identifier string, mask ClaimMask) (*Service, error)
}

type services struct {
	db  *bun.DB
	now func() time.Time
}

var _ Services = (*services)(nil)

func NewServicesRepository(db *bun.DB) Services {
	return &services{db: db, now: time.Now}
}

func (s *services) GetByIdentifier(ctx context.Context, identifier string) (*Service, error) {
	return s.getBy(ctx, "identifier", strings.TrimSpace(identifier))
}

func (s *services) GetByID(ctx context.Context, id uuid.UUID) (*Service, error) {
	return s.getBy(ctx, "id", id)
}

func (s *services) getBy(ctx context.Context, column string, value any) (*Service, error) {
	record := &Service{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewError(ErrNotFound, "service not found", map[string]any{column: value})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load service")
	}
	return record, nil
}

func (s *services) List(ctx context.Context) ([]*Service, error) {
	var records []*Service
	if err := s.db.NewSelect().Model(&records).Order("identifier ASC").Scan(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list services")
	}
	return records, nil
}

// Create stores record, assigning an id and a random identifier when they
// are not set.
func (s *services) Create(ctx context.Context, record *Service) (*Service, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Identifier == "" {
		record.Identifier = uuid.NewString()
	}
	now := s.now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, NewError(ErrAlreadyInUse, "service identifier is already in use", map[string]any{
				"identifier": record.Identifier,
			})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create service")
	}
	return record, nil
}

func (s *services) UpdatePermissions(ctx context.Context, identifier string, mask ClaimMask) (*Service, error) {
	record, err := s.GetByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	record.Permissions = mask
	record.UpdatedAt = s.now().UTC()

	_, err = s.db.NewUpdate().
		Model(record).
		Column("permissions", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update service permissions")
	}
	return record, nil
}

// PolicyFor returns the privacy policy stored with the service.
func (s *services) PolicyFor(_ context.Context, service *Service) (string, error) {
	if service == nil {
		return "", NewError(ErrNotFound, "service not found")
	}
	return service.PrivacyPolicy, nil
}
