package identity

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/edukita/schoolboard/internal/domain"
	"github.com/edukita/schoolboard/internal/errors"
	"github.com/edukita/schoolboard/internal/event"
)

type Config struct {
	DB       *pgxpool.Pool
	EventBus *event.Bus
}

// Service is the identity provider: it owns credentials and nothing else.
// Profiles live in the profile store; the session machine joins the two.
type Service struct {
	db *pgxpool.Pool
	eb *event.Bus
}

func NewService(c Config) *Service {
	return &Service{
		db: c.DB,
		eb: c.EventBus,
	}
}

// Authenticate verifies an email/password pair against the stored credential.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*domain.Identity, error) {
	const stmt = `SELECT identity_id, password_hash FROM credentials WHERE email = $1;`

	var (
		id   string
		hash []byte
	)
	err := s.db.QueryRow(ctx, stmt, email).Scan(&id, &hash)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid credentials"))
	}
	if err != nil {
		return nil, fmt.Errorf("query credential: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid credentials"),
			errors.WithCause(err))
	}

	return &domain.Identity{ID: id, Email: email}, nil
}

// Register creates a new credential. A second registration for the same email
// fails with AlreadyExists.
func (s *Service) Register(ctx context.Context, email, password string) (*domain.Identity, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate identity ID: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	const stmt = `INSERT INTO credentials (identity_id, email, password_hash, create_time) VALUES ($1, $2, $3, now());`

	_, err = s.db.Exec(ctx, stmt, id, email, hash)

	var pgErr *pgconn.PgError
	const codeUniqueViolation = "23505"
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("email already in use: %s", email),
			errors.WithCause(err))
	}

	if err != nil {
		return nil, fmt.Errorf("insert credential: %w", err)
	}

	return &domain.Identity{ID: id.String(), Email: email}, nil
}

// Deauthenticate pushes an identity.revoked notification without touching the
// stored credential. Sessions bound to the identity drop back to
// unauthenticated; the user can sign in again with the same credential.
func (s *Service) Deauthenticate(ctx context.Context, identityID string) error {
	s.eb.Publish(ctx, domain.EventIdentityRevoked{IdentityID: identityID})
	return nil
}

// Revoke deletes the credential and pushes an identity.revoked notification.
// This is account removal, not sign-out: it frees the email for a fresh
// registration.
func (s *Service) Revoke(ctx context.Context, identityID string) error {
	const stmt = `DELETE FROM credentials WHERE identity_id = $1;`

	if _, err := s.db.Exec(ctx, stmt, identityID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}

	s.eb.Publish(ctx, domain.EventIdentityRevoked{IdentityID: identityID})
	return nil
}
