package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"LIBRIS-backend/internal/platform/db"
)

type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string // メタデータ上のロール（profiles 側が優先）
	IsDisabled   bool
	CreatedAt    time.Time
}

type AccountStore interface {
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByID(ctx context.Context, id string) (*Account, error)
	Create(ctx context.Context, a *Account) error
	SetRole(ctx context.Context, id, role string) error
}

type Store struct {
	db      *sql.DB
	dialect db.Dialect
}

func NewStore(conn *sql.DB, d db.Dialect) AccountStore {
	return &Store{db: conn, dialect: d}
}

const accountColumns = `id, email, password_hash, role, is_disabled, created_at`

// 見つからない場合は nil, nil
func (s *Store) getOne(ctx context.Context, where string, arg any) (*Account, error) {
	q := s.dialect.Rebind(`SELECT ` + accountColumns + ` FROM auth_accounts WHERE ` + where + ` LIMIT 1`)
	var a Account
	err := s.db.QueryRowContext(ctx, q, arg).Scan(
		&a.ID,
		&a.Email,
		&a.PasswordHash,
		&a.Role,
		&a.IsDisabled,
		&a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return s.getOne(ctx, `email = ?`, email)
}

func (s *Store) GetByID(ctx context.Context, id string) (*Account, error) {
	return s.getOne(ctx, `id = ?`, id)
}

// Create: email の重複は ErrEmailTaken
func (s *Store) Create(ctx context.Context, a *Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	q := s.dialect.Rebind(`
INSERT INTO auth_accounts (id, email, password_hash, role, is_disabled, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`)
	_, err := s.db.ExecContext(ctx, q, a.ID, a.Email, a.PasswordHash, a.Role, a.IsDisabled, a.CreatedAt)
	if db.IsDuplicate(err) {
		return ErrEmailTaken
	}
	return err
}

func (s *Store) SetRole(ctx context.Context, id, role string) error {
	q := s.dialect.Rebind(`UPDATE auth_accounts SET role = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, role, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
