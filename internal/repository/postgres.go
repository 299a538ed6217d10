package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/formica-tech/formic-api/internal/domain"
)

// Compile-time interface assertions.
var (
	_ Store          = (*PostgresStore)(nil)
	_ UserRepository = (*postgresUserRepo)(nil)
	_ CodeRepository = (*postgresCodeRepo)(nil)
)

// DBTX is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so the same
// repository code serves both pooled and transactional calls.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	db   DBTX
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool, pool: pool}
}

func (s *PostgresStore) Users() UserRepository { return &postgresUserRepo{db: s.db} }
func (s *PostgresStore) Codes() CodeRepository { return &postgresCodeRepo{db: s.db} }

// WithTx begins a transaction, runs fn against a transaction-scoped store,
// and commits on success or rolls back on error or panic.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) (err error) {
	if s.pool == nil {
		// Already inside a transaction scope.
		return fn(ctx, s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	err = fn(ctx, &PostgresStore{db: tx})
	return err
}

type postgresUserRepo struct {
	db DBTX
}

const userColumns = `id, username, email, password_hash, salt, first_name, last_name, phone, verified, created_at, updated_at`

func (r *postgresUserRepo) GetByID(ctx context.Context, id string) (domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row, "get user by id")
}

func (r *postgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row, "get user by email")
}

func (r *postgresUserRepo) CountByEmail(ctx context.Context, email string) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE email = $1`, email).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users by email: %w", err)
	}
	return count, nil
}

func (r *postgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO users (id, username, email, password_hash, salt, first_name, last_name, phone, verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
		RETURNING `+userColumns,
		user.ID, user.Username, user.Email, user.PasswordHash, user.Salt,
		user.FirstName, user.LastName, user.Phone, user.Verified,
	)
	created, err := scanUser(row, "create user")
	if err != nil {
		if isUniqueViolation(err, "email") {
			return domain.User{}, domain.ErrUserAlreadyExists
		}
		return domain.User{}, err
	}
	return created, nil
}

func (r *postgresUserRepo) Update(ctx context.Context, user domain.User) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET
			username = $2, email = $3, password_hash = $4, salt = $5,
			first_name = $6, last_name = $7, phone = NULLIF($8, ''),
			verified = $9, updated_at = now()
		WHERE id = $1`,
		user.ID, user.Username, user.Email, user.PasswordHash, user.Salt,
		user.FirstName, user.LastName, user.Phone, user.Verified,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

type postgresCodeRepo struct {
	db DBTX
}

func (r *postgresCodeRepo) Get(ctx context.Context, id string) (domain.VerificationCode, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, code, user_id, expires_at, created_at
		FROM verification_codes WHERE id = $1`, id)

	var code domain.VerificationCode
	err := row.Scan(&code.ID, &code.Code, &code.UserID, &code.ExpiresAt, &code.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.VerificationCode{}, domain.ErrInvalidVerificationID
	}
	if err != nil {
		return domain.VerificationCode{}, fmt.Errorf("get verification code: %w", err)
	}
	return code, nil
}

func (r *postgresCodeRepo) GetWithUser(ctx context.Context, id string) (domain.VerificationCode, domain.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT c.id, c.code, c.user_id, c.expires_at, c.created_at,
		       u.id, u.username, u.email, u.password_hash, u.salt,
		       u.first_name, u.last_name, COALESCE(u.phone, ''), u.verified, u.created_at, u.updated_at
		FROM verification_codes c
		JOIN users u ON u.id = c.user_id
		WHERE c.id = $1`, id)

	var (
		code domain.VerificationCode
		user domain.User
	)
	err := row.Scan(
		&code.ID, &code.Code, &code.UserID, &code.ExpiresAt, &code.CreatedAt,
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Salt,
		&user.FirstName, &user.LastName, &user.Phone, &user.Verified, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.VerificationCode{}, domain.User{}, domain.ErrInvalidVerificationID
	}
	if err != nil {
		return domain.VerificationCode{}, domain.User{}, fmt.Errorf("get verification code with user: %w", err)
	}
	return code, user, nil
}

func (r *postgresCodeRepo) Create(ctx context.Context, code domain.VerificationCode) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO verification_codes (id, code, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		code.ID, code.Code, code.UserID, code.ExpiresAt, code.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "code") {
			return domain.ErrDuplicateCode
		}
		return fmt.Errorf("create verification code: %w", err)
	}
	return nil
}

func (r *postgresCodeRepo) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM verification_codes WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete verification code: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanUser(row pgx.Row, op string) (domain.User, error) {
	var (
		user  domain.User
		phone *string
	)
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Salt,
		&user.FirstName, &user.LastName, &phone, &user.Verified, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("%s: %w", op, err)
	}
	if phone != nil {
		user.Phone = *phone
	}
	return user, nil
}

func isUniqueViolation(err error, constraintHint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, constraintHint)
}
