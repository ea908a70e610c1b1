package core

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	FindByID(ctx context.Context, id int64) (*UserRecord, error)
	FindByEmail(ctx context.Context, email string) (*UserRecord, error)
	// Create inserts rec and returns it with ID and CreatedAt populated.
	// A duplicate email yields ErrEmailAlreadyRegistered.
	Create(ctx context.Context, rec UserRecord) (*UserRecord, error)
	List(ctx context.Context, skip, limit int) ([]User, error)
}

// PgUserRepository implements UserRepository using pgx.
type PgUserRepository struct {
	db DBTX
}

func NewPgUserRepository(db DBTX) *PgUserRepository {
	return &PgUserRepository{db: db}
}

const userColumns = `id, name, email, password_hash, role, created_at`

func scanUserRecord(row pgx.Row) (*UserRecord, error) {
	var u UserRecord
	var role string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}

func (r *PgUserRepository) FindByID(ctx context.Context, id int64) (*UserRecord, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	u, err := scanUserRecord(r.db.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, oops.With("operation", "find user by id").With("user_id", id).Wrap(err)
	}
	return u, nil
}

func (r *PgUserRepository) FindByEmail(ctx context.Context, email string) (*UserRecord, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE email=$1`
	u, err := scanUserRecord(r.db.QueryRow(ctx, q, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, oops.With("operation", "find user by email").Wrap(err)
	}
	return u, nil
}

// Create relies on the unique index on users.email instead of a prior lookup,
// so concurrent registrations of one email cannot both succeed.
func (r *PgUserRepository) Create(ctx context.Context, rec UserRecord) (*UserRecord, error) {
	const q = `INSERT INTO users (name, email, password_hash, role) VALUES ($1,$2,$3,$4) RETURNING id, created_at`
	out := rec
	if err := r.db.QueryRow(ctx, q, rec.Name, rec.Email, rec.PasswordHash, string(rec.Role)).Scan(&out.ID, &out.CreatedAt); err != nil {
		if isPgError(err, pgerrcode.UniqueViolation) {
			return nil, oops.Code("USER_EMAIL_TAKEN").Wrap(ErrEmailAlreadyRegistered)
		}
		return nil, oops.With("operation", "create user").Wrap(err)
	}
	return &out, nil
}

// List returns users ordered by id without credentials.
func (r *PgUserRepository) List(ctx context.Context, skip, limit int) ([]User, error) {
	if skip < 0 || limit <= 0 {
		return nil, errors.New("invalid pagination")
	}
	rows, err := r.db.Query(ctx, `SELECT id, name, email, role, created_at FROM users ORDER BY id LIMIT $1 OFFSET $2`, limit, skip)
	if err != nil {
		return nil, oops.With("operation", "list users").Wrap(err)
	}
	defer rows.Close()
	items := make([]User, 0, limit)
	for rows.Next() {
		var u User
		var role string
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &role, &u.CreatedAt); err != nil {
			return nil, oops.With("operation", "scan user row").Wrap(err)
		}
		u.Role = Role(role)
		items = append(items, u)
	}
	return items, rows.Err()
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
