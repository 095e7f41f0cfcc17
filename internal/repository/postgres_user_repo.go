package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/novelshelf/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, password_hash, email_confirmed_at, confirmation_token, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var confirmedAt sql.NullTime
	var token sql.NullString

	if err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &confirmedAt, &token,
		&user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if confirmedAt.Valid {
		t := confirmedAt.Time
		user.EmailConfirmedAt = &t
	}
	user.ConfirmationToken = nullStringValue(token)
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, email_confirmed_at, confirmation_token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Email, user.PasswordHash, user.EmailConfirmedAt,
		nullString(user.ConfirmationToken), user.CreatedAt, user.UpdatedAt,
	)
	return wrapError("failed to create user", err)
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError("failed to find user by ID", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError("failed to find user by email", err)
	}
	return user, nil
}

// ConfirmByToken は確認トークンに一致する未確認ユーザーを確認済みにする。
// トークンは一度だけ使用でき、確認後はNULLになる。
func (r *PostgresUserRepo) ConfirmByToken(ctx context.Context, token string, at time.Time) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET email_confirmed_at = $2, confirmation_token = NULL, updated_at = $2
		 WHERE confirmation_token = $1 AND email_confirmed_at IS NULL
		 RETURNING `+userColumns,
		token, at,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError("failed to confirm user", err)
	}
	return user, nil
}

// Count は全ユーザー数を返す。
func (r *PostgresUserRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, wrapError("failed to count users", err)
	}
	return n, nil
}

// CountCreatedSince はsince以降に登録されたユーザー数を返す。
func (r *PostgresUserRepo) CountCreatedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE created_at >= $1`, since,
	).Scan(&n)
	if err != nil {
		return 0, wrapError("failed to count recent users", err)
	}
	return n, nil
}

// RegistrationsSince はsince以降の登録数を日付（UTC）ごとに集計する。
func (r *PostgresUserRepo) RegistrationsSince(ctx context.Context, since time.Time) ([]model.RegistrationCount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*)
		 FROM users
		 WHERE created_at >= $1
		 GROUP BY day
		 ORDER BY day ASC`,
		since,
	)
	if err != nil {
		return nil, wrapError("failed to aggregate registrations", err)
	}
	defer rows.Close()

	var counts []model.RegistrationCount
	for rows.Next() {
		var c model.RegistrationCount
		if err := rows.Scan(&c.Date, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan registration count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate registrations: %w", err)
	}
	return counts, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
