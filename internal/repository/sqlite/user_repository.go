package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"customer-auth/internal/domain"
	"customer-auth/internal/repository"
)

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL UNIQUE,
	user_name TEXT NOT NULL UNIQUE,
	first_name TEXT NOT NULL DEFAULT '',
	about TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 0,
	is_staff INTEGER NOT NULL DEFAULT 0,
	start_date DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`

const selectUserColumns = `id, email, user_name, first_name, about, password_hash, is_active, is_staff, start_date, updated_at`

// userColumns maps queryable field names onto table columns. Anything not
// listed here never reaches generated SQL.
var userColumns = map[string]string{
	"id":         "id",
	"email":      "email",
	"user_name":  "user_name",
	"first_name": "first_name",
	"about":      "about",
	"is_active":  "is_active",
	"is_staff":   "is_staff",
	"start_date": "start_date",
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) repository.UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createUsersTable); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_users_start_date ON users(start_date)`); err != nil {
		return fmt.Errorf("create users start_date index: %w", err)
	}
	return nil
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) (int64, error) {
	now := time.Now().UTC()
	if user.StartDate.IsZero() {
		user.StartDate = now
	}
	user.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, `
INSERT INTO users (email, user_name, first_name, about, password_hash, is_active, is_staff, start_date, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.Email,
		user.UserName,
		user.FirstName,
		user.About,
		user.PasswordHash,
		user.IsActive,
		user.IsStaff,
		user.StartDate.UTC(),
		user.UpdatedAt,
	)
	if err != nil {
		return 0, uniqueViolation(err, "insert user")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("user last insert id: %w", err)
	}
	user.ID = id
	return id, nil
}

func (r *UserRepository) Update(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
UPDATE users
SET email=?, user_name=?, first_name=?, about=?, is_active=?, is_staff=?, updated_at=?
WHERE id=?`,
		user.Email,
		user.UserName,
		user.FirstName,
		user.About,
		user.IsActive,
		user.IsStaff,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return uniqueViolation(err, "update user")
	}
	return requireAffected(res, "update user")
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE users
SET password_hash=?, updated_at=?
WHERE id=?`,
		passwordHash,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	return requireAffected(res, "update user password")
}

func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireAffected(res, "delete user")
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+selectUserColumns+`
FROM users
WHERE email = ?`,
		email,
	)
	return scanUser(row)
}

func (r *UserRepository) GetByUserName(ctx context.Context, userName string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+selectUserColumns+`
FROM users
WHERE user_name = ?`,
		userName,
	)
	return scanUser(row)
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+selectUserColumns+`
FROM users
WHERE id = ?`,
		id,
	)
	return scanUser(row)
}

func (r *UserRepository) List(ctx context.Context, query domain.UserQuery) ([]domain.User, error) {
	where, args, err := buildUserWhere(query)
	if err != nil {
		return nil, err
	}
	orderBy, err := buildUserOrderBy(query.Ordering)
	if err != nil {
		return nil, err
	}

	stmt := `SELECT ` + selectUserColumns + ` FROM users` + where + ` ORDER BY ` + orderBy
	if query.Limit > 0 {
		stmt += ` LIMIT ? OFFSET ?`
		args = append(args, query.Limit, query.Offset)
	}

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

func (r *UserRepository) Count(ctx context.Context, query domain.UserQuery) (int, error) {
	where, args, err := buildUserWhere(query)
	if err != nil {
		return 0, err
	}
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (r *UserRepository) Distinct(ctx context.Context, field string) ([]any, error) {
	column, ok := userColumns[field]
	if !ok {
		return nil, fmt.Errorf("unknown user field %q", field)
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT %s FROM users ORDER BY %s ASC`, column, column))
	if err != nil {
		return nil, fmt.Errorf("distinct users.%s: %w", column, err)
	}
	defer rows.Close()

	values := []any{}
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan distinct users.%s: %w", column, err)
		}
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		if isFlagColumn(column) {
			v = toBool(v)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func buildUserWhere(query domain.UserQuery) (string, []any, error) {
	var (
		clauses []string
		args    []any
	)

	if len(query.Terms) > 0 {
		if len(query.SearchFields) == 0 {
			return "", nil, fmt.Errorf("search terms given without search fields")
		}
		columns := make([]string, 0, len(query.SearchFields))
		for _, field := range query.SearchFields {
			column, ok := userColumns[field]
			if !ok {
				return "", nil, fmt.Errorf("unknown search field %q", field)
			}
			columns = append(columns, column)
		}
		// sqlite's lower() folds ASCII only
		for _, term := range query.Terms {
			pattern := "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
			ors := make([]string, len(columns))
			for i, column := range columns {
				ors[i] = fmt.Sprintf(`lower(%s) LIKE ? ESCAPE '\'`, column)
				args = append(args, pattern)
			}
			clauses = append(clauses, "("+strings.Join(ors, " OR ")+")")
		}
	}

	for _, filter := range query.Filters {
		column, ok := userColumns[filter.Field]
		if !ok {
			return "", nil, fmt.Errorf("unknown filter field %q", filter.Field)
		}
		clauses = append(clauses, column+" = ?")
		args = append(args, filter.Value)
	}

	if len(clauses) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func buildUserOrderBy(ordering []string) (string, error) {
	parts := make([]string, 0, len(ordering)+1)
	seenID := false
	for _, entry := range ordering {
		direction := "ASC"
		field := entry
		if strings.HasPrefix(entry, "-") {
			direction = "DESC"
			field = entry[1:]
		}
		column, ok := userColumns[field]
		if !ok {
			return "", fmt.Errorf("unknown ordering field %q", field)
		}
		if column == "id" {
			seenID = true
		}
		parts = append(parts, column+" "+direction)
	}
	if !seenID {
		parts = append(parts, "id DESC")
	}
	return strings.Join(parts, ", "), nil
}

func scanUser(row interface {
	Scan(dest ...any) error
}) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.UserName,
		&user.FirstName,
		&user.About,
		&user.PasswordHash,
		&user.IsActive,
		&user.IsStaff,
		&user.StartDate,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &user, nil
}

func uniqueViolation(err error, op string) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique") {
		switch {
		case strings.Contains(msg, "users.email"):
			return fmt.Errorf("%s: %w", op, domain.ErrDuplicateEmail)
		case strings.Contains(msg, "users.user_name"):
			return fmt.Errorf("%s: %w", op, domain.ErrDuplicateName)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func requireAffected(res sql.Result, op string) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if aff == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

func isFlagColumn(column string) bool {
	return column == "is_active" || column == "is_staff"
}

func toBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	default:
		return false
	}
}
