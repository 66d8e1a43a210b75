package user

import (
	"context"
	"database/sql"
	"errors"

	"flowchat/internal/db"
)

var (
	ErrNotFound  = errors.New("user not found")
	ErrDuplicate = errors.New("a user with this email or username already exists")
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = "id, email, username, first_name, last_name, bio, profile_picture, password, is_online, last_seen, created_at"

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.FirstName, &u.LastName, &u.Bio, &u.ProfilePicture,
		&u.Password, &u.IsOnline, &u.LastSeen, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	query := `INSERT INTO users (email, username, first_name, last_name, password)
		VALUES ($1, $2, $3, $4, $5) RETURNING id, last_seen, created_at`

	err := r.db.QueryRowContext(ctx, query, user.Email, user.Username, user.FirstName, user.LastName, user.Password).
		Scan(&user.ID, &user.LastSeen, &user.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return user, nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE LOWER(email) = LOWER($1)"
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *Repository) GetUserByID(ctx context.Context, id int64) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE id = $1"
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *Repository) SearchUsers(ctx context.Context, query string, exclude int64) ([]User, error) {
	q := `SELECT ` + userColumns + ` FROM users
		WHERE id <> $2 AND (username ILIKE $1 OR email ILIKE $1 OR first_name ILIKE $1 OR last_name ILIKE $1)
		ORDER BY username LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%", exclude)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateProfile applies the non-nil fields of req and returns the updated
// user.
func (r *Repository) UpdateProfile(ctx context.Context, id int64, req *UpdateProfileRequest) (*User, error) {
	query := `UPDATE users SET
		first_name = COALESCE($2, first_name),
		last_name = COALESCE($3, last_name),
		bio = COALESCE($4, bio),
		profile_picture = COALESCE($5, profile_picture)
		WHERE id = $1
		RETURNING ` + userColumns
	return scanUser(r.db.QueryRowContext(ctx, query, id, req.FirstName, req.LastName, req.Bio, req.ProfilePicture))
}

// LookupUser finds one user other than exclude by exact id, or by
// case-insensitive username or email.
func (r *Repository) LookupUser(ctx context.Context, q LookupQuery, exclude int64) (*User, error) {
	var (
		where string
		arg   any
	)
	switch {
	case q.UserID > 0:
		where, arg = "id = $1", q.UserID
	case q.Username != "":
		where, arg = "LOWER(username) = LOWER($1)", q.Username
	default:
		where, arg = "LOWER(email) = LOWER($1)", q.Email
	}
	query := "SELECT " + userColumns + " FROM users WHERE " + where + " AND id <> $2"
	return scanUser(r.db.QueryRowContext(ctx, query, arg, exclude))
}
