package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// mysqlDuplicateEntry is the MariaDB error number for a unique key violation.
const mysqlDuplicateEntry = 1062

var (
	// ErrAlreadyExists is returned when a write violates a unique key.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrNotFound is returned by updates that match no row.
	ErrNotFound = errors.New("record not found")
)

// UserRepository defines the data access contract for accounts and their
// one-time code challenges. Lookups return (nil, nil) when nothing matches.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	UpdateEmail(ctx context.Context, id int64, email string) error
	Delete(ctx context.Context, id int64) error

	// Admin operations.
	List(ctx context.Context) ([]User, error)
	UpdateIsAdmin(ctx context.Context, id int64, isAdmin bool) error
	CountAdmins(ctx context.Context) (int, error)

	// One-time code challenges, one row per email.
	FindOTPByEmail(ctx context.Context, email string) (*OTPChallenge, error)
	UpsertOTP(ctx context.Context, email, otpHash string, userID int64, createdAt time.Time) error
	MarkOTPUsed(ctx context.Context, email, otpHash string) (bool, error)
}

// userRepository implements UserRepository with hand-written MariaDB queries.
type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository backed by the given DB pool.
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, username, email, password_hash, is_admin, created_at, updated_at`

// Create inserts a new user and sets user.ID from the auto-increment key.
// A username or email collision returns ErrAlreadyExists.
func (r *userRepository) Create(ctx context.Context, user *User) error {
	query := `INSERT INTO users (username, email, password_hash, is_admin, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.IsAdmin,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isDuplicate(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading user id: %w", err)
	}
	user.ID = id

	return nil
}

// FindByID retrieves a user by primary key.
func (r *userRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// FindByUsername retrieves a user by username.
func (r *userRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

// FindByEmail retrieves a user by email address.
func (r *userRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

func (r *userRepository) findOne(ctx context.Context, query string, arg any) (*User, error) {
	user := &User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.IsAdmin,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return user, nil
}

// UpdatePassword replaces the stored password hash.
func (r *userRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	return r.updateOne(ctx, "updating password",
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC(), id)
}

// UpdateEmail replaces the account email. A collision with another account
// returns ErrAlreadyExists.
func (r *userRepository) UpdateEmail(ctx context.Context, id int64, email string) error {
	return r.updateOne(ctx, "updating email",
		`UPDATE users SET email = ?, updated_at = ? WHERE id = ?`,
		email, time.Now().UTC(), id)
}

// UpdateIsAdmin sets or clears the is_admin flag.
func (r *userRepository) UpdateIsAdmin(ctx context.Context, id int64, isAdmin bool) error {
	return r.updateOne(ctx, "updating is_admin",
		`UPDATE users SET is_admin = ?, updated_at = ? WHERE id = ?`,
		isAdmin, time.Now().UTC(), id)
}

// updateOne runs a single-row UPDATE. updated_at always changes, so zero
// affected rows means the id is gone.
func (r *userRepository) updateOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isDuplicate(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a user. Its OTP challenges go with it via ON DELETE CASCADE.
func (r *userRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all users ordered by id. Password hashes are not selected.
func (r *userRepository) List(ctx context.Context) ([]User, error) {
	query := `SELECT id, username, email, is_admin, created_at, updated_at
	          FROM users ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}

	return users, nil
}

// CountAdmins returns the number of users with is_admin set.
func (r *userRepository) CountAdmins(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE is_admin = TRUE`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting admins: %w", err)
	}
	return count, nil
}

// --- One-time code challenges ---

// FindOTPByEmail returns the challenge for email, or nil if none was issued.
func (r *userRepository) FindOTPByEmail(ctx context.Context, email string) (*OTPChallenge, error) {
	query := `SELECT email, otp_hash, user_id, used_up, created_at
	          FROM otp_challenges WHERE email = ?`

	ch := &OTPChallenge{}
	err := r.db.QueryRowContext(ctx, query, email).Scan(
		&ch.Email,
		&ch.OTPHash,
		&ch.UserID,
		&ch.UsedUp,
		&ch.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying otp challenge: %w", err)
	}
	return ch, nil
}

// UpsertOTP creates or replaces the challenge for email in one statement,
// so concurrent requests for the same email leave exactly one row. A
// replaced challenge is reset to unused.
func (r *userRepository) UpsertOTP(ctx context.Context, email, otpHash string, userID int64, createdAt time.Time) error {
	query := `INSERT INTO otp_challenges (email, otp_hash, user_id, used_up, created_at)
	          VALUES (?, ?, ?, FALSE, ?)
	          ON DUPLICATE KEY UPDATE
	              otp_hash = VALUES(otp_hash),
	              user_id = VALUES(user_id),
	              used_up = FALSE,
	              created_at = VALUES(created_at)`

	if _, err := r.db.ExecContext(ctx, query, email, otpHash, userID, createdAt); err != nil {
		return fmt.Errorf("upserting otp challenge: %w", err)
	}
	return nil
}

// MarkOTPUsed flips used_up only if the row still holds otpHash and is
// unused. It returns false when a concurrent verification or a fresh code
// got there first.
func (r *userRepository) MarkOTPUsed(ctx context.Context, email, otpHash string) (bool, error) {
	query := `UPDATE otp_challenges SET used_up = TRUE
	          WHERE email = ? AND otp_hash = ? AND used_up = FALSE`

	result, err := r.db.ExecContext(ctx, query, email, otpHash)
	if err != nil {
		return false, fmt.Errorf("marking otp used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("marking otp used: %w", err)
	}
	return n == 1, nil
}

// isDuplicate reports whether err is a MariaDB unique key violation.
func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}
