package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/qubefyn/inkwell/internal/apperror"
	"github.com/qubefyn/inkwell/internal/validation"
)

// DefaultOTPTTL is how long a one-time code can be redeemed after issue.
const DefaultOTPTTL = 5 * time.Minute

// DefaultOTPLength is the number of characters in a one-time code.
const DefaultOTPLength = 6

// msgInvalidCredentials is shared by the unknown-account and wrong-password
// paths so the response doesn't reveal which one happened.
const msgInvalidCredentials = "invalid username, email or password"

// Notifier delivers outbound mail. Implementations must not block the
// caller on network I/O and never report delivery failures.
type Notifier interface {
	Notify(ctx context.Context, to, subject, text, html string)
}

// AuthService defines the business logic contract for authentication.
// Handlers call these methods -- they never touch the repository directly.
type AuthService interface {
	// Register creates an account and mails a first one-time code.
	Register(ctx context.Context, input RegisterInput) (*User, error)

	// CreateUser creates an account without issuing a code.
	CreateUser(ctx context.Context, input RegisterInput) (*User, error)

	// RequestLogin checks the password and mails a one-time code.
	RequestLogin(ctx context.Context, input LoginInput) (*User, error)

	// RequestOTP mails a fresh code to the authenticated account.
	RequestOTP(ctx context.Context, claims Claims) error

	// VerifyOTP redeems a code and returns a signed session token.
	VerifyOTP(ctx context.Context, email, code string) (*VerifyResult, error)

	// ChangeEmail moves the account to newEmail after redeeming a code
	// issued to the current email.
	ChangeEmail(ctx context.Context, claims Claims, newEmail, code string) (*User, error)

	// ChangePassword replaces the password after checking the current one.
	ChangePassword(ctx context.Context, claims Claims, current, next string) error

	// Authenticate verifies a raw session token and resolves its account.
	Authenticate(ctx context.Context, rawToken string) (*User, *Claims, error)

	// Account resolves claims to the live account record.
	Account(ctx context.Context, claims Claims) (*User, error)
}

// ServiceConfig holds the tunables for the auth flows.
type ServiceConfig struct {
	OTPLength int
	OTPTTL    time.Duration
}

// authService implements AuthService. It holds no per-user state; all
// coordination happens through the repository's atomic writes.
type authService struct {
	repo     UserRepository
	hasher   *Hasher
	codes    CodeGenerator
	issuer   *TokenIssuer
	notifier Notifier
	cfg      ServiceConfig
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService creates a new auth service with the given dependencies.
func NewAuthService(repo UserRepository, hasher *Hasher, codes CodeGenerator, issuer *TokenIssuer, notifier Notifier, cfg ServiceConfig) AuthService {
	if cfg.OTPLength <= 0 {
		cfg.OTPLength = DefaultOTPLength
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = DefaultOTPTTL
	}
	return &authService{
		repo:     repo,
		hasher:   hasher,
		codes:    codes,
		issuer:   issuer,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Register validates input, creates the account and mails a one-time code.
// No session token is issued; the caller proceeds with VerifyOTP. Once the
// row exists the registration stands: a failure to issue the code is logged
// and the user gets a fresh one from Login.
func (s *authService) Register(ctx context.Context, input RegisterInput) (*User, error) {
	input.IsAdmin = false
	user, err := s.CreateUser(ctx, input)
	if err != nil {
		return nil, err
	}

	if err := s.issueCode(ctx, user); err != nil {
		slog.Error("issuing registration code failed",
			slog.Int64("user_id", user.ID),
			slog.Any("error", err),
		)
	}

	slog.Info("user registered",
		slog.Int64("user_id", user.ID),
		slog.String("email", user.Email),
	)
	return user, nil
}

// CreateUser validates uniqueness, hashes the password and persists the
// account. A concurrent insert that wins the race still yields AlreadyExists.
func (s *authService) CreateUser(ctx context.Context, input RegisterInput) (*User, error) {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = normalizeEmail(input.Email)
	if err := validation.Struct(&registerCheck{
		Username: input.Username,
		Email:    input.Email,
		Password: input.Password,
	}); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByUsername(ctx, input.Username)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking username: %w", err))
	}
	if existing != nil {
		return nil, apperror.NewAlreadyExists("an account with this username already exists")
	}

	existing, err = s.repo.FindByEmail(ctx, input.Email)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking email: %w", err))
	}
	if existing != nil {
		return nil, apperror.NewAlreadyExists("an account with this email already exists")
	}

	hash, err := s.hasher.HashSecret(input.Password)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	now := s.now().UTC()
	user := &User{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hash,
		IsAdmin:      input.IsAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, apperror.NewAlreadyExists("an account with this username or email already exists")
		}
		return nil, apperror.NewInternal(fmt.Errorf("creating user: %w", err))
	}

	return user, nil
}

// RequestLogin authenticates the password step. Email takes precedence over
// username when both are supplied. Unknown accounts and wrong passwords are
// indistinguishable to the caller.
func (s *authService) RequestLogin(ctx context.Context, input LoginInput) (*User, error) {
	var (
		user *User
		err  error
	)

	switch {
	case strings.TrimSpace(input.Email) != "":
		user, err = s.repo.FindByEmail(ctx, normalizeEmail(input.Email))
	case strings.TrimSpace(input.Username) != "":
		user, err = s.repo.FindByUsername(ctx, strings.TrimSpace(input.Username))
	default:
		return nil, apperror.NewValidation("username or email is required")
	}
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	if user == nil {
		// Burn the same bcrypt time as a real comparison.
		s.hasher.VerifySecret(input.Password, s.dummy())
		return nil, apperror.NewInvalidCredentials(msgInvalidCredentials)
	}

	if !s.hasher.VerifySecret(input.Password, user.PasswordHash) {
		return nil, apperror.NewInvalidCredentials(msgInvalidCredentials)
	}

	if err := s.issueCode(ctx, user); err != nil {
		return nil, err
	}

	slog.Info("login code issued",
		slog.Int64("user_id", user.ID),
		slog.String("email", user.Email),
	)
	return user, nil
}

// RequestOTP issues a fresh code to an already authenticated account,
// typically ahead of ChangeEmail.
func (s *authService) RequestOTP(ctx context.Context, claims Claims) error {
	user, err := s.Account(ctx, claims)
	if err != nil {
		return err
	}
	return s.issueCode(ctx, user)
}

// VerifyOTP redeems the code issued to email. Checks run in a fixed order:
// account, challenge, code, freshness, single use. The final mark-used is
// conditional so two concurrent redemptions can't both succeed.
func (s *authService) VerifyOTP(ctx context.Context, email, code string) (*VerifyResult, error) {
	email = normalizeEmail(email)

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}
	if user == nil {
		return nil, apperror.NewNotFound("no account is registered with this email")
	}

	if err := s.consumeCode(ctx, user, code); err != nil {
		return nil, err
	}

	token, err := s.issuer.Issue(user.Claims())
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("issuing token: %w", err))
	}

	slog.Info("user logged in",
		slog.Int64("user_id", user.ID),
		slog.String("email", user.Email),
	)
	return &VerifyResult{Token: token, User: user}, nil
}

// ChangeEmail re-resolves the account, rejects a no-op or taken address,
// redeems the code issued to the current email and stores newEmail. The
// code is spent even if the final update loses a race on the new address.
func (s *authService) ChangeEmail(ctx context.Context, claims Claims, newEmail, code string) (*User, error) {
	user, err := s.Account(ctx, claims)
	if err != nil {
		return nil, err
	}

	newEmail = normalizeEmail(newEmail)
	if err := validation.Struct(&emailCheck{Email: newEmail}); err != nil {
		return nil, err
	}
	if newEmail == user.Email {
		return nil, apperror.NewNoOpChange("new email is the same as the current email")
	}

	taken, err := s.repo.FindByEmail(ctx, newEmail)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking email: %w", err))
	}
	if taken != nil {
		return nil, apperror.NewAlreadyExists("an account with this email already exists")
	}

	if err := s.consumeCode(ctx, user, code); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateEmail(ctx, user.ID, newEmail); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyExists):
			return nil, apperror.NewAlreadyExists("an account with this email already exists")
		case errors.Is(err, ErrNotFound):
			return nil, apperror.NewUnauthorized("account no longer exists")
		}
		return nil, apperror.NewInternal(fmt.Errorf("updating email: %w", err))
	}

	slog.Info("email changed",
		slog.Int64("user_id", user.ID),
		slog.String("old_email", user.Email),
		slog.String("new_email", newEmail),
	)

	user.Email = newEmail
	user.UpdatedAt = s.now().UTC()
	return user, nil
}

// ChangePassword rejects an unchanged password, verifies the current one
// and stores a fresh hash of next. Existing session tokens are unaffected.
func (s *authService) ChangePassword(ctx context.Context, claims Claims, current, next string) error {
	user, err := s.Account(ctx, claims)
	if err != nil {
		return err
	}

	// A repeated password is a no-op whether or not it is the right one.
	if next == current {
		return apperror.NewNoOpChange("new password must differ from the current password")
	}

	if err := validation.Struct(&passwordCheck{Password: next}); err != nil {
		return err
	}

	if !s.hasher.VerifySecret(current, user.PasswordHash) {
		return apperror.NewInvalidCredentials("current password is incorrect")
	}

	hash, err := s.hasher.HashSecret(next)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	if err := s.repo.UpdatePassword(ctx, user.ID, hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperror.NewUnauthorized("account no longer exists")
		}
		return apperror.NewInternal(fmt.Errorf("updating password: %w", err))
	}

	slog.Info("password changed", slog.Int64("user_id", user.ID))
	return nil
}

// Authenticate verifies the token signature and expiry, then resolves the
// account. Token failures of any kind collapse into one 401.
func (s *authService) Authenticate(ctx context.Context, rawToken string) (*User, *Claims, error) {
	if rawToken == "" {
		return nil, nil, apperror.NewUnauthorized("authentication required")
	}

	claims, err := s.issuer.Verify(rawToken)
	if err != nil {
		slog.Debug("session token rejected", slog.Any("reason", err))
		return nil, nil, apperror.NewUnauthorized("invalid or expired session")
	}

	user, err := s.Account(ctx, *claims)
	if err != nil {
		return nil, nil, err
	}
	return user, claims, nil
}

// Account looks the claims' username up in the store. A vanished account
// is Unauthorized; a username now owned by a different id is Forbidden.
func (s *authService) Account(ctx context.Context, claims Claims) (*User, error) {
	user, err := s.repo.FindByUsername(ctx, claims.Username)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("resolving account: %w", err))
	}
	if user == nil {
		return nil, apperror.NewUnauthorized("account no longer exists")
	}
	if user.ID != claims.UserID {
		return nil, apperror.NewForbidden("session does not match this account")
	}
	return user, nil
}

// --- Internal helpers ---

// issueCode generates a code, stores its hash as the user's challenge and
// hands the plaintext to the notifier. Regenerating resets the challenge.
func (s *authService) issueCode(ctx context.Context, user *User) error {
	code, err := s.codes.Generate(s.cfg.OTPLength)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("generating otp: %w", err))
	}

	hash, err := s.hasher.HashSecret(code)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("hashing otp: %w", err))
	}

	if err := s.repo.UpsertOTP(ctx, user.Email, hash, user.ID, s.now().UTC()); err != nil {
		return apperror.NewInternal(fmt.Errorf("storing otp: %w", err))
	}

	if s.notifier != nil {
		subject, text, html := otpMessage(code, s.cfg.OTPTTL)
		s.notifier.Notify(ctx, user.Email, subject, text, html)
	}
	return nil
}

// consumeCode checks code against the challenge for user's current email
// and marks it used.
func (s *authService) consumeCode(ctx context.Context, user *User, code string) error {
	ch, err := s.repo.FindOTPByEmail(ctx, user.Email)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("finding otp: %w", err))
	}
	if ch == nil || ch.UserID != user.ID {
		return apperror.NewNotFound("no code has been requested for this email")
	}

	if !s.hasher.VerifySecret(normalizeCode(code), ch.OTPHash) {
		return apperror.NewInvalidCode("the code is incorrect")
	}
	if s.now().Sub(ch.CreatedAt) > s.cfg.OTPTTL {
		return apperror.NewExpired("the code has expired, request a new one")
	}
	if ch.UsedUp {
		return apperror.NewAlreadyUsed("the code has already been used")
	}

	ok, err := s.repo.MarkOTPUsed(ctx, ch.Email, ch.OTPHash)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("consuming otp: %w", err))
	}
	if !ok {
		return apperror.NewAlreadyUsed("the code has already been used")
	}
	return nil
}

// dummy returns a throwaway bcrypt hash for timing equalization, computed
// on first use.
func (s *authService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.HashSecret("not-a-real-password")
		if err != nil {
			slog.Warn("failed to build dummy hash", slog.Any("error", err))
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

// normalizeEmail trims and lowercases an address so lookups are stable.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// normalizeCode accepts codes typed in lowercase or with stray spaces.
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validation shapes for inputs that bypass the HTTP layer.
type registerCheck struct {
	Username string `json:"username" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,min=3,max=200,email"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

type emailCheck struct {
	Email string `json:"email" validate:"required,min=3,max=200,email"`
}

type passwordCheck struct {
	Password string `json:"newPassword" validate:"required,min=6,max=128"`
}
