package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/qubefyn/inkwell/internal/apperror"
)

// --- Mock Repository ---

// mockUserRepo implements UserRepository for testing.
type mockUserRepo struct {
	createFn         func(ctx context.Context, user *User) error
	findByIDFn       func(ctx context.Context, id int64) (*User, error)
	findByUsernameFn func(ctx context.Context, username string) (*User, error)
	findByEmailFn    func(ctx context.Context, email string) (*User, error)
	updatePasswordFn func(ctx context.Context, id int64, hash string) error
	updateEmailFn    func(ctx context.Context, id int64, email string) error
	deleteFn         func(ctx context.Context, id int64) error
	listFn           func(ctx context.Context) ([]User, error)
	updateIsAdminFn  func(ctx context.Context, id int64, isAdmin bool) error
	countAdminsFn    func(ctx context.Context) (int, error)
	findOTPFn        func(ctx context.Context, email string) (*OTPChallenge, error)
	upsertOTPFn      func(ctx context.Context, email, hash string, userID int64, createdAt time.Time) error
	markOTPUsedFn    func(ctx context.Context, email, hash string) (bool, error)
}

func (m *mockUserRepo) Create(ctx context.Context, user *User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id int64) (*User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*User, error) {
	if m.findByUsernameFn != nil {
		return m.findByUsernameFn(ctx, username)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	if m.updatePasswordFn != nil {
		return m.updatePasswordFn(ctx, id, hash)
	}
	return nil
}

func (m *mockUserRepo) UpdateEmail(ctx context.Context, id int64, email string) error {
	if m.updateEmailFn != nil {
		return m.updateEmailFn(ctx, id, email)
	}
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id int64) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockUserRepo) List(ctx context.Context) ([]User, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockUserRepo) UpdateIsAdmin(ctx context.Context, id int64, isAdmin bool) error {
	if m.updateIsAdminFn != nil {
		return m.updateIsAdminFn(ctx, id, isAdmin)
	}
	return nil
}

func (m *mockUserRepo) CountAdmins(ctx context.Context) (int, error) {
	if m.countAdminsFn != nil {
		return m.countAdminsFn(ctx)
	}
	return 0, nil
}

func (m *mockUserRepo) FindOTPByEmail(ctx context.Context, email string) (*OTPChallenge, error) {
	if m.findOTPFn != nil {
		return m.findOTPFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) UpsertOTP(ctx context.Context, email, hash string, userID int64, createdAt time.Time) error {
	if m.upsertOTPFn != nil {
		return m.upsertOTPFn(ctx, email, hash, userID, createdAt)
	}
	return nil
}

func (m *mockUserRepo) MarkOTPUsed(ctx context.Context, email, hash string) (bool, error) {
	if m.markOTPUsedFn != nil {
		return m.markOTPUsedFn(ctx, email, hash)
	}
	return true, nil
}

// memStore backs a mockUserRepo with maps so multi-step flows can be
// exercised end to end. The OTP writes mirror the SQL: upsert resets
// used_up, mark-used is conditional on hash and used_up.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*User
	otps   map[string]*OTPChallenge
}

func newMemRepo() (*mockUserRepo, *memStore) {
	st := &memStore{nextID: 1, users: map[int64]*User{}, otps: map[string]*OTPChallenge{}}

	find := func(match func(*User) bool) *User {
		for _, u := range st.users {
			if match(u) {
				cp := *u
				return &cp
			}
		}
		return nil
	}

	repo := &mockUserRepo{
		createFn: func(_ context.Context, user *User) error {
			st.mu.Lock()
			defer st.mu.Unlock()
			if find(func(u *User) bool { return u.Username == user.Username || u.Email == user.Email }) != nil {
				return ErrAlreadyExists
			}
			user.ID = st.nextID
			st.nextID++
			cp := *user
			st.users[user.ID] = &cp
			return nil
		},
		findByUsernameFn: func(_ context.Context, username string) (*User, error) {
			st.mu.Lock()
			defer st.mu.Unlock()
			return find(func(u *User) bool { return u.Username == username }), nil
		},
		findByEmailFn: func(_ context.Context, email string) (*User, error) {
			st.mu.Lock()
			defer st.mu.Unlock()
			return find(func(u *User) bool { return u.Email == email }), nil
		},
		updatePasswordFn: func(_ context.Context, id int64, hash string) error {
			st.mu.Lock()
			defer st.mu.Unlock()
			u, ok := st.users[id]
			if !ok {
				return ErrNotFound
			}
			u.PasswordHash = hash
			return nil
		},
		updateEmailFn: func(_ context.Context, id int64, email string) error {
			st.mu.Lock()
			defer st.mu.Unlock()
			if find(func(u *User) bool { return u.Email == email && u.ID != id }) != nil {
				return ErrAlreadyExists
			}
			u, ok := st.users[id]
			if !ok {
				return ErrNotFound
			}
			u.Email = email
			return nil
		},
		findOTPFn: func(_ context.Context, email string) (*OTPChallenge, error) {
			st.mu.Lock()
			defer st.mu.Unlock()
			ch, ok := st.otps[email]
			if !ok {
				return nil, nil
			}
			cp := *ch
			return &cp, nil
		},
		upsertOTPFn: func(_ context.Context, email, hash string, userID int64, createdAt time.Time) error {
			st.mu.Lock()
			defer st.mu.Unlock()
			st.otps[email] = &OTPChallenge{Email: email, OTPHash: hash, UserID: userID, CreatedAt: createdAt}
			return nil
		},
		markOTPUsedFn: func(_ context.Context, email, hash string) (bool, error) {
			st.mu.Lock()
			defer st.mu.Unlock()
			ch, ok := st.otps[email]
			if !ok || ch.OTPHash != hash || ch.UsedUp {
				return false, nil
			}
			ch.UsedUp = true
			return true, nil
		},
	}
	return repo, st
}

// --- Mock collaborators ---

// fixedCodes always returns the same code.
type fixedCodes struct{ code string }

func (f fixedCodes) Generate(int) (string, error) { return f.code, nil }

// mockNotifier captures every message instead of sending it.
type mockNotifier struct {
	mu   sync.Mutex
	sent []sentMail
}

type sentMail struct {
	to, subject, text, html string
}

func (m *mockNotifier) Notify(_ context.Context, to, subject, text, html string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to, subject, text, html})
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// --- Test Helpers ---

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestAuthService wires an authService with a cheap bcrypt cost, a pinned
// clock and the fixed code "ABC123".
func newTestAuthService(t *testing.T, repo UserRepository) (*authService, *mockNotifier) {
	t.Helper()
	issuer, err := NewTokenIssuer("test-secret", DefaultTokenTTL)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	issuer.now = func() time.Time { return testNow }

	notifier := &mockNotifier{}
	svc := NewAuthService(repo, NewHasher(bcrypt.MinCost), fixedCodes{code: "ABC123"}, issuer, notifier,
		ServiceConfig{OTPLength: 6, OTPTTL: 5 * time.Minute}).(*authService)
	svc.now = func() time.Time { return testNow }
	return svc, notifier
}

// assertAppError checks that err is an *apperror.AppError with the expected code.
func assertAppError(t *testing.T, err error, expectedCode int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %d, got nil", expectedCode)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if appErr.Code != expectedCode {
		t.Errorf("expected status %d, got %d (message: %s)", expectedCode, appErr.Code, appErr.Message)
	}
}

// assertAppType checks the machine-readable error type.
func assertAppType(t *testing.T, err error, typ string) {
	t.Helper()
	if !apperror.Is(err, typ) {
		t.Fatalf("expected error type %q, got %v", typ, err)
	}
}

// registerAlice registers alice@example.com and returns the user.
func registerAlice(t *testing.T, svc *authService) *User {
	t.Helper()
	user, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "password1",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return user
}

// --- Register Tests ---

func TestRegister_Success(t *testing.T) {
	repo, st := newMemRepo()
	svc, notifier := newTestAuthService(t, repo)

	user := registerAlice(t, svc)

	if user.ID == 0 {
		t.Error("expected an assigned id")
	}
	if user.IsAdmin {
		t.Error("self-registered users must not be admins")
	}
	if user.PasswordHash == "password1" || user.PasswordHash == svc.hasher.Prehash("password1") {
		t.Error("password stored without bcrypt")
	}
	if !svc.hasher.VerifySecret("password1", user.PasswordHash) {
		t.Error("stored hash doesn't verify")
	}

	ch := st.otps["alice@example.com"]
	if ch == nil {
		t.Fatal("expected an otp challenge")
	}
	if ch.OTPHash == "ABC123" || !svc.hasher.VerifySecret("ABC123", ch.OTPHash) {
		t.Error("otp must be stored as a verifiable hash")
	}
	if ch.UsedUp || !ch.CreatedAt.Equal(testNow) {
		t.Errorf("unexpected challenge state: %+v", ch)
	}

	if notifier.count() != 1 {
		t.Fatalf("expected 1 mail, got %d", notifier.count())
	}
	mail := notifier.sent[0]
	if mail.to != "alice@example.com" || mail.subject != "Your OTP Code" {
		t.Errorf("unexpected mail: %+v", mail)
	}
	if mail.text != "Your OTP code is: ABC123" {
		t.Errorf("unexpected text body: %q", mail.text)
	}
	if !strings.Contains(mail.html, "valid for 5 minutes") {
		t.Errorf("html should mention validity: %q", mail.html)
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	registerAlice(t, svc)

	_, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "other@example.com", Password: "password1",
	})
	assertAppError(t, err, http.StatusConflict)
	assertAppType(t, err, apperror.TypeAlreadyExists)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	registerAlice(t, svc)

	_, err := svc.Register(context.Background(), RegisterInput{
		Username: "bob", Email: "Alice@Example.com", Password: "password1",
	})
	assertAppType(t, err, apperror.TypeAlreadyExists)
}

func TestRegister_RacingInsert(t *testing.T) {
	repo := &mockUserRepo{
		createFn: func(ctx context.Context, user *User) error { return ErrAlreadyExists },
	}
	svc, notifier := newTestAuthService(t, repo)

	_, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "alice@example.com", Password: "password1",
	})
	assertAppError(t, err, http.StatusConflict)
	if notifier.count() != 0 {
		t.Error("no mail should be sent when creation fails")
	}
}

func TestRegister_Validation(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)

	tests := []struct {
		name  string
		input RegisterInput
	}{
		{"short username", RegisterInput{Username: "a", Email: "a@example.com", Password: "password1"}},
		{"bad email", RegisterInput{Username: "alice", Email: "nope", Password: "password1"}},
		{"short password", RegisterInput{Username: "alice", Email: "a@example.com", Password: "12345"}},
		{"long username", RegisterInput{Username: strings.Repeat("x", 101), Email: "a@example.com", Password: "password1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.input)
			assertAppError(t, err, http.StatusBadRequest)
			assertAppType(t, err, apperror.TypeValidation)
		})
	}
}

func TestRegister_StoreFailure(t *testing.T) {
	repo := &mockUserRepo{
		findByUsernameFn: func(ctx context.Context, username string) (*User, error) {
			return nil, errors.New("connection reset")
		},
	}
	svc, _ := newTestAuthService(t, repo)

	_, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "alice@example.com", Password: "password1",
	})
	assertAppError(t, err, http.StatusInternalServerError)
	if strings.Contains(apperror.SafeMessage(err), "connection reset") {
		t.Error("internal cause leaked")
	}
}

func TestRegister_CodeFailureKeepsAccount(t *testing.T) {
	repo, st := newMemRepo()
	upsert := repo.upsertOTPFn
	repo.upsertOTPFn = func(ctx context.Context, email, hash string, userID int64, createdAt time.Time) error {
		return errors.New("deadlock found")
	}
	svc, notifier := newTestAuthService(t, repo)

	user, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "alice@example.com", Password: "password1",
	})
	if err != nil {
		t.Fatalf("registration should stand once the account exists: %v", err)
	}
	if st.users[user.ID] == nil {
		t.Fatal("expected the account to be stored")
	}
	if notifier.count() != 0 {
		t.Error("no mail should be sent without a stored code")
	}

	// Login recovers by issuing a fresh code.
	repo.upsertOTPFn = upsert
	if _, err := svc.RequestLogin(context.Background(), LoginInput{Email: "alice@example.com", Password: "password1"}); err != nil {
		t.Fatalf("RequestLogin: %v", err)
	}
	if notifier.count() != 1 {
		t.Errorf("expected login to mail a code, got %d mails", notifier.count())
	}
}

func TestCreateUser_AdminFlagNoCode(t *testing.T) {
	repo, st := newMemRepo()
	svc, notifier := newTestAuthService(t, repo)

	user, err := svc.CreateUser(context.Background(), RegisterInput{
		Username: "root", Email: "root@example.com", Password: "password1", IsAdmin: true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if !user.IsAdmin {
		t.Error("expected admin flag to be kept")
	}
	if len(st.otps) != 0 || notifier.count() != 0 {
		t.Error("CreateUser must not issue a code")
	}
}

// --- RequestLogin Tests ---

func TestRequestLogin_ByUsername(t *testing.T) {
	repo, st := newMemRepo()
	svc, notifier := newTestAuthService(t, repo)
	registerAlice(t, svc)
	st.otps["alice@example.com"].UsedUp = true

	svc.now = func() time.Time { return testNow.Add(time.Minute) }
	user, err := svc.RequestLogin(context.Background(), LoginInput{Username: "alice", Password: "password1"})
	if err != nil {
		t.Fatalf("RequestLogin: %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("unexpected user %q", user.Username)
	}

	ch := st.otps["alice@example.com"]
	if ch.UsedUp {
		t.Error("a fresh code must reset used_up")
	}
	if !ch.CreatedAt.Equal(testNow.Add(time.Minute)) {
		t.Error("a fresh code must reset created_at")
	}
	if notifier.count() != 2 {
		t.Errorf("expected 2 mails, got %d", notifier.count())
	}
}

func TestRequestLogin_EmailTakesPrecedence(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	registerAlice(t, svc)

	_, err := svc.RequestLogin(context.Background(), LoginInput{
		Username: "nobody", Email: "alice@example.com", Password: "password1",
	})
	if err != nil {
		t.Fatalf("expected email lookup to win, got %v", err)
	}
}

func TestRequestLogin_UniformFailure(t *testing.T) {
	repo, st := newMemRepo()
	svc, notifier := newTestAuthService(t, repo)
	registerAlice(t, svc)
	before := *st.otps["alice@example.com"]

	_, wrongPw := svc.RequestLogin(context.Background(), LoginInput{Username: "alice", Password: "wrong-password"})
	_, unknown := svc.RequestLogin(context.Background(), LoginInput{Username: "mallory", Password: "wrong-password"})

	assertAppType(t, wrongPw, apperror.TypeInvalidCredentials)
	assertAppType(t, unknown, apperror.TypeInvalidCredentials)
	if apperror.SafeMessage(wrongPw) != apperror.SafeMessage(unknown) {
		t.Error("unknown account and wrong password must be indistinguishable")
	}

	if after := *st.otps["alice@example.com"]; after != before {
		t.Error("a failed login must not touch the challenge")
	}
	if notifier.count() != 1 {
		t.Error("a failed login must not send mail")
	}
}

func TestRequestLogin_NoIdentifier(t *testing.T) {
	svc, _ := newTestAuthService(t, &mockUserRepo{})

	_, err := svc.RequestLogin(context.Background(), LoginInput{Password: "password1"})
	assertAppType(t, err, apperror.TypeValidation)
}

// --- VerifyOTP Tests ---

func TestVerifyOTP_Success(t *testing.T) {
	repo, st := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	alice := registerAlice(t, svc)

	svc.now = func() time.Time { return testNow.Add(4 * time.Minute) }
	res, err := svc.VerifyOTP(context.Background(), "alice@example.com", "ABC123")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if res.User.ID != alice.ID {
		t.Errorf("wrong user returned")
	}
	if !st.otps["alice@example.com"].UsedUp {
		t.Error("challenge must be marked used")
	}

	claims, err := svc.issuer.Verify(res.Token)
	if err != nil {
		t.Fatalf("issued token doesn't verify: %v", err)
	}
	if claims.UserID != alice.ID || claims.Username != "alice" || claims.IsAdmin {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestVerifyOTP_AcceptsLowercaseCode(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	registerAlice(t, svc)

	if _, err := svc.VerifyOTP(context.Background(), "alice@example.com", " abc123 "); err != nil {
		t.Fatalf("expected normalized code to verify: %v", err)
	}
}

func TestVerifyOTP_NotRegistered(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)

	_, err := svc.VerifyOTP(context.Background(), "ghost@example.com", "ABC123")
	assertAppError(t, err, http.StatusNotFound)
}

func TestVerifyOTP_NoChallenge(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	if _, err := svc.CreateUser(context.Background(), RegisterInput{
		Username: "bob", Email: "bob@example.com", Password: "password1",
	}); err != nil {
		t.Fatal(err)
	}

	_, err := svc.VerifyOTP(context.Background(), "bob@example.com", "ABC123")
	assertAppError(t, err, http.StatusNotFound)
}

func TestVerifyOTP_InvalidCode(t *testing.T) {
	repo, st := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	registerAlice(t, svc)

	_, err := svc.VerifyOTP(context.Background(), "alice@example.com", "ZZZ999")
	assertAppError(t, err, http.StatusUnauthorized)
	assertAppType(t, err, apperror.TypeInvalidCode)
	if st.otps["alice@example.com"].UsedUp {
		t.Error("a wrong code must not consume the challenge")
	}
}

func TestVerifyOTP_Expired(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	registerAlice(t, svc)

	svc.now = func() time.Time { return testNow.Add(5*time.Minute + time.Second) }
	_, err := svc.VerifyOTP(context.Background(), "alice@example.com", "ABC123")
	assertAppType(t, err, apperror.TypeExpired)
}

func TestVerifyOTP_ExactlyAtLimitStillValid(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	registerAlice(t, svc)

	svc.now = func() time.Time { return testNow.Add(5 * time.Minute) }
	if _, err := svc.VerifyOTP(context.Background(), "alice@example.com", "ABC123"); err != nil {
		t.Fatalf("code at exactly the ttl should verify: %v", err)
	}
}

func TestVerifyOTP_InvalidBeforeExpired(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	registerAlice(t, svc)

	svc.now = func() time.Time { return testNow.Add(time.Hour) }
	_, err := svc.VerifyOTP(context.Background(), "alice@example.com", "WRONG1")
	assertAppType(t, err, apperror.TypeInvalidCode)
}

func TestVerifyOTP_SingleUse(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	registerAlice(t, svc)

	if _, err := svc.VerifyOTP(context.Background(), "alice@example.com", "ABC123"); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	_, err := svc.VerifyOTP(context.Background(), "alice@example.com", "ABC123")
	assertAppError(t, err, http.StatusUnauthorized)
	assertAppType(t, err, apperror.TypeAlreadyUsed)
}

func TestVerifyOTP_ConcurrentOnlyOneWins(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	registerAlice(t, svc)

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		used      int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.VerifyOTP(context.Background(), "alice@example.com", "ABC123")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case apperror.Is(err, apperror.TypeAlreadyUsed):
				used++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("expected exactly one success, got %d", successes)
	}
	if used != n-1 {
		t.Errorf("expected %d already-used failures, got %d", n-1, used)
	}
}

func TestVerifyOTP_LostRaceIsAlreadyUsed(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	registerAlice(t, svc)

	// Another request consumes the code between our read and our write.
	repo.markOTPUsedFn = func(ctx context.Context, email, hash string) (bool, error) {
		return false, nil
	}

	_, err := svc.VerifyOTP(context.Background(), "alice@example.com", "ABC123")
	assertAppType(t, err, apperror.TypeAlreadyUsed)
}

func TestVerifyOTP_NewCodeReplacesOld(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	registerAlice(t, svc)

	svc.codes = fixedCodes{code: "DEF456"}
	if _, err := svc.RequestLogin(context.Background(), LoginInput{Username: "alice", Password: "password1"}); err != nil {
		t.Fatal(err)
	}

	_, err := svc.VerifyOTP(context.Background(), "alice@example.com", "ABC123")
	assertAppType(t, err, apperror.TypeInvalidCode)

	if _, err := svc.VerifyOTP(context.Background(), "alice@example.com", "DEF456"); err != nil {
		t.Fatalf("new code should verify: %v", err)
	}
}

// --- ChangeEmail Tests ---

func TestChangeEmail_Success(t *testing.T) {
	repo, st := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	alice := registerAlice(t, svc)

	user, err := svc.ChangeEmail(context.Background(), alice.Claims(), "alice@new.example.com", "ABC123")
	if err != nil {
		t.Fatalf("ChangeEmail: %v", err)
	}
	if user.Email != "alice@new.example.com" {
		t.Errorf("email not updated: %q", user.Email)
	}
	if st.users[alice.ID].Email != "alice@new.example.com" {
		t.Error("store not updated")
	}
	if !st.otps["alice@example.com"].UsedUp {
		t.Error("code must be consumed")
	}
}

func TestChangeEmail_SameEmailIsNoOp(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	alice := registerAlice(t, svc)

	_, err := svc.ChangeEmail(context.Background(), alice.Claims(), "ALICE@example.com", "ABC123")
	assertAppType(t, err, apperror.TypeNoOpChange)
}

func TestChangeEmail_Taken(t *testing.T) {
	repo, st := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	alice := registerAlice(t, svc)
	if _, err := svc.CreateUser(context.Background(), RegisterInput{
		Username: "bob", Email: "bob@example.com", Password: "password1",
	}); err != nil {
		t.Fatal(err)
	}

	_, err := svc.ChangeEmail(context.Background(), alice.Claims(), "bob@example.com", "ABC123")
	assertAppError(t, err, http.StatusConflict)
	if st.otps["alice@example.com"].UsedUp {
		t.Error("a rejected change must not consume the code")
	}
}

func TestChangeEmail_CodeRules(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	alice := registerAlice(t, svc)

	_, err := svc.ChangeEmail(context.Background(), alice.Claims(), "a2@example.com", "WRONG1")
	assertAppType(t, err, apperror.TypeInvalidCode)

	svc.now = func() time.Time { return testNow.Add(6 * time.Minute) }
	_, err = svc.ChangeEmail(context.Background(), alice.Claims(), "a2@example.com", "ABC123")
	assertAppType(t, err, apperror.TypeExpired)
}

func TestChangeEmail_AccountGone(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)

	_, err := svc.ChangeEmail(context.Background(), Claims{UserID: 9, Username: "ghost"}, "g@example.com", "ABC123")
	assertAppError(t, err, http.StatusUnauthorized)
}

func TestChangeEmail_ClaimsMismatch(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	alice := registerAlice(t, svc)

	claims := alice.Claims()
	claims.UserID = alice.ID + 100
	_, err := svc.ChangeEmail(context.Background(), claims, "a2@example.com", "ABC123")
	assertAppError(t, err, http.StatusForbidden)
}

// --- ChangePassword Tests ---

func TestChangePassword_Success(t *testing.T) {
	repo, st := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	alice := registerAlice(t, svc)

	if err := svc.ChangePassword(context.Background(), alice.Claims(), "password1", "password2"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	stored := st.users[alice.ID].PasswordHash
	if !svc.hasher.VerifySecret("password2", stored) {
		t.Error("new password doesn't verify")
	}
	if svc.hasher.VerifySecret("password1", stored) {
		t.Error("old password still verifies")
	}

	_, err := svc.RequestLogin(context.Background(), LoginInput{Username: "alice", Password: "password1"})
	assertAppType(t, err, apperror.TypeInvalidCredentials)
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	alice := registerAlice(t, svc)

	err := svc.ChangePassword(context.Background(), alice.Claims(), "not-mine", "password2")
	assertAppError(t, err, http.StatusUnauthorized)
	assertAppType(t, err, apperror.TypeInvalidCredentials)
}

func TestChangePassword_SameIsNoOp(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	alice := registerAlice(t, svc)

	err := svc.ChangePassword(context.Background(), alice.Claims(), "password1", "password1")
	assertAppType(t, err, apperror.TypeNoOpChange)
}

func TestChangePassword_SameIsNoOpRegardlessOfCurrent(t *testing.T) {
	repo, store := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	alice := registerAlice(t, svc)
	before := store.users[alice.ID].PasswordHash

	tests := []struct {
		name     string
		password string
	}{
		{"wrong current", "wrongpass9"},
		{"too short", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.ChangePassword(context.Background(), alice.Claims(), tt.password, tt.password)
			assertAppType(t, err, apperror.TypeNoOpChange)
		})
	}

	if store.users[alice.ID].PasswordHash != before {
		t.Error("password hash must not change on a no-op")
	}
}

func TestChangePassword_TooShort(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	alice := registerAlice(t, svc)

	err := svc.ChangePassword(context.Background(), alice.Claims(), "password1", "123")
	assertAppType(t, err, apperror.TypeValidation)
}

// --- Authenticate Tests ---

func TestAuthenticate_Success(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	registerAlice(t, svc)
	res, err := svc.VerifyOTP(context.Background(), "alice@example.com", "ABC123")
	if err != nil {
		t.Fatal(err)
	}

	user, claims, err := svc.Authenticate(context.Background(), res.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.Username != "alice" || claims.Username != "alice" {
		t.Errorf("unexpected identity: %+v %+v", user, claims)
	}
}

func TestAuthenticate_BadTokensCollapseTo401(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	alice := registerAlice(t, svc)

	good, err := svc.issuer.Issue(alice.Claims())
	if err != nil {
		t.Fatal(err)
	}

	svc.issuer.now = func() time.Time { return testNow.Add(6 * 24 * time.Hour) }
	_, _, expiredErr := svc.Authenticate(context.Background(), good)
	svc.issuer.now = func() time.Time { return testNow }
	_, _, tamperedErr := svc.Authenticate(context.Background(), good+"x")
	_, _, emptyErr := svc.Authenticate(context.Background(), "")

	for _, err := range []error{expiredErr, tamperedErr, emptyErr} {
		assertAppError(t, err, http.StatusUnauthorized)
		assertAppType(t, err, apperror.TypeUnauthorized)
	}
	if apperror.SafeMessage(expiredErr) != apperror.SafeMessage(tamperedErr) {
		t.Error("expired and tampered tokens must look the same to clients")
	}
}

func TestAuthenticate_DeletedAccount(t *testing.T) {
	repo, st := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	alice := registerAlice(t, svc)
	token, _ := svc.issuer.Issue(alice.Claims())

	delete(st.users, alice.ID)

	_, _, err := svc.Authenticate(context.Background(), token)
	assertAppError(t, err, http.StatusUnauthorized)
}

func TestAccount_ReflectsLiveAdminFlag(t *testing.T) {
	repo, st := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	alice := registerAlice(t, svc)
	claims := alice.Claims()

	st.users[alice.ID].IsAdmin = true

	user, err := svc.Account(context.Background(), claims)
	if err != nil {
		t.Fatal(err)
	}
	if !user.IsAdmin {
		t.Error("account must come from the store, not the token")
	}
}

// --- RequestOTP Tests ---

func TestRequestOTP_Authenticated(t *testing.T) {
	repo, st := newMemRepo()
	svc, notifier := newTestAuthService(t, repo)
	alice := registerAlice(t, svc)
	st.otps["alice@example.com"].UsedUp = true

	if err := svc.RequestOTP(context.Background(), alice.Claims()); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	if st.otps["alice@example.com"].UsedUp {
		t.Error("fresh code must be unused")
	}
	if notifier.count() != 2 {
		t.Errorf("expected 2 mails, got %d", notifier.count())
	}
}

func TestRequestOTP_UpsertFailure(t *testing.T) {
	repo, _ := newMemRepo()
	svc, _ := newTestAuthService(t, repo)
	alice := registerAlice(t, svc)

	repo.upsertOTPFn = func(ctx context.Context, email, hash string, userID int64, createdAt time.Time) error {
		return errors.New("deadlock")
	}
	err := svc.RequestOTP(context.Background(), alice.Claims())
	assertAppError(t, err, http.StatusInternalServerError)
}
