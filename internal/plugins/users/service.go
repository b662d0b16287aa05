package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/qubefyn/inkwell/internal/apperror"
	"github.com/qubefyn/inkwell/internal/plugins/auth"
)

// AccountCreator creates accounts with the auth core's validation and
// hashing. auth.AuthService satisfies it.
type AccountCreator interface {
	CreateUser(ctx context.Context, input auth.RegisterInput) (*auth.User, error)
}

// UserService defines account administration. actor is the authenticated
// caller as resolved by auth.RequireAuth.
type UserService interface {
	// List returns every account. Admin only.
	List(ctx context.Context, actor *auth.User) ([]auth.User, error)

	// Create opens an account and mails the user a notice. Admin only.
	Create(ctx context.Context, actor *auth.User, req CreateUserRequest) (*auth.User, error)

	// Profile returns an account. Self or admin.
	Profile(ctx context.Context, actor *auth.User, username string) (*auth.User, error)

	// SetAdmin grants or revokes the admin flag. Admin only, never on
	// oneself, and never removing the last admin.
	SetAdmin(ctx context.Context, actor *auth.User, username string, isAdmin bool) (*auth.User, error)

	// Delete removes an account and its code challenge. Self or admin.
	Delete(ctx context.Context, actor *auth.User, username string) (*auth.User, error)
}

// userService implements UserService.
type userService struct {
	repo     auth.UserRepository
	creator  AccountCreator
	notifier auth.Notifier
	baseURL  string
}

// NewUserService creates a new user service. notifier may be nil.
func NewUserService(repo auth.UserRepository, creator AccountCreator, notifier auth.Notifier, baseURL string) UserService {
	return &userService{repo: repo, creator: creator, notifier: notifier, baseURL: baseURL}
}

func (s *userService) List(ctx context.Context, actor *auth.User) ([]auth.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing users: %w", err))
	}
	if users == nil {
		users = []auth.User{}
	}
	return users, nil
}

func (s *userService) Create(ctx context.Context, actor *auth.User, req CreateUserRequest) (*auth.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	user, err := s.creator.CreateUser(ctx, auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		IsAdmin:  req.IsAdmin,
	})
	if err != nil {
		return nil, err
	}

	subject, text, body := accountCreatedMessage(user.Username, user.Email, s.baseURL)
	s.notify(ctx, user.Email, subject, text, body)

	slog.Info("user created by admin",
		slog.Int64("user_id", user.ID),
		slog.Bool("is_admin", user.IsAdmin),
		slog.Int64("by", actor.ID),
	)
	return user, nil
}

func (s *userService) Profile(ctx context.Context, actor *auth.User, username string) (*auth.User, error) {
	if err := requireSelfOrAdmin(actor, username); err != nil {
		return nil, err
	}
	return s.find(ctx, username)
}

func (s *userService) SetAdmin(ctx context.Context, actor *auth.User, username string, isAdmin bool) (*auth.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	user, err := s.find(ctx, username)
	if err != nil {
		return nil, err
	}
	if user.ID == actor.ID {
		return nil, apperror.NewBadRequest("cannot change your own admin status")
	}
	if user.IsAdmin == isAdmin {
		return nil, apperror.NewNoOpChange("admin status is already set to this value")
	}

	// Removing the last admin would lock everyone out of administration.
	if !isAdmin {
		if err := s.ensureOtherAdmin(ctx); err != nil {
			return nil, err
		}
	}

	if err := s.repo.UpdateIsAdmin(ctx, user.ID, isAdmin); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, apperror.NewNotFound("user not found")
		}
		return nil, apperror.NewInternal(fmt.Errorf("updating admin flag: %w", err))
	}
	user.IsAdmin = isAdmin

	subject, text, body := adminChangedMessage(isAdmin)
	s.notify(ctx, user.Email, subject, text, body)

	slog.Info("admin toggled",
		slog.Int64("target_user", user.ID),
		slog.Bool("new_state", isAdmin),
		slog.Int64("by", actor.ID),
	)
	return user, nil
}

func (s *userService) Delete(ctx context.Context, actor *auth.User, username string) (*auth.User, error) {
	if err := requireSelfOrAdmin(actor, username); err != nil {
		return nil, err
	}

	user, err := s.find(ctx, username)
	if err != nil {
		return nil, err
	}
	if user.IsAdmin {
		if err := s.ensureOtherAdmin(ctx); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Delete(ctx, user.ID); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, apperror.NewNotFound("user not found")
		}
		return nil, apperror.NewInternal(fmt.Errorf("deleting user: %w", err))
	}

	slog.Info("user deleted",
		slog.Int64("user_id", user.ID),
		slog.Int64("by", actor.ID),
	)
	return user, nil
}

// --- Internal helpers ---

func (s *userService) find(ctx context.Context, username string) (*auth.User, error) {
	user, err := s.repo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}
	if user == nil {
		return nil, apperror.NewNotFound("user not found")
	}
	return user, nil
}

func (s *userService) ensureOtherAdmin(ctx context.Context) error {
	count, err := s.repo.CountAdmins(ctx)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("counting admins: %w", err))
	}
	if count <= 1 {
		return apperror.NewBadRequest("cannot remove the last admin")
	}
	return nil
}

func (s *userService) notify(ctx context.Context, to string, subject, text, body string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, to, subject, text, body)
}

func requireAdmin(actor *auth.User) error {
	if actor == nil {
		return apperror.NewUnauthorized("authentication required")
	}
	if !actor.IsAdmin {
		return apperror.NewForbidden("admin access required")
	}
	return nil
}

func requireSelfOrAdmin(actor *auth.User, username string) error {
	if actor == nil {
		return apperror.NewUnauthorized("authentication required")
	}
	if actor.IsAdmin || actor.Username == strings.TrimSpace(username) {
		return nil
	}
	return apperror.NewForbidden("you can only access your own account")
}
