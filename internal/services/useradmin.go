package services

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/storefront/checkout-api/internal/logging"
	"github.com/storefront/checkout-api/internal/models"
)

// CreateUserInput is the back office account payload. Role defaults to
// user and IsActive to true.
type CreateUserInput struct {
	Email     string      `json:"email" validate:"required,email"`
	Password  string      `json:"password" validate:"required,min=6,max=72"`
	FirstName string      `json:"first_name" validate:"required,max=50"`
	LastName  string      `json:"last_name" validate:"required,max=50"`
	Phone     string      `json:"phone" validate:"max=20"`
	Role      models.Role `json:"role" validate:"omitempty,oneof=user admin"`
	IsActive  *bool       `json:"is_active"`
}

// UpdateUserInput changes only the fields that are set
type UpdateUserInput struct {
	Email     *string      `json:"email" validate:"omitnil,email"`
	Password  *string      `json:"password" validate:"omitnil,min=6,max=72"`
	FirstName *string      `json:"first_name" validate:"omitnil,min=1,max=50"`
	LastName  *string      `json:"last_name" validate:"omitnil,min=1,max=50"`
	Phone     *string      `json:"phone" validate:"omitnil,max=20"`
	Role      *models.Role `json:"role" validate:"omitnil,oneof=user admin"`
	IsActive  *bool        `json:"is_active"`
}

// ProfileInput is what users may change about themselves
type ProfileInput struct {
	FirstName *string         `json:"first_name" validate:"omitnil,min=1,max=50"`
	LastName  *string         `json:"last_name" validate:"omitnil,min=1,max=50"`
	Phone     *string         `json:"phone" validate:"omitnil,max=20"`
	Address   *models.Address `json:"address"`
}

// ListUsers pages through every account for admins
func (s *UserService) ListUsers(ctx context.Context, actor Actor, f models.UserFilter) ([]models.User, models.Pagination, error) {
	if !actor.IsAdmin() {
		return nil, models.Pagination{}, ErrForbidden
	}
	if f.Role != "" && !f.Role.Valid() {
		return nil, models.Pagination{}, Invalid("role", "must be one of user, admin")
	}
	f.Page = normalizePage(f.Page)
	users, total, err := s.users.ListUsers(ctx, f)
	if err != nil {
		return nil, models.Pagination{}, fmt.Errorf("failed to list users: %w", err)
	}
	return users, models.NewPagination(f.Page, total), nil
}

// LookupUser returns any account to an admin
func (s *UserService) LookupUser(ctx context.Context, actor Actor, id string) (*models.User, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.GetUser(ctx, id)
}

// CreateUser opens an account on behalf of an admin
func (s *UserService) CreateUser(ctx context.Context, actor Actor, in CreateUserInput) (*models.User, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	in.Email = normalizeEmail(in.Email)
	if err := Validate(in); err != nil {
		return nil, err
	}
	role := in.Role
	if role == "" {
		role = models.RoleUser
	}
	active := in.IsActive == nil || *in.IsActive

	u, err := s.create(ctx, RegisterInput{
		Email:     in.Email,
		Password:  in.Password,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Phone:     in.Phone,
	}, role, active)
	if err != nil {
		return nil, err
	}
	logging.FromCtx(ctx).Info("user created by admin", "user_id", u.ID, "admin_id", actor.UserID, "role", role)
	return u, nil
}

// UpdateUser applies an admin edit. Role and status changes take effect on
// the next request of the affected user. Admins cannot demote or
// deactivate themselves.
func (s *UserService) UpdateUser(ctx context.Context, actor Actor, id string, in UpdateUserInput) (*models.User, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if in.Email != nil {
		e := normalizeEmail(*in.Email)
		in.Email = &e
	}
	if err := Validate(in); err != nil {
		return nil, err
	}
	if id == actor.UserID &&
		((in.Role != nil && *in.Role != models.RoleAdmin) || (in.IsActive != nil && !*in.IsActive)) {
		return nil, ErrOwnAccount
	}

	u, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Email != nil {
		u.Email = *in.Email
	}
	if in.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*in.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		u.PasswordHash = string(hash)
	}
	setIf(&u.FirstName, in.FirstName)
	setIf(&u.LastName, in.LastName)
	setIf(&u.Phone, in.Phone)
	setIf(&u.Role, in.Role)
	setIf(&u.IsActive, in.IsActive)

	if err := s.save(ctx, u); err != nil {
		return nil, err
	}
	logging.FromCtx(ctx).Info("user updated by admin", "user_id", id, "admin_id", actor.UserID, "role", u.Role, "is_active", u.IsActive)
	return u, nil
}

// SetActive toggles whether the account may sign in
func (s *UserService) SetActive(ctx context.Context, actor Actor, id string, active bool) (*models.User, error) {
	return s.UpdateUser(ctx, actor, id, UpdateUserInput{IsActive: &active})
}

// DeleteUser removes an account. Orders placed by it are kept.
func (s *UserService) DeleteUser(ctx context.Context, actor Actor, id string) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	if id == actor.UserID {
		return ErrOwnAccount
	}
	if err := s.users.DeleteUser(ctx, id); err != nil {
		return fmt.Errorf("failed to delete user %s: %w", id, err)
	}
	logging.FromCtx(ctx).Info("user deleted by admin", "user_id", id, "admin_id", actor.UserID)
	return nil
}

// UpdateProfile lets a user edit their own names, phone and address
func (s *UserService) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*models.User, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	setIf(&u.FirstName, in.FirstName)
	setIf(&u.LastName, in.LastName)
	setIf(&u.Phone, in.Phone)
	if in.Address != nil {
		a := *in.Address
		u.Address = &a
	}
	if err := s.save(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *UserService) save(ctx context.Context, u *models.User) error {
	err := s.users.UpdateUser(ctx, u)
	if errors.Is(err, models.ErrDuplicate) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", u.ID, err)
	}
	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
