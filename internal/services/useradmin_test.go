package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/storefront/checkout-api/internal/models"
)

func ptr[T any](v T) *T { return &v }

func newUserInput(email string) CreateUserInput {
	return CreateUserInput{Email: email, Password: "hunter22", FirstName: "Ann", LastName: "Bee"}
}

func TestAdminUserManagement(t *testing.T) {
	ctx := context.Background()
	svc, _ := newUserService(t)

	root, err := svc.CreateUser(ctx, admin, CreateUserInput{
		Email: "root@example.com", Password: "hunter22", FirstName: "Root", LastName: "Admin", Role: models.RoleAdmin,
	})
	require.NoError(t, err)
	self := Actor{UserID: root.ID, Role: models.RoleAdmin}

	t.Run("admin only", func(t *testing.T) {
		_, _, err := svc.ListUsers(ctx, alice, models.UserFilter{})
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = svc.CreateUser(ctx, alice, newUserInput("x@example.com"))
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = svc.LookupUser(ctx, alice, root.ID)
		assert.ErrorIs(t, err, ErrForbidden)
		assert.ErrorIs(t, svc.DeleteUser(ctx, alice, root.ID), ErrForbidden)
	})

	t.Run("create inactive", func(t *testing.T) {
		in := newUserInput(" Dormant@Example.com")
		in.IsActive = ptr(false)
		u, err := svc.CreateUser(ctx, self, in)
		require.NoError(t, err)
		assert.Equal(t, "dormant@example.com", u.Email)
		assert.Equal(t, models.RoleUser, u.Role)
		assert.False(t, u.IsActive)

		_, _, err = svc.Login(ctx, LoginInput{Email: "dormant@example.com", Password: "hunter22"})
		assert.ErrorIs(t, err, ErrInactiveAccount)

		_, err = svc.CreateUser(ctx, self, newUserInput("dormant@example.com"))
		assert.ErrorIs(t, err, ErrEmailTaken)
	})

	t.Run("invalid input", func(t *testing.T) {
		in := newUserInput("bad@example.com")
		in.Role = "owner"
		_, err := svc.CreateUser(ctx, self, in)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)

		_, _, err = svc.ListUsers(ctx, self, models.UserFilter{Role: "owner"})
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("list and search", func(t *testing.T) {
		users, page, err := svc.ListUsers(ctx, self, models.UserFilter{Search: "DORMANT"})
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, "dormant@example.com", users[0].Email)
		assert.Equal(t, int64(1), page.Total)

		admins, _, err := svc.ListUsers(ctx, self, models.UserFilter{Role: models.RoleAdmin})
		require.NoError(t, err)
		require.Len(t, admins, 1)
		assert.Equal(t, root.ID, admins[0].ID)
	})

	t.Run("update fields", func(t *testing.T) {
		u, err := svc.CreateUser(ctx, self, newUserInput("ann@example.com"))
		require.NoError(t, err)

		updated, err := svc.UpdateUser(ctx, self, u.ID, UpdateUserInput{
			Email:     ptr("Ann.B@Example.com"),
			Password:  ptr("new-secret"),
			FirstName: ptr("Annie"),
			Role:      ptr(models.RoleAdmin),
		})
		require.NoError(t, err)
		assert.Equal(t, "ann.b@example.com", updated.Email)
		assert.Equal(t, "Annie", updated.FirstName)
		assert.Equal(t, "Bee", updated.LastName)
		assert.Equal(t, models.RoleAdmin, updated.Role)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(updated.PasswordHash), []byte("new-secret")))

		_, err = svc.UpdateUser(ctx, self, u.ID, UpdateUserInput{Email: ptr("root@example.com")})
		assert.ErrorIs(t, err, ErrEmailTaken)

		_, err = svc.UpdateUser(ctx, self, u.ID, UpdateUserInput{FirstName: ptr("")})
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)

		_, err = svc.UpdateUser(ctx, self, "missing", UpdateUserInput{FirstName: ptr("X")})
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("status and role apply to live tokens", func(t *testing.T) {
		u, err := svc.CreateUser(ctx, self, CreateUserInput{
			Email: "ops@example.com", Password: "hunter22", FirstName: "Op", LastName: "S", Role: models.RoleAdmin,
		})
		require.NoError(t, err)
		token, err := svc.IssueToken(u)
		require.NoError(t, err)

		_, err = svc.UpdateUser(ctx, self, u.ID, UpdateUserInput{Role: ptr(models.RoleUser)})
		require.NoError(t, err)
		authed, err := svc.Authenticate(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, models.RoleUser, authed.Role)

		_, err = svc.SetActive(ctx, self, u.ID, false)
		require.NoError(t, err)
		_, err = svc.Authenticate(ctx, token)
		assert.ErrorIs(t, err, ErrInactiveAccount)
	})

	t.Run("own account guard", func(t *testing.T) {
		_, err := svc.UpdateUser(ctx, self, root.ID, UpdateUserInput{Role: ptr(models.RoleUser)})
		assert.ErrorIs(t, err, ErrOwnAccount)
		_, err = svc.SetActive(ctx, self, root.ID, false)
		assert.ErrorIs(t, err, ErrOwnAccount)
		assert.ErrorIs(t, svc.DeleteUser(ctx, self, root.ID), ErrOwnAccount)

		renamed, err := svc.UpdateUser(ctx, self, root.ID, UpdateUserInput{LastName: ptr("Superuser")})
		require.NoError(t, err)
		assert.Equal(t, "Superuser", renamed.LastName)
	})

	t.Run("delete", func(t *testing.T) {
		u, err := svc.CreateUser(ctx, self, newUserInput("gone@example.com"))
		require.NoError(t, err)
		require.NoError(t, svc.DeleteUser(ctx, self, u.ID))

		_, err = svc.LookupUser(ctx, self, u.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.ErrorIs(t, svc.DeleteUser(ctx, self, u.ID), models.ErrNotFound)

		_, err = svc.CreateUser(ctx, self, newUserInput("gone@example.com"))
		assert.NoError(t, err, "the email is free again")
	})
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	svc, _ := newUserService(t)
	u, _, err := svc.Register(ctx, signUp)
	require.NoError(t, err)

	addr := models.Address{FullName: "Alice Liddell", Line1: "1 Main St", City: "Pune", PostalCode: "411001", Country: "IN"}
	updated, err := svc.UpdateProfile(ctx, u.ID, ProfileInput{Phone: ptr("555-0100"), Address: &addr})
	require.NoError(t, err)
	assert.Equal(t, "555-0100", updated.Phone)
	assert.Equal(t, "Alice", updated.FirstName)
	require.NotNil(t, updated.Address)
	assert.Equal(t, "Pune", updated.Address.City)

	stored, err := svc.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "555-0100", stored.Phone)
	assert.Equal(t, models.RoleUser, stored.Role)

	_, err = svc.UpdateProfile(ctx, u.ID, ProfileInput{LastName: ptr("")})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = svc.UpdateProfile(ctx, "missing", ProfileInput{FirstName: ptr("X")})
	assert.ErrorIs(t, err, models.ErrNotFound)
}
