package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jwalitptl/clinic-ops/internal/model"
	"github.com/jwalitptl/clinic-ops/internal/repository"
	"github.com/jwalitptl/clinic-ops/internal/repository/memory"
	"github.com/jwalitptl/clinic-ops/pkg/auth"
	apperrors "github.com/jwalitptl/clinic-ops/pkg/errors"
	"github.com/jwalitptl/clinic-ops/pkg/security"
)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc := NewService(store, auth.NewJWTService("secret", "clinic-ops", time.Hour), security.NewBcryptHasher(bcrypt.MinCost), nil)
	return svc, store
}

func TestRegisterAndLogin(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	staff, err := svc.RegisterStaff(ctx, RegisterRequest{Name: "Ana", Email: " Ana@Clinic.test ", Password: "password1", Role: model.RoleNurse})
	require.NoError(t, err)
	assert.Equal(t, "ana@clinic.test", staff.Email)
	assert.Empty(t, staff.PasswordHash)

	doc, err := store.Get(ctx, repository.CollectionStaff, staff.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, doc.Fields["passwordHash"])

	_, err = svc.RegisterStaff(ctx, RegisterRequest{Name: "Ana 2", Email: "ana@clinic.test", Password: "password2", Role: model.RoleStaff})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrConflict))

	resp, err := svc.Login(ctx, "ANA@clinic.test", "password1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Empty(t, resp.Staff.PasswordHash)

	claims, err := svc.ValidateToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, staff.ID, claims.StaffID)
	assert.Equal(t, "Ana", claims.Name)

	_, err = svc.Login(ctx, "ana@clinic.test", "wrong-password")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrUnauthorized))
	_, err = svc.Login(ctx, "nobody@clinic.test", "password1")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrUnauthorized))
	_, err = svc.ValidateToken(ctx, "garbage")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrUnauthorized))
}

func TestRegisterStaff_Validation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.RegisterStaff(ctx, RegisterRequest{Name: "X", Email: "x@clinic.test", Password: "password1", Role: "doctor"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))
	_, err = svc.RegisterStaff(ctx, RegisterRequest{Name: "X", Email: "x@clinic.test", Password: "short", Role: model.RoleStaff})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))
}

func TestEnsureBootstrapAdmin(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.EnsureBootstrapAdmin(ctx, "", "", ""))
	require.NoError(t, svc.EnsureBootstrapAdmin(ctx, "admin@clinic.test", "change-me-now", ""))
	require.NoError(t, svc.EnsureBootstrapAdmin(ctx, "other@clinic.test", "change-me-now", ""))

	docs, err := store.Query(ctx, repository.CollectionStaff, repository.Query{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "admin", docs[0].Fields["role"])
	assert.Equal(t, "Administrator", docs[0].Fields["name"])
}
