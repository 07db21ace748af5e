package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-ops/internal/model"
	"github.com/jwalitptl/clinic-ops/internal/repository"
	"github.com/jwalitptl/clinic-ops/pkg/auth"
	apperrors "github.com/jwalitptl/clinic-ops/pkg/errors"
	"github.com/jwalitptl/clinic-ops/pkg/logger"
	"github.com/jwalitptl/clinic-ops/pkg/security"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type Service struct {
	store  repository.DocumentStore
	jwtSvc auth.JWTService
	hasher security.PasswordHasher
	logger *logger.Logger
}

func NewService(store repository.DocumentStore, jwtSvc auth.JWTService, hasher security.PasswordHasher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		store:  store,
		jwtSvc: jwtSvc,
		hasher: hasher,
		logger: log,
	}
}

type RegisterRequest struct {
	Name     string     `json:"name" binding:"required"`
	Email    string     `json:"email" binding:"required,email"`
	Password string     `json:"password" binding:"required,min=8"`
	Role     model.Role `json:"role" binding:"required,oneof=admin nurse staff"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func decodeStaff(doc repository.Document) (model.Staff, error) {
	var st model.Staff
	err := repository.DecodeDocument(doc, &st)
	return st, err
}

func findByEmail(docs []repository.Document) (*model.Staff, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	st, err := decodeStaff(docs[0])
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func emailQuery(email string) repository.Query {
	return repository.Query{
		Filters: []repository.Filter{repository.Where("email", repository.OpEqual, email)},
		Limit:   1,
	}
}

func (s *Service) Login(ctx context.Context, email, password string) (*model.LoginResponse, error) {
	docs, err := s.store.Query(ctx, repository.CollectionStaff, emailQuery(normalizeEmail(email)))
	if err != nil {
		return nil, fmt.Errorf("failed to look up staff: %w", err)
	}
	staff, err := findByEmail(docs)
	if err != nil {
		return nil, err
	}
	if staff == nil || !staff.Active {
		return nil, apperrors.Unauthorized(ErrInvalidCredentials)
	}
	if err := s.hasher.Compare(staff.PasswordHash, password); err != nil {
		s.logger.Warn("Failed login attempt", "staff_id", staff.ID)
		return nil, apperrors.Unauthorized(ErrInvalidCredentials)
	}

	token, err := s.jwtSvc.GenerateAccessToken(staff)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to generate token: %w", err))
	}

	staff.PasswordHash = ""
	s.logger.Info("Staff logged in", "staff_id", staff.ID)
	return &model.LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.jwtSvc.Expiry().Seconds()),
		Staff:       *staff,
	}, nil
}

func (s *Service) ValidateToken(_ context.Context, token string) (*model.TokenClaims, error) {
	claims, err := s.jwtSvc.ValidateToken(token)
	if err != nil {
		return nil, apperrors.Unauthorized(err)
	}
	return claims, nil
}

// RegisterStaff creates an active staff account. Emails are unique.
func (s *Service) RegisterStaff(ctx context.Context, req RegisterRequest) (*model.Staff, error) {
	if !req.Role.Valid() {
		return nil, apperrors.BadRequest(fmt.Sprintf("invalid role %q", req.Role), nil)
	}
	email := normalizeEmail(req.Email)
	if email == "" || strings.TrimSpace(req.Name) == "" {
		return nil, apperrors.BadRequest("name and email are required", nil)
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooShort) {
			return nil, apperrors.BadRequest(err.Error(), nil)
		}
		return nil, apperrors.Internal(err)
	}

	staff := model.Staff{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(req.Name),
		Email:        email,
		Role:         req.Role,
		PasswordHash: hash,
		Active:       true,
	}
	err = s.store.RunTransaction(ctx, func(tx repository.Transaction) error {
		docs, err := tx.Query(repository.CollectionStaff, emailQuery(email))
		if err != nil {
			return err
		}
		if len(docs) > 0 {
			return apperrors.Conflict(fmt.Sprintf("staff %s already exists", email))
		}
		staff.CreatedAt = tx.ServerTime()
		staff.UpdatedAt = staff.CreatedAt
		fields, err := repository.EncodeFields(staff)
		if err != nil {
			return err
		}
		return tx.Set(repository.CollectionStaff, staff.ID, fields, repository.SetOptions{})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Staff registered", "staff_id", staff.ID, "role", staff.Role)
	staff.PasswordHash = ""
	return &staff, nil
}

// EnsureBootstrapAdmin creates the first administrator when no staff exist.
// It does nothing when email is empty or staff are already present.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context, email, password, name string) error {
	if email == "" {
		return nil
	}
	docs, err := s.store.Query(ctx, repository.CollectionStaff, repository.Query{Limit: 1})
	if err != nil {
		return fmt.Errorf("failed to check staff: %w", err)
	}
	if len(docs) > 0 {
		return nil
	}
	if name == "" {
		name = "Administrator"
	}

	_, err = s.RegisterStaff(ctx, RegisterRequest{Name: name, Email: email, Password: password, Role: model.RoleAdmin})
	if err != nil && !apperrors.IsCode(err, apperrors.ErrConflict) {
		return fmt.Errorf("failed to create bootstrap admin: %w", err)
	}
	return nil
}
