package auth

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	errors "github.com/frahmantamala/qrpay/internal"
)

type Service struct {
	repo       RepositoryAPI
	tokens     TokenGeneratorAPI
	bcryptCost int
	logger     *slog.Logger
}

func NewService(repo RepositoryAPI, tokens TokenGeneratorAPI, bcryptCost int, logger *slog.Logger) *Service {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		repo:       repo,
		tokens:     tokens,
		bcryptCost: bcryptCost,
		logger:     logger,
	}
}

// Authenticate validates credentials and returns a token pair.
func (s *Service) Authenticate(ctx context.Context, dto LoginDTO) (AuthTokens, error) {
	if err := dto.Validate(); err != nil {
		return AuthTokens{}, err
	}

	admin, err := s.repo.FindByUsername(ctx, strings.TrimSpace(dto.Username))
	if err != nil {
		if stderrors.Is(err, ErrAdminNotFound) {
			return AuthTokens{}, errors.ErrInvalidCredentials
		}
		return AuthTokens{}, errors.NewStorageError("failed to load admin", err)
	}

	if err := VerifyPassword(admin.PasswordHash, dto.Password); err != nil {
		return AuthTokens{}, errors.ErrInvalidCredentials
	}
	if !admin.IsActive {
		return AuthTokens{}, errors.ErrUserInactive
	}

	s.logger.Info("admin logged in", "admin_id", admin.ID, "role", admin.Role)
	return s.issue(admin)
}

// RefreshTokens exchanges a refresh token for a new pair. The admin is
// reloaded so a deactivated account or a changed role takes effect.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (AuthTokens, error) {
	claims, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		return AuthTokens{}, tokenError(err)
	}

	admin, err := s.load(ctx, claims)
	if err != nil {
		return AuthTokens{}, err
	}
	return s.issue(admin)
}

func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := s.tokens.ValidateAccessToken(tokenString)
	if err != nil {
		return nil, tokenError(err)
	}
	return claims, nil
}

// Principal resolves the claims of a validated token into the admin and the
// permissions of their current role.
func (s *Service) Principal(ctx context.Context, claims *Claims) (*errors.Principal, error) {
	admin, err := s.load(ctx, claims)
	if err != nil {
		return nil, err
	}
	return &errors.Principal{
		ID:          admin.ID,
		Username:    admin.Username,
		Role:        admin.Role,
		Permissions: PermissionsFor(admin.Role),
	}, nil
}

// EnsureAdmin creates the account or resets its password and role.
func (s *Service) EnsureAdmin(ctx context.Context, username, password, role string) (*Admin, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, errors.NewValidationError("username and password are required", errors.ErrCodeValidationFailed)
	}
	if !ValidRole(role) {
		return nil, errors.NewValidationFieldError("role", "role must be admin or operator", errors.ErrCodeValidationFailed)
	}

	hash, err := HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, errors.NewInternalError("failed to hash password", err)
	}

	admin := &Admin{Username: username, PasswordHash: hash, Role: role, IsActive: true}
	if err := s.repo.Upsert(ctx, admin); err != nil {
		return nil, errors.NewStorageError("failed to save admin", err)
	}
	return admin, nil
}

func (s *Service) issue(admin *Admin) (AuthTokens, error) {
	access, err := s.tokens.GenerateAccessToken(admin)
	if err != nil {
		return AuthTokens{}, errors.NewInternalError("failed to issue token", err)
	}
	refresh, err := s.tokens.GenerateRefreshToken(admin)
	if err != nil {
		return AuthTokens{}, errors.NewInternalError("failed to issue token", err)
	}
	return AuthTokens{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Service) load(ctx context.Context, claims *Claims) (*Admin, error) {
	id, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		return nil, errors.ErrInvalidToken
	}

	admin, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, ErrAdminNotFound) {
			return nil, errors.ErrInvalidToken
		}
		return nil, errors.NewStorageError("failed to load admin", err)
	}
	if !admin.IsActive {
		return nil, errors.ErrUserInactive
	}
	return admin, nil
}

func tokenError(err error) error {
	if stderrors.Is(err, errTokenExpired) {
		return errors.ErrTokenExpired
	}
	return errors.ErrInvalidToken
}
