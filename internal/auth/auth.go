package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	adminDatamodel "github.com/frahmantamala/qrpay/internal/core/datamodel/admin"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

// Permissions checked by the admin routes.
const (
	PermViewOrders     = "orders:view"
	PermManageOrders   = "orders:manage"
	PermDeleteOrders   = "orders:delete"
	PermManageSettings = "settings:manage"
	PermManageQRCodes  = "qrcodes:manage"
	PermViewMonitor    = "monitor:view"
)

var rolePermissions = map[string][]string{
	RoleAdmin: {
		PermViewOrders,
		PermManageOrders,
		PermDeleteOrders,
		PermManageSettings,
		PermManageQRCodes,
		PermViewMonitor,
	},
	RoleOperator: {
		PermViewOrders,
		PermManageOrders,
		PermViewMonitor,
	},
}

// PermissionsFor returns the permissions granted to a role. Unknown roles
// get none.
func PermissionsFor(role string) []string {
	perms := rolePermissions[role]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

func ValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

var ErrAdminNotFound = errors.New("admin not found")

type Admin struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	IsActive     bool
	CreatedAt    time.Time
}

func (a *Admin) ToDataModel() *adminDatamodel.Admin {
	return &adminDatamodel.Admin{
		ID:           a.ID,
		Username:     a.Username,
		PasswordHash: a.PasswordHash,
		Role:         a.Role,
		IsActive:     a.IsActive,
		CreatedAt:    a.CreatedAt,
	}
}

func FromDataModel(m *adminDatamodel.Admin) *Admin {
	return &Admin{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		Role:         m.Role,
		IsActive:     m.IsActive,
		CreatedAt:    m.CreatedAt,
	}
}

type RepositoryAPI interface {
	FindByUsername(ctx context.Context, username string) (*Admin, error)
	FindByID(ctx context.Context, id int64) (*Admin, error)
	Upsert(ctx context.Context, admin *Admin) error
}

type TokenGeneratorAPI interface {
	GenerateAccessToken(admin *Admin) (string, error)
	GenerateRefreshToken(admin *Admin) (string, error)
	ValidateAccessToken(tokenString string) (*Claims, error)
	ValidateRefreshToken(tokenString string) (*Claims, error)
}

type AuthTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func VerifyPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
