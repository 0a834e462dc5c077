package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/qrpay/internal/auth"
	adminDatamodel "github.com/frahmantamala/qrpay/internal/core/datamodel/admin"
)

type AdminRepository struct {
	db *gorm.DB
}

func NewAdminRepository(db *gorm.DB) auth.RepositoryAPI {
	return &AdminRepository{db: db}
}

func (r *AdminRepository) FindByUsername(ctx context.Context, username string) (*auth.Admin, error) {
	var row adminDatamodel.Admin
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, auth.ErrAdminNotFound
		}
		return nil, err
	}
	return auth.FromDataModel(&row), nil
}

func (r *AdminRepository) FindByID(ctx context.Context, id int64) (*auth.Admin, error) {
	var row adminDatamodel.Admin
	err := r.db.WithContext(ctx).First(&row, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, auth.ErrAdminNotFound
		}
		return nil, err
	}
	return auth.FromDataModel(&row), nil
}

// Upsert inserts the admin or, on a username clash, replaces its password,
// role and active flag. The stored id is written back to admin.
func (r *AdminRepository) Upsert(ctx context.Context, admin *auth.Admin) error {
	row := admin.ToDataModel()
	row.ID = 0
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"password_hash", "role", "is_active", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return err
	}

	stored, err := r.FindByUsername(ctx, admin.Username)
	if err != nil {
		return err
	}
	admin.ID = stored.ID
	return nil
}
