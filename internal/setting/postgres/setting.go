package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	settingDatamodel "github.com/frahmantamala/qrpay/internal/core/datamodel/setting"
	"github.com/frahmantamala/qrpay/internal/setting"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) setting.RepositoryAPI {
	return &SettingRepository{db: db}
}

func (r *SettingRepository) GetAll(ctx context.Context) (map[string]string, error) {
	var rows []settingDatamodel.Setting
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Name] = row.Value
	}
	return values, nil
}

func (r *SettingRepository) Get(ctx context.Context, name string) (string, bool, error) {
	var row settingDatamodel.Setting
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return row.Value, true, nil
}

// SetMany upserts all values in one transaction.
func (r *SettingRepository) SetMany(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]settingDatamodel.Setting, 0, len(values))
	for k, v := range values {
		rows = append(rows, settingDatamodel.Setting{Name: k, Value: v, UpdatedAt: now})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rows).Error
}

// MarkMonitorDown sets jkstate to 0 while holding its row lock, after
// re-reading lastheart. A heartbeat that commits first is seen here; one that
// commits later overwrites the 0.
func (r *SettingRepository) MarkMonitorDown(ctx context.Context, heartbeatBefore time.Time) (bool, error) {
	marked := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var state settingDatamodel.Setting
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("name = ?", setting.KeyMonitorState).
			First(&state).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(state.Value) != "1" {
			return nil
		}

		var last settingDatamodel.Setting
		err = tx.Where("name = ?", setting.KeyLastHeartbeat).First(&last).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if !setting.HeartbeatBefore(last.Value, heartbeatBefore) {
			return nil
		}

		res := tx.Model(&settingDatamodel.Setting{}).
			Where("name = ? AND value = ?", setting.KeyMonitorState, state.Value).
			Updates(map[string]interface{}{"value": "0", "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		marked = res.RowsAffected > 0
		return nil
	})
	return marked, err
}

// EnsureDefaults inserts missing keys without touching existing ones.
func (r *SettingRepository) EnsureDefaults(ctx context.Context, defaults map[string]string) error {
	if len(defaults) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]settingDatamodel.Setting, 0, len(defaults))
	for k, v := range defaults {
		rows = append(rows, settingDatamodel.Setting{Name: k, Value: v, UpdatedAt: now})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}
