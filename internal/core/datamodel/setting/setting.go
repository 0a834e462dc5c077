package setting

import "time"

type Setting struct {
	Name      string    `gorm:"column:name;size:64;primaryKey"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Setting) TableName() string {
	return "settings"
}
