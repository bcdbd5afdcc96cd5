package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Workline 产线
type Workline struct {
	ID        string     `json:"id" gorm:"primaryKey;size:36"`
	Name      string     `json:"name" gorm:"size:100;not null"`
	Code      string     `json:"code" gorm:"size:20;not null;index"`
	CreatedBy string     `json:"created_by" gorm:"size:64"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" gorm:"index"`
}

func (Workline) TableName() string {
	return "mes_worklines"
}

func (w *Workline) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	return nil
}
