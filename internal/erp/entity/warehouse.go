package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WarehouseStatus 仓库状态
const (
	WarehouseStatusActive   = "ACTIVE"
	WarehouseStatusInactive = "INACTIVE"
)

// Warehouse 仓库
type Warehouse struct {
	ID        string     `json:"id" gorm:"primaryKey;size:36"`
	Code      string     `json:"code" gorm:"size:50;not null;uniqueIndex"`
	Name      string     `json:"name" gorm:"size:100;not null"`
	CompanyID string     `json:"company_id" gorm:"size:64;not null;index"`
	Status    string     `json:"status" gorm:"size:20;not null;default:ACTIVE"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at" gorm:"index"`
}

func (Warehouse) TableName() string {
	return "erp_warehouses"
}

func (w *Warehouse) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	return nil
}

// AutoMigrate 迁移MES依赖的ERP表（独立部署或测试时使用）
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UnitOfMeasure{},
		&WorkOrder{},
		&Warehouse{},
	)
}
