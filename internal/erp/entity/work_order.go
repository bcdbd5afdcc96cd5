package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WorkOrderStatus 工单状态
const (
	WOStatusCreated    = "CREATED"
	WOStatusReleased   = "RELEASED"
	WOStatusInProgress = "IN_PROGRESS"
	WOStatusCompleted  = "COMPLETED"
	WOStatusClosed     = "CLOSED"
)

// UnitOfMeasure 计量单位
type UnitOfMeasure struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Name      string    `json:"name" gorm:"size:32;not null"`
	Rounding  float64   `json:"rounding" gorm:"type:decimal(12,6);not null;default:0.01"` // 舍入精度
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UnitOfMeasure) TableName() string {
	return "erp_units_of_measure"
}

func (u *UnitOfMeasure) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}

// WorkOrder 生产工单（制造单）
// 由ERP维护，MES只读取目标数量、已完工数量和计量单位精度
type WorkOrder struct {
	ID           string     `json:"id" gorm:"primaryKey;size:36"`
	WOCode       string     `json:"wo_code" gorm:"size:50;not null;uniqueIndex"`
	ProductCode  string     `json:"product_code" gorm:"size:64"`
	ProductName  string     `json:"product_name" gorm:"size:128"`
	PlannedQty   float64    `json:"planned_qty" gorm:"type:decimal(12,4);not null"`
	CompletedQty float64    `json:"completed_qty" gorm:"type:decimal(12,4);default:0"`
	UoMID        string     `json:"uom_id" gorm:"column:uom_id;size:36"`
	Status       string     `json:"status" gorm:"size:20;not null;default:CREATED"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at" gorm:"index"`

	UoM *UnitOfMeasure `json:"uom,omitempty" gorm:"foreignKey:UoMID"`
}

func (WorkOrder) TableName() string {
	return "erp_work_orders"
}

func (wo *WorkOrder) BeforeCreate(tx *gorm.DB) error {
	if wo.ID == "" {
		wo.ID = uuid.New().String()
	}
	return nil
}

// Rounding 工单计量单位的舍入精度，未加载单位时返回0
func (wo *WorkOrder) Rounding() float64 {
	if wo.UoM == nil {
		return 0
	}
	return wo.UoM.Rounding
}
