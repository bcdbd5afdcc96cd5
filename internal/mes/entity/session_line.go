package entity

import (
	"time"

	erpentity "github.com/bitfantasy/nimo-mes/internal/erp/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/quantity"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionLine 会话生产行：记录某工单在会话中的产出
type SessionLine struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	Name         string    `json:"name" gorm:"size:128;not null"`
	SessionID    string    `json:"session_id" gorm:"size:36;not null;uniqueIndex:idx_mes_session_lines_order"`
	ProductionID string    `json:"production_id" gorm:"size:36;not null;uniqueIndex:idx_mes_session_lines_order;index"`
	QtyProduced  float64   `json:"qty_produced" gorm:"type:decimal(12,4);not null;default:0"`
	CreatedBy    string    `json:"created_by" gorm:"size:64"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// 派生字段，每次读取时根据工单重新计算
	QtyToProduce float64 `json:"qty_to_produce" gorm:"-"`
	IsProduced   bool    `json:"is_produced" gorm:"-"`

	Session    *Session             `json:"session,omitempty" gorm:"foreignKey:SessionID"`
	Production *erpentity.WorkOrder `json:"production,omitempty" gorm:"foreignKey:ProductionID"`
}

func (SessionLine) TableName() string {
	return "mes_session_lines"
}

func (l *SessionLine) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}

// ComputeQuantities 根据工单目标数量和计量单位精度刷新派生字段
// 需要预加载 Production.UoM
func (l *SessionLine) ComputeQuantities() {
	if l.Production == nil {
		l.QtyToProduce = 0
		l.IsProduced = false
		return
	}
	rounding := l.Production.Rounding()
	l.QtyToProduce = quantity.ToProduce(l.Production.PlannedQty, l.Production.CompletedQty, rounding)
	l.IsProduced = quantity.IsProduced(l.QtyProduced, l.Production.PlannedQty, rounding)
}

// ComputeName 生产行名称：<会话名称> - <工单号>
func (l *SessionLine) ComputeName(sessionName string) string {
	var orderName string
	if l.Production != nil {
		orderName = l.Production.WOCode
	}
	return LineName(sessionName, orderName)
}
