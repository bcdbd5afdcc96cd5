package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 日志实体类型
const (
	EntityTypeShift       = "shift"
	EntityTypeSession     = "session"
	EntityTypeSessionLine = "session_line"
	EntityTypeWorkline    = "workline"
)

// 日志动作
const (
	ActionCreate       = "create"
	ActionUpdate       = "update"
	ActionDelete       = "delete"
	ActionStateChange  = "state_change"
	ActionAttachOrder  = "attach_order"
	ActionRecordQty    = "record_qty"
	ActionRescueCreate = "rescue_create"
)

// ActivityLog MES操作日志
type ActivityLog struct {
	ID         string `json:"id" gorm:"primaryKey;size:36"`
	EntityType string `json:"entity_type" gorm:"size:50;not null;index:idx_mes_activity_entity"`
	EntityID   string `json:"entity_id" gorm:"size:36;not null;index:idx_mes_activity_entity"`
	EntityCode string `json:"entity_code" gorm:"size:128"`

	Action    string `json:"action" gorm:"size:50;not null"`
	FromState string `json:"from_state" gorm:"size:20"`
	ToState   string `json:"to_state" gorm:"size:20"`

	Content    string    `json:"content" gorm:"type:text"`
	OperatorID string    `json:"operator_id" gorm:"size:64"`
	CreatedAt  time.Time `json:"created_at"`
}

func (ActivityLog) TableName() string {
	return "mes_activity_logs"
}

func (a *ActivityLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}
