package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MaxCodeLength 班次/产线编码最大长度（字符数）
const MaxCodeLength = 5

// Shift 班次
type Shift struct {
	ID                 string     `json:"id" gorm:"primaryKey;size:36"`
	Name               string     `json:"name" gorm:"size:100;not null"`
	Code               string     `json:"code" gorm:"size:20;not null;index"`
	UserID             *string    `json:"user_id" gorm:"size:64"`              // 负责人
	ResourceCalendarID *string    `json:"resource_calendar_id" gorm:"size:64"` // 工作日历
	WarehouseID        *string    `json:"warehouse_id" gorm:"size:36"`
	CompanyID          string     `json:"company_id" gorm:"size:64;index"`
	CreatedBy          string     `json:"created_by" gorm:"size:64"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty" gorm:"index"`

	Counters               *ShiftCounters `json:"counters,omitempty" gorm:"-"`
	LastSessionClosingDate *time.Time     `json:"last_session_closing_date,omitempty" gorm:"-"`
}

func (Shift) TableName() string {
	return "mes_shifts"
}

func (s *Shift) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// ShiftCounters 班次会话统计
type ShiftCounters struct {
	CountSession          int64 `json:"count_session"`
	CountSessionDraft     int64 `json:"count_session_draft"`
	CountSessionConfirmed int64 `json:"count_session_confirmed"`
	CountSessionProduced  int64 `json:"count_session_produced"`
	CountSessionClosed    int64 `json:"count_session_closed"`
	CountSessionLate      int64 `json:"count_session_late"`
	CountSessionToday     int64 `json:"count_session_today"`
}

// Add 累加某状态下的会话数
func (c *ShiftCounters) Add(state string, total, late, today int64) {
	c.CountSession += total
	switch state {
	case SessionStateDraft:
		c.CountSessionDraft += total
	case SessionStateConfirmed:
		c.CountSessionConfirmed += total
	case SessionStateProduced:
		c.CountSessionProduced += total
	case SessionStateClosed:
		c.CountSessionClosed += total
	}
	if IsOpenState(state) {
		c.CountSessionLate += late
		c.CountSessionToday += today
	}
}
