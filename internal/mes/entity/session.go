package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 会话状态
const (
	SessionStateDraft     = "draft"
	SessionStateConfirmed = "confirmed"
	SessionStateProduced  = "produced"
	SessionStateClosed    = "closed"
)

// OpenStates 未关闭的会话状态
var OpenStates = []string{SessionStateDraft, SessionStateConfirmed, SessionStateProduced}

var stateOrder = map[string]int{
	SessionStateDraft:     0,
	SessionStateConfirmed: 1,
	SessionStateProduced:  2,
	SessionStateClosed:    3,
}

// IsOpenState 是否为未关闭状态
func IsOpenState(state string) bool {
	return state == SessionStateDraft || state == SessionStateConfirmed || state == SessionStateProduced
}

// CanTransition 状态只能单向前进；关闭可从任意未关闭状态发起
func CanTransition(from, to string) bool {
	f, ok1 := stateOrder[from]
	t, ok2 := stateOrder[to]
	if !ok1 || !ok2 || from == SessionStateClosed {
		return false
	}
	if to == SessionStateClosed {
		return true
	}
	return t == f+1
}

// Session 生产会话（班次在某日期、某产线上的一次执行）
type Session struct {
	ID             string         `json:"id" gorm:"primaryKey;size:36"`
	Name           string         `json:"name" gorm:"size:64;not null;index:idx_mes_sessions_name,unique,where:rescue = false"`
	ShiftID        string         `json:"shift_id" gorm:"size:36;not null;index;index:idx_mes_sessions_rescue,unique,where:rescue = true"`
	WorklineID     *string        `json:"workline_id" gorm:"size:36;index"`
	UserID         string         `json:"user_id" gorm:"size:64"` // 负责人，创建后不可修改
	ProductionDate datatypes.Date `json:"production_date" gorm:"not null;index;index:idx_mes_sessions_rescue,unique,where:rescue = true"`
	State          string         `json:"state" gorm:"size:20;not null;default:draft;index"`
	Rescue         bool           `json:"rescue" gorm:"not null;default:false"`
	StartAt        *time.Time     `json:"start_at"`
	StopAt         *time.Time     `json:"stop_at"`
	CreatedBy      string         `json:"created_by" gorm:"size:64"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	Shift    *Shift        `json:"shift,omitempty" gorm:"foreignKey:ShiftID"`
	Workline *Workline     `json:"workline,omitempty" gorm:"foreignKey:WorklineID"`
	Lines    []SessionLine `json:"lines,omitempty" gorm:"foreignKey:SessionID"`
}

func (Session) TableName() string {
	return "mes_sessions"
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// Date 生产日期
func (s *Session) Date() time.Time {
	return time.Time(s.ProductionDate)
}

// IsClosed 是否已关闭
func (s *Session) IsClosed() bool {
	return s.State == SessionStateClosed
}

// ComputeName 根据班次、产线和生产日期计算会话名称
// 需要预加载 Shift 和 Workline
func (s *Session) ComputeName() string {
	var shiftCode, worklineCode string
	if s.Shift != nil {
		shiftCode = s.Shift.Code
	}
	if s.Rescue {
		return RescueSessionName(s.Date(), shiftCode)
	}
	if s.Workline != nil {
		worklineCode = s.Workline.Code
	}
	return SessionName(worklineCode, s.Date(), shiftCode)
}
