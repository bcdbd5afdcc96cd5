package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/shared/feishu"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// SessionService 生产会话服务
type SessionService struct {
	*base
	counters *CounterService
}

// CreateSessionRequest 创建会话请求
type CreateSessionRequest struct {
	ShiftID        string `json:"shift_id"`
	WorklineID     string `json:"workline_id"`
	ProductionDate string `json:"production_date"` // YYYY-MM-DD
}

// UpdateSessionRequest 更新会话请求（仅草稿状态）
type UpdateSessionRequest struct {
	WorklineID     *string `json:"workline_id"`
	ProductionDate *string `json:"production_date"`
}

// responsibleFor 会话负责人：班次负责人，否则为操作人
func responsibleFor(shift *entity.Shift, actor Actor) string {
	if shift.UserID != nil && *shift.UserID != "" {
		return *shift.UserID
	}
	return actor.UserID
}

// Create 创建草稿会话，名称冲突时返回 ErrDuplicateSession
func (s *SessionService) Create(ctx context.Context, actor Actor, req *CreateSessionRequest) (*entity.Session, error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.Create")
	defer span.End()

	shiftID := strings.TrimSpace(req.ShiftID)
	worklineID := strings.TrimSpace(req.WorklineID)
	if shiftID == "" {
		return nil, requiredField("shift_id")
	}
	if worklineID == "" {
		return nil, requiredField("workline_id")
	}
	if strings.TrimSpace(req.ProductionDate) == "" {
		return nil, requiredField("production_date")
	}
	date, err := ParseDate(strings.TrimSpace(req.ProductionDate))
	if err != nil {
		return nil, err
	}

	session := &entity.Session{
		ShiftID:        shiftID,
		WorklineID:     &worklineID,
		ProductionDate: datatypes.Date(date),
		State:          entity.SessionStateDraft,
		CreatedBy:      actor.UserID,
	}

	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		shift, err := tx.Shift.FindByID(ctx, shiftID)
		if err != nil {
			return notFound("shift", err)
		}
		workline, err := tx.Workline.FindByID(ctx, worklineID)
		if err != nil {
			return notFound("workline", err)
		}
		session.Shift = shift
		session.Workline = workline
		session.UserID = responsibleFor(shift, actor)
		session.Name = session.ComputeName()

		if _, err := tx.Session.FindByName(ctx, session.Name); err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateSession, session.Name)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		if err := tx.Session.Create(ctx, session); err != nil {
			return mapDuplicate(err, ErrDuplicateSession)
		}
		return tx.ActivityLog.LogActivity(ctx, entity.EntityTypeSession, session.ID, session.Name,
			entity.ActionCreate, "", session.State, "创建会话", actor.UserID)
	})
	if err != nil {
		return nil, fmt.Errorf("创建会话失败: %w", err)
	}

	span.SetAttributes(attribute.String("mes.session_id", session.ID))
	s.afterSessionWrite(ctx, session, "created")
	return session, nil
}

// Get 会话详情（含生产行及派生数量）
func (s *SessionService) Get(ctx context.Context, id string) (*entity.Session, error) {
	session, err := s.repos.Session.FindByID(ctx, id)
	if err != nil {
		return nil, notFound("session", err)
	}
	return session, nil
}

// List 会话列表
func (s *SessionService) List(ctx context.Context, page, pageSize int, filter repository.SessionFilter) ([]entity.Session, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	return s.repos.Session.FindAll(ctx, page, pageSize, filter)
}

// Update 修改草稿会话的产线或生产日期，并重算名称
func (s *SessionService) Update(ctx context.Context, actor Actor, id string, req *UpdateSessionRequest) (*entity.Session, error) {
	var shiftID string
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		session, err := tx.Session.FindByID(ctx, id)
		if err != nil {
			return notFound("session", err)
		}
		if session.State != entity.SessionStateDraft || session.Rescue {
			return fmt.Errorf("%w: only draft sessions can be edited", ErrInvalidTransition)
		}
		shiftID = session.ShiftID

		fields := map[string]interface{}{}
		if req.WorklineID != nil {
			worklineID := strings.TrimSpace(*req.WorklineID)
			if worklineID == "" {
				return requiredField("workline_id")
			}
			if _, err := tx.Workline.FindByID(ctx, worklineID); err != nil {
				return notFound("workline", err)
			}
			fields["workline_id"] = worklineID
		}
		if req.ProductionDate != nil {
			if strings.TrimSpace(*req.ProductionDate) == "" {
				return requiredField("production_date")
			}
			date, err := ParseDate(strings.TrimSpace(*req.ProductionDate))
			if err != nil {
				return err
			}
			fields["production_date"] = datatypes.Date(date)
		}
		if len(fields) == 0 {
			return nil
		}
		if err := tx.Session.UpdateFields(ctx, id, fields); err != nil {
			return err
		}

		sessions, err := tx.Session.FindWithLines(ctx, repository.SessionFilter{ID: id}, nil)
		if err != nil {
			return err
		}
		if _, _, err := renameSessions(ctx, tx, sessions); err != nil {
			return err
		}
		return tx.ActivityLog.LogActivity(ctx, entity.EntityTypeSession, id, sessions[0].Name,
			entity.ActionUpdate, "", "", "修改会话", actor.UserID)
	})
	if err != nil {
		return nil, fmt.Errorf("更新会话失败: %w", err)
	}

	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.counters.Invalidate(ctx, shiftID)
	s.publish(EventSessionUpdate, sessionEvent{SessionID: id, ShiftID: shiftID, Name: session.Name, State: session.State, Action: "updated"})
	return session, nil
}

// Confirm 草稿 → 已确认，记录开始时间
func (s *SessionService) Confirm(ctx context.Context, actor Actor, id string) (*entity.Session, error) {
	return s.transition(ctx, actor, id, entity.SessionStateConfirmed)
}

// MarkProduced 已确认 → 已生产
func (s *SessionService) MarkProduced(ctx context.Context, actor Actor, id string) (*entity.Session, error) {
	return s.transition(ctx, actor, id, entity.SessionStateProduced)
}

// Close 任意未关闭状态 → 已关闭，记录结束时间
func (s *SessionService) Close(ctx context.Context, actor Actor, id string) (*entity.Session, error) {
	return s.transition(ctx, actor, id, entity.SessionStateClosed)
}

func (s *SessionService) transition(ctx context.Context, actor Actor, id, to string) (*entity.Session, error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.Transition")
	defer span.End()
	span.SetAttributes(attribute.String("mes.session_id", id), attribute.String("mes.to_state", to))

	var from string
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		session, err := tx.Session.FindByID(ctx, id)
		if err != nil {
			return notFound("session", err)
		}
		from = session.State
		if !entity.CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}

		now := s.now()
		fields := map[string]interface{}{}
		switch to {
		case entity.SessionStateConfirmed:
			if session.StartAt == nil {
				fields["start_at"] = now
			}
		case entity.SessionStateClosed:
			fields["stop_at"] = now
			if session.StartAt == nil {
				fields["start_at"] = now
			}
		}

		n, err := tx.Session.TransitionState(ctx, id, from, to, fields)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: state changed concurrently", ErrInvalidTransition)
		}
		return tx.ActivityLog.LogActivity(ctx, entity.EntityTypeSession, id, session.Name,
			entity.ActionStateChange, from, to, fmt.Sprintf("状态变更: %s → %s", from, to), actor.UserID)
	})
	if err != nil {
		return nil, fmt.Errorf("会话状态变更失败: %w", err)
	}

	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Session state changed",
		zap.String("session_id", id),
		zap.String("name", session.Name),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("operator", actor.UserID),
	)
	s.afterSessionWrite(ctx, session, to)

	if to == entity.SessionStateClosed {
		produced := 0
		for _, l := range session.Lines {
			if l.IsProduced {
				produced++
			}
		}
		shiftName := ""
		if session.Shift != nil {
			shiftName = session.Shift.Name
		}
		stopAt := ""
		if session.StopAt != nil {
			stopAt = session.StopAt.In(actor.Loc()).Format("2006-01-02 15:04")
		}
		s.notify(ctx, feishu.NewSessionClosedCard(session.Name, shiftName, stopAt, len(session.Lines), produced))
	}
	return session, nil
}

// Delete 删除草稿会话及其生产行
func (s *SessionService) Delete(ctx context.Context, actor Actor, id string) error {
	var deleted *entity.Session
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		session, err := tx.Session.FindByID(ctx, id)
		if err != nil {
			return notFound("session", err)
		}
		if session.State != entity.SessionStateDraft {
			return fmt.Errorf("%w: only draft sessions can be deleted", ErrInvalidTransition)
		}
		if err := tx.Session.Delete(ctx, id); err != nil {
			return err
		}
		deleted = session
		return tx.ActivityLog.LogActivity(ctx, entity.EntityTypeSession, id, session.Name,
			entity.ActionDelete, session.State, "", "删除会话", actor.UserID)
	})
	if err != nil {
		return fmt.Errorf("删除会话失败: %w", err)
	}
	s.afterSessionWrite(ctx, deleted, "deleted")
	return nil
}

// Activities 会话操作日志
func (s *SessionService) Activities(ctx context.Context, id string, page, pageSize int) ([]entity.ActivityLog, int64, error) {
	if _, err := s.repos.Session.FindByID(ctx, id); err != nil {
		return nil, 0, notFound("session", err)
	}
	page, pageSize = normalizePage(page, pageSize)
	return s.repos.ActivityLog.FindByEntity(ctx, entity.EntityTypeSession, id, page, pageSize)
}

// Today 操作人时区下的今天
func (s *SessionService) Today(actor Actor) time.Time {
	return actor.Today(s.now())
}

// FindOrCreateRescueSession 返回班次某日的兜底会话，不存在时创建
// 第二个返回值表示本次是否新建
func (s *SessionService) FindOrCreateRescueSession(ctx context.Context, actor Actor, shiftID string, date time.Time) (*entity.Session, bool, error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.FindOrCreateRescueSession")
	defer span.End()

	if strings.TrimSpace(shiftID) == "" {
		return nil, false, requiredField("shift_id")
	}
	if date.IsZero() {
		return nil, false, requiredField("production_date")
	}

	var session *entity.Session
	var created bool
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		shift, err := tx.Shift.FindByID(ctx, shiftID)
		if err != nil {
			return notFound("shift", err)
		}
		session, created, err = s.findOrCreateRescue(ctx, tx, actor, shift, date)
		return err
	})
	if errors.Is(err, ErrDuplicateSession) {
		// 并发创建，读取已存在的兜底会话
		session, err = s.repos.Session.FindRescue(ctx, shiftID, date)
		created = false
	}
	if err != nil {
		return nil, false, fmt.Errorf("获取兜底会话失败: %w", err)
	}

	if created {
		s.afterRescueCreated(ctx, actor, session, "")
	}
	return session, created, nil
}

// findOrCreateRescue 在调用方事务内查找或创建兜底会话
func (s *SessionService) findOrCreateRescue(ctx context.Context, tx *repository.Repositories, actor Actor, shift *entity.Shift, date time.Time) (*entity.Session, bool, error) {
	existing, err := tx.Session.FindRescue(ctx, shift.ID, date)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	now := s.now()
	session := &entity.Session{
		ShiftID:        shift.ID,
		UserID:         responsibleFor(shift, actor),
		ProductionDate: datatypes.Date(entity.NormalizeDate(date)),
		State:          entity.SessionStateConfirmed,
		Rescue:         true,
		StartAt:        &now,
		CreatedBy:      actor.UserID,
		Shift:          shift,
	}
	session.Name = session.ComputeName()

	inserted, err := tx.Session.CreateRescue(ctx, session)
	if err != nil {
		return nil, false, mapDuplicate(err, ErrDuplicateSession)
	}
	if !inserted {
		// 并发请求已创建
		existing, err := tx.Session.FindRescue(ctx, shift.ID, date)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err := tx.ActivityLog.LogActivity(ctx, entity.EntityTypeSession, session.ID, session.Name,
		entity.ActionRescueCreate, "", session.State, "自动创建兜底会话", actor.UserID); err != nil {
		return nil, false, err
	}
	return session, true, nil
}

// afterRescueCreated 兜底会话创建后的通知
func (s *SessionService) afterRescueCreated(ctx context.Context, actor Actor, session *entity.Session, orderName string) {
	s.logger.Warn("Rescue session created",
		zap.String("session_id", session.ID),
		zap.String("name", session.Name),
		zap.String("shift_id", session.ShiftID),
		zap.String("operator", actor.UserID),
	)
	s.afterSessionWrite(ctx, session, "rescue")

	shiftName := ""
	if session.Shift != nil {
		shiftName = session.Shift.Name
	}
	s.notify(ctx, feishu.NewRescueSessionCard(session.Name, shiftName, session.Date().Format("2006-01-02"), orderName))
}

// afterSessionWrite 事务提交后：统计失效 + SSE推送
func (s *SessionService) afterSessionWrite(ctx context.Context, session *entity.Session, action string) {
	s.counters.Invalidate(ctx, session.ShiftID)
	s.publish(EventSessionUpdate, sessionEvent{
		SessionID: session.ID,
		ShiftID:   session.ShiftID,
		Name:      session.Name,
		State:     session.State,
		Action:    action,
	})
}
