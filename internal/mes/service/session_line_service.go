package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	erpentity "github.com/bitfantasy/nimo-mes/internal/erp/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/quantity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SessionLineService 会话生产行服务
type SessionLineService struct {
	*base
	counters *CounterService
	sessions *SessionService
}

// ReportProductionRequest 按班次报工请求
type ReportProductionRequest struct {
	ShiftID        string  `json:"shift_id"`
	ProductionID   string  `json:"production_id"`
	ProductionDate string  `json:"production_date"` // YYYY-MM-DD
	Qty            float64 `json:"qty"`
}

// ReportProductionResult 报工结果
type ReportProductionResult struct {
	Session       *entity.Session     `json:"session"`
	Line          *entity.SessionLine `json:"line"`
	RescueCreated bool                `json:"rescue_created"`
}

func validDelta(delta float64) error {
	if math.IsNaN(delta) || math.IsInf(delta, 0) || delta <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// lineRounding 生产行工单的计量单位精度，工单缺失时使用默认精度
func lineRounding(line *entity.SessionLine) float64 {
	if line.Production == nil {
		return 0
	}
	return line.Production.Rounding()
}

// Get 生产行详情（含派生数量）
func (s *SessionLineService) Get(ctx context.Context, id string) (*entity.SessionLine, error) {
	line, err := s.repos.Line.FindByID(ctx, id)
	if err != nil {
		return nil, notFound("session line", err)
	}
	return line, nil
}

// Attach 将工单挂到会话上，初始产出为0
func (s *SessionLineService) Attach(ctx context.Context, actor Actor, sessionID, productionID string) (*entity.SessionLine, error) {
	sessionID = strings.TrimSpace(sessionID)
	productionID = strings.TrimSpace(productionID)
	if sessionID == "" {
		return nil, requiredField("session_id")
	}
	if productionID == "" {
		return nil, requiredField("production_id")
	}

	var line *entity.SessionLine
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		session, err := tx.Session.FindByID(ctx, sessionID)
		if err != nil {
			return notFound("session", err)
		}
		line, err = s.attach(ctx, tx, actor, session, productionID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("添加生产行失败: %w", err)
	}

	result, err := s.Get(ctx, line.ID)
	if err != nil {
		return nil, err
	}
	s.afterLineWrite(ctx, result, "attached")
	return result, nil
}

// attach 在调用方事务内创建生产行
func (s *SessionLineService) attach(ctx context.Context, tx *repository.Repositories, actor Actor, session *entity.Session, productionID string) (*entity.SessionLine, error) {
	if session.IsClosed() {
		return nil, ErrSessionClosed
	}
	order, err := tx.WorkOrder.FindByID(ctx, productionID)
	if err != nil {
		return nil, notFound("production order", err)
	}
	if _, err := tx.Line.FindBySessionAndProduction(ctx, session.ID, productionID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateLine, order.WOCode)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	line := &entity.SessionLine{
		SessionID:    session.ID,
		ProductionID: order.ID,
		QtyProduced:  0,
		CreatedBy:    actor.UserID,
		Production:   order,
	}
	line.Name = line.ComputeName(session.Name)
	if err := tx.Line.Create(ctx, line); err != nil {
		return nil, mapDuplicate(err, ErrDuplicateLine)
	}
	if err := tx.ActivityLog.LogActivity(ctx, entity.EntityTypeSessionLine, line.ID, line.Name,
		entity.ActionAttachOrder, "", "", "添加工单: "+order.WOCode, actor.UserID); err != nil {
		return nil, err
	}
	return line, nil
}

// RecordQuantity 原子累加生产行产出数量
func (s *SessionLineService) RecordQuantity(ctx context.Context, actor Actor, lineID string, delta float64) (*entity.SessionLine, error) {
	ctx, span := s.tracer.Start(ctx, "SessionLineService.RecordQuantity")
	defer span.End()
	span.SetAttributes(attribute.String("mes.line_id", lineID), attribute.Float64("mes.delta", delta))

	if err := validDelta(delta); err != nil {
		return nil, err
	}

	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		line, err := tx.Line.FindByID(ctx, lineID)
		if err != nil {
			return notFound("session line", err)
		}
		return s.increment(ctx, tx, actor, line, delta, lineRounding(line))
	})
	if err != nil {
		return nil, fmt.Errorf("记录产量失败: %w", err)
	}

	line, err := s.Get(ctx, lineID)
	if err != nil {
		return nil, err
	}
	s.afterLineWrite(ctx, line, "quantity")
	return line, nil
}

// increment 在调用方事务内累加数量，会话已关闭时返回 ErrSessionClosed
// 按计量单位精度舍入为零的增量视为无效
func (s *SessionLineService) increment(ctx context.Context, tx *repository.Repositories, actor Actor, line *entity.SessionLine, delta, rounding float64) error {
	if quantity.IsZero(delta, rounding) {
		return fmt.Errorf("%w: %g is below unit precision", ErrInvalidQuantity, delta)
	}
	n, err := tx.Line.IncrementQty(ctx, line.ID, delta)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionClosed
	}
	return tx.ActivityLog.LogActivity(ctx, entity.EntityTypeSessionLine, line.ID, line.Name,
		entity.ActionRecordQty, "", "", fmt.Sprintf("产量 +%g", quantity.Round(delta, rounding)), actor.UserID)
}

// ReportProduction 按班次+工单+日期报工
// 依次选择：已包含该工单的未关闭会话 → 操作人当日的当前会话 → 兜底会话
func (s *SessionLineService) ReportProduction(ctx context.Context, actor Actor, req *ReportProductionRequest) (*ReportProductionResult, error) {
	ctx, span := s.tracer.Start(ctx, "SessionLineService.ReportProduction")
	defer span.End()

	shiftID := strings.TrimSpace(req.ShiftID)
	productionID := strings.TrimSpace(req.ProductionID)
	if shiftID == "" {
		return nil, requiredField("shift_id")
	}
	if productionID == "" {
		return nil, requiredField("production_id")
	}
	if strings.TrimSpace(req.ProductionDate) == "" {
		return nil, requiredField("production_date")
	}
	date, err := ParseDate(strings.TrimSpace(req.ProductionDate))
	if err != nil {
		return nil, err
	}
	if err := validDelta(req.Qty); err != nil {
		return nil, err
	}

	result, order, err := s.reportOnce(ctx, actor, shiftID, productionID, req.Qty, date)
	if errors.Is(err, ErrDuplicateSession) || errors.Is(err, ErrDuplicateLine) {
		// 并发报工创建了同一兜底会话或生产行，重试一次即可命中已有记录
		result, order, err = s.reportOnce(ctx, actor, shiftID, productionID, req.Qty, date)
	}
	if err != nil {
		return nil, fmt.Errorf("报工失败: %w", err)
	}

	line, err := s.Get(ctx, result.Line.ID)
	if err != nil {
		return nil, err
	}
	result.Line = line

	span.SetAttributes(
		attribute.String("mes.session_id", result.Session.ID),
		attribute.Bool("mes.rescue_created", result.RescueCreated),
	)
	if result.RescueCreated {
		s.sessions.afterRescueCreated(ctx, actor, result.Session, order.WOCode)
	}
	s.afterLineWrite(ctx, line, "quantity")
	return result, nil
}

func (s *SessionLineService) reportOnce(ctx context.Context, actor Actor, shiftID, productionID string, qty float64, date time.Time) (*ReportProductionResult, *erpentity.WorkOrder, error) {
	result := &ReportProductionResult{}
	var order *erpentity.WorkOrder

	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		shift, err := tx.Shift.FindByID(ctx, shiftID)
		if err != nil {
			return notFound("shift", err)
		}
		order, err = tx.WorkOrder.FindByID(ctx, productionID)
		if err != nil {
			return notFound("production order", err)
		}

		session, err := tx.Session.FindOpenWithOrder(ctx, shiftID, date, productionID)
		if errors.Is(err, repository.ErrNotFound) {
			session, err = tx.Session.FindCurrent(ctx, shiftID, actor.UserID, &date)
		}
		if errors.Is(err, repository.ErrNotFound) {
			session, result.RescueCreated, err = s.sessions.findOrCreateRescue(ctx, tx, actor, shift, date)
		}
		if err != nil {
			return err
		}
		if session.IsClosed() {
			return ErrSessionClosed
		}
		if session.Shift == nil {
			session.Shift = shift
		}
		result.Session = session

		line, err := tx.Line.FindBySessionAndProduction(ctx, session.ID, productionID)
		if errors.Is(err, repository.ErrNotFound) {
			line, err = s.attach(ctx, tx, actor, session, productionID)
		}
		if err != nil {
			return err
		}
		if line.Name == "" {
			line.Name = entity.LineName(session.Name, order.WOCode)
		}
		result.Line = line
		return s.increment(ctx, tx, actor, line, qty, order.Rounding())
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("Production reported",
		zap.String("session_id", result.Session.ID),
		zap.String("session", result.Session.Name),
		zap.String("order", order.WOCode),
		zap.Float64("qty", qty),
		zap.Bool("rescue_created", result.RescueCreated),
	)
	return result, order, nil
}

// afterLineWrite 事务提交后推送生产行事件
func (s *SessionLineService) afterLineWrite(ctx context.Context, line *entity.SessionLine, action string) {
	if line.Session != nil {
		s.counters.Invalidate(ctx, line.Session.ShiftID)
	}
	s.publish(EventLineUpdate, lineEvent{
		LineID:       line.ID,
		SessionID:    line.SessionID,
		ProductionID: line.ProductionID,
		QtyProduced:  line.QtyProduced,
		IsProduced:   line.IsProduced,
		Action:       action,
	})
}
