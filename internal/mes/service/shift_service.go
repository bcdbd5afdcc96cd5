package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"go.uber.org/zap"
)

// ShiftService 班次服务
type ShiftService struct {
	*base
	counters *CounterService
	sessions *SessionService
}

// CreateShiftRequest 创建班次请求
type CreateShiftRequest struct {
	Name               string  `json:"name"`
	Code               string  `json:"code"`
	UserID             *string `json:"user_id"`
	WarehouseID        *string `json:"warehouse_id"`
	ResourceCalendarID *string `json:"resource_calendar_id"`
}

// UpdateShiftRequest 更新班次请求，空指针表示不修改，空字符串表示清空
type UpdateShiftRequest struct {
	Name               *string `json:"name"`
	Code               *string `json:"code"`
	UserID             *string `json:"user_id"`
	WarehouseID        *string `json:"warehouse_id"`
	ResourceCalendarID *string `json:"resource_calendar_id"`
}

func optional(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// Create 创建班次；未指定仓库时默认使用操作人公司下的第一个仓库
func (s *ShiftService) Create(ctx context.Context, actor Actor, req *CreateShiftRequest) (*entity.Shift, error) {
	name := strings.TrimSpace(req.Name)
	code := strings.TrimSpace(req.Code)
	if name == "" {
		return nil, requiredField("name")
	}
	if code == "" {
		return nil, requiredField("code")
	}
	if !entity.ValidCode(code) {
		return nil, ErrInvalidCode
	}

	shift := &entity.Shift{
		Name:               name,
		Code:               code,
		UserID:             optional(req.UserID),
		ResourceCalendarID: optional(req.ResourceCalendarID),
		WarehouseID:        optional(req.WarehouseID),
		CompanyID:          actor.CompanyID,
		CreatedBy:          actor.UserID,
	}

	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		exists, err := tx.Shift.CodeExists(ctx, code, "")
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrDuplicateCode, code)
		}

		if shift.WarehouseID != nil {
			if _, err := tx.Warehouse.FindByID(ctx, *shift.WarehouseID); err != nil {
				return notFound("warehouse", err)
			}
		} else if actor.CompanyID != "" {
			wh, err := tx.Warehouse.FirstByCompany(ctx, actor.CompanyID)
			switch {
			case err == nil:
				shift.WarehouseID = &wh.ID
			case !errors.Is(err, repository.ErrNotFound):
				return err
			}
		}

		if err := tx.Shift.Create(ctx, shift); err != nil {
			return err
		}
		return tx.ActivityLog.LogActivity(ctx, entity.EntityTypeShift, shift.ID, shift.Code,
			entity.ActionCreate, "", "", "创建班次: "+shift.Name, actor.UserID)
	})
	if err != nil {
		return nil, fmt.Errorf("创建班次失败: %w", err)
	}

	shift.Counters = &entity.ShiftCounters{}
	return shift, nil
}

// Get 班次详情（含统计和最近关闭时间）
func (s *ShiftService) Get(ctx context.Context, actor Actor, id string) (*entity.Shift, error) {
	shift, err := s.repos.Shift.FindByID(ctx, id)
	if err != nil {
		return nil, notFound("shift", err)
	}

	counters, err := s.counters.Counters(ctx, actor, []string{id})
	if err != nil {
		return nil, err
	}
	c := counters[id]
	shift.Counters = &c

	last, err := s.LastSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if last != nil {
		shift.LastSessionClosingDate = last.StopAt
	}
	return shift, nil
}

// List 班次列表，统计通过一次分组查询获得
func (s *ShiftService) List(ctx context.Context, actor Actor, page, pageSize int, filters map[string]string) ([]entity.Shift, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	items, total, err := s.repos.Shift.FindAll(ctx, page, pageSize, filters)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}
	counters, err := s.counters.Counters(ctx, actor, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range items {
		c := counters[items[i].ID]
		items[i].Counters = &c
	}
	return items, total, nil
}

// Update 更新班次；编码变化时在同一事务中重算会话及生产行名称
func (s *ShiftService) Update(ctx context.Context, actor Actor, id string, req *UpdateShiftRequest) (*entity.Shift, error) {
	var shift *entity.Shift
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		shift, err = tx.Shift.FindByID(ctx, id)
		if err != nil {
			return notFound("shift", err)
		}

		codeChanged := false
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return requiredField("name")
			}
			shift.Name = name
		}
		if req.Code != nil {
			code := strings.TrimSpace(*req.Code)
			if code == "" {
				return requiredField("code")
			}
			if !entity.ValidCode(code) {
				return ErrInvalidCode
			}
			if code != shift.Code {
				exists, err := tx.Shift.CodeExists(ctx, code, shift.ID)
				if err != nil {
					return err
				}
				if exists {
					return fmt.Errorf("%w: %s", ErrDuplicateCode, code)
				}
				shift.Code = code
				codeChanged = true
			}
		}
		if req.UserID != nil {
			shift.UserID = optional(req.UserID)
		}
		if req.ResourceCalendarID != nil {
			shift.ResourceCalendarID = optional(req.ResourceCalendarID)
		}
		if req.WarehouseID != nil {
			shift.WarehouseID = optional(req.WarehouseID)
			if shift.WarehouseID != nil {
				if _, err := tx.Warehouse.FindByID(ctx, *shift.WarehouseID); err != nil {
					return notFound("warehouse", err)
				}
			}
		}

		if err := tx.Shift.Update(ctx, shift); err != nil {
			return err
		}

		if codeChanged {
			sessions, err := tx.Session.FindWithLines(ctx, repository.SessionFilter{ShiftID: shift.ID}, nil)
			if err != nil {
				return err
			}
			if _, _, err := renameSessions(ctx, tx, sessions); err != nil {
				return err
			}
		}

		return tx.ActivityLog.LogActivity(ctx, entity.EntityTypeShift, shift.ID, shift.Code,
			entity.ActionUpdate, "", "", "更新班次", actor.UserID)
	})
	if err != nil {
		return nil, fmt.Errorf("更新班次失败: %w", err)
	}
	return s.Get(ctx, actor, id)
}

// Delete 删除班次，存在会话时拒绝
func (s *ShiftService) Delete(ctx context.Context, actor Actor, id string) error {
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		shift, err := tx.Shift.FindByID(ctx, id)
		if err != nil {
			return notFound("shift", err)
		}
		count, err := tx.Session.CountByShift(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: shift has %d sessions", ErrInUse, count)
		}
		if err := tx.Shift.SoftDelete(ctx, id); err != nil {
			return err
		}
		return tx.ActivityLog.LogActivity(ctx, entity.EntityTypeShift, id, shift.Code,
			entity.ActionDelete, "", "", "删除班次: "+shift.Name, actor.UserID)
	})
	if err != nil {
		return fmt.Errorf("删除班次失败: %w", err)
	}
	s.logger.Info("Shift deleted", zap.String("shift_id", id), zap.String("operator", actor.UserID))
	return nil
}

// ListSessions 班次下的会话
func (s *ShiftService) ListSessions(ctx context.Context, shiftID string, page, pageSize int, filter repository.SessionFilter) ([]entity.Session, int64, error) {
	if _, err := s.repos.Shift.FindByID(ctx, shiftID); err != nil {
		return nil, 0, notFound("shift", err)
	}
	filter.ShiftID = shiftID
	return s.sessions.List(ctx, page, pageSize, filter)
}

// Counters 多个班次的会话统计
func (s *ShiftService) Counters(ctx context.Context, actor Actor, shiftIDs []string) (map[string]entity.ShiftCounters, error) {
	return s.counters.Counters(ctx, actor, shiftIDs)
}

// CurrentSession 操作人在该班次下最新的未关闭会话（不含兜底会话），不存在时返回nil
func (s *ShiftService) CurrentSession(ctx context.Context, actor Actor, shiftID string) (*entity.Session, error) {
	if _, err := s.repos.Shift.FindByID(ctx, shiftID); err != nil {
		return nil, notFound("shift", err)
	}
	session, err := s.repos.Session.FindCurrent(ctx, shiftID, actor.UserID, nil)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return session, err
}

// LastSession 班次下最近关闭的会话，不存在时返回nil
func (s *ShiftService) LastSession(ctx context.Context, shiftID string) (*entity.Session, error) {
	session, err := s.repos.Session.FindLastClosed(ctx, shiftID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return session, err
}
