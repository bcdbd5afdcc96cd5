package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

// SessionLineRepository 会话生产行仓库
type SessionLineRepository struct {
	db *gorm.DB
}

func NewSessionLineRepository(db *gorm.DB) *SessionLineRepository {
	return &SessionLineRepository{db: db}
}

// FindByID 根据ID查找生产行，并计算派生数量
func (r *SessionLineRepository) FindByID(ctx context.Context, id string) (*entity.SessionLine, error) {
	var l entity.SessionLine
	err := r.db.WithContext(ctx).
		Preload("Session").
		Preload("Production.UoM").
		Where("id = ?", id).
		First(&l).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	l.ComputeQuantities()
	return &l, nil
}

// FindBySessionAndProduction 查找会话中某工单的生产行
func (r *SessionLineRepository) FindBySessionAndProduction(ctx context.Context, sessionID, productionID string) (*entity.SessionLine, error) {
	var l entity.SessionLine
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND production_id = ?", sessionID, productionID).
		First(&l).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// FindBySessions 批量加载会话的生产行（含工单及计量单位）
func (r *SessionLineRepository) FindBySessions(ctx context.Context, sessionIDs []string) ([]entity.SessionLine, error) {
	var items []entity.SessionLine
	if len(sessionIDs) == 0 {
		return items, nil
	}
	err := r.db.WithContext(ctx).
		Preload("Production.UoM").
		Where("session_id IN ?", sessionIDs).
		Order("created_at ASC").
		Find(&items).Error
	for i := range items {
		items[i].ComputeQuantities()
	}
	return items, err
}

// Create 创建生产行
func (r *SessionLineRepository) Create(ctx context.Context, l *entity.SessionLine) error {
	return r.db.WithContext(ctx).Omit("Session", "Production").Create(l).Error
}

// UpdateName 只更新名称
func (r *SessionLineRepository) UpdateName(ctx context.Context, id, name string) error {
	return r.db.WithContext(ctx).Model(&entity.SessionLine{}).Where("id = ?", id).UpdateColumn("name", name).Error
}

// IncrementQty 原子累加产出数量，会话已关闭时不更新，返回受影响行数
func (r *SessionLineRepository) IncrementQty(ctx context.Context, id string, delta float64) (int64, error) {
	openSessions := r.db.Session(&gorm.Session{NewDB: true}).Model(&entity.Session{}).Select("id").Where("state <> ?", entity.SessionStateClosed)
	result := r.db.WithContext(ctx).Model(&entity.SessionLine{}).
		Where("id = ? AND session_id IN (?)", id, openSessions).
		UpdateColumns(map[string]interface{}{
			"qty_produced": gorm.Expr("qty_produced + ?", delta),
			"updated_at":   time.Now(),
		})
	return result.RowsAffected, result.Error
}
