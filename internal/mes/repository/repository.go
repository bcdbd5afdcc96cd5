package repository

import (
	"context"

	erprepo "github.com/bitfantasy/nimo-mes/internal/erp/repository"
	"gorm.io/gorm"
)

// ErrNotFound 与ERP仓库共用，便于上层统一判断
var ErrNotFound = erprepo.ErrNotFound

// Repositories MES仓库集合
type Repositories struct {
	db *gorm.DB

	Shift       *ShiftRepository
	Session     *SessionRepository
	Line        *SessionLineRepository
	Workline    *WorklineRepository
	ActivityLog *ActivityLogRepository
	WorkOrder   *erprepo.WorkOrderRepository
	Warehouse   *erprepo.WarehouseRepository
}

// NewRepositories 创建MES仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:          db,
		Shift:       NewShiftRepository(db),
		Session:     NewSessionRepository(db),
		Line:        NewSessionLineRepository(db),
		Workline:    NewWorklineRepository(db),
		ActivityLog: NewActivityLogRepository(db),
		WorkOrder:   erprepo.NewWorkOrderRepository(db),
		Warehouse:   erprepo.NewWarehouseRepository(db),
	}
}

// DB 底层连接
func (r *Repositories) DB() *gorm.DB {
	return r.db
}

// Transaction 在单个事务中执行fn，fn内只能使用传入的仓库集合
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}
