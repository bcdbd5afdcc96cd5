package repository

import (
	"context"
	"errors"

	"github.com/bitfantasy/nimo-mes/internal/erp/entity"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

// WorkOrderRepository 工单只读仓库
type WorkOrderRepository struct {
	db *gorm.DB
}

func NewWorkOrderRepository(db *gorm.DB) *WorkOrderRepository {
	return &WorkOrderRepository{db: db}
}

// FindByID 查询工单及其计量单位
func (r *WorkOrderRepository) FindByID(ctx context.Context, id string) (*entity.WorkOrder, error) {
	var wo entity.WorkOrder
	err := r.db.WithContext(ctx).Preload("UoM").
		Where("id = ? AND deleted_at IS NULL", id).First(&wo).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &wo, nil
}

// WarehouseRepository 仓库只读仓库
type WarehouseRepository struct {
	db *gorm.DB
}

func NewWarehouseRepository(db *gorm.DB) *WarehouseRepository {
	return &WarehouseRepository{db: db}
}

func (r *WarehouseRepository) FindByID(ctx context.Context, id string) (*entity.Warehouse, error) {
	var w entity.Warehouse
	err := r.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", id).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

// FirstByCompany 公司下第一个启用的仓库（按编码排序）
func (r *WarehouseRepository) FirstByCompany(ctx context.Context, companyID string) (*entity.Warehouse, error) {
	var w entity.Warehouse
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND status = ? AND deleted_at IS NULL", companyID, entity.WarehouseStatusActive).
		Order("code ASC").
		First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}
