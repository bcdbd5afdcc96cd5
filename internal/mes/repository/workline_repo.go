package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

// WorklineRepository 产线仓库
type WorklineRepository struct {
	db *gorm.DB
}

func NewWorklineRepository(db *gorm.DB) *WorklineRepository {
	return &WorklineRepository{db: db}
}

// FindAll 查询产线列表
func (r *WorklineRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Workline, int64, error) {
	var items []entity.Workline
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Workline{}).Where("deleted_at IS NULL")
	if search := strings.ToLower(filters["search"]); search != "" {
		query = query.Where("LOWER(name) LIKE ? OR LOWER(code) LIKE ?", "%"+search+"%", "%"+search+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("code ASC").Offset(offset).Limit(pageSize).Find(&items).Error
	return items, total, err
}

// FindByID 根据ID查找产线
func (r *WorklineRepository) FindByID(ctx context.Context, id string) (*entity.Workline, error) {
	var w entity.Workline
	err := r.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", id).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

// FindByCode 根据编码查找未删除的产线
func (r *WorklineRepository) FindByCode(ctx context.Context, code string) (*entity.Workline, error) {
	var w entity.Workline
	err := r.db.WithContext(ctx).Where("code = ? AND deleted_at IS NULL", code).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

// CodeExists 编码是否已被其他未删除产线占用
func (r *WorklineRepository) CodeExists(ctx context.Context, code, excludeID string) (bool, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&entity.Workline{}).Where("code = ? AND deleted_at IS NULL", code)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	err := query.Count(&count).Error
	return count > 0, err
}

// Create 创建产线
func (r *WorklineRepository) Create(ctx context.Context, w *entity.Workline) error {
	return r.db.WithContext(ctx).Create(w).Error
}

// Update 更新产线
func (r *WorklineRepository) Update(ctx context.Context, w *entity.Workline) error {
	return r.db.WithContext(ctx).Save(w).Error
}

// SoftDelete 软删除产线
func (r *WorklineRepository) SoftDelete(ctx context.Context, id string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&entity.Workline{}).
		Where("id = ?", id).
		Update("deleted_at", &now).Error
}
