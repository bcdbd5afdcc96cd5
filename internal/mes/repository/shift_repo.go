package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

// ShiftRepository 班次仓库
type ShiftRepository struct {
	db *gorm.DB
}

func NewShiftRepository(db *gorm.DB) *ShiftRepository {
	return &ShiftRepository{db: db}
}

// FindAll 查询班次列表
func (r *ShiftRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Shift, int64, error) {
	var items []entity.Shift
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Shift{}).Where("deleted_at IS NULL")
	if search := strings.ToLower(filters["search"]); search != "" {
		query = query.Where("LOWER(name) LIKE ? OR LOWER(code) LIKE ?", "%"+search+"%", "%"+search+"%")
	}
	if companyID := filters["company_id"]; companyID != "" {
		query = query.Where("company_id = ?", companyID)
	}
	if userID := filters["user_id"]; userID != "" {
		query = query.Where("user_id = ?", userID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("code ASC").Offset(offset).Limit(pageSize).Find(&items).Error
	return items, total, err
}

// FindByID 根据ID查找班次
func (r *ShiftRepository) FindByID(ctx context.Context, id string) (*entity.Shift, error) {
	var s entity.Shift
	err := r.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// FindIDs 所有未删除班次的ID
func (r *ShiftRepository) FindIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&entity.Shift{}).
		Where("deleted_at IS NULL").
		Order("code ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// CodeExists 编码是否已被其他未删除班次占用
func (r *ShiftRepository) CodeExists(ctx context.Context, code, excludeID string) (bool, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&entity.Shift{}).Where("code = ? AND deleted_at IS NULL", code)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	err := query.Count(&count).Error
	return count > 0, err
}

// Create 创建班次
func (r *ShiftRepository) Create(ctx context.Context, s *entity.Shift) error {
	return r.db.WithContext(ctx).Create(s).Error
}

// Update 更新班次
func (r *ShiftRepository) Update(ctx context.Context, s *entity.Shift) error {
	return r.db.WithContext(ctx).Save(s).Error
}

// SoftDelete 软删除班次
func (r *ShiftRepository) SoftDelete(ctx context.Context, id string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&entity.Shift{}).
		Where("id = ?", id).
		Update("deleted_at", &now).Error
}
