package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionFilter 会话查询条件
type SessionFilter struct {
	ID         string
	ShiftID    string
	WorklineID string
	State      string
	UserID     string
	DateFrom   *time.Time
	DateTo     *time.Time
	Rescue     *bool
}

// CounterRow 按班次、状态分组的统计行
type CounterRow struct {
	ShiftID string
	State   string
	Total   int64
	Late    int64
	Today   int64
}

// SessionRepository 会话仓库
type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) applyFilter(query *gorm.DB, f SessionFilter) *gorm.DB {
	if f.ID != "" {
		query = query.Where("id = ?", f.ID)
	}
	if f.ShiftID != "" {
		query = query.Where("shift_id = ?", f.ShiftID)
	}
	if f.WorklineID != "" {
		query = query.Where("workline_id = ?", f.WorklineID)
	}
	if f.State != "" {
		query = query.Where("state = ?", f.State)
	}
	if f.UserID != "" {
		query = query.Where("user_id = ?", f.UserID)
	}
	if f.DateFrom != nil {
		query = query.Where("production_date >= ?", entity.NormalizeDate(*f.DateFrom))
	}
	if f.DateTo != nil {
		query = query.Where("production_date <= ?", entity.NormalizeDate(*f.DateTo))
	}
	if f.Rescue != nil {
		query = query.Where("rescue = ?", *f.Rescue)
	}
	return query
}

// FindAll 查询会话列表
func (r *SessionRepository) FindAll(ctx context.Context, page, pageSize int, f SessionFilter) ([]entity.Session, int64, error) {
	var items []entity.Session
	var total int64

	query := r.applyFilter(r.db.WithContext(ctx).Model(&entity.Session{}), f)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Preload("Shift").
		Preload("Workline").
		Order("production_date DESC, created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error
	return items, total, err
}

// FindByID 根据ID查找会话（含生产行及工单）
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*entity.Session, error) {
	var s entity.Session
	err := r.db.WithContext(ctx).
		Preload("Shift").
		Preload("Workline").
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Lines.Production.UoM").
		Where("id = ?", id).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	for i := range s.Lines {
		s.Lines[i].ComputeQuantities()
	}
	return &s, nil
}

// FindByName 按名称查找非兜底会话
func (r *SessionRepository) FindByName(ctx context.Context, name string) (*entity.Session, error) {
	var s entity.Session
	err := r.db.WithContext(ctx).Where("name = ? AND rescue = ?", name, false).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// FindRescue 查找班次某日的兜底会话
func (r *SessionRepository) FindRescue(ctx context.Context, shiftID string, date time.Time) (*entity.Session, error) {
	var s entity.Session
	err := r.db.WithContext(ctx).
		Preload("Shift").
		Where("shift_id = ? AND production_date = ? AND rescue = ?", shiftID, entity.NormalizeDate(date), true).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// FindCurrent 用户在班次下最新的未关闭、非兜底会话；date非空时限定生产日期
func (r *SessionRepository) FindCurrent(ctx context.Context, shiftID, userID string, date *time.Time) (*entity.Session, error) {
	var s entity.Session
	query := r.db.WithContext(ctx).
		Preload("Shift").
		Preload("Workline").
		Where("shift_id = ? AND user_id = ? AND rescue = ? AND state IN ?", shiftID, userID, false, entity.OpenStates)
	if date != nil {
		query = query.Where("production_date = ?", entity.NormalizeDate(*date))
	}
	err := query.Order("created_at DESC, id DESC").First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// FindLastClosed 班次下关闭时间最晚的会话
func (r *SessionRepository) FindLastClosed(ctx context.Context, shiftID string) (*entity.Session, error) {
	var s entity.Session
	err := r.db.WithContext(ctx).
		Where("shift_id = ? AND state = ? AND stop_at IS NOT NULL", shiftID, entity.SessionStateClosed).
		Order("stop_at DESC").
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// FindOpenWithOrder 班次某日已包含该工单的未关闭、非兜底会话
func (r *SessionRepository) FindOpenWithOrder(ctx context.Context, shiftID string, date time.Time, productionID string) (*entity.Session, error) {
	var s entity.Session
	err := r.db.WithContext(ctx).
		Preload("Shift").
		Joins("JOIN mes_session_lines l ON l.session_id = mes_sessions.id").
		Where("mes_sessions.shift_id = ? AND mes_sessions.production_date = ?", shiftID, entity.NormalizeDate(date)).
		Where("mes_sessions.rescue = ? AND mes_sessions.state IN ?", false, entity.OpenStates).
		Where("l.production_id = ?", productionID).
		Order("mes_sessions.created_at DESC").
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// FindWithLines 加载会话及其班次、产线、生产行（含工单及计量单位），shiftIDs非空时限定班次
func (r *SessionRepository) FindWithLines(ctx context.Context, f SessionFilter, shiftIDs []string) ([]entity.Session, error) {
	var items []entity.Session
	query := r.applyFilter(r.db.WithContext(ctx).Model(&entity.Session{}), f)
	if len(shiftIDs) > 0 {
		query = query.Where("shift_id IN ?", shiftIDs)
	}
	err := query.
		Preload("Shift").
		Preload("Workline").
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Lines.Production.UoM").
		Order("production_date ASC, created_at ASC").
		Find(&items).Error
	for i := range items {
		for j := range items[i].Lines {
			items[i].Lines[j].ComputeQuantities()
		}
	}
	return items, err
}

// Create 创建会话
func (r *SessionRepository) Create(ctx context.Context, s *entity.Session) error {
	return r.db.WithContext(ctx).Omit("Shift", "Workline", "Lines").Create(s).Error
}

// CreateRescue 插入兜底会话，同班次同日已存在时不插入，返回是否插入
func (r *SessionRepository) CreateRescue(ctx context.Context, s *entity.Session) (bool, error) {
	result := r.db.WithContext(ctx).Omit("Shift", "Workline", "Lines").Clauses(clause.OnConflict{
		Columns:     []clause.Column{{Name: "shift_id"}, {Name: "production_date"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "rescue = true"}}},
		DoNothing:   true,
	}).Create(s)
	return result.RowsAffected == 1, result.Error
}

// UpdateFields 更新指定字段
func (r *SessionRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&entity.Session{}).Where("id = ?", id).Updates(fields).Error
}

// UpdateName 只更新名称
func (r *SessionRepository) UpdateName(ctx context.Context, id, name string) error {
	return r.db.WithContext(ctx).Model(&entity.Session{}).Where("id = ?", id).UpdateColumn("name", name).Error
}

// TransitionState 仅当当前状态为from时切换状态，返回受影响行数
func (r *SessionRepository) TransitionState(ctx context.Context, id, from, to string, fields map[string]interface{}) (int64, error) {
	updates := map[string]interface{}{"state": to, "updated_at": time.Now()}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.db.WithContext(ctx).Model(&entity.Session{}).
		Where("id = ? AND state = ?", id, from).
		Updates(updates)
	return result.RowsAffected, result.Error
}

// Delete 删除会话及其生产行
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("session_id = ?", id).Delete(&entity.SessionLine{}).Error; err != nil {
		return err
	}
	return db.Where("id = ?", id).Delete(&entity.Session{}).Error
}

// CountByShift 统计班次下的会话数
func (r *SessionRepository) CountByShift(ctx context.Context, shiftID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.Session{}).Where("shift_id = ?", shiftID).Count(&count).Error
	return count, err
}

// CountByWorkline 统计引用该产线的会话数
func (r *SessionRepository) CountByWorkline(ctx context.Context, worklineID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.Session{}).Where("workline_id = ?", worklineID).Count(&count).Error
	return count, err
}

// Counters 一次分组查询统计多个班次的会话数
// late/today 只按日期统计，是否计入由调用方按状态决定
func (r *SessionRepository) Counters(ctx context.Context, shiftIDs []string, today time.Time) ([]CounterRow, error) {
	var rows []CounterRow
	if len(shiftIDs) == 0 {
		return rows, nil
	}
	day := entity.NormalizeDate(today)
	err := r.db.WithContext(ctx).Raw(`
		SELECT
			shift_id,
			state,
			COUNT(*) AS total,
			SUM(CASE WHEN production_date < ? THEN 1 ELSE 0 END) AS late,
			SUM(CASE WHEN production_date = ? THEN 1 ELSE 0 END) AS today
		FROM mes_sessions
		WHERE shift_id IN ?
		GROUP BY shift_id, state
	`, day, day, shiftIDs).Scan(&rows).Error
	return rows, err
}
