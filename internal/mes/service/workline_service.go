package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// WorklineService 产线服务
type WorklineService struct {
	*base
}

// CreateWorklineRequest 创建产线请求
type CreateWorklineRequest struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// UpdateWorklineRequest 更新产线请求
type UpdateWorklineRequest struct {
	Name *string `json:"name"`
	Code *string `json:"code"`
}

// ImportResult 产线导入结果
type ImportResult struct {
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// Create 创建产线
func (s *WorklineService) Create(ctx context.Context, actor Actor, req *CreateWorklineRequest) (*entity.Workline, error) {
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

	w := &entity.Workline{Name: name, Code: code, CreatedBy: actor.UserID}
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		return s.create(ctx, tx, actor, w)
	})
	if err != nil {
		return nil, fmt.Errorf("创建产线失败: %w", err)
	}
	return w, nil
}

func (s *WorklineService) create(ctx context.Context, tx *repository.Repositories, actor Actor, w *entity.Workline) error {
	exists, err := tx.Workline.CodeExists(ctx, w.Code, "")
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCode, w.Code)
	}
	if err := tx.Workline.Create(ctx, w); err != nil {
		return err
	}
	return tx.ActivityLog.LogActivity(ctx, entity.EntityTypeWorkline, w.ID, w.Code,
		entity.ActionCreate, "", "", "创建产线: "+w.Name, actor.UserID)
}

// Get 产线详情
func (s *WorklineService) Get(ctx context.Context, id string) (*entity.Workline, error) {
	w, err := s.repos.Workline.FindByID(ctx, id)
	if err != nil {
		return nil, notFound("workline", err)
	}
	return w, nil
}

// List 产线列表
func (s *WorklineService) List(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Workline, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	return s.repos.Workline.FindAll(ctx, page, pageSize, filters)
}

// Update 更新产线；编码变化时重算使用该产线的会话名称
func (s *WorklineService) Update(ctx context.Context, actor Actor, id string, req *UpdateWorklineRequest) (*entity.Workline, error) {
	var w *entity.Workline
	var renamed int
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		w, err = tx.Workline.FindByID(ctx, id)
		if err != nil {
			return notFound("workline", err)
		}

		codeChanged := false
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return requiredField("name")
			}
			w.Name = name
		}
		if req.Code != nil {
			code := strings.TrimSpace(*req.Code)
			if code == "" {
				return requiredField("code")
			}
			if !entity.ValidCode(code) {
				return ErrInvalidCode
			}
			if code != w.Code {
				exists, err := tx.Workline.CodeExists(ctx, code, w.ID)
				if err != nil {
					return err
				}
				if exists {
					return fmt.Errorf("%w: %s", ErrDuplicateCode, code)
				}
				w.Code = code
				codeChanged = true
			}
		}

		if err := tx.Workline.Update(ctx, w); err != nil {
			return err
		}
		if codeChanged {
			sessions, err := tx.Session.FindWithLines(ctx, repository.SessionFilter{WorklineID: w.ID}, nil)
			if err != nil {
				return err
			}
			if renamed, _, err = renameSessions(ctx, tx, sessions); err != nil {
				return err
			}
		}
		return tx.ActivityLog.LogActivity(ctx, entity.EntityTypeWorkline, w.ID, w.Code,
			entity.ActionUpdate, "", "", "更新产线", actor.UserID)
	})
	if err != nil {
		return nil, fmt.Errorf("更新产线失败: %w", err)
	}
	if renamed > 0 {
		s.logger.Info("Workline code changed, sessions renamed",
			zap.String("workline_id", id),
			zap.String("code", w.Code),
			zap.Int("sessions", renamed),
		)
	}
	return w, nil
}

// Delete 删除产线，被会话引用时拒绝
func (s *WorklineService) Delete(ctx context.Context, actor Actor, id string) error {
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		w, err := tx.Workline.FindByID(ctx, id)
		if err != nil {
			return notFound("workline", err)
		}
		count, err := tx.Session.CountByWorkline(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: workline has %d sessions", ErrInUse, count)
		}
		if err := tx.Workline.SoftDelete(ctx, id); err != nil {
			return err
		}
		return tx.ActivityLog.LogActivity(ctx, entity.EntityTypeWorkline, id, w.Code,
			entity.ActionDelete, "", "", "删除产线: "+w.Name, actor.UserID)
	})
	if err != nil {
		return fmt.Errorf("删除产线失败: %w", err)
	}
	return nil
}

// Import 从CSV导入产线（表头 + code,name），encoding 为 gbk 时先转码
// 已存在的编码计入 skipped，非法行计入 failed
func (s *WorklineService) Import(ctx context.Context, actor Actor, reader io.Reader, encoding string) (*ImportResult, error) {
	if strings.EqualFold(encoding, "gbk") {
		// GBK → UTF-8
		reader = transform.NewReader(reader, simplifiedchinese.GBK.NewDecoder())
	}

	r := csv.NewReader(reader)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	result := &ImportResult{}
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		lineNo := 0
		for {
			record, err := r.Read()
			if err == io.EOF {
				break
			}
			lineNo++
			if err != nil {
				return fmt.Errorf("parse csv line %d: %w", lineNo, err)
			}
			// 第一行是表头，跳过
			if lineNo == 1 {
				continue
			}
			if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
				continue
			}
			if len(record) < 2 {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("line %d: expected code,name", lineNo))
				continue
			}

			code := strings.TrimSpace(strings.TrimPrefix(record[0], "\ufeff"))
			name := strings.TrimSpace(record[1])
			if name == "" || !entity.ValidCode(code) {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("line %d: invalid code or name", lineNo))
				continue
			}

			w := &entity.Workline{Name: name, Code: code, CreatedBy: actor.UserID}
			if err := s.create(ctx, tx, actor, w); err != nil {
				if errors.Is(err, ErrDuplicateCode) {
					result.Skipped++
					continue
				}
				return err
			}
			result.Created++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("导入产线失败: %w", err)
	}

	s.logger.Info("Worklines imported",
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.String("operator", actor.UserID),
	)
	return result, nil
}
