package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"go.uber.org/zap"
)

// RecomputeService 名称重算
type RecomputeService struct {
	*base
}

// RecomputeResult 重算统计
type RecomputeResult struct {
	Sessions int `json:"sessions"`
	Lines    int `json:"lines"`
	Changed  int `json:"changed"`
}

// renameSessions 按当前班次/产线编码重算会话及生产行名称，只写回有变化的记录
// sessions 需要预加载 Shift、Workline、Lines.Production
func renameSessions(ctx context.Context, tx *repository.Repositories, sessions []entity.Session) (int, int, error) {
	var sessionsChanged, linesChanged int
	for i := range sessions {
		session := &sessions[i]
		name := session.ComputeName()
		if name != session.Name {
			if err := tx.Session.UpdateName(ctx, session.ID, name); err != nil {
				return sessionsChanged, linesChanged, mapDuplicate(err, ErrDuplicateSession)
			}
			session.Name = name
			sessionsChanged++
		}
		for j := range session.Lines {
			line := &session.Lines[j]
			lineName := line.ComputeName(session.Name)
			if lineName == line.Name {
				continue
			}
			if err := tx.Line.UpdateName(ctx, line.ID, lineName); err != nil {
				return sessionsChanged, linesChanged, err
			}
			line.Name = lineName
			linesChanged++
		}
	}
	return sessionsChanged, linesChanged, nil
}

// Recompute 重算指定班次（为空时全部班次）下所有会话及生产行名称，单事务执行
func (s *RecomputeService) Recompute(ctx context.Context, shiftIDs ...string) (*RecomputeResult, error) {
	ctx, span := s.tracer.Start(ctx, "RecomputeService.Recompute")
	defer span.End()

	start := time.Now()
	result := &RecomputeResult{}
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		sessions, err := tx.Session.FindWithLines(ctx, repository.SessionFilter{}, shiftIDs)
		if err != nil {
			return err
		}
		result.Sessions = len(sessions)
		for i := range sessions {
			result.Lines += len(sessions[i].Lines)
		}

		sessionsChanged, linesChanged, err := renameSessions(ctx, tx, sessions)
		if err != nil {
			return err
		}
		result.Changed = sessionsChanged + linesChanged
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("重算名称失败: %w", err)
	}

	s.logger.Info("Names recomputed",
		zap.Strings("shift_ids", shiftIDs),
		zap.Int("sessions", result.Sessions),
		zap.Int("lines", result.Lines),
		zap.Int("changed", result.Changed),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}
