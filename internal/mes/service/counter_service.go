package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/shared/cache"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const defaultCounterTTL = 5 * time.Minute

// CounterService 班次会话统计
// 结果按 (班次, 版本, 日期, 时区) 缓存，会话写入后递增班次版本使旧缓存失效
type CounterService struct {
	*base
	cache cache.Cache
	ttl   time.Duration
}

func generationKey(shiftID string) string {
	return "mes:shift_counters_gen:" + shiftID
}

func countersKey(shiftID string, gen int64, today time.Time, loc *time.Location) string {
	return fmt.Sprintf("mes:shift_counters:%s:%d:%s:%s", shiftID, gen, today.Format("20060102"), loc.String())
}

// Counters 统计多个班次的会话数，未命中缓存的班次通过一次分组查询计算
func (s *CounterService) Counters(ctx context.Context, actor Actor, shiftIDs []string) (map[string]entity.ShiftCounters, error) {
	ctx, span := s.tracer.Start(ctx, "CounterService.Counters")
	defer span.End()
	span.SetAttributes(attribute.Int("mes.shift_count", len(shiftIDs)))

	today := actor.Today(s.now())
	result := make(map[string]entity.ShiftCounters, len(shiftIDs))
	keys := make(map[string]string, len(shiftIDs))

	var missing []string
	for _, id := range shiftIDs {
		if _, seen := keys[id]; seen {
			continue
		}
		if s.cache == nil {
			keys[id] = ""
			missing = append(missing, id)
			continue
		}
		key := countersKey(id, s.generation(ctx, id), today, actor.Loc())
		keys[id] = key

		var c entity.ShiftCounters
		ok, err := cache.GetJSON(ctx, s.cache, key, &c)
		if err != nil {
			s.logger.Warn("Read counter cache failed", zap.String("shift_id", id), zap.Error(err))
		}
		if ok {
			result[id] = c
			continue
		}
		missing = append(missing, id)
	}
	span.SetAttributes(attribute.Int("mes.cache_misses", len(missing)))

	if len(missing) == 0 {
		return result, nil
	}

	rows, err := s.repos.Session.Counters(ctx, missing, today)
	if err != nil {
		return nil, fmt.Errorf("统计班次会话失败: %w", err)
	}

	computed := make(map[string]*entity.ShiftCounters, len(missing))
	for _, id := range missing {
		computed[id] = &entity.ShiftCounters{}
	}
	for _, row := range rows {
		if c, ok := computed[row.ShiftID]; ok {
			c.Add(row.State, row.Total, row.Late, row.Today)
		}
	}

	ttl := s.ttl
	if ttl <= 0 {
		ttl = defaultCounterTTL
	}
	for id, c := range computed {
		result[id] = *c
		if s.cache == nil {
			continue
		}
		if err := cache.SetJSON(ctx, s.cache, keys[id], c, ttl); err != nil {
			s.logger.Warn("Write counter cache failed", zap.String("shift_id", id), zap.Error(err))
		}
	}
	return result, nil
}

// Invalidate 会话写入后调用，使该班次已缓存的统计失效
func (s *CounterService) Invalidate(ctx context.Context, shiftID string) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.Incr(ctx, generationKey(shiftID)); err != nil {
		s.logger.Warn("Bump counter generation failed", zap.String("shift_id", shiftID), zap.Error(err))
	}
}

func (s *CounterService) generation(ctx context.Context, shiftID string) int64 {
	var gen int64
	if _, err := cache.GetJSON(ctx, s.cache, generationKey(shiftID), &gen); err != nil {
		s.logger.Warn("Read counter generation failed", zap.String("shift_id", shiftID), zap.Error(err))
	}
	return gen
}
