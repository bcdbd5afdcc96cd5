package service

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/shared/cache"
	"github.com/bitfantasy/nimo-mes/internal/shared/feishu"
	"github.com/bitfantasy/nimo-mes/internal/shared/storage"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// SSE事件类型
const (
	EventSessionUpdate = "session_update"
	EventLineUpdate    = "line_update"
)

// EventPublisher 事件推送（SSE Hub）
type EventPublisher interface {
	Publish(eventType string, payload interface{})
}

// CardSender 飞书卡片发送
type CardSender interface {
	SendCard(ctx context.Context, chatID string, card feishu.InteractiveCard) error
}

// Options 服务依赖，除Logger外均可为空
type Options struct {
	Logger       *zap.Logger
	Cache        cache.Cache
	CounterTTL   time.Duration
	Events       EventPublisher
	Cards        CardSender
	NotifyChatID string
	Store        storage.ObjectStore
	Tracer       trace.Tracer
	Now          func() time.Time
}

// Services MES服务集合
type Services struct {
	Shift     *ShiftService
	Session   *SessionService
	Line      *SessionLineService
	Workline  *WorklineService
	Counter   *CounterService
	Report    *ReportService
	Recompute *RecomputeService
}

// NewServices 创建MES服务集合
func NewServices(repos *repository.Repositories, opts Options) *Services {
	b := newBase(repos, opts)

	counter := &CounterService{base: b, cache: opts.Cache, ttl: opts.CounterTTL}
	session := &SessionService{base: b, counters: counter}
	return &Services{
		Shift:     &ShiftService{base: b, counters: counter, sessions: session},
		Session:   session,
		Line:      &SessionLineService{base: b, counters: counter, sessions: session},
		Workline:  &WorklineService{base: b},
		Counter:   counter,
		Report:    &ReportService{base: b, store: opts.Store},
		Recompute: &RecomputeService{base: b},
	}
}

// base 各服务共用的依赖
type base struct {
	repos        *repository.Repositories
	logger       *zap.Logger
	events       EventPublisher
	cards        CardSender
	notifyChatID string
	tracer       trace.Tracer
	now          func() time.Time
}

func newBase(repos *repository.Repositories, opts Options) *base {
	b := &base{
		repos:        repos,
		logger:       opts.Logger,
		events:       opts.Events,
		cards:        opts.Cards,
		notifyChatID: opts.NotifyChatID,
		tracer:       opts.Tracer,
		now:          opts.Now,
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.tracer == nil {
		b.tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// publish 事务提交后推送事件
func (b *base) publish(eventType string, payload interface{}) {
	if b.events != nil {
		b.events.Publish(eventType, payload)
	}
}

// notify 发送飞书卡片，失败只记录日志
func (b *base) notify(ctx context.Context, card feishu.InteractiveCard) {
	if b.cards == nil || b.notifyChatID == "" {
		return
	}
	if err := b.cards.SendCard(ctx, b.notifyChatID, card); err != nil {
		b.logger.Warn("Send feishu card failed", zap.Error(err))
	}
}

// normalizePage 分页参数兜底
func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return page, pageSize
}

// sessionEvent SSE会话事件负载
type sessionEvent struct {
	SessionID string `json:"session_id"`
	ShiftID   string `json:"shift_id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Action    string `json:"action"`
}

// lineEvent SSE生产行事件负载
type lineEvent struct {
	LineID       string  `json:"line_id"`
	SessionID    string  `json:"session_id"`
	ProductionID string  `json:"production_id"`
	QtyProduced  float64 `json:"qty_produced"`
	IsProduced   bool    `json:"is_produced"`
	Action       string  `json:"action"`
}
