package service

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	erpentity "github.com/bitfantasy/nimo-mes/internal/erp/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
	"github.com/bitfantasy/nimo-mes/internal/shared/cache"
	"github.com/bitfantasy/nimo-mes/internal/shared/feishu"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordedEvent struct {
	Type    string
	Payload interface{}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) Publish(eventType string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Type: eventType, Payload: payload})
}

func (r *eventRecorder) actions(eventType string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Type != eventType {
			continue
		}
		switch p := e.Payload.(type) {
		case sessionEvent:
			out = append(out, p.Action)
		case lineEvent:
			out = append(out, p.Action)
		}
	}
	return out
}

type cardRecorder struct {
	mu    sync.Mutex
	cards []feishu.InteractiveCard
}

func (r *cardRecorder) SendCard(_ context.Context, _ string, card feishu.InteractiveCard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cards = append(r.cards, card)
	return nil
}

func (r *cardRecorder) templates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.cards {
		out = append(out, c.Header.Template)
	}
	return out
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (m *memoryStore) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
		m.types = map[string]string{}
	}
	m.objects[key] = buf.Bytes()
	m.types[key] = contentType
	return nil
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	db     *gorm.DB
	svc    *Services
	events *eventRecorder
	cards  *cardRecorder
	store  *memoryStore
	actor  Actor
	now    time.Time
}

// 2026-03-15 10:00 UTC
var fixedNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		db:     testutil.SetupTestDB(t),
		events: &eventRecorder{},
		cards:  &cardRecorder{},
		store:  &memoryStore{},
		actor:  Actor{UserID: "u-1", UserName: "Operator", CompanyID: "c-1", Location: time.UTC},
		now:    fixedNow,
	}
	f.svc = NewServices(repository.NewRepositories(f.db), Options{
		Cache:        cache.NewMemory(time.Minute, time.Minute),
		CounterTTL:   time.Minute,
		Events:       f.events,
		Cards:        f.cards,
		NotifyChatID: "oc_test",
		Store:        f.store,
		Now:          func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) shift(code string) *entity.Shift {
	f.t.Helper()
	s, err := f.svc.Shift.Create(f.ctx, f.actor, &CreateShiftRequest{Name: "Shift " + code, Code: code})
	require.NoError(f.t, err)
	return s
}

func (f *fixture) workline(code string) *entity.Workline {
	f.t.Helper()
	w, err := f.svc.Workline.Create(f.ctx, f.actor, &CreateWorklineRequest{Name: "Line " + code, Code: code})
	require.NoError(f.t, err)
	return w
}

func (f *fixture) session(shift *entity.Shift, wl *entity.Workline, date string) *entity.Session {
	f.t.Helper()
	s, err := f.svc.Session.Create(f.ctx, f.actor, &CreateSessionRequest{
		ShiftID:        shift.ID,
		WorklineID:     wl.ID,
		ProductionDate: date,
	})
	require.NoError(f.t, err)
	return s
}

func (f *fixture) order(code string, planned float64) *erpentity.WorkOrder {
	f.t.Helper()
	uom := testutil.SeedUoM(f.t, f.db, "Units-"+code, 0.01)
	return testutil.SeedWorkOrder(f.t, f.db, code, planned, uom)
}

func strPtr(s string) *string { return &s }
