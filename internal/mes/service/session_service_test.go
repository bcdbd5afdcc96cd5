package service

import (
	"sync"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

func TestSessionCreate(t *testing.T) {
	f := newFixture(t)
	shift := f.shift("DAY")
	wl := f.workline("L1")

	s := f.session(shift, wl, "2026-03-15")
	assert.Equal(t, "L1/260315/DAY", s.Name)
	assert.Equal(t, entity.SessionStateDraft, s.State)
	assert.Equal(t, "u-1", s.UserID)
	assert.False(t, s.Rescue)
	assert.Nil(t, s.StartAt)
	assert.Equal(t, []string{"created"}, f.events.actions(EventSessionUpdate))
}

func TestSessionCreate_RequiredFields(t *testing.T) {
	f := newFixture(t)
	shift := f.shift("DAY")
	wl := f.workline("L1")

	cases := []struct {
		name string
		req  CreateSessionRequest
		err  error
	}{
		{"missing shift", CreateSessionRequest{WorklineID: wl.ID, ProductionDate: "2026-03-15"}, ErrRequiredField},
		{"missing workline", CreateSessionRequest{ShiftID: shift.ID, ProductionDate: "2026-03-15"}, ErrRequiredField},
		{"missing date", CreateSessionRequest{ShiftID: shift.ID, WorklineID: wl.ID}, ErrRequiredField},
		{"bad date", CreateSessionRequest{ShiftID: shift.ID, WorklineID: wl.ID, ProductionDate: "15/03/2026"}, ErrInvalidDate},
		{"unknown shift", CreateSessionRequest{ShiftID: "nope", WorklineID: wl.ID, ProductionDate: "2026-03-15"}, ErrNotFound},
		{"unknown workline", CreateSessionRequest{ShiftID: shift.ID, WorklineID: "nope", ProductionDate: "2026-03-15"}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			_, err := f.svc.Session.Create(f.ctx, f.actor, &req)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestSessionCreate_ResponsibleFromShift(t *testing.T) {
	f := newFixture(t)
	shift, err := f.svc.Shift.Create(f.ctx, f.actor, &CreateShiftRequest{Name: "Day", Code: "DAY", UserID: strPtr("lead-7")})
	require.NoError(t, err)
	wl := f.workline("L1")

	s := f.session(shift, wl, "2026-03-15")
	assert.Equal(t, "lead-7", s.UserID)

	// 负责人在创建后不随班次变化
	_, err = f.svc.Shift.Update(f.ctx, f.actor, shift.ID, &UpdateShiftRequest{UserID: strPtr("lead-8")})
	require.NoError(t, err)
	got, err := f.svc.Session.Get(f.ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "lead-7", got.UserID)
}

func TestSessionCreate_Duplicate(t *testing.T) {
	f := newFixture(t)
	shift := f.shift("DAY")
	wl := f.workline("L1")
	f.session(shift, wl, "2026-03-15")

	_, err := f.svc.Session.Create(f.ctx, f.actor, &CreateSessionRequest{
		ShiftID: shift.ID, WorklineID: wl.ID, ProductionDate: "2026-03-15",
	})
	assert.ErrorIs(t, err, ErrDuplicateSession)

	// 关闭后名称仍被占用
	_, err = f.svc.Session.Close(f.ctx, f.actor, mustFindByName(t, f, "L1/260315/DAY").ID)
	require.NoError(t, err)
	_, err = f.svc.Session.Create(f.ctx, f.actor, &CreateSessionRequest{
		ShiftID: shift.ID, WorklineID: wl.ID, ProductionDate: "2026-03-15",
	})
	assert.ErrorIs(t, err, ErrDuplicateSession)
}

func mustFindByName(t *testing.T, f *fixture, name string) *entity.Session {
	t.Helper()
	s, err := f.svc.Session.repos.Session.FindByName(f.ctx, name)
	require.NoError(t, err)
	return s
}

func TestSessionTransitions(t *testing.T) {
	f := newFixture(t)
	shift := f.shift("DAY")
	wl := f.workline("L1")
	s := f.session(shift, wl, "2026-03-15")

	_, err := f.svc.Session.MarkProduced(f.ctx, f.actor, s.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "draft cannot skip confirm")

	f.now = fixedNow.Add(time.Minute)
	confirmed, err := f.svc.Session.Confirm(f.ctx, f.actor, s.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStateConfirmed, confirmed.State)
	require.NotNil(t, confirmed.StartAt)
	assert.True(t, confirmed.StartAt.Equal(fixedNow.Add(time.Minute)))

	_, err = f.svc.Session.Confirm(f.ctx, f.actor, s.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	produced, err := f.svc.Session.MarkProduced(f.ctx, f.actor, s.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStateProduced, produced.State)

	f.now = fixedNow.Add(time.Hour)
	closed, err := f.svc.Session.Close(f.ctx, f.actor, s.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStateClosed, closed.State)
	require.NotNil(t, closed.StopAt)
	assert.True(t, closed.StopAt.Equal(fixedNow.Add(time.Hour)))
	assert.True(t, closed.StartAt.Equal(fixedNow.Add(time.Minute)), "start_at is kept on close")

	for _, fn := range []func() (*entity.Session, error){
		func() (*entity.Session, error) { return f.svc.Session.Confirm(f.ctx, f.actor, s.ID) },
		func() (*entity.Session, error) { return f.svc.Session.MarkProduced(f.ctx, f.actor, s.ID) },
		func() (*entity.Session, error) { return f.svc.Session.Close(f.ctx, f.actor, s.ID) },
	} {
		_, err := fn()
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}

	logs, total, err := f.svc.Session.Activities(f.ctx, s.ID, 1, 50)
	require.NoError(t, err)
	assert.EqualValues(t, 4, total, "create + 3 transitions")
	assert.Len(t, logs, 4)

	assert.Equal(t, []string{"created", "confirmed", "produced", "closed"}, f.events.actions(EventSessionUpdate))
	assert.Equal(t, []string{"green"}, f.cards.templates())
}

func TestSessionClose_FromDraft(t *testing.T) {
	f := newFixture(t)
	shift := f.shift("DAY")
	wl := f.workline("L1")
	s := f.session(shift, wl, "2026-03-15")
	wo := f.order("WO-1", 10)
	_, err := f.svc.Line.Attach(f.ctx, f.actor, s.ID, wo.ID)
	require.NoError(t, err)

	closed, err := f.svc.Session.Close(f.ctx, f.actor, s.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStateClosed, closed.State)
	assert.NotNil(t, closed.StartAt)
	assert.NotNil(t, closed.StopAt)
	// 有未完成的生产行
	assert.Equal(t, []string{"red"}, f.cards.templates())
}

func TestSessionUpdate_DraftOnly(t *testing.T) {
	f := newFixture(t)
	shift := f.shift("DAY")
	l1 := f.workline("L1")
	l2 := f.workline("L2")
	s := f.session(shift, l1, "2026-03-15")
	wo := f.order("WO-1", 10)
	_, err := f.svc.Line.Attach(f.ctx, f.actor, s.ID, wo.ID)
	require.NoError(t, err)

	updated, err := f.svc.Session.Update(f.ctx, f.actor, s.ID, &UpdateSessionRequest{
		WorklineID:     strPtr(l2.ID),
		ProductionDate: strPtr("2026-03-16"),
	})
	require.NoError(t, err)
	assert.Equal(t, "L2/260316/DAY", updated.Name)
	require.Len(t, updated.Lines, 1)
	assert.Equal(t, "L2/260316/DAY - WO-1", updated.Lines[0].Name)

	_, err = f.svc.Session.Update(f.ctx, f.actor, s.ID, &UpdateSessionRequest{ProductionDate: strPtr("bad")})
	assert.ErrorIs(t, err, ErrInvalidDate)

	_, err = f.svc.Session.Confirm(f.ctx, f.actor, s.ID)
	require.NoError(t, err)
	_, err = f.svc.Session.Update(f.ctx, f.actor, s.ID, &UpdateSessionRequest{ProductionDate: strPtr("2026-03-17")})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSessionUpdate_Collision(t *testing.T) {
	f := newFixture(t)
	shift := f.shift("DAY")
	wl := f.workline("L1")
	f.session(shift, wl, "2026-03-15")
	other := f.session(shift, wl, "2026-03-16")

	_, err := f.svc.Session.Update(f.ctx, f.actor, other.ID, &UpdateSessionRequest{ProductionDate: strPtr("2026-03-15")})
	assert.ErrorIs(t, err, ErrDuplicateSession)

	got, err := f.svc.Session.Get(f.ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, "L1/260316/DAY", got.Name)
	assert.Equal(t, "2026-03-16", got.Date().Format("2006-01-02"))
}

func TestSessionDelete(t *testing.T) {
	f := newFixture(t)
	shift := f.shift("DAY")
	wl := f.workline("L1")
	draft := f.session(shift, wl, "2026-03-15")
	confirmed := f.session(shift, wl, "2026-03-16")
	wo := f.order("WO-1", 10)
	line, err := f.svc.Line.Attach(f.ctx, f.actor, draft.ID, wo.ID)
	require.NoError(t, err)
	_, err = f.svc.Session.Confirm(f.ctx, f.actor, confirmed.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Session.Delete(f.ctx, f.actor, confirmed.ID), ErrInvalidTransition)

	require.NoError(t, f.svc.Session.Delete(f.ctx, f.actor, draft.ID))
	_, err = f.svc.Session.Get(f.ctx, draft.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Line.Get(f.ctx, line.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionList_Filters(t *testing.T) {
	f := newFixture(t)
	day := f.shift("DAY")
	night := f.shift("NGT")
	wl := f.workline("L1")
	a := f.session(day, wl, "2026-03-14")
	f.session(day, wl, "2026-03-15")
	f.session(night, wl, "2026-03-15")
	_, err := f.svc.Session.Confirm(f.ctx, f.actor, a.ID)
	require.NoError(t, err)

	items, total, err := f.svc.Shift.ListSessions(f.ctx, day.ID, 1, 20, repository.SessionFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, items, 2)

	_, total, err = f.svc.Session.List(f.ctx, 1, 20, repository.SessionFilter{State: entity.SessionStateConfirmed})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	from := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	_, total, err = f.svc.Session.List(f.ctx, 1, 20, repository.SessionFilter{DateFrom: &from})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}

func TestRescueSession_FindOrCreate(t *testing.T) {
	f := newFixture(t)
	shift := f.shift("DAY")
	date := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	rescue, created, err := f.svc.Session.FindOrCreateRescueSession(f.ctx, f.actor, shift.ID, date)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, rescue.Rescue)
	assert.Equal(t, "RESCUE/260315/DAY", rescue.Name)
	assert.Equal(t, entity.SessionStateConfirmed, rescue.State)
	assert.Nil(t, rescue.WorklineID)
	require.NotNil(t, rescue.StartAt)

	again, created, err := f.svc.Session.FindOrCreateRescueSession(f.ctx, f.actor, shift.ID, date.Add(13*time.Hour))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rescue.ID, again.ID)

	// 兜底会话不参与当前会话选择
	current, err := f.svc.Shift.CurrentSession(f.ctx, f.actor, shift.ID)
	require.NoError(t, err)
	assert.Nil(t, current)

	assert.Equal(t, []string{"orange"}, f.cards.templates())

	c, err := f.svc.Shift.Counters(f.ctx, f.actor, []string{shift.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, c[shift.ID].CountSessionConfirmed)
	assert.EqualValues(t, 1, c[shift.ID].CountSessionToday)
}

func TestRescueSession_InsertSkipsExisting(t *testing.T) {
	f := newFixture(t)
	shift := f.shift("DAY")
	date := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	repos := repository.NewRepositories(f.db)

	newRescue := func() *entity.Session {
		return &entity.Session{
			Name:           "RESCUE/260315/DAY",
			ShiftID:        shift.ID,
			ProductionDate: datatypes.Date(date),
			State:          entity.SessionStateConfirmed,
			Rescue:         true,
		}
	}

	inserted, err := repos.Session.CreateRescue(f.ctx, newRescue())
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repos.Session.CreateRescue(f.ctx, newRescue())
	require.NoError(t, err)
	assert.False(t, inserted, "second rescue for the same shift and date is skipped")

	var count int64
	require.NoError(t, f.db.Model(&entity.Session{}).Where("shift_id = ? AND rescue = ?", shift.ID, true).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRescueSession_ConcurrentCallersShareOne(t *testing.T) {
	f := newFixture(t)
	shift := f.shift("DAY")
	date := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	const callers = 8
	var (
		mu      sync.Mutex
		ids     = map[string]bool{}
		created int
	)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			session, isNew, err := f.svc.Session.FindOrCreateRescueSession(f.ctx, f.actor, shift.ID, date)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			ids[session.ID] = true
			if isNew {
				created++
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)
	assert.Equal(t, []string{"orange"}, f.cards.templates())
}

func TestRescueSession_Validation(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.Session.FindOrCreateRescueSession(f.ctx, f.actor, "", fixedNow)
	assert.ErrorIs(t, err, ErrRequiredField)

	_, _, err = f.svc.Session.FindOrCreateRescueSession(f.ctx, f.actor, "missing", fixedNow)
	assert.ErrorIs(t, err, ErrNotFound)
}
