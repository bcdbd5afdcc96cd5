package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestWorklineCRUD(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Workline.Create(f.ctx, f.actor, &CreateWorklineRequest{Code: "L1"})
	assert.ErrorIs(t, err, ErrRequiredField)
	_, err = f.svc.Workline.Create(f.ctx, f.actor, &CreateWorklineRequest{Name: "Line", Code: "LINE01"})
	assert.ErrorIs(t, err, ErrInvalidCode)

	wl := f.workline("L1")
	_, err = f.svc.Workline.Create(f.ctx, f.actor, &CreateWorklineRequest{Name: "Dup", Code: "L1"})
	assert.ErrorIs(t, err, ErrDuplicateCode)

	updated, err := f.svc.Workline.Update(f.ctx, f.actor, wl.ID, &UpdateWorklineRequest{Name: strPtr("Assembly")})
	require.NoError(t, err)
	assert.Equal(t, "Assembly", updated.Name)
	assert.Equal(t, "L1", updated.Code)

	items, total, err := f.svc.Workline.List(f.ctx, 1, 20, map[string]string{"search": "assem"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, items, 1)

	require.NoError(t, f.svc.Workline.Delete(f.ctx, f.actor, wl.ID))
	_, err = f.svc.Workline.Get(f.ctx, wl.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// 删除后编码可复用
	f.workline("L1")
}

func TestWorklineUpdate_CodeChangeRenamesSessions(t *testing.T) {
	f := newFixture(t)
	shift := f.shift("DAY")
	wl := f.workline("L1")
	s := f.session(shift, wl, "2026-03-15")

	_, err := f.svc.Workline.Update(f.ctx, f.actor, wl.ID, &UpdateWorklineRequest{Code: strPtr("A1")})
	require.NoError(t, err)

	got, err := f.svc.Session.Get(f.ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "A1/260315/DAY", got.Name)
}

func TestWorklineDelete_InUse(t *testing.T) {
	f := newFixture(t)
	shift := f.shift("DAY")
	wl := f.workline("L1")
	f.session(shift, wl, "2026-03-15")

	err := f.svc.Workline.Delete(f.ctx, f.actor, wl.ID)
	assert.ErrorIs(t, err, ErrInUse)
}

func TestWorklineImport_GBK(t *testing.T) {
	f := newFixture(t)
	f.workline("L9")

	csvText := "code,name\nL1,一号线\nL2,二号线\nL9,重复\nTOOLONG,超长\n,缺编码\n"
	encoded, err := simplifiedchinese.GBK.NewEncoder().String(csvText)
	require.NoError(t, err)

	res, err := f.svc.Workline.Import(f.ctx, f.actor, strings.NewReader(encoded), "gbk")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, res.Failed)
	assert.Len(t, res.Errors, 2)

	wl, err := f.svc.Workline.repos.Workline.FindByCode(f.ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "一号线", wl.Name)
}

func TestWorklineImport_UTF8WithBOM(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Workline.Import(f.ctx, f.actor, strings.NewReader("\ufeffcode,name\n\"A1\",\"Line, A\"\n"), "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	wl, err := f.svc.Workline.repos.Workline.FindByCode(f.ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Line, A", wl.Name)
}
