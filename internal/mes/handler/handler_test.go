package handler

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/bitfantasy/nimo-mes/internal/mes/sse"
	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
	"github.com/bitfantasy/nimo-mes/internal/shared/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const apiPrefix = "/api/v1/mes"

func setupMESTest(t *testing.T) (*testutil.TestEnv, *sse.Hub) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	router := testutil.SetupRouter()

	hub := sse.NewHub(nil)
	t.Cleanup(hub.Close)

	svc := service.NewServices(repository.NewRepositories(db), service.Options{Events: hub})
	RegisterRoutes(testutil.AuthGroup(router, apiPrefix), NewHandlers(svc, hub, time.UTC, nil))

	return &testutil.TestEnv{DB: db, Router: router, T: t}, hub
}

func doJSON(t *testing.T, env *testutil.TestEnv, method, path string, body interface{}, wantStatus int) map[string]interface{} {
	t.Helper()
	w := testutil.DoRequest(env.Router, method, apiPrefix+path, body, testutil.DefaultTestToken())
	require.Equal(t, wantStatus, w.Code, w.Body.String())
	return testutil.ParseResponse(w)
}

func dataOf(t *testing.T, resp map[string]interface{}) map[string]interface{} {
	t.Helper()
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %v", resp)
	return data
}

// seedShiftAndWorkline 通过接口创建班次 DAY 和产线 L1
func seedShiftAndWorkline(t *testing.T, env *testutil.TestEnv) (shiftID, worklineID string) {
	t.Helper()
	shift := dataOf(t, doJSON(t, env, "POST", "/shifts", map[string]interface{}{"name": "Day", "code": "DAY"}, http.StatusCreated))
	wl := dataOf(t, doJSON(t, env, "POST", "/worklines", map[string]interface{}{"name": "Line 1", "code": "L1"}, http.StatusCreated))
	return shift["id"].(string), wl["id"].(string)
}

func TestWorklineEndpoints(t *testing.T) {
	env, _ := setupMESTest(t)

	created := dataOf(t, doJSON(t, env, "POST", "/worklines", map[string]interface{}{"name": "Line 1", "code": "L1"}, http.StatusCreated))
	assert.Equal(t, "L1", created["code"])

	resp := doJSON(t, env, "POST", "/worklines", map[string]interface{}{"name": "Again", "code": "L1"}, http.StatusConflict)
	assert.EqualValues(t, 40901, resp["code"])

	resp = doJSON(t, env, "POST", "/worklines", map[string]interface{}{"name": "Long", "code": "LINE01"}, http.StatusBadRequest)
	assert.EqualValues(t, 40002, resp["code"])

	list := dataOf(t, doJSON(t, env, "GET", "/worklines?page=1&page_size=10", nil, http.StatusOK))
	items := list["items"].([]interface{})
	assert.Len(t, items, 1)
	pagination := list["pagination"].(map[string]interface{})
	assert.EqualValues(t, 1, pagination["total"])
	assert.EqualValues(t, 1, pagination["total_pages"])

	id := created["id"].(string)
	updated := dataOf(t, doJSON(t, env, "PUT", "/worklines/"+id, map[string]interface{}{"name": "Assembly"}, http.StatusOK))
	assert.Equal(t, "Assembly", updated["name"])

	doJSON(t, env, "DELETE", "/worklines/"+id, nil, http.StatusOK)
	resp = doJSON(t, env, "GET", "/worklines/"+id, nil, http.StatusNotFound)
	assert.EqualValues(t, 40400, resp["code"])
}

func TestWorklineImportEndpoint(t *testing.T) {
	env, _ := setupMESTest(t)

	body := strings.NewReader("code,name\nL1,Line 1\nL2,Line 2\nBADCODE,Too long\n")
	w := testutil.DoRawRequest(env.Router, "POST", apiPrefix+"/worklines/import", body, "text/csv", testutil.DefaultTestToken())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	data := testutil.ResponseData(w)
	assert.EqualValues(t, 2, data["created"])
	assert.EqualValues(t, 1, data["failed"])
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	env, _ := setupMESTest(t)
	shiftID, worklineID := seedShiftAndWorkline(t, env)

	session := dataOf(t, doJSON(t, env, "POST", "/sessions", map[string]interface{}{
		"shift_id":        shiftID,
		"workline_id":     worklineID,
		"production_date": "2026-03-15",
	}, http.StatusCreated))
	assert.Equal(t, "L1/260315/DAY", session["name"])
	assert.Equal(t, "draft", session["state"])
	id := session["id"].(string)

	resp := doJSON(t, env, "POST", "/sessions", map[string]interface{}{
		"shift_id":        shiftID,
		"workline_id":     worklineID,
		"production_date": "2026-03-15",
	}, http.StatusConflict)
	assert.EqualValues(t, 40902, resp["code"])

	resp = doJSON(t, env, "POST", "/sessions", map[string]interface{}{
		"shift_id":        shiftID,
		"workline_id":     worklineID,
		"production_date": "15/03/2026",
	}, http.StatusBadRequest)
	assert.EqualValues(t, 40003, resp["code"])

	for _, step := range []struct{ action, state string }{
		{"confirm", "confirmed"},
		{"produce", "produced"},
		{"close", "closed"},
	} {
		got := dataOf(t, doJSON(t, env, "POST", "/sessions/"+id+"/"+step.action, nil, http.StatusOK))
		assert.Equal(t, step.state, got["state"], step.action)
	}

	resp = doJSON(t, env, "POST", "/sessions/"+id+"/confirm", nil, http.StatusBadRequest)
	assert.EqualValues(t, 40005, resp["code"])

	activities := dataOf(t, doJSON(t, env, "GET", "/sessions/"+id+"/activities", nil, http.StatusOK))
	assert.GreaterOrEqual(t, len(activities["items"].([]interface{})), 3)

	list := dataOf(t, doJSON(t, env, "GET", "/shifts/"+shiftID+"/sessions?state=closed", nil, http.StatusOK))
	assert.Len(t, list["items"].([]interface{}), 1)

	doJSON(t, env, "GET", "/sessions?date_from=bad", nil, http.StatusBadRequest)

	counters := dataOf(t, doJSON(t, env, "GET", "/shifts/"+shiftID+"/counters", nil, http.StatusOK))
	assert.EqualValues(t, 1, counters["count_session"])
	assert.EqualValues(t, 1, counters["count_session_closed"])

	shift := dataOf(t, doJSON(t, env, "GET", "/shifts/"+shiftID, nil, http.StatusOK))
	assert.NotNil(t, shift["last_session_closing_date"])
}

func TestCurrentSessionEndpoint(t *testing.T) {
	env, _ := setupMESTest(t)
	shiftID, worklineID := seedShiftAndWorkline(t, env)

	data := dataOf(t, doJSON(t, env, "GET", "/shifts/"+shiftID+"/current-session", nil, http.StatusOK))
	assert.Nil(t, data["session"])

	doJSON(t, env, "POST", "/sessions", map[string]interface{}{
		"shift_id": shiftID, "workline_id": worklineID, "production_date": "2026-03-15",
	}, http.StatusCreated)

	data = dataOf(t, doJSON(t, env, "GET", "/shifts/"+shiftID+"/current-session", nil, http.StatusOK))
	current := data["session"].(map[string]interface{})
	assert.Equal(t, "L1/260315/DAY", current["name"])

	doJSON(t, env, "GET", "/shifts/missing/current-session", nil, http.StatusNotFound)
}

func TestRescueSessionEndpoint(t *testing.T) {
	env, _ := setupMESTest(t)
	shiftID, _ := seedShiftAndWorkline(t, env)

	first := dataOf(t, doJSON(t, env, "POST", "/shifts/"+shiftID+"/rescue-session",
		map[string]interface{}{"production_date": "2026-03-15"}, http.StatusCreated))
	assert.Equal(t, true, first["created"])
	session := first["session"].(map[string]interface{})
	assert.Equal(t, "RESCUE/260315/DAY", session["name"])
	assert.Equal(t, "confirmed", session["state"])

	second := dataOf(t, doJSON(t, env, "POST", "/shifts/"+shiftID+"/rescue-session",
		map[string]interface{}{"production_date": "2026-03-15"}, http.StatusOK))
	assert.Equal(t, false, second["created"])
	assert.Equal(t, session["id"], second["session"].(map[string]interface{})["id"])
}

func TestProductionReportEndpoints(t *testing.T) {
	env, _ := setupMESTest(t)
	shiftID, _ := seedShiftAndWorkline(t, env)
	uom := testutil.SeedUoM(t, env.DB, "Units", 0.01)
	wo := testutil.SeedWorkOrder(t, env.DB, "WO-1", 10, uom)

	report := map[string]interface{}{
		"shift_id":        shiftID,
		"production_id":   wo.ID,
		"production_date": "2026-03-15",
		"qty":             3,
	}
	first := dataOf(t, doJSON(t, env, "POST", "/production-reports", report, http.StatusCreated))
	assert.Equal(t, true, first["rescue_created"])
	line := first["line"].(map[string]interface{})
	assert.Equal(t, "RESCUE/260315/DAY - WO-1", line["name"])
	assert.EqualValues(t, 3, line["qty_produced"])

	second := dataOf(t, doJSON(t, env, "POST", "/production-reports", report, http.StatusOK))
	assert.Equal(t, false, second["rescue_created"])

	lineID := line["id"].(string)
	recorded := dataOf(t, doJSON(t, env, "POST", "/session-lines/"+lineID+"/record",
		map[string]interface{}{"qty": 4}, http.StatusOK))
	assert.EqualValues(t, 10, recorded["qty_produced"])
	assert.Equal(t, true, recorded["is_produced"])

	resp := doJSON(t, env, "POST", "/session-lines/"+lineID+"/record", map[string]interface{}{"qty": 0}, http.StatusBadRequest)
	assert.EqualValues(t, 40004, resp["code"])

	got := dataOf(t, doJSON(t, env, "GET", "/session-lines/"+lineID, nil, http.StatusOK))
	assert.EqualValues(t, 10, got["qty_to_produce"], "order progress is tracked by the ERP side")
}

func TestAttachEndpoint_ClosedSession(t *testing.T) {
	env, _ := setupMESTest(t)
	shiftID, worklineID := seedShiftAndWorkline(t, env)
	uom := testutil.SeedUoM(t, env.DB, "Units", 1)
	wo := testutil.SeedWorkOrder(t, env.DB, "WO-1", 5, uom)

	session := dataOf(t, doJSON(t, env, "POST", "/sessions", map[string]interface{}{
		"shift_id": shiftID, "workline_id": worklineID, "production_date": "2026-03-15",
	}, http.StatusCreated))
	id := session["id"].(string)

	attached := dataOf(t, doJSON(t, env, "POST", "/sessions/"+id+"/lines", map[string]interface{}{"production_id": wo.ID}, http.StatusCreated))
	assert.Equal(t, "L1/260315/DAY - WO-1", attached["name"])

	resp := doJSON(t, env, "POST", "/sessions/"+id+"/lines", map[string]interface{}{"production_id": wo.ID}, http.StatusConflict)
	assert.EqualValues(t, 40903, resp["code"])

	doJSON(t, env, "POST", "/sessions/"+id+"/close", nil, http.StatusOK)
	resp = doJSON(t, env, "POST", "/session-lines/"+attached["id"].(string)+"/record", map[string]interface{}{"qty": 1}, http.StatusConflict)
	assert.EqualValues(t, 40904, resp["code"])
}

func TestShiftReportEndpoints(t *testing.T) {
	env, _ := setupMESTest(t)
	shiftID, worklineID := seedShiftAndWorkline(t, env)
	doJSON(t, env, "POST", "/sessions", map[string]interface{}{
		"shift_id": shiftID, "workline_id": worklineID, "production_date": "2026-03-15",
	}, http.StatusCreated)

	w := testutil.DoRequest(env.Router, "GET", apiPrefix+"/shifts/"+shiftID+"/report", nil, testutil.DefaultTestToken())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Shift_DAY_")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	name, err := f.GetCellValue("Sessions", "A2")
	require.NoError(t, err)
	assert.Equal(t, "L1/260315/DAY", name)

	resp := doJSON(t, env, "POST", "/shifts/"+shiftID+"/report/archive", nil, http.StatusServiceUnavailable)
	assert.EqualValues(t, 50301, resp["code"])
}

func TestRecomputeEndpoint(t *testing.T) {
	env, _ := setupMESTest(t)
	shiftID, worklineID := seedShiftAndWorkline(t, env)
	doJSON(t, env, "POST", "/sessions", map[string]interface{}{
		"shift_id": shiftID, "workline_id": worklineID, "production_date": "2026-03-15",
	}, http.StatusCreated)
	require.NoError(t, env.DB.Exec("UPDATE mes_sessions SET name = ?", "stale").Error)

	res := dataOf(t, doJSON(t, env, "POST", "/admin/recompute?shift_ids="+shiftID, nil, http.StatusOK))
	assert.EqualValues(t, 1, res["sessions"])
	assert.EqualValues(t, 1, res["changed"])
}

func TestPermissions(t *testing.T) {
	env, _ := setupMESTest(t)
	reader := testutil.GenerateTestToken("reader", "Reader", []string{PermRead}, testutil.TokenOptions{Timezone: "Asia/Shanghai"})
	writer := testutil.GenerateTestToken("writer", "Writer", []string{PermRead, PermWrite}, testutil.TokenOptions{})

	w := testutil.DoRequest(env.Router, "GET", apiPrefix+"/worklines", nil, reader)
	assert.Equal(t, http.StatusOK, w.Code)

	w = testutil.DoRequest(env.Router, "POST", apiPrefix+"/worklines", map[string]interface{}{"name": "L", "code": "L1"}, reader)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.EqualValues(t, 40302, testutil.ParseResponse(w)["code"])

	w = testutil.DoRequest(env.Router, "POST", apiPrefix+"/worklines", map[string]interface{}{"name": "L", "code": "L1"}, writer)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = testutil.DoRequest(env.Router, "POST", apiPrefix+"/admin/recompute", nil, writer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = testutil.DoRequest(env.Router, "GET", apiPrefix+"/worklines", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEventStream(t *testing.T) {
	env, hub := setupMESTest(t)
	srv := httptest.NewServer(env.Router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + apiPrefix + "/events?token=" + testutil.DefaultTestToken())
	require.NoError(t, err)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "":
				if event != "" {
					return event, data
				}
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
	}

	event, data := readEvent()
	assert.Equal(t, "connected", event)
	assert.Contains(t, data, "test-user-001_")
	require.Equal(t, 1, hub.Count())

	shiftID, worklineID := seedShiftAndWorkline(t, env)
	doJSON(t, env, "POST", "/sessions", map[string]interface{}{
		"shift_id": shiftID, "workline_id": worklineID, "production_date": "2026-03-15",
	}, http.StatusCreated)

	event, data = readEvent()
	assert.Equal(t, service.EventSessionUpdate, event)
	assert.Contains(t, data, `"action":"created"`)
	assert.Contains(t, data, `"name":"L1/260315/DAY"`)

	resp.Body.Close()
	require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

// countingCache 统计缓存读取次数
type countingCache struct {
	cache.Cache
	gets int
}

func (c *countingCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.gets++
	return c.Cache.Get(ctx, key)
}

func TestShiftCountersEndpoint_SingleLookup(t *testing.T) {
	db := testutil.SetupTestDB(t)
	router := testutil.SetupRouter()
	counting := &countingCache{Cache: cache.NewMemory(time.Minute, time.Minute)}
	svc := service.NewServices(repository.NewRepositories(db), service.Options{Cache: counting, CounterTTL: time.Minute})
	RegisterRoutes(testutil.AuthGroup(router, apiPrefix), NewHandlers(svc, nil, time.UTC, nil))
	env := &testutil.TestEnv{DB: db, Router: router, T: t}

	shiftID, worklineID := seedShiftAndWorkline(t, env)
	doJSON(t, env, "POST", "/sessions", map[string]interface{}{
		"shift_id": shiftID, "workline_id": worklineID, "production_date": "2026-03-15",
	}, http.StatusCreated)

	counting.gets = 0
	counters := dataOf(t, doJSON(t, env, "GET", "/shifts/"+shiftID+"/counters", nil, http.StatusOK))
	assert.EqualValues(t, 1, counters["count_session"])
	assert.EqualValues(t, 1, counters["count_session_draft"])
	// 一次统计：读取代数 + 读取统计值
	assert.Equal(t, 2, counting.gets)

	doJSON(t, env, "GET", "/shifts/missing/counters", nil, http.StatusNotFound)
}
