package www

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"cleanroute/config"
	"cleanroute/devstate"
	"cleanroute/engine"
	"cleanroute/messaging"
	"cleanroute/store"
)

type testServer struct {
	eng    *engine.Engine
	router http.Handler
	token  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Defaults()
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Messaging.OfflineSweep = 0

	db, err := store.Open(&cfg.Database)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	rs := devstate.NewRedisStore(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}))
	eng := engine.New(engine.Config{
		AppConfig: cfg,
		DB:        db,
		DevState:  devstate.NewManager(db, rs),
		MsgClient: messaging.NewClient(&cfg.Messaging),
	})

	ts := &testServer{eng: eng, router: NewRouter(eng)}
	ts.token = ts.login(t, "admin", "admin")
	return ts
}

func (ts *testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/login", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	return resp["token"]
}

func (ts *testServer) do(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if authed {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) seedBin(t *testing.T, binID, zoneID string, lat, lon float64) {
	t.Helper()
	b := &store.Bin{BinID: binID, ZoneID: zoneID, CapacityLiters: 240, Lat: &lat, Lon: &lon}
	if err := ts.eng.DB().CreateBin(b); err != nil {
		t.Fatalf("seed bin: %v", err)
	}
}

// seedSteadyFill writes hourly readings climbing at the given rate, ending
// at endFill an hour ago.
func (ts *testServer) seedSteadyFill(t *testing.T, binID string, points int, endFill, ratePerHour float64) {
	t.Helper()
	now := time.Now()
	for i := 0; i < points; i++ {
		hoursAgo := time.Duration(points-i) * time.Hour
		r := &store.TelemetryReading{
			BinID:     binID,
			Timestamp: now.Add(-hoursAgo),
			FillPct:   endFill - ratePerHour*float64(points-1-i),
		}
		if err := ts.eng.DB().InsertTelemetry(r); err != nil {
			t.Fatalf("seed telemetry: %v", err)
		}
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	ts := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/login", bytes.NewReader(body)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestMutationRequiresAuth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, "POST", "/api/bins", map[string]any{"bin_id": "BIN-001"}, false)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestBinCreateAssignsZoneFromCoordinates(t *testing.T) {
	ts := newTestServer(t)
	// Inside the Fort bounds, no explicit zone.
	rec := ts.do(t, "POST", "/api/bins", map[string]any{
		"bin_id": "BIN-001", "lat": 6.9355, "lon": 79.8500, "capacity_liters": 240,
	}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var b store.Bin
	json.Unmarshal(rec.Body.Bytes(), &b)
	if b.ZoneID != "colombo_zone1" {
		t.Errorf("ZoneID = %q, want colombo_zone1", b.ZoneID)
	}
}

func TestBinLifecycleOverAPI(t *testing.T) {
	ts := newTestServer(t)
	ts.seedBin(t, "BIN-001", "colombo_zone1", 6.9355, 79.8500)

	rec := ts.do(t, "GET", "/api/bins/BIN-001", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}

	rec = ts.do(t, "PUT", "/api/bins/BIN-001", map[string]any{
		"location": "Main St", "lat": 6.9355, "lon": 79.8500, "zone_id": "colombo_zone2",
	}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d body %s", rec.Code, rec.Body.String())
	}
	var b store.Bin
	json.Unmarshal(rec.Body.Bytes(), &b)
	if b.ZoneID != "colombo_zone2" || b.Location != "Main St" {
		t.Errorf("after update: zone=%q location=%q", b.ZoneID, b.Location)
	}

	rec = ts.do(t, "DELETE", "/api/bins/BIN-001", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status %d", rec.Code)
	}
	if rec = ts.do(t, "GET", "/api/bins/BIN-001", nil, false); rec.Code != http.StatusNotFound {
		t.Errorf("after delete: status %d, want 404", rec.Code)
	}
}

func TestForecastEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.seedBin(t, "BIN-001", "colombo_zone1", 6.9355, 79.8500)
	// 70..78 over five hours: two percent per hour.
	ts.seedSteadyFill(t, "BIN-001", 5, 78, 2)

	rec := ts.do(t, "GET", "/api/forecast/BIN-001?target_time=6h", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var p struct {
		PredictedFill   float64 `json:"predicted_fill"`
		NeedsCollection bool    `json:"needs_collection"`
		Confidence      string  `json:"confidence"`
	}
	json.Unmarshal(rec.Body.Bytes(), &p)
	if p.PredictedFill < 85 || p.PredictedFill > 95 {
		t.Errorf("PredictedFill = %v, want about 90", p.PredictedFill)
	}
	if !p.NeedsCollection {
		t.Error("six hours at two percent per hour from 78 crosses the threshold")
	}
}

func TestForecastRejectsPastTarget(t *testing.T) {
	ts := newTestServer(t)
	ts.seedBin(t, "BIN-001", "colombo_zone1", 6.9355, 79.8500)
	past := time.Now().Add(-time.Hour).Format(time.RFC3339)
	rec := ts.do(t, "GET", "/api/forecast/BIN-001?target_time="+past, nil, false)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRouteEndpointOrdersByProximity(t *testing.T) {
	ts := newTestServer(t)
	// Both in zone 1. BIN-NEAR sits closer to the Fort depot (6.9355, 79.85).
	ts.seedBin(t, "BIN-FAR", "colombo_zone1", 6.9440, 79.8630)
	ts.seedBin(t, "BIN-NEAR", "colombo_zone1", 6.9360, 79.8510)
	ts.seedSteadyFill(t, "BIN-FAR", 6, 90, 1)
	ts.seedSteadyFill(t, "BIN-NEAR", 6, 85, 1)

	rec := ts.do(t, "GET", "/api/routes/colombo_zone1?target_time=6h", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var route struct {
		Stops []struct {
			BinID string `json:"bin_id"`
		} `json:"stops"`
		TotalKm float64 `json:"total_km"`
	}
	json.Unmarshal(rec.Body.Bytes(), &route)
	if len(route.Stops) != 2 {
		t.Fatalf("stops = %d, want 2", len(route.Stops))
	}
	if route.Stops[0].BinID != "BIN-NEAR" {
		t.Errorf("first stop = %s, want BIN-NEAR", route.Stops[0].BinID)
	}
	if route.TotalKm <= 0 {
		t.Errorf("TotalKm = %v, want positive", route.TotalKm)
	}
}

func TestRouteSkipsOfflineBins(t *testing.T) {
	ts := newTestServer(t)
	ts.seedBin(t, "BIN-001", "colombo_zone1", 6.9355, 79.8500)
	ts.seedSteadyFill(t, "BIN-001", 6, 90, 1)
	if err := ts.eng.DB().SetBinDeviceStatus("BIN-001", "offline"); err != nil {
		t.Fatalf("set offline: %v", err)
	}

	rec := ts.do(t, "GET", "/api/routes/colombo_zone1", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var route struct {
		Stops []any `json:"stops"`
	}
	json.Unmarshal(rec.Body.Bytes(), &route)
	if len(route.Stops) != 0 {
		t.Errorf("offline bin must not be routed, stops = %d", len(route.Stops))
	}
}

func TestRouteUnknownZone(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, "GET", "/api/routes/nowhere", nil, false)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCollectionSessionOverAPI(t *testing.T) {
	ts := newTestServer(t)
	ts.seedBin(t, "BIN-001", "colombo_zone1", 6.9355, 79.8500)

	rec := ts.do(t, "POST", "/api/zones/colombo_zone1/collection/start", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: status %d body %s", rec.Code, rec.Body.String())
	}
	var snap struct {
		State     string `json:"state"`
		BinsTotal int    `json:"bins_total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &snap)
	if snap.State != "started" || snap.BinsTotal != 1 {
		t.Errorf("start snapshot = %+v", snap)
	}

	// A second start conflicts.
	if rec = ts.do(t, "POST", "/api/zones/colombo_zone1/collection/start", nil, true); rec.Code != http.StatusConflict {
		t.Errorf("second start: status %d, want 409", rec.Code)
	}

	rec = ts.do(t, "POST", "/api/zones/colombo_zone1/collection/end", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("end: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, "GET", "/api/zones/colombo_zone1/collection", nil, false)
	var status map[string]any
	json.Unmarshal(rec.Body.Bytes(), &status)
	if status["state"] != "not_started" {
		t.Errorf("after end state = %v, want not_started", status["state"])
	}
}

func TestCollectionUnknownZone(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, "POST", "/api/zones/nowhere/collection/start", nil, true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestBinCommandValidation(t *testing.T) {
	ts := newTestServer(t)
	ts.seedBin(t, "BIN-001", "colombo_zone1", 6.9355, 79.8500)

	rec := ts.do(t, "POST", "/api/bins/BIN-001/command", map[string]any{"command": "self_destruct"}, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad command: status %d, want 400", rec.Code)
	}
	rec = ts.do(t, "POST", "/api/bins/BIN-001/command", map[string]any{"command": "ota_update"}, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("ota without version: status %d, want 400", rec.Code)
	}
}

func TestBinCommandHistory(t *testing.T) {
	ts := newTestServer(t)
	ts.seedBin(t, "BIN-001", "colombo_zone1", 6.9355, 79.8500)

	// Broker is not connected, so issuing fails downstream but the
	// command row is still recorded.
	rec := ts.do(t, "POST", "/api/bins/BIN-001/command", map[string]any{"command": "reboot"}, true)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("issue: status %d, want 502", rec.Code)
	}

	rec = ts.do(t, "GET", "/api/bins/BIN-001/commands", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d, want 200", rec.Code)
	}
	var cmds []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &cmds); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cmds) != 1 {
		t.Fatalf("commands = %d, want 1", len(cmds))
	}
	if cmds[0]["command_type"] != "reboot" || cmds[0]["status"] != "failed" {
		t.Errorf("command = %+v", cmds[0])
	}

	rec = ts.do(t, "GET", "/api/bins/BIN-001/commands?limit=0", nil, false)
	if rec.Code != http.StatusOK {
		t.Errorf("bad limit ignored: status %d, want 200", rec.Code)
	}
}

func TestAlertAckOverAPI(t *testing.T) {
	ts := newTestServer(t)
	ts.seedBin(t, "BIN-001", "colombo_zone1", 6.9355, 79.8500)
	if err := ts.eng.DB().CreateAlert(&store.Alert{BinID: "BIN-001", AlertType: "battery_low", Message: "test"}); err != nil {
		t.Fatalf("create alert: %v", err)
	}

	rec := ts.do(t, "GET", "/api/alerts", nil, false)
	var alerts []store.Alert
	json.Unmarshal(rec.Body.Bytes(), &alerts)
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}

	rec = ts.do(t, "POST", fmt.Sprintf("/api/alerts/%d/ack", alerts[0].ID), nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("ack: status %d", rec.Code)
	}
	rec = ts.do(t, "GET", "/api/alerts", nil, false)
	alerts = nil
	json.Unmarshal(rec.Body.Bytes(), &alerts)
	if len(alerts) != 0 {
		t.Errorf("unacked alerts = %d, want 0", len(alerts))
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, "GET", "/api/health", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("resp = %v", resp)
	}
}
