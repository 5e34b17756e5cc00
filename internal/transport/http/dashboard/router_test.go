package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"tradeloop/internal/engine"
)

func newTestServer(t *testing.T) (*engine.GlobalState, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	state := engine.NewGlobalState()
	r := gin.New()
	NewRouter(state, nil).Register(r.Group("/api"))
	return state, r
}

func TestStatusEndpoint(t *testing.T) {
	state, srv := newTestServer(t)
	state.BeginCycle("c-1", time.Now())
	state.RecordEquity(10100, 100, nil, time.Now())

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("状态接口应返回 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("响应应为 JSON: %v", err)
	}
	if body["last_cycle_id"] != "c-1" || body["equity"].(float64) != 10100 {
		t.Fatalf("状态内容错误: %v", body)
	}
}

func TestControlEndpoint(t *testing.T) {
	state, srv := newTestServer(t)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/control",
		strings.NewReader(`{"mode":"paused"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("合法模式应返回 200, got %d: %s", w.Code, w.Body.String())
	}
	if state.Mode() != engine.ModePaused {
		t.Fatalf("模式应切换为 paused, got %s", state.Mode())
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/control",
		strings.NewReader(`{"mode":"yolo"}`)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("非法模式应返回 400, got %d", w.Code)
	}
	if state.Mode() != engine.ModePaused {
		t.Fatalf("非法请求不应改变模式")
	}
}

func TestEquityChartRenders(t *testing.T) {
	state, srv := newTestServer(t)
	state.RecordEquity(10000, 0, nil, time.Now())
	state.RecordEquity(10050, 50, nil, time.Now())

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/chart/equity", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("图表页应返回 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "echarts") {
		t.Fatalf("图表页应包含 echarts 资源引用")
	}
}

func TestDecisionsFallbackToMemory(t *testing.T) {
	state, srv := newTestServer(t)
	state.RecordDecision(engine.DecisionEvent{CycleID: "c-9", At: time.Now()})

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/decisions", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("决策接口应返回 200, got %d", w.Code)
	}
	var events []engine.DecisionEvent
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatalf("响应应为 JSON 数组: %v", err)
	}
	if len(events) != 1 || events[0].CycleID != "c-9" {
		t.Fatalf("内存窗口内容错误: %+v", events)
	}
}
