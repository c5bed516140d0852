package monitoring

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churnrisk/pipeline"
	"churnrisk/schema"
)

func TestMetricsObserveRun(t *testing.T) {
	m := NewMetrics()

	m.ObserveRun(pipeline.RunSummary{
		Mode:          pipeline.ModeBatch,
		Rows:          5,
		Labels:        pipeline.LabelCounts{pipeline.RiskLow: 3, pipeline.RiskHigh: 2},
		Substitutions: 1,
		Duration:      2 * time.Millisecond,
	})
	m.ObserveRun(pipeline.RunSummary{
		Mode:      pipeline.ModeBatch,
		Rows:      20000,
		ErrorKind: "batch_too_large",
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("batch", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("batch", "batch_too_large")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.rowsScored))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.riskLabels.WithLabelValues("LOW")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.riskLabels.WithLabelValues("HIGH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.substitutions))
}

func TestMetricsHandlerExposesSeries(t *testing.T) {
	m := NewMetrics()
	m.ObserveRequest("/api/predict", 200, 5*time.Millisecond)
	m.ObserveRateLimited()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, `churnrisk_http_requests_total{route="/api/predict",status="200"} 1`)
	assert.Contains(t, body, "churnrisk_http_rate_limited_total 1")
	assert.Contains(t, body, "go_goroutines")
}

func TestSystemStats(t *testing.T) {
	stats := NewMetrics().SystemStats()
	assert.Contains(t, stats, "uptime")
	assert.Contains(t, stats, "goroutines")
}

func TestHubBroadcastsRuns(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(hub)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.ObserveRun(pipeline.RunSummary{ID: "run-1", Mode: pipeline.ModeSingle, Rows: 1})
	hub.ObserveRun(pipeline.RunSummary{ID: "run-2", Mode: pipeline.ModeBatch, ErrorKind: "malformed_table"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second Message
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &first))
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &second))

	assert.Equal(t, RunCompleted, first.Type)
	assert.Equal(t, "run-1", first.Run.ID)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, RunFailed, second.Type)
	assert.Equal(t, "malformed_table", second.Run.ErrorKind)
}

func TestHubStopsOnCancel(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	cancel()

	select {
	case <-hub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
}

type halfModel struct{}

func (halfModel) PredictProbability([]schema.Value) (float64, error) { return 0.5, nil }

func TestHubFailedRunCarriesNoInputValue(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(hub)
	defer server.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	registry, err := schema.New(schema.FieldSpec{Name: "tenure", Kind: schema.Numeric, Default: schema.Number(0)})
	require.NoError(t, err)
	predictor := pipeline.NewPredictor(registry, halfModel{}, pipeline.WithObserver(hub))
	_, err = predictor.PredictOne(pipeline.NewRawRecord(pipeline.Field{Name: "tenure", Value: "jane.doe@example.com"}))
	require.Error(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "jane.doe")

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, RunFailed, msg.Type)
	assert.Equal(t, "type_mismatch", msg.Run.ErrorKind)
}
