package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heatsim/calculator"
	"heatsim/job"
	"heatsim/model"
	"heatsim/storage"
)

type fixture struct {
	ts      *httptest.Server
	jobs    *job.Manager
	hub     *Hub
	release chan struct{}
}

func fakeResult() *calculator.Result {
	return &calculator.Result{
		Times:                 []float64{0, 1, 2},
		Nr:                    1,
		Nz:                    1,
		SourceTemperature:     []float64{300, 301, 302},
		RadialProfiles:        [][]float64{{300}, {301}, {302}},
		AxialProfiles:         [][]float64{{300}, {301}, {302}},
		Fields:                [][]float64{{300}, {301}, {302}},
		TotalTime:             2,
		SourcePeakTemperature: 302,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{release: make(chan struct{})}
	runner := func(ctx context.Context, req *model.SimulationRequest, opts calculator.Options, rep calculator.Reporter) (*calculator.Result, error) {
		rep.Report(10, "integrating")
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return fakeResult(), nil
	}

	store := storage.New(t.TempDir())
	cfg := job.DefaultConfig()
	cfg.SweepInterval = 0
	cfg.ProgressInterval = 0
	f.hub = NewHub()
	go f.hub.Run()
	f.jobs = job.NewManager(cfg, store, job.WithRunner(runner), job.WithNotifier(f.hub))
	require.NoError(t, f.jobs.Start())

	srv := NewServer(":0", websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}, f.jobs, store, f.hub)
	f.ts = httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		select {
		case <-f.release:
		default:
			close(f.release)
		}
		f.ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		f.jobs.Shutdown(ctx)
		f.hub.Stop()
	})
	return f
}

func (f *fixture) finish() { close(f.release) }

func requestBody(mutate func(map[string]interface{})) *bytes.Reader {
	req := map[string]interface{}{
		"layer_names":     []string{"Glass", "Perovskite"},
		"thickness_nm":    []float64{5e4, 300},
		"k":               []float64{0.8, 0.5},
		"rho":             []float64{2500, 4100},
		"cp":              []float64{1000, 250},
		"voltage":         3,
		"current_density": 300,
		"epsilon_top":     0.1,
		"epsilon_bottom":  0.8,
		"epsilon_side":    0.8,
		"h_conv":          10,
		"t_ambient":       298.15,
		"device_area":     1e-6,
		"t_end":           10,
		"radial_points":   5,
	}
	if mutate != nil {
		mutate(req)
	}
	data, _ := json.Marshal(req)
	return bytes.NewReader(data)
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (f *fixture) submit(t *testing.T) string {
	t.Helper()
	resp, err := http.Post(f.ts.URL+"/api/simulate", "application/json", requestBody(nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var out submitResponse
	decode(t, resp, &out)
	require.NotEmpty(t, out.Session)
	assert.Equal(t, job.StatePending, out.State)
	return out.Session
}

func (f *fixture) waitDone(t *testing.T, id string) job.Session {
	t.Helper()
	var s job.Session
	require.Eventually(t, func() bool {
		resp, err := http.Get(f.ts.URL + "/api/sessions/" + id)
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		decode(t, resp, &s)
		return s.State == job.StateDone
	}, 5*time.Second, 10*time.Millisecond)
	return s
}

func TestHealthAndCORS(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.ts.URL + "/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])

	req, _ := http.NewRequest(http.MethodOptions, f.ts.URL+"/api/simulate", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestSubmitRejections(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name   string
		body   *bytes.Reader
		status int
		kind   string
		field  string
	}{
		{"malformed", bytes.NewReader([]byte("{")), http.StatusBadRequest, job.KindValidation, ""},
		{"negative current", requestBody(func(m map[string]interface{}) { m["current_density"] = -1 }), http.StatusBadRequest, job.KindValidation, "current_density"},
		{"array mismatch", requestBody(func(m map[string]interface{}) { m["k"] = []float64{1} }), http.StatusBadRequest, job.KindValidation, "layers"},
		{"too many points", requestBody(func(m map[string]interface{}) { m["radial_points"] = 100000 }), http.StatusUnprocessableEntity, job.KindLimit, "radial_points"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(f.ts.URL+"/api/simulate", "application/json", tc.body)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
			var out errorResponse
			decode(t, resp, &out)
			assert.Equal(t, tc.kind, out.Kind)
			if tc.field != "" {
				assert.Equal(t, tc.field, out.Field)
			}
		})
	}
	assert.Empty(t, f.jobs.List())
}

func TestSubmitPollAndArchive(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t)
	f.finish()
	s := f.waitDone(t, id)
	require.NotNil(t, s.Result)
	assert.Equal(t, 302.0, s.Result.SourcePeakTemperature)

	resp, err := http.Get(f.ts.URL + "/api/sessions/" + id + "/archive")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), id)

	resp, err = http.Get(f.ts.URL + "/api/sessions")
	require.NoError(t, err)
	var list []job.Session
	decode(t, resp, &list)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Nil(t, list[0].Result)
}

func TestArchiveBeforeDone(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t)

	resp, err := http.Get(f.ts.URL + "/api/sessions/" + id + "/archive")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = http.Get(f.ts.URL + "/api/sessions/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPresetsAndMetrics(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.ts.URL + "/api/presets")
	require.NoError(t, err)
	var presets map[string]model.SimulationRequest
	decode(t, resp, &presets)
	assert.Contains(t, presets, "oled-default")

	resp, err = http.Get(f.ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func readProgress(t *testing.T, conn *websocket.Conn) model.ProgressUpdate {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg model.Msg
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "progress", msg.Type, string(msg.Content))
	var u model.ProgressUpdate
	require.NoError(t, json.Unmarshal(msg.Content, &u))
	return u
}

func TestWebsocketFollowsSession(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t)

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws?session=" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readProgress(t, conn)
	assert.Equal(t, id, first.Session)

	f.finish()
	for {
		u := readProgress(t, conn)
		assert.Equal(t, id, u.Session)
		if u.State == string(job.StateDone) {
			assert.Equal(t, 100.0, u.Progress)
			break
		}
	}
}

func TestWebsocketSubscribeMessage(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(model.Msg{Type: "subscribe", Content: json.RawMessage(`{"session_id":"missing"}`)}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg model.Msg
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)

	require.NoError(t, conn.WriteJSON(model.Msg{Type: "ping"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pong", msg.Type)

	id := f.submit(t)
	content, _ := json.Marshal(map[string]string{"session_id": id})
	require.NoError(t, conn.WriteJSON(model.Msg{Type: "subscribe", Content: content}))
	u := readProgress(t, conn)
	assert.Equal(t, id, u.Session)
}

func TestWebsocketRejectsOversizedMessage(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	big := bytes.Repeat([]byte("x"), 2*maxMessageBytes)
	content, _ := json.Marshal(map[string]string{"session_id": string(big)})
	require.NoError(t, conn.WriteJSON(model.Msg{Type: "subscribe", Content: content}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	var cerr *websocket.CloseError
	if errors.As(err, &cerr) {
		assert.Equal(t, websocket.CloseMessageTooBig, cerr.Code)
	}
}
