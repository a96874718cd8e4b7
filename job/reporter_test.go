package job

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heatsim/model"
)

type recorder struct {
	mu      sync.Mutex
	updates []model.ProgressUpdate
}

func (r *recorder) Notify(u model.ProgressUpdate) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []model.ProgressUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ProgressUpdate(nil), r.updates...)
}

func TestReporterThrottles(t *testing.T) {
	rec := &recorder{}
	m := NewManager(testConfig(), nil, WithNotifier(rec))
	m.sessions["s1"] = &Session{ID: "s1", State: StateRunning}

	rep := newProgressReporter(m, "s1", time.Hour)
	rep.Report(1, "first")
	rep.Report(2, "dropped")
	rep.Report(3, "dropped")
	rep.Report(100, "completed")

	ups := rec.snapshot()
	require.Len(t, ups, 2)
	assert.Equal(t, "first", ups[0].Message)
	assert.Equal(t, 100.0, ups[1].Progress)

	s, err := m.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "completed", s.Message)
}

func TestReporterIgnoresFinishedSession(t *testing.T) {
	rec := &recorder{}
	m := NewManager(testConfig(), nil, WithNotifier(rec))
	m.sessions["s1"] = &Session{ID: "s1", State: StateDone, Progress: 100, Message: "completed"}

	newProgressReporter(m, "s1", 0).Report(40, "late")
	assert.Empty(t, rec.snapshot())
	s, _ := m.Get("s1")
	assert.Equal(t, 100.0, s.Progress)
}

func TestNotifierSeesLifecycle(t *testing.T) {
	rec := &recorder{}
	m := NewManager(testConfig(), nil, WithRunner(instant), WithNotifier(rec))
	require.NoError(t, m.Start())
	defer shutdown(t, m)

	s, err := m.Submit(validRequest())
	require.NoError(t, err)
	waitState(t, m, s.ID, StateDone)

	var states []string
	for _, u := range rec.snapshot() {
		assert.Equal(t, s.ID, u.Session)
		states = append(states, u.State)
	}
	assert.Equal(t, []string{"running", "running", "done"}, states)
}
