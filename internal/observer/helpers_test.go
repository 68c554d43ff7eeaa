package observer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/testutil"
)

// recorder is a Handle that keeps every candidate in memory.
type recorder struct {
	mu    sync.Mutex
	ids   *testutil.SequentialIDs
	clock *testutil.StepClock
	got   []ir.Candidate
	fail  error
}

func newRecorder() *recorder {
	return &recorder{
		ids:   testutil.NewSequentialIDs("obs"),
		clock: testutil.NewStepClock(testutil.Epoch, time.Second),
	}
}

func (r *recorder) Append(_ context.Context, c ir.Candidate) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return 0, r.fail
	}
	r.got = append(r.got, c)
	return uint64(len(r.got)), nil
}

func (r *recorder) NewEventID() string { return r.ids.Generate() }
func (r *recorder) Now() time.Time     { return r.clock.Now() }

func (r *recorder) candidates() []ir.Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ir.Candidate(nil), r.got...)
}

func (r *recorder) kinds() []string {
	var out []string
	for _, c := range r.candidates() {
		out = append(out, c.Kind)
	}
	return out
}

func payloadOf(t *testing.T, c ir.Candidate) ir.IRObject {
	t.Helper()
	var obj ir.IRObject
	require.NoError(t, json.Unmarshal(c.Payload, &obj))
	return obj
}
