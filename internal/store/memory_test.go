package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AngelCh415/workdays-etl/internal/models"
)

func report(id string, at time.Time) models.RunReport {
	return models.RunReport{RunID: id, StartedAt: at, FinishedAt: at.Add(time.Minute)}
}

func TestBeginIsExclusive(t *testing.T) {
	st := NewMemoryStore(0)
	require.True(t, st.Begin("a"))
	assert.False(t, st.Begin("b"))

	key, ok := st.Running()
	assert.True(t, ok)
	assert.Equal(t, "a", key)

	st.Finish(report("r1", time.Now()))
	_, ok = st.Running()
	assert.False(t, ok)
	assert.True(t, st.Begin("b"))
}

func TestLastAndLimit(t *testing.T) {
	st := NewMemoryStore(2)
	_, ok := st.Last()
	assert.False(t, ok)

	base := time.Date(2024, 1, 9, 6, 0, 0, 0, time.UTC)
	st.Finish(report("r1", base))
	st.Finish(report("r2", base.Add(24*time.Hour)))
	st.Finish(report("r3", base.Add(48*time.Hour)))

	all := st.All()
	require.Len(t, all, 2)
	assert.Equal(t, "r3", all[0].RunID)
	assert.Equal(t, "r2", all[1].RunID)

	last, ok := st.Last()
	require.True(t, ok)
	assert.Equal(t, "r3", last.RunID)

	_, ok = st.Get("r1")
	assert.False(t, ok)
}
