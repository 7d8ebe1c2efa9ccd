package queue

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/glimpse/internal/models"
)

func item(cat models.CaptureCategory, id string) *models.CaptureItem {
	return &models.CaptureItem{ID: id, Category: cat, Mode: models.ModeFull}
}

func ids(items []*models.CaptureItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestPushEvictsOldestFirst(t *testing.T) {
	q := New(5)
	var evicted []string
	for i := 1; i <= 6; i++ {
		if ev := q.Push(item(models.CategoryProblem, fmt.Sprintf("p%d", i))); ev != nil {
			evicted = append(evicted, ev.ID)
		}
	}

	assert.Equal(t, []string{"p1"}, evicted)
	assert.Equal(t, 5, q.Len(models.CategoryProblem))
	if diff := cmp.Diff([]string{"p2", "p3", "p4", "p5", "p6"}, ids(q.Snapshot(models.CategoryProblem))); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestPushNeverExceedsBound(t *testing.T) {
	q := New(3)
	var evicted []string
	for i := 0; i < 10; i++ {
		ev := q.Push(item(models.CategoryDebug, fmt.Sprintf("d%d", i)))
		if i < 3 {
			assert.Nil(t, ev)
		} else {
			require.NotNil(t, ev)
			evicted = append(evicted, ev.ID)
		}
		assert.LessOrEqual(t, q.Len(models.CategoryDebug), 3)
	}
	assert.Equal(t, []string{"d0", "d1", "d2", "d3", "d4", "d5", "d6"}, evicted)
}

func TestPartitionsAreIndependent(t *testing.T) {
	q := New(1)
	assert.Nil(t, q.Push(item(models.CategoryProblem, "p")))
	assert.Nil(t, q.Push(item(models.CategoryDebug, "d")))
	assert.Equal(t, 1, q.Len(models.CategoryProblem))
	assert.Equal(t, 1, q.Len(models.CategoryDebug))
}

func TestRemoveAndGet(t *testing.T) {
	q := New(5)
	q.Push(item(models.CategoryProblem, "a"))
	q.Push(item(models.CategoryProblem, "b"))
	q.Push(item(models.CategoryProblem, "c"))

	got, ok := q.Get("b")
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)

	removed, ok := q.Remove("b")
	require.True(t, ok)
	assert.Equal(t, "b", removed.ID)
	assert.Equal(t, []string{"a", "c"}, ids(q.Snapshot(models.CategoryProblem)))

	_, ok = q.Remove("b")
	assert.False(t, ok)
	_, ok = q.Get("b")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	q := New(5)
	q.Push(item(models.CategoryProblem, "a"))
	q.Push(item(models.CategoryProblem, "b"))
	q.Push(item(models.CategoryDebug, "x"))

	assert.Equal(t, []string{"a", "b"}, ids(q.Clear(models.CategoryProblem)))
	assert.Equal(t, 0, q.Len(models.CategoryProblem))
	assert.Equal(t, 1, q.Len(models.CategoryDebug))

	assert.Equal(t, []string{"x"}, ids(q.ClearAll()))
	assert.Equal(t, 0, q.Len(models.CategoryDebug))
}

func TestSnapshotIsACopy(t *testing.T) {
	q := New(5)
	q.Push(item(models.CategoryProblem, "a"))
	snap := q.Snapshot(models.CategoryProblem)
	snap[0] = item(models.CategoryProblem, "z")
	assert.Equal(t, []string{"a"}, ids(q.Snapshot(models.CategoryProblem)))
}

func TestSetMaxItemsTrims(t *testing.T) {
	q := New(4)
	for i := 0; i < 4; i++ {
		q.Push(item(models.CategoryProblem, fmt.Sprintf("p%d", i)))
	}
	evicted := q.SetMaxItems(2)
	assert.Equal(t, []string{"p0", "p1"}, ids(evicted))
	assert.Equal(t, []string{"p2", "p3"}, ids(q.Snapshot(models.CategoryProblem)))
	assert.Equal(t, 2, q.MaxItems())
}
