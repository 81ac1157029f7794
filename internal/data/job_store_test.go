package data

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/docflow/internal/domain/model"
)

func testJob(id string) *model.DocumentJob {
	return &model.DocumentJob{ID: id, Name: id + ".pdf", Status: model.JobStatusQueued}
}

func TestJobStore_UpsertGetList(t *testing.T) {
	s := NewJobStore(JobStoreOptions{})

	require.NoError(t, s.Upsert(testJob("b")))
	require.NoError(t, s.Upsert(testJob("a")))
	require.NoError(t, s.Upsert(testJob("c")))

	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", got.Name)

	var ids []string
	for _, j := range s.List() {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{"b", "a", "c"}, ids)

	updated := testJob("b")
	updated.Status = model.JobStatusProcessing
	require.NoError(t, s.Upsert(updated))
	assert.Equal(t, "b", s.List()[0].ID, "replacing keeps insertion order")
	assert.Equal(t, model.JobStatusProcessing, s.List()[0].Status)
}

func TestJobStore_UpsertCopiesInput(t *testing.T) {
	s := NewJobStore(JobStoreOptions{})
	j := testJob("a")
	require.NoError(t, s.Upsert(j))

	j.Status = model.JobStatusFailed
	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, got.Status)
}

func TestJobStore_UpsertRequiresID(t *testing.T) {
	s := NewJobStore(JobStoreOptions{})
	assert.ErrorIs(t, s.Upsert(nil), ErrJobIDRequired)
	assert.ErrorIs(t, s.Upsert(&model.DocumentJob{}), ErrJobIDRequired)
}

func TestJobStore_GetMissing(t *testing.T) {
	s := NewJobStore(JobStoreOptions{})
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = s.Done("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobStore_Update(t *testing.T) {
	s := NewJobStore(JobStoreOptions{})
	require.NoError(t, s.Upsert(testJob("a")))
	before, _ := s.Get("a")

	got, err := s.Update("a", func(j *model.DocumentJob) bool {
		j.Status = model.JobStatusProcessing
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, got.Status)
	assert.Equal(t, model.JobStatusQueued, before.Status, "earlier snapshots are never mutated")

	same, err := s.Update("a", func(j *model.DocumentJob) bool {
		j.Status = model.JobStatusFailed
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, same.Status)

	_, err = s.Update("missing", func(*model.DocumentJob) bool { return true })
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobStore_RemoveIsIdempotentAndFinal(t *testing.T) {
	s := NewJobStore(JobStoreOptions{})
	require.NoError(t, s.Upsert(testJob("a")))
	require.NoError(t, s.Upsert(testJob("b")))
	done, err := s.Done("a")
	require.NoError(t, err)

	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
	assert.False(t, s.Remove("never-existed"))

	select {
	case <-done:
	default:
		t.Fatal("done channel should be closed on removal")
	}

	require.Len(t, s.List(), 1)
	assert.Equal(t, "b", s.List()[0].ID)
	assert.Equal(t, 1, s.Len())

	assert.ErrorIs(t, s.Upsert(testJob("a")), ErrJobRemoved)
	_, err = s.Update("a", func(*model.DocumentJob) bool { return true })
	assert.ErrorIs(t, err, ErrJobRemoved)
	_, err = s.Get("a")
	assert.ErrorIs(t, err, ErrJobRemoved)
}

func TestJobStore_NotifiesChangesInOrder(t *testing.T) {
	s := NewJobStore(JobStoreOptions{})
	unsub, events := s.Subscribe()
	defer unsub()

	require.NoError(t, s.Upsert(testJob("a")))
	_, err := s.Update("a", func(j *model.DocumentJob) bool {
		j.Status = model.JobStatusProcessing
		return true
	})
	require.NoError(t, err)
	s.Remove("a")

	var got []string
	for range 3 {
		select {
		case ev := <-events:
			got = append(got, fmt.Sprintf("%s:%s", ev.Kind, ev.JobID))
		case <-time.After(time.Second):
			t.Fatal("missing event")
		}
	}
	assert.Equal(t, []string{"job:a", "job:a", "removed:a"}, got)
}

func TestJobStore_ConcurrentWritersAndReaders(t *testing.T) {
	s := NewJobStore(JobStoreOptions{})
	const writers = 8
	const updates = 200

	for w := range writers {
		require.NoError(t, s.Upsert(testJob(fmt.Sprintf("job-%d", w))))
	}

	var wg sync.WaitGroup
	for w := range writers {
		id := fmt.Sprintf("job-%d", w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range updates {
				_, err := s.Update(id, func(j *model.DocumentJob) bool {
					j.CurrentStageIndex = i
					j.AppendLog(time.Time{}, "step")
					return true
				})
				assert.NoError(t, err)
			}
		}()
	}

	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, j := range s.List() {
				// Each snapshot is internally consistent.
				if len(j.Log) > 0 {
					assert.Equal(t, j.CurrentStageIndex, j.Log[len(j.Log)-1].Stage)
				}
			}
		}
	}()

	wg.Wait()
	close(stop)
	readers.Wait()

	for _, j := range s.List() {
		assert.Equal(t, updates-1, j.CurrentStageIndex)
		assert.Len(t, j.Log, updates)
	}
}
