package sqlite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvailland/scribe/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func queuedJob(filename string) *domain.Job {
	return domain.NewJob(filename, "/tmp/"+filename, domain.Params{
		Language: "ja", Task: domain.TaskTranscribe, ModelID: "base", ComputeType: "int8",
	})
}

func TestStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)

	job := queuedJob("会議.mp3")
	require.NoError(t, store.Create(job))

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "会議.mp3", got.Filename)
	assert.Equal(t, domain.JobStateQueued, got.State)
	assert.Equal(t, job.Params, got.Params)
	assert.Nil(t, got.Outputs)
	assert.True(t, got.StartedAt.IsZero())
	assert.True(t, got.CompletedAt.IsZero())
}

func TestStore_GetUnknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ClaimNextOrder(t *testing.T) {
	store := newTestStore(t)

	first := queuedJob("first.mp3")
	first.CreatedAt = time.Now().UTC().Add(-2 * time.Minute)
	second := queuedJob("second.mp3")
	second.CreatedAt = time.Now().UTC().Add(-1 * time.Minute)
	require.NoError(t, store.Create(second))
	require.NoError(t, store.Create(first))

	claimed, err := store.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, domain.JobStateProcessing, claimed.State)
	assert.False(t, claimed.StartedAt.IsZero())

	claimed, err = store.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, second.ID, claimed.ID)

	claimed, err = store.ClaimNext()
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestStore_CountQueued(t *testing.T) {
	store := newTestStore(t)

	n, err := store.CountQueued()
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, store.Create(queuedJob("a.mp3")))
	require.NoError(t, store.Create(queuedJob("b.mp3")))

	n, err = store.CountQueued()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = store.ClaimNext()
	require.NoError(t, err)

	n, err = store.CountQueued()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_ProgressMonotonic(t *testing.T) {
	store := newTestStore(t)

	job := queuedJob("a.mp3")
	require.NoError(t, store.Create(job))
	_, err := store.ClaimNext()
	require.NoError(t, err)

	require.NoError(t, store.UpdateProgress(job.ID, 0.6))
	require.NoError(t, store.UpdateProgress(job.ID, 0.2))

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.6, got.Progress)
}

func TestStore_UpdatePreviewWhileProcessing(t *testing.T) {
	store := newTestStore(t)

	job := queuedJob("a.mp3")
	require.NoError(t, store.Create(job))

	// Ignored while queued.
	require.NoError(t, store.UpdatePreview(job.ID, "too early"))
	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Preview)

	_, err = store.ClaimNext()
	require.NoError(t, err)

	require.NoError(t, store.UpdatePreview(job.ID, "first words"))
	require.NoError(t, store.UpdatePreview(job.ID, "first words\nand more"))
	got, err = store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "first words\nand more", got.Preview)

	// Complete replaces the rolling preview with the final text.
	outputs := map[string]string{"txt": "/out/j/transcript.txt"}
	require.NoError(t, store.Complete(job.ID, outputs, &domain.Transcript{}, "final text"))

	require.NoError(t, store.UpdatePreview(job.ID, "late"))
	got, err = store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "final text", got.Preview)
}

func TestStore_CompleteLifecycle(t *testing.T) {
	store := newTestStore(t)

	job := queuedJob("a.mp3")
	require.NoError(t, store.Create(job))
	_, err := store.ClaimNext()
	require.NoError(t, err)

	outputs := map[string]string{
		"txt": "/out/j/transcript.txt",
		"srt": "/out/j/transcript.srt",
	}
	transcript := &domain.Transcript{Language: "en", LanguageProbability: 0.92, Duration: 33.5}
	require.NoError(t, store.Complete(job.ID, outputs, transcript, "hello"))

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, got.State)
	assert.Equal(t, 1.0, got.Progress)
	assert.Equal(t, outputs, got.Outputs)
	assert.Equal(t, "en", got.Language)
	assert.Equal(t, 33.5, got.Duration)
	assert.Equal(t, "hello", got.Preview)
	assert.False(t, got.CompletedAt.IsZero())

	// Terminal states admit no further completion or failure.
	assert.Error(t, store.Complete(job.ID, outputs, transcript, "again"))
	assert.Error(t, store.Fail(job.ID, "too late"))
}

func TestStore_FailFromQueuedAndProcessing(t *testing.T) {
	store := newTestStore(t)

	queued := queuedJob("q.mp3")
	require.NoError(t, store.Create(queued))
	require.NoError(t, store.Fail(queued.ID, "canceled by client"))

	got, err := store.Get(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, got.State)
	assert.Equal(t, "canceled by client", got.ErrorMessage)

	assert.ErrorIs(t, store.Fail("missing", "x"), domain.ErrNotFound)
}

func TestStore_ListExpired(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	job := queuedJob("old.mp3")
	require.NoError(t, store.Create(job))
	_, err := store.ClaimNext()
	require.NoError(t, err)
	require.NoError(t, store.Complete(job.ID, map[string]string{"txt": "/x"}, &domain.Transcript{}, ""))

	// Backdate the completion past the retention window.
	_, err = store.db.Exec(`UPDATE jobs SET completed_at = ? WHERE id = ?`,
		now.Add(-48*time.Hour), job.ID)
	require.NoError(t, err)

	expired, err := store.ListExpired(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, job.ID, expired[0].ID)

	expired, err = store.ListExpired(now.Add(-72 * time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestStore_ExpireThenDelete(t *testing.T) {
	store := newTestStore(t)

	job := queuedJob("a.mp3")
	require.NoError(t, store.Create(job))
	_, err := store.ClaimNext()
	require.NoError(t, err)
	require.NoError(t, store.Fail(job.ID, "boom"))

	require.NoError(t, store.Expire(job.ID))
	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateExpired, got.State)

	// Expire is not re-entrant.
	assert.Error(t, store.Expire(job.ID))

	require.NoError(t, store.Delete(job.ID))
	_, err = store.Get(job.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ResetStalled(t *testing.T) {
	store := newTestStore(t)

	job := queuedJob("a.mp3")
	require.NoError(t, store.Create(job))
	_, err := store.ClaimNext()
	require.NoError(t, err)
	require.NoError(t, store.UpdateProgress(job.ID, 0.4))

	require.NoError(t, store.ResetStalled())

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateQueued, got.State)
	assert.Zero(t, got.Progress)
	assert.True(t, got.StartedAt.IsZero())

	// The requeued job is claimable again.
	claimed, err := store.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
}

func TestStore_List(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().UTC()
	for i, name := range []string{"a.mp3", "b.mp3", "c.mp3"} {
		job := queuedJob(name)
		job.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Create(job))
	}

	jobs, err := store.List(0)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "c.mp3", jobs[0].Filename)

	jobs, err = store.List(1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "c.mp3", jobs[0].Filename)
}
