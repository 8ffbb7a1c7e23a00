package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harutoshi/medialens/internal/model"
	"github.com/harutoshi/medialens/internal/notify"
)

type recordedNote struct {
	severity notify.Severity
	title    string
	message  string
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []recordedNote
}

func (r *recordingNotifier) Notify(_ context.Context, severity notify.Severity, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, recordedNote{severity, title, message})
	return nil
}

func (r *recordingNotifier) all() []recordedNote {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedNote(nil), r.notes...)
}

// fastTiming finishes a full lifecycle in a few milliseconds.
func fastTiming() Timing {
	return Timing{
		Tick:              time.Millisecond,
		StepLo:            40,
		StepHi:            60,
		ProcessingDelayLo: time.Millisecond,
		ProcessingDelayHi: 2 * time.Millisecond,
	}
}

// stalledTiming keeps records in the uploading state for the whole test.
func stalledTiming() Timing {
	return Timing{
		Tick:              time.Hour,
		StepLo:            1,
		StepHi:            1,
		ProcessingDelayLo: time.Hour,
		ProcessingDelayHi: time.Hour,
	}
}

func TestAcceptBatchOrderAndClassification(t *testing.T) {
	tr := New(nil, nil, nil, stalledTiming())

	recs := tr.AcceptBatch([]FileInfo{
		{Name: "a.jpg", Size: 100, ContentType: "image/jpeg", Preview: []byte{1, 2}},
		{Name: "b.mp4", Size: 200, ContentType: "video/mp4"},
		{Name: "c.mp3", Size: 300, ContentType: "audio/mpeg"},
	})
	require.Len(t, recs, 3)

	require.Equal(t, model.KindImage, recs[0].Kind)
	require.Equal(t, model.KindVideo, recs[1].Kind)
	require.Equal(t, model.KindAudio, recs[2].Kind)

	seen := map[string]bool{}
	for _, rec := range recs {
		require.NotEmpty(t, rec.ID)
		require.False(t, seen[rec.ID], "duplicate identity %s", rec.ID)
		seen[rec.ID] = true
		require.Equal(t, model.StatusPending, rec.Status)
		require.Zero(t, rec.Progress)
	}

	// Only the image record owns a preview.
	require.NotEmpty(t, recs[0].PreviewKey)
	require.Empty(t, recs[1].PreviewKey)
	require.Empty(t, recs[2].PreviewKey)

	snap := tr.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, "a.jpg", snap[0].Name)
	require.Equal(t, "b.mp4", snap[1].Name)
	require.Equal(t, "c.mp3", snap[2].Name)

	// A second batch appends after all existing records.
	tr.AcceptBatch([]FileInfo{{Name: "d.pdf", ContentType: "application/pdf"}})
	snap = tr.Snapshot()
	require.Len(t, snap, 4)
	require.Equal(t, "d.pdf", snap[3].Name)
	require.Equal(t, model.KindDocument, snap[3].Kind)
}

func TestNoPreviewForNonImages(t *testing.T) {
	previews := NewMemoryPreviews()
	tr := New(previews, nil, nil, stalledTiming())

	recs := tr.AcceptBatch([]FileInfo{
		{Name: "doc.pdf", ContentType: "application/pdf", Preview: []byte{9, 9}},
	})
	require.Empty(t, recs[0].PreviewKey)
	require.Zero(t, previews.Len())
}

func TestProgressionRunsToCompletion(t *testing.T) {
	notes := &recordingNotifier{}
	tr := New(nil, notes, nil, fastTiming())

	recs := tr.AcceptBatch([]FileInfo{
		{Name: "cat.png", Size: 2 << 20, ContentType: "image/png", Preview: []byte("png-bytes")},
	})
	id := recs[0].ID

	var observed []model.UploadRecord
	require.Eventually(t, func() bool {
		rec, ok := tr.Get(id)
		if !ok {
			return false
		}
		observed = append(observed, rec)
		return rec.Status.Terminal()
	}, 5*time.Second, 500*time.Microsecond)

	final, ok := tr.Get(id)
	require.True(t, ok)
	require.Equal(t, model.StatusCompleted, final.Status)
	require.Equal(t, 100, final.Progress)

	// Progress never decreases, and processing is only entered at exactly 100.
	last := 0
	for _, rec := range observed {
		require.GreaterOrEqual(t, rec.Progress, last)
		last = rec.Progress
		if rec.Status == model.StatusProcessing || rec.Status.Terminal() {
			require.Equal(t, 100, rec.Progress)
		}
	}

	counts := tr.Counts()
	require.Equal(t, Counts{Total: 1, Active: 0, Completed: 1, Failed: 0}, counts)

	all := notes.all()
	require.Len(t, all, 1)
	require.Equal(t, notify.SeveritySuccess, all[0].severity)
	require.Contains(t, all[0].message, "cat.png")

	pv, ok := tr.Preview(id)
	require.True(t, ok)
	require.Equal(t, []byte("png-bytes"), pv)
}

func TestTerminalStatesAdmitNoTransitions(t *testing.T) {
	tr := New(nil, nil, nil, fastTiming())
	id := tr.AcceptBatch([]FileInfo{{Name: "x.mp3", ContentType: "audio/mpeg"}})[0].ID

	require.Eventually(t, func() bool {
		rec, _ := tr.Get(id)
		return rec.Status == model.StatusCompleted
	}, 5*time.Second, time.Millisecond)

	require.False(t, tr.Fail(context.Background(), id, "too late"))
	rec, _ := tr.Get(id)
	require.Equal(t, model.StatusCompleted, rec.Status)
	require.Empty(t, rec.Error)
}

func TestRemoveMidFlightIsSafe(t *testing.T) {
	previews := NewMemoryPreviews()
	timing := fastTiming()
	// Stretch the upload phase so removal reliably lands mid-flight.
	timing.Tick = 5 * time.Millisecond
	timing.StepLo, timing.StepHi = 5, 10
	tr := New(previews, nil, nil, timing)

	id := tr.AcceptBatch([]FileInfo{
		{Name: "big.png", ContentType: "image/png", Preview: []byte{1}},
	})[0].ID

	require.Eventually(t, func() bool {
		rec, ok := tr.Get(id)
		return ok && rec.Status == model.StatusUploading
	}, 5*time.Second, 200*time.Microsecond)

	require.True(t, tr.Remove(id))
	require.Zero(t, previews.Len())

	// Let every pending timer for the removed record fire.
	time.Sleep(50 * time.Millisecond)

	_, ok := tr.Get(id)
	require.False(t, ok, "removed record must not be resurrected")
	require.Empty(t, tr.Snapshot())
	require.Equal(t, Counts{}, tr.Counts())
}

func TestRemoveMissingIsNoOp(t *testing.T) {
	tr := New(nil, nil, nil, stalledTiming())
	tr.AcceptBatch([]FileInfo{{Name: "keep.mp4", ContentType: "video/mp4"}})

	require.False(t, tr.Remove("no-such-identity"))
	require.Len(t, tr.Snapshot(), 1)
}

func TestFailMarksRecordAndNotifies(t *testing.T) {
	notes := &recordingNotifier{}
	tr := New(nil, notes, nil, stalledTiming())
	id := tr.AcceptBatch([]FileInfo{{Name: "broken.mp4", ContentType: "video/mp4"}})[0].ID

	require.True(t, tr.Fail(context.Background(), id, "connection reset"))

	rec, ok := tr.Get(id)
	require.True(t, ok)
	require.Equal(t, model.StatusError, rec.Status)
	require.Equal(t, "connection reset", rec.Error)
	require.Equal(t, Counts{Total: 1, Failed: 1}, tr.Counts())

	all := notes.all()
	require.Len(t, all, 1)
	require.Equal(t, notify.SeverityError, all[0].severity)
	require.Contains(t, all[0].message, "broken.mp4")

	// Failing is idempotent-by-absence: the record is now terminal.
	require.False(t, tr.Fail(context.Background(), id, "again"))
}

func TestCountsAcrossMixedStatuses(t *testing.T) {
	tr := New(nil, nil, nil, stalledTiming())
	recs := tr.AcceptBatch([]FileInfo{
		{Name: "a.png", ContentType: "image/png"},
		{Name: "b.mp4", ContentType: "video/mp4"},
		{Name: "c.pdf", ContentType: "application/pdf"},
	})

	require.Eventually(t, func() bool {
		return tr.Counts().Active == 3
	}, 5*time.Second, time.Millisecond)

	tr.Fail(context.Background(), recs[2].ID, "boom")

	counts := tr.Counts()
	require.Equal(t, 3, counts.Total)
	require.Equal(t, 2, counts.Active)
	require.Equal(t, 1, counts.Failed)
	require.Zero(t, counts.Completed)
}
