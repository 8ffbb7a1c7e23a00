// Package tracker owns the in-memory collection of upload records and drives
// each record through its status lifecycle. It backs the standalone server,
// where no real transfer happens and progression is simulated on timers.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harutoshi/medialens/internal/model"
	"github.com/harutoshi/medialens/internal/notify"
)

// FileInfo describes one accepted file. The drop-target layer (the HTTP
// handler) has already enforced the size ceiling and content-type allowlist
// before the tracker sees it.
type FileInfo struct {
	Name        string
	Size        int64
	ContentType string
	// Preview holds raw image bytes; it is only consulted for image uploads.
	Preview []byte
}

// Timing tunes the simulated progression. Tests inject millisecond values so
// a full lifecycle finishes quickly.
type Timing struct {
	Tick              time.Duration
	StepLo            int
	StepHi            int
	ProcessingDelayLo time.Duration
	ProcessingDelayHi time.Duration
}

// DefaultTiming mirrors the cadence of the original upload widget: a tick
// every 200ms with a 5-20% increment, then a 1.5-3.5s processing phase.
func DefaultTiming() Timing {
	return Timing{
		Tick:              200 * time.Millisecond,
		StepLo:            5,
		StepHi:            20,
		ProcessingDelayLo: 1500 * time.Millisecond,
		ProcessingDelayHi: 3500 * time.Millisecond,
	}
}

func (t Timing) normalized() Timing {
	if t.Tick <= 0 {
		t.Tick = 200 * time.Millisecond
	}
	if t.StepLo <= 0 {
		t.StepLo = 5
	}
	if t.StepHi < t.StepLo {
		t.StepHi = t.StepLo
	}
	if t.ProcessingDelayLo < 0 {
		t.ProcessingDelayLo = 0
	}
	if t.ProcessingDelayHi < t.ProcessingDelayLo {
		t.ProcessingDelayHi = t.ProcessingDelayLo
	}
	return t
}

// Counts is the aggregate view over the collection, recomputed on every call.
type Counts struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Tracker holds upload records in insertion order, keyed by identity. All
// mutations go through one mutex; progression goroutines re-resolve their
// identity on every step, so a record removed mid-flight simply stops
// receiving updates.
type Tracker struct {
	mu       sync.Mutex
	records  map[string]*model.UploadRecord
	order    []string
	previews PreviewStore
	notifier notify.Notifier
	logger   *slog.Logger
	timing   Timing
}

// New constructs a Tracker. The notifier and preview store are explicit
// dependencies so tests can substitute them.
func New(previews PreviewStore, notifier notify.Notifier, logger *slog.Logger, timing Timing) *Tracker {
	if previews == nil {
		previews = NewMemoryPreviews()
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		records:  make(map[string]*model.UploadRecord),
		previews: previews,
		notifier: notifier,
		logger:   logger,
		timing:   timing.normalized(),
	}
}

// AcceptBatch registers one record per file, in input order, and starts an
// independent progression for each. It returns copies of the new records.
func (t *Tracker) AcceptBatch(files []FileInfo) []model.UploadRecord {
	now := time.Now().UTC()
	created := make([]model.UploadRecord, 0, len(files))

	t.mu.Lock()
	for _, f := range files {
		rec := &model.UploadRecord{
			ID:          uuid.NewString(),
			Name:        f.Name,
			Size:        f.Size,
			ContentType: f.ContentType,
			Kind:        model.ClassifyKind(f.ContentType),
			Status:      model.StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if rec.Kind == model.KindImage && len(f.Preview) > 0 {
			rec.PreviewKey = "previews/" + rec.ID
			t.previews.Put(rec.PreviewKey, f.Preview)
		}
		t.records[rec.ID] = rec
		t.order = append(t.order, rec.ID)
		created = append(created, *rec)
	}
	t.mu.Unlock()

	for _, rec := range created {
		go t.drive(rec.ID, rec.Name)
	}
	return created
}

// drive is the per-record progression: pending -> uploading, randomized
// progress ticks, clamp at 100 into processing, then a randomized delay into
// completed with a success notification. Each step resolves the identity
// afresh, so removal mid-flight turns the remaining steps into no-ops.
func (t *Tracker) drive(id, name string) {
	if _, ok := t.update(id, func(r *model.UploadRecord) {
		r.Status = model.StatusUploading
	}); !ok {
		return
	}

	for {
		time.Sleep(t.timing.Tick)
		rec, ok := t.update(id, func(r *model.UploadRecord) {
			r.Progress += t.timing.StepLo + rand.Intn(t.timing.StepHi-t.timing.StepLo+1)
			if r.Progress >= 100 {
				r.Progress = 100
				r.Status = model.StatusProcessing
			}
		})
		if !ok {
			return
		}
		if rec.Status == model.StatusProcessing {
			break
		}
	}

	time.Sleep(t.processingDelay())
	if _, ok := t.update(id, func(r *model.UploadRecord) {
		r.Status = model.StatusCompleted
	}); !ok {
		return
	}

	msg := fmt.Sprintf("%s processed successfully", name)
	if err := t.notifier.Notify(context.Background(), notify.SeveritySuccess, "MediaLens - Upload Complete", msg); err != nil {
		t.logger.Warn("completion notification failed", "file", name, "error", err)
	}
}

func (t *Tracker) processingDelay() time.Duration {
	lo, hi := t.timing.ProcessingDelayLo, t.timing.ProcessingDelayHi
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

// update applies fn to the record under the lock and returns a copy of the
// result. It refuses to touch absent or terminal records.
func (t *Tracker) update(id string, fn func(*model.UploadRecord)) (model.UploadRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok || rec.Status.Terminal() {
		return model.UploadRecord{}, false
	}
	fn(rec)
	rec.UpdatedAt = time.Now().UTC()
	return *rec, true
}

// Fail transitions a record into the terminal error state. The simulated
// progression never calls this; it is the hook a real transport routes
// genuine failures through.
func (t *Tracker) Fail(ctx context.Context, id, detail string) bool {
	rec, ok := t.update(id, func(r *model.UploadRecord) {
		r.Status = model.StatusError
		r.Error = detail
	})
	if !ok {
		return false
	}
	msg := fmt.Sprintf("%s failed: %s", rec.Name, detail)
	if err := t.notifier.Notify(ctx, notify.SeverityError, "MediaLens - Upload Failed", msg); err != nil {
		t.logger.Warn("failure notification failed", "file", rec.Name, "error", err)
	}
	return true
}

// Remove deletes a record by identity and releases its preview. A missing
// identity is a silent no-op. In-flight progression timers are not cancelled;
// their later steps no longer find the record and do nothing.
func (t *Tracker) Remove(id string) bool {
	t.mu.Lock()
	rec, ok := t.records[id]
	if ok {
		delete(t.records, id)
		for i, oid := range t.order {
			if oid == id {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
	t.mu.Unlock()

	if ok && rec.PreviewKey != "" {
		t.previews.Delete(rec.PreviewKey)
	}
	return ok
}

// Get returns a copy of one record.
func (t *Tracker) Get(id string) (model.UploadRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok {
		return model.UploadRecord{}, false
	}
	return *rec, true
}

// Snapshot returns copies of all records in insertion order.
func (t *Tracker) Snapshot() []model.UploadRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.UploadRecord, 0, len(t.order))
	for _, id := range t.order {
		if rec, ok := t.records[id]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

// Counts recomputes the aggregate view from the live collection.
func (t *Tracker) Counts() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	var c Counts
	for _, rec := range t.records {
		c.Total++
		switch {
		case rec.Status.Active():
			c.Active++
		case rec.Status == model.StatusCompleted:
			c.Completed++
		case rec.Status == model.StatusError:
			c.Failed++
		}
	}
	return c
}

// Preview returns the stored preview bytes for a record, if any.
func (t *Tracker) Preview(id string) ([]byte, bool) {
	rec, ok := t.Get(id)
	if !ok || rec.PreviewKey == "" {
		return nil, false
	}
	return t.previews.Get(rec.PreviewKey)
}
