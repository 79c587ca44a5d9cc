package recency

import (
	"context"
	"slices"
	"time"

	"github.com/smallnest/checkpointer/log"
	"github.com/smallnest/checkpointer/store"
	"github.com/smallnest/checkpointer/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// windowSize is the number of most recent occurrences kept per thread
const windowSize = 2

// Entry is one thread in the recent threads report
type Entry struct {
	ThreadID  string    `json:"thread_id"`
	UserEmail string    `json:"user_email"`
	Timestamp time.Time `json:"ts"`
}

// window holds the last windowSize occurrences of a thread, oldest first
type window struct {
	entries [windowSize]Entry
	n       int
}

func (w *window) push(e Entry) {
	if w.n == windowSize {
		copy(w.entries[:], w.entries[1:])
		w.n--
	}
	w.entries[w.n] = e
	w.n++
}

// tracker keeps one window per thread and the order threads were first seen
type tracker struct {
	order   []string
	windows map[string]*window
}

func newTracker() *tracker {
	return &tracker{windows: make(map[string]*window)}
}

func (t *tracker) add(e Entry) {
	w, seen := t.windows[e.ThreadID]
	if !seen {
		w = &window{}
		t.windows[e.ThreadID] = w
		t.order = append(t.order, e.ThreadID)
	}
	w.push(e)
}

// report returns the older retained occurrence of every full window
func (t *tracker) report() []Entry {
	report := make([]Entry, 0, len(t.order))
	for _, threadID := range t.order {
		if w := t.windows[threadID]; w.n == windowSize {
			report = append(report, w.entries[0])
		}
	}
	return report
}

// Indexer scans the whole checkpoint log and reports recently active threads.
// A thread is reported with its second most recent occurrence, so threads seen
// only once are omitted. The indexer keeps no state between calls.
type Indexer struct {
	scanner  store.Scanner
	logger   log.Logger
	recorder telemetry.Recorder
	byTS     bool
}

// Option configures an Indexer
type Option func(*Indexer)

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return func(ix *Indexer) {
		ix.logger = logger
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r telemetry.Recorder) Option {
	return func(ix *Indexer) {
		ix.recorder = r
	}
}

// WithTimestampOrder stable-sorts scanned records by ts before windowing,
// for logs whose scan order does not follow insertion. Sorting buffers every
// valid record of the scan, so memory grows with the log instead of with the
// number of threads.
func WithTimestampOrder() Option {
	return func(ix *Indexer) {
		ix.byTS = true
	}
}

// New creates an Indexer over scanner
func New(scanner store.Scanner, opts ...Option) *Indexer {
	ix := &Indexer{
		scanner:  scanner,
		logger:   log.GetDefaultLogger(),
		recorder: telemetry.NewRecorder(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// entryOf extracts the report fields of a scanned record
func entryOf(cp *store.Checkpoint) (Entry, bool) {
	if cp == nil || cp.ThreadID == "" || cp.UserEmail == "" || cp.Timestamp.IsZero() {
		return Entry{}, false
	}
	return Entry{ThreadID: cp.ThreadID, UserEmail: cp.UserEmail, Timestamp: cp.Timestamp}, true
}

// RecentThreads scans the log once and returns one entry per thread that
// occurs at least twice, in the order threads were first seen, using the
// older of each thread's two most recent occurrences.
// Returns store.ErrNotFound if no thread qualifies.
func (ix *Indexer) RecentThreads(ctx context.Context) (report []Entry, err error) {
	ctx, span := telemetry.StartSpan(ctx, "recent_threads", "")
	defer func() {
		telemetry.EndSpan(span, err)
	}()

	var (
		entries       []Entry
		seen, skipped int64
		windows       = newTracker()
	)
	for cp, err := range ix.scanner.Scan(ctx) {
		if err != nil {
			ix.logger.Warn("recent threads scan failed after %d records: %v", seen+skipped, err)
			return nil, err
		}
		e, ok := entryOf(cp)
		if !ok {
			skipped++
			continue
		}
		seen++
		if ix.byTS {
			entries = append(entries, e)
			continue
		}
		windows.add(e)
	}

	if skipped > 0 {
		ix.logger.Debug("recent threads scan skipped %d malformed records", skipped)
		ix.recorder.RecordSkipped(ctx, skipped)
	}
	span.SetAttributes(
		attribute.Int64("scan.records", seen),
		attribute.Int64("scan.skipped", skipped),
	)

	if ix.byTS {
		slices.SortStableFunc(entries, func(a, b Entry) int {
			return a.Timestamp.Compare(b.Timestamp)
		})
		report = Windows(entries)
	} else {
		report = windows.report()
	}
	if len(report) == 0 {
		ix.logger.Debug("recent threads: no thread has %d occurrences", windowSize)
		return nil, store.ErrNotFound
	}
	return report, nil
}

// Windows reduces an ordered sequence of occurrences to the report: for every
// thread with a full window, the older retained occurrence, in first-seen order.
func Windows(entries []Entry) []Entry {
	t := newTracker()
	for _, e := range entries {
		t.add(e)
	}
	return t.report()
}
