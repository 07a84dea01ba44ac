// Package transcript writes session events to per-session NDJSON files.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/backroom/internal/domain"
)

// Config controls the transcript writer.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Record is one NDJSON line.
type Record struct {
	Timestamp   string `json:"ts"`
	EventID     int64  `json:"event_id"`
	SessionID   string `json:"session_id"`
	EventType   string `json:"event_type"`
	TurnID      string `json:"turn_id,omitempty"`
	Author      string `json:"author,omitempty"`
	Participant string `json:"participant,omitempty"`
	Model       string `json:"model,omitempty"`
	ContentRaw  string `json:"content_raw,omitempty"`
	Content     string `json:"content,omitempty"`
	Category    string `json:"category,omitempty"`
	Message     string `json:"message,omitempty"`
}

// RecordFromEvent flattens an observer event.
func RecordFromEvent(ev domain.Event) Record {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	rec := Record{
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		EventID:   ev.ID,
		SessionID: ev.SessionID,
		EventType: string(ev.Type),
		Category:  ev.Category,
		Message:   ev.Message,
	}
	if t := ev.Turn; t != nil {
		rec.TurnID = t.ID
		rec.Author = string(t.Author)
		rec.Participant = string(t.Participant)
		rec.Model = t.Params.Model
		rec.ContentRaw = t.Content
		rec.Content = cleanForReadability(t.Content)
	}
	return rec
}

// Writer appends records asynchronously. Records are dropped when the queue is full.
type Writer struct {
	cfg    Config
	logger *slog.Logger
	queue  chan Record

	mu     sync.Mutex
	files  map[string]*os.File
	closed bool
	wg     sync.WaitGroup
}

// New creates a writer. A disabled writer accepts and discards records.
func New(cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	w := &Writer{cfg: cfg, logger: logger, files: make(map[string]*os.File)}
	if !cfg.Enabled {
		return w, nil
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	w.queue = make(chan Record, cfg.QueueSize)
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Log enqueues rec without blocking.
func (w *Writer) Log(rec Record) {
	if w.queue == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- rec:
	default:
		w.logger.Warn("transcript queue full, dropping record", "session_id", rec.SessionID, "event_type", rec.EventType)
	}
}

// Consume logs every event from events until the channel closes or ctx ends.
func (w *Writer) Consume(ctx context.Context, events <-chan domain.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.Log(RecordFromEvent(ev))
		}
	}
}

func (w *Writer) loop() {
	defer w.wg.Done()
	for rec := range w.queue {
		if err := w.write(rec); err != nil {
			w.logger.Warn("transcript write failed", "session_id", rec.SessionID, "error", err)
		}
	}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func fileName(sessionID string) string {
	name := unsafeName.ReplaceAllString(sessionID, "_")
	name = strings.Trim(name, ".")
	if name == "" {
		name = "_global"
	}
	return name + ".ndjson"
}

func (w *Writer) write(rec Record) error {
	f, ok := w.files[rec.SessionID]
	if !ok {
		var err error
		f, err = os.OpenFile(filepath.Join(w.cfg.Dir, fileName(rec.SessionID)), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open transcript: %w", err)
		}
		w.files[rec.SessionID] = f
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// Close drains the queue and closes every file.
func (w *Writer) Close() error {
	if w.queue == nil {
		return nil
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	w.wg.Wait()
	var firstErr error
	for id, f := range w.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close transcript %s: %w", id, err)
		}
	}
	return firstErr
}

var (
	ansiSeq    = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	spaceRuns  = regexp.MustCompile(`[ \t]+`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// cleanForReadability strips terminal escapes and squeezes whitespace.
func cleanForReadability(s string) string {
	s = ansiSeq.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRuns.ReplaceAllString(s, " ")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
