// Package detectlog records detections to a bounded in-memory buffer and an
// append-only CSV log, and keeps per-session statistics.
package detectlog

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/divyadrishti/detection-engine/models"
)

const (
	// LogFileName is the durable log inside the log directory.
	LogFileName       = "foottrail_detections.csv"
	DefaultMaxEntries = 1000

	FormatCSV  = "csv"
	FormatJSON = "json"

	idleNotification = "Monitoring for detections..."
)

var header = []string{
	"timestamp", "session_id", "frame_number", "object_class",
	"confidence", "bbox_x1", "bbox_y1", "bbox_x2", "bbox_y2",
	"center_x", "center_y", "area", "detection_mode",
}

var ErrUnsupportedFormat = errors.New("unsupported export format")

type Options struct {
	Enabled    bool
	Dir        string
	MaxEntries int
	// Mode is stamped on every row (detect or segment).
	Mode   string
	Clock  clock.Clock
	Logger *zap.SugaredLogger
}

// Logger is safe for concurrent use. Log and Clear are mutually exclusive.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	max     int
	mode    string
	dir     string
	clock   clock.Clock
	logger  *zap.SugaredLogger

	entries []models.LogEntry
	stats   models.SessionStats

	file *os.File
	w    *csv.Writer
}

// New opens (or creates) the durable log in opts.Dir. A header row is written
// only when the file is new.
func New(opts Options) (*Logger, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Mode == "" {
		opts.Mode = "detect"
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	path := filepath.Join(opts.Dir, LogFileName)
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open detection log: %w", err)
	}
	l := &Logger{
		enabled: opts.Enabled,
		max:     opts.MaxEntries,
		mode:    opts.Mode,
		dir:     opts.Dir,
		clock:   opts.Clock,
		logger:  opts.Logger,
		stats:   models.NewSessionStats(opts.Clock.Now()),
		file:    f,
		w:       csv.NewWriter(f),
	}
	if fresh {
		if err := l.writeRow(header); err != nil {
			return nil, multierr.Append(fmt.Errorf("write log header: %w", err), f.Close())
		}
	}
	l.logger.Infow("Detection log opened", "path", path, "enabled", opts.Enabled, "max_entries", opts.MaxEntries)
	return l, nil
}

// Enabled reports the global logging switch.
func (l *Logger) Enabled() bool {
	return l.enabled
}

// Log records d. It is a no-op when logging is disabled. The durable row is
// written first; an entry is accepted into memory and stats only once it is
// durable.
func (l *Logger) Log(d models.Detection, frameNumber int, sessionID string) error {
	if !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.w == nil {
		return errors.New("detection log closed")
	}
	entry := models.NewLogEntry(l.clock.Now(), d, frameNumber, sessionID, l.mode)
	if err := l.writeRow(row(entry)); err != nil {
		return fmt.Errorf("append detection log: %w", err)
	}

	l.entries = append(l.entries, entry)
	l.stats.Add(entry.ObjectClass)
	if n := len(l.entries) - l.max; n > 0 {
		for _, old := range l.entries[:n] {
			l.stats.Remove(old.ObjectClass)
		}
		l.entries = append(l.entries[:0], l.entries[n:]...)
	}
	return nil
}

// Summary returns the most recent limit entries, most recent last. A
// non-positive limit returns the whole buffer.
func (l *Logger) Summary(limit int) []models.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := 0
	if limit > 0 && limit < len(l.entries) {
		start = len(l.entries) - limit
	}
	return append([]models.LogEntry(nil), l.entries[start:]...)
}

// Notifications renders one line per recent entry for the operator.
func (l *Logger) Notifications(limit int) string {
	recent := l.Summary(limit)
	if len(recent) == 0 {
		return idleNotification
	}
	lines := make([]string, len(recent))
	for i, e := range recent {
		lines[i] = fmt.Sprintf("%s - %s detected", e.Timestamp.Format(time.TimeOnly), e.ObjectClass)
	}
	return strings.Join(lines, "\n")
}

// Stats returns a snapshot with the session duration filled in.
func (l *Logger) Stats() models.SessionStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stats.Clone()
	s.Duration = l.clock.Since(s.SessionStart)
	return s
}

// Len is the number of buffered entries.
func (l *Logger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear drops the buffer and restarts the session. The durable log is kept.
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = nil
	l.stats = models.NewSessionStats(l.clock.Now())
	l.logger.Infow("Detection log cleared")
}

// Export writes the buffered entries to path in the given format and returns
// the path written. An empty path is derived from the current time.
func (l *Logger) Export(path, format string) (string, error) {
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatJSON {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	entries := l.Summary(0)
	if len(entries) == 0 {
		return "", models.ErrNothingToExport
	}
	if path == "" {
		path = filepath.Join(l.dir, fmt.Sprintf("foottrail_detections_export_%s.%s",
			l.clock.Now().Format("20060102_150405"), format))
	}

	var err error
	if format == FormatCSV {
		err = writeCSV(path, entries)
	} else {
		err = writeJSON(path, entries)
	}
	if err != nil {
		return "", &models.ExportError{Path: path, Cause: err}
	}
	l.logger.Infow("Detections exported", "path", path, "format", format, "entries", len(entries))
	return path, nil
}

// Close flushes and closes the durable log.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.w == nil {
		return nil
	}
	l.w.Flush()
	err := multierr.Append(l.w.Error(), l.file.Close())
	l.w = nil
	return err
}

func (l *Logger) writeRow(record []string) error {
	if err := l.w.Write(record); err != nil {
		return err
	}
	l.w.Flush()
	return l.w.Error()
}

func row(e models.LogEntry) []string {
	return []string{
		e.Timestamp.Format(time.RFC3339Nano),
		e.SessionID,
		strconv.Itoa(e.FrameNumber),
		e.ObjectClass,
		formatFloat(e.Confidence),
		formatFloat(e.BBox[0]),
		formatFloat(e.BBox[1]),
		formatFloat(e.BBox[2]),
		formatFloat(e.BBox[3]),
		formatFloat(e.Center[0]),
		formatFloat(e.Center[1]),
		formatFloat(e.Area),
		e.DetectionMode,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeCSV(path string, entries []models.LogEntry) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, e := range entries {
		if err := w.Write(row(e)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeJSON(path string, entries []models.LogEntry) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}
