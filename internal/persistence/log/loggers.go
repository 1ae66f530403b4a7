package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"packetworld.ai/internal/sim/mail"
	"packetworld.ai/internal/sim/world"
)

// JSONLZstdWriter appends one JSON document per line to hourly rotated,
// zstd-compressed files named <prefix>-<yyyy-mm-dd-hh>.jsonl.zst.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// TickLogger writes one JSONL entry per tick (compressed).
type TickLogger struct{ w *JSONLZstdWriter }

func NewTickLogger(runDir string) *TickLogger {
	return &TickLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "trace"), "ticks")}
}

func (l *TickLogger) WriteTick(rec world.TickRecord) error { return l.w.Write(rec) }
func (l *TickLogger) Close() error                         { return l.w.Close() }

// MailEntry is one delivered mail as it appears in the mail trace.
type MailEntry struct {
	Tick uint64 `json:"tick"`
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

// MailLogger writes delivered mail as JSONL entries (compressed). Write
// failures are counted, not returned.
type MailLogger struct {
	w      *JSONLZstdWriter
	failed atomic.Uint64
}

func NewMailLogger(runDir string) *MailLogger {
	return &MailLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "trace"), "mail")}
}

func (l *MailLogger) WriteMail(tick uint64, m mail.Mail) {
	if err := l.w.Write(MailEntry{Tick: tick, From: m.From, To: m.To, Body: m.Body}); err != nil {
		l.failed.Add(1)
	}
}

func (l *MailLogger) Failed() uint64 { return l.failed.Load() }
func (l *MailLogger) Close() error   { return l.w.Close() }
