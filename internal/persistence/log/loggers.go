package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"agentworld.ai/internal/protocol"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string

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

	hour := time.Now().UTC().Format("2006-01-02-15")
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
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
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
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

type eventRow struct {
	At      time.Time           `json:"at"`
	WorldID string              `json:"world_id"`
	Event   protocol.WorldEvent `json:"event"`
}

type auditRow struct {
	At        time.Time `json:"at"`
	WorldID   string    `json:"world_id,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Command   string    `json:"command"`
	Input     string    `json:"input,omitempty"`
	Success   bool      `json:"success"`
	Code      string    `json:"code,omitempty"`
	Refresh   bool      `json:"refresh,omitempty"`
}

// Logger writes one compressed JSONL stream of forwarded world events and
// one of processed commands under dataDir.
type Logger struct {
	events *JSONLZstdWriter
	audit  *JSONLZstdWriter
}

func NewLogger(dataDir string) *Logger {
	return &Logger{
		events: NewJSONLZstdWriter(filepath.Join(dataDir, "events"), "events"),
		audit:  NewJSONLZstdWriter(filepath.Join(dataDir, "audit"), "audit"),
	}
}

func (l *Logger) RecordEvent(worldID string, ev protocol.WorldEvent) {
	_ = l.events.Write(eventRow{At: time.Now().UTC(), WorldID: worldID, Event: ev})
}

func (l *Logger) RecordCommand(worldID, clientID string, cmd protocol.CommandMsg, resp protocol.ResponseMsg) {
	_ = l.audit.Write(auditRow{
		At:        time.Now().UTC(),
		WorldID:   worldID,
		ClientID:  clientID,
		RequestID: resp.RequestID,
		Command:   resp.Command,
		Input:     cmd.Text,
		Success:   resp.Success,
		Code:      resp.Code,
		Refresh:   resp.RefreshWorld,
	})
}

func (l *Logger) Close() error {
	err1 := l.events.Close()
	err2 := l.audit.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
