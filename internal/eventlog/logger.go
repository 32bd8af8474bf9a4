// Package eventlog records detection, capture and upload events in a JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oszuidwest/gunshot-logger/internal/util"
)

// EventType represents the type of event.
type EventType string

// Service event types.
const (
	ServiceStarted EventType = "started"
	ServiceStopped EventType = "stopped"
)

// Capture event types.
const (
	Trigger         EventType = "trigger"
	CaptureSaved    EventType = "capture_saved"
	CaptureRejected EventType = "capture_rejected"
	CaptureDropped  EventType = "capture_dropped"
	CaptureFailed   EventType = "capture_failed"
)

// Upload event types.
const (
	UploadCompleted EventType = "upload_completed"
	UploadFailed    EventType = "upload_failed"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	CaptureID string    `json:"capture_id,omitempty"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// CaptureDetails contains capture-specific event details.
type CaptureDetails struct {
	LevelDB     float64 `json:"level_db"`
	ThresholdDB float64 `json:"threshold_db,omitempty"`
	Filename    string  `json:"filename,omitempty"`
	Path        string  `json:"path,omitempty"`
	SizeBytes   int64   `json:"size_bytes,omitempty"`
	Samples     int     `json:"samples,omitempty"`
	Counter     int     `json:"counter,omitempty"`
	Reason      string  `json:"reason,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// UploadDetails contains upload-specific event details.
type UploadDetails struct {
	Filename string `json:"filename"`
	Bucket   string `json:"bucket,omitempty"`
	S3Key    string `json:"s3_key,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Logger writes events to a JSON lines file. A nil *Logger discards all events.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, util.WrapError("create event log directory", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, util.WrapError("open event log", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return l.encoder.Encode(event)
}

// LogService logs a service lifecycle event.
func (l *Logger) LogService(eventType EventType, message string) error {
	return l.Log(&Event{Type: eventType, Message: message})
}

// LogCapture logs a trigger or capture event.
func (l *Logger) LogCapture(eventType EventType, captureID, message string, details *CaptureDetails) error {
	return l.Log(&Event{
		Type:      eventType,
		CaptureID: captureID,
		Message:   message,
		Details:   details,
	})
}

// LogUpload logs an upload event.
func (l *Logger) LogUpload(eventType EventType, details *UploadDetails) error {
	return l.Log(&Event{Type: eventType, Details: details})
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll     TypeFilter = ""
	FilterService TypeFilter = "service"
	FilterCapture TypeFilter = "capture"
	FilterUpload  TypeFilter = "upload"
)

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// Matches reports whether t belongs to the filter's category.
func (f TypeFilter) Matches(t EventType) bool {
	switch f {
	case FilterAll:
		return true
	case FilterService:
		return t == ServiceStarted || t == ServiceStopped
	case FilterCapture:
		return t == Trigger || t == CaptureSaved || t == CaptureRejected ||
			t == CaptureDropped || t == CaptureFailed
	case FilterUpload:
		return t == UploadCompleted || t == UploadFailed
	default:
		return false
	}
}

// ReadLast returns up to n events matching filter, newest first, after
// skipping offset matching events. The second result reports whether older
// matching events remain.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !filter.Matches(event.Type) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}

	return events, false, nil
}
