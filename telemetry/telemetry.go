// Package telemetry records exit sequences as trace events and
// OpenTelemetry spans.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Trace event phases.
const (
	PhaseInstant    = "i"
	PhaseAsyncBegin = "b"
	PhaseAsyncEnd   = "e"
)

// CategoryShutdown is the category of every event drainkit emits.
const CategoryShutdown = "drainkit,shutdown"

// Event is one trace event, serialized as a single JSON line.
type Event struct {
	PID   int                    `json:"pid"`
	TID   int                    `json:"tid"`
	TS    int64                  `json:"ts"` // microseconds since the epoch
	Phase string                 `json:"ph"`
	Cat   string                 `json:"cat"`
	Name  string                 `json:"name"`
	ID    string                 `json:"id,omitempty"`
	Args  map[string]interface{} `json:"args,omitempty"`
}

// NewEvent creates an event stamped with the current process and time.
func NewEvent(phase, name, id string, args map[string]interface{}) Event {
	return Event{
		PID:   os.Getpid(),
		TID:   1,
		TS:    time.Now().UnixMicro(),
		Phase: phase,
		Cat:   CategoryShutdown,
		Name:  name,
		ID:    id,
		Args:  args,
	}
}

// Exporter is the interface for trace event exporters.
type Exporter interface {
	// LogEvent records an event.
	LogEvent(e Event)
	// Flush sends any buffered data.
	Flush() error
	// Close closes the exporter.
	Close() error
}

// NewExporter creates an exporter based on protocol: "file" (endpoint is a
// path), "http" (endpoint is a URL) or "noop".
func NewExporter(protocol, endpoint string) (Exporter, error) {
	switch protocol {
	case "http":
		return NewHTTPExporter(endpoint), nil
	case "file":
		return NewFileExporter(afero.NewOsFs(), endpoint)
	case "noop", "":
		return NewNoopExporter(), nil
	default:
		return nil, fmt.Errorf("unknown telemetry protocol: %s", protocol)
	}
}

// --- HTTP Exporter ---

// HTTPExporter posts batches of events as a JSON array.
type HTTPExporter struct {
	endpoint string
	client   *http.Client
	buffer   []Event
	mu       sync.Mutex
}

// NewHTTPExporter creates a new HTTP exporter.
func NewHTTPExporter(endpoint string) *HTTPExporter {
	return &HTTPExporter{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		buffer: make([]Event, 0, 64),
	}
}

func (e *HTTPExporter) LogEvent(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = append(e.buffer, ev)
	if len(e.buffer) >= 64 {
		e.flush()
	}
}

func (e *HTTPExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flush()
}

func (e *HTTPExporter) flush() error {
	if len(e.buffer) == 0 {
		return nil
	}

	data, err := json.Marshal(e.buffer)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("telemetry endpoint returned %d", resp.StatusCode)
	}

	e.buffer = e.buffer[:0]
	return nil
}

func (e *HTTPExporter) Close() error {
	return e.Flush()
}

// --- File Exporter ---

// FileExporter appends events to a file, one JSON object per line.
type FileExporter struct {
	file afero.File
	mu   sync.Mutex
}

// NewFileExporter opens path on fs for appending.
func NewFileExporter(fs afero.Fs, path string) (*FileExporter, error) {
	file, err := fs.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	return &FileExporter{file: file}, nil
}

func (e *FileExporter) LogEvent(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	data = append(data, '\n')
	e.mu.Lock()
	defer e.mu.Unlock()
	e.file.Write(data)
}

func (e *FileExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Sync()
}

func (e *FileExporter) Close() error {
	e.Flush()
	return e.file.Close()
}

// ReadEvents parses a line-delimited trace file.
func ReadEvents(fs afero.Fs, path string) ([]Event, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	var events []Event
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("parsing trace line: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// --- Noop Exporter ---

// NoopExporter discards all events.
type NoopExporter struct{}

// NewNoopExporter creates a new noop exporter.
func NewNoopExporter() *NoopExporter {
	return &NoopExporter{}
}

func (e *NoopExporter) LogEvent(Event) {}
func (e *NoopExporter) Flush() error   { return nil }
func (e *NoopExporter) Close() error   { return nil }
