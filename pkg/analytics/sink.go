package analytics

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one usage record for the analytics pipeline.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	Tenant        string    `json:"tenant"`
	Actor         string    `json:"actor,omitempty"`
	Team          string    `json:"team,omitempty"`
	CorrelationID string    `json:"correlation_id"`
	FeatureTag    string    `json:"feature_tag,omitempty"`

	ModelRequested string `json:"model_requested,omitempty"`
	ModelUsed      string `json:"model_used,omitempty"`
	ProviderUsed   string `json:"provider_used,omitempty"`

	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	LatencyMS    int64   `json:"latency_ms"`

	CacheHit  bool   `json:"cache_hit"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Writer receives drained events. The production implementation forwards
// to the external time-series service; the default writes JSON lines.
type Writer interface {
	WriteEvent(ctx context.Context, event *Event) error
}

// JSONLinesWriter writes events as newline-delimited JSON.
type JSONLinesWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSONLinesWriter creates a writer over out.
func NewJSONLinesWriter(out io.Writer) *JSONLinesWriter {
	return &JSONLinesWriter{out: out}
}

// WriteEvent writes one event.
func (w *JSONLinesWriter) WriteEvent(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.out.Write(append(data, '\n'))
	return err
}

// Sink buffers events and drains them on a background worker.
type Sink struct {
	writer  Writer
	logger  *slog.Logger
	events  chan *Event
	dropped atomic.Int64
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewSink creates a sink with the given buffer size and starts its worker.
func NewSink(writer Writer, bufferSize int, logger *slog.Logger) *Sink {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sink{
		writer: writer,
		logger: logger.With("component", "analytics.sink"),
		events: make(chan *Event, bufferSize),
		done:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.worker()

	return s
}

// Publish enqueues an event without blocking. On a full buffer the oldest
// event is dropped to make room, keeping recent data flowing.
func (s *Sink) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for {
		select {
		case s.events <- event:
			return
		default:
		}

		// Buffer full: shed the oldest and retry.
		select {
		case <-s.events:
			s.dropped.Add(1)
		default:
		}
	}
}

// Dropped returns the number of events shed due to overflow.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Close drains remaining events and stops the worker.
func (s *Sink) Close() error {
	close(s.done)
	s.wg.Wait()
	return nil
}

func (s *Sink) worker() {
	defer s.wg.Done()

	for {
		select {
		case event := <-s.events:
			s.write(event)
		case <-s.done:
			for {
				select {
				case event := <-s.events:
					s.write(event)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) write(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.writer.WriteEvent(ctx, event); err != nil {
		s.logger.Warn("analytics write failed",
			"tenant", event.Tenant,
			"correlation_id", event.CorrelationID,
			"error", err,
		)
	}
}
