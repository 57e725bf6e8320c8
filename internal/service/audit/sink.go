package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/internal/repository"
	"github.com/jwalitptl/account-security/pkg/messaging"
)

// Sink is a durable or streaming audit destination. Write stores exactly one
// event; line is the event already rendered by FormatLine.
type Sink interface {
	Write(ctx context.Context, event *model.AuditEvent, line string) error
	Close() error
}

// WriterSink appends one line per event to a file or stream.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// NewFileSink opens path for appending, creating it if needed.
func NewFileSink(path string) (*WriterSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log %s: %w", path, err)
	}
	return &WriterSink{w: f, closer: f}, nil
}

func NewStdoutSink() *WriterSink {
	return NewWriterSink(os.Stdout)
}

func (s *WriterSink) Write(_ context.Context, _ *model.AuditEvent, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// one Write call per line so O_APPEND keeps lines whole
	_, err := s.w.Write([]byte(line + "\n"))
	return err
}

func (s *WriterSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// BrokerSink publishes events as JSON for the relay worker.
type BrokerSink struct {
	publisher messaging.Publisher
	channel   string
}

func NewBrokerSink(publisher messaging.Publisher, channel string) *BrokerSink {
	return &BrokerSink{publisher: publisher, channel: channel}
}

func (s *BrokerSink) Write(ctx context.Context, event *model.AuditEvent, _ string) error {
	return s.publisher.Publish(ctx, s.channel, event)
}

// Close leaves the broker to its owner.
func (s *BrokerSink) Close() error {
	return nil
}

// RepositorySink stores events in the audit repository.
type RepositorySink struct {
	repo repository.AuditRepository
}

func NewRepositorySink(repo repository.AuditRepository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

func (s *RepositorySink) Write(ctx context.Context, event *model.AuditEvent, _ string) error {
	return s.repo.Create(ctx, event)
}

func (s *RepositorySink) Close() error {
	return nil
}

// Record is an event as held by a MemorySink.
type Record struct {
	Event model.AuditEvent
	Line  string
}

// MemorySink keeps the newest capacity events in process. It backs the
// logger's fallback buffer and doubles as a sink in tests.
type MemorySink struct {
	mu       sync.Mutex
	records  []Record
	capacity int
	dropped  int
}

// NewMemorySink with capacity <= 0 keeps everything.
func NewMemorySink(capacity int) *MemorySink {
	return &MemorySink{capacity: capacity}
}

func (s *MemorySink) Write(_ context.Context, event *model.AuditEvent, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, Record{Event: *event, Line: line})
	if s.capacity > 0 && len(s.records) > s.capacity {
		over := len(s.records) - s.capacity
		s.records = append([]Record(nil), s.records[over:]...)
		s.dropped += over
	}
	return nil
}

func (s *MemorySink) Close() error {
	return nil
}

func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

func (s *MemorySink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := make([]string, len(s.records))
	for i, r := range s.records {
		lines[i] = r.Line
	}
	return lines
}

func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Dropped counts events pushed out by the capacity bound.
func (s *MemorySink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *MemorySink) front() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return Record{}, false
	}
	return s.records[0], true
}

// popFront removes the oldest record if it is still id. The capacity bound
// may already have pushed it out while it was being written.
func (s *MemorySink) popFront(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) > 0 && s.records[0].Event.ID == id {
		s.records = s.records[1:]
	}
}

// pushFront puts back a record that is older than everything buffered.
func (s *MemorySink) pushFront(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append([]Record{r}, s.records...)
	if s.capacity > 0 && len(s.records) > s.capacity {
		s.records = s.records[1:]
		s.dropped++
	}
}
