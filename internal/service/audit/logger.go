package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/pkg/logger"
	"github.com/jwalitptl/account-security/pkg/metrics"
)

var (
	// ErrSinkUnavailable is returned when an event could only be buffered.
	ErrSinkUnavailable = errors.New("audit sink unavailable")
	ErrUnknownKind     = errors.New("unknown audit event kind")
)

const (
	defaultTimeout       = 2 * time.Second
	defaultFallbackSize  = 1000
	defaultRetryInterval = time.Second
	maxRetryInterval     = 30 * time.Second
)

type Options struct {
	// Timeout bounds each sink write.
	Timeout time.Duration
	// FallbackSize bounds the in-process buffer used while the sink is down.
	FallbackSize int
	// RetryInterval is the first delay before a failed sink is tried again.
	// It doubles after every failed retry, up to 30s.
	RetryInterval time.Duration
	Metrics       *metrics.Metrics
	// Logger receives sink failures. It must not write to the audit sink.
	Logger *logger.Logger
	Clock  func() time.Time
}

// AuditLogger writes security events to a sink one whole line at a time.
//
// At most one writer holds the sink: either the caller that found it idle or
// the background retrier. Every other caller appends to a bounded in-process
// buffer and returns at once, so a slow or dead sink costs a caller at most
// one write timeout. While the sink is failing the logger reports itself
// degraded and sends failures to the application log. The retrier replays
// the buffer oldest first with backoff.
type AuditLogger struct {
	mu       sync.Mutex
	sink     Sink
	fallback *MemorySink
	last     time.Time
	closed   bool
	// writing is set while the sink is held. With a sink configured, the
	// buffer is only non-empty while writing is set.
	writing  bool
	inflight sync.WaitGroup

	kick chan struct{}
	stop chan struct{}
	done chan struct{}

	degraded atomic.Bool
	timeout  time.Duration
	retry    time.Duration
	now      func() time.Time
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewAuditLogger never fails: a nil sink starts the logger degraded.
func NewAuditLogger(sink Sink, opts Options) *AuditLogger {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.FallbackSize <= 0 {
		opts.FallbackSize = defaultFallbackSize
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	l := &AuditLogger{
		sink:     sink,
		fallback: NewMemorySink(opts.FallbackSize),
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		timeout:  opts.Timeout,
		retry:    opts.RetryInterval,
		now:      opts.Clock,
		metrics:  opts.Metrics,
		log:      opts.Logger,
	}
	if sink == nil {
		l.setDegraded(true)
		l.log.Warn("audit sink not configured, events are buffered in memory only")
		close(l.done)
		return l
	}
	go l.retrier()
	return l
}

// Record emits one event. Kinds other than SECURITY_EVENT always use their
// fixed severity. For SECURITY_EVENT an attribute named "type" becomes the
// event label. Attributes with empty values are left out.
//
// A nil error means the event was written or is queued behind a write in
// progress. ErrSinkUnavailable means it is buffered while the sink is down.
func (l *AuditLogger) Record(ctx context.Context, kind model.EventKind, actor model.Actor, attrs []model.Attr, severity model.Severity) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	event := &model.AuditEvent{
		ID:       uuid.New(),
		Kind:     kind,
		Actor:    actor.Username,
		ActorID:  actor.ID,
		Origin:   actor.Origin,
		Severity: kind.DefaultSeverity(),
	}
	if kind == model.EventSecurity && severity != "" {
		event.Severity = severity
	}

	for _, a := range attrs {
		if a.Value == "" {
			continue
		}
		if kind == model.EventSecurity && a.Key == "type" && event.Label == "" {
			event.Label = a.Value
			continue
		}
		event.Attributes = append(event.Attributes, model.Attr{Key: sanitizeKey(a.Key), Value: a.Value})
	}

	return l.emit(ctx, event)
}

func (l *AuditLogger) emit(ctx context.Context, event *model.AuditEvent) error {
	l.mu.Lock()

	ts := l.now().UTC()
	if ts.Before(l.last) {
		ts = l.last
	}
	l.last = ts
	event.Timestamp = ts
	line := FormatLine(event)

	l.metrics.AuditEvents.WithLabelValues(string(event.Kind), string(event.Severity)).Inc()

	if l.closed || l.sink == nil {
		_ = l.fallback.Write(ctx, event, line)
		l.mu.Unlock()
		return fmt.Errorf("%w: no sink", ErrSinkUnavailable)
	}

	if l.writing {
		_ = l.fallback.Write(ctx, event, line)
		degraded := l.degraded.Load()
		l.mu.Unlock()
		if degraded {
			return fmt.Errorf("%w: buffered", ErrSinkUnavailable)
		}
		return nil
	}

	l.writing = true
	l.inflight.Add(1)
	l.mu.Unlock()
	defer l.inflight.Done()

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	err := l.sink.Write(wctx, event, line)
	cancel()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.fallback.pushFront(Record{Event: *event, Line: line})
		err = l.sinkFailed(event, err)
		l.handOff()
		return err
	}
	if l.fallback.Len() > 0 {
		l.handOff()
	} else {
		l.writing = false
	}
	return nil
}

// handOff passes the sink to the retrier.
func (l *AuditLogger) handOff() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

func (l *AuditLogger) retrier() {
	defer close(l.done)
	delay := l.retry
	for {
		select {
		case <-l.stop:
			return
		case <-l.kick:
		}

		for {
			if l.degraded.Load() {
				timer := time.NewTimer(delay)
				select {
				case <-l.stop:
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			if err := l.drain(context.Background()); err == nil {
				delay = l.retry
				break
			}
			delay = min(delay*2, maxRetryInterval)
		}
	}
}

// drain writes buffered events oldest first. The caller must hold the sink;
// it is released once the buffer is empty.
func (l *AuditLogger) drain(ctx context.Context) error {
	replayed := 0
	for {
		l.mu.Lock()
		rec, ok := l.fallback.front()
		if !ok {
			l.writing = false
			wasDegraded := l.degraded.Load()
			l.setDegraded(false)
			l.mu.Unlock()
			if wasDegraded {
				l.log.Info("audit sink recovered, buffered events replayed", "count", replayed)
			}
			return nil
		}
		l.mu.Unlock()

		wctx, cancel := context.WithTimeout(ctx, l.timeout)
		err := l.sink.Write(wctx, &rec.Event, rec.Line)
		cancel()
		if err != nil {
			l.metrics.AuditSinkFailures.Inc()
			l.setDegraded(true)
			l.log.Warn("audit sink still unavailable",
				"error", err.Error(),
				"buffered", l.fallback.Len(),
				"dropped", l.fallback.Dropped())
			return err
		}
		l.fallback.popFront(rec.Event.ID)
		replayed++
	}
}

func (l *AuditLogger) sinkFailed(event *model.AuditEvent, err error) error {
	l.metrics.AuditSinkFailures.Inc()
	if !l.degraded.Load() {
		l.log.Error(err, "audit sink failed, switching to in-memory buffer")
	}
	l.setDegraded(true)
	l.log.Error(err, "audit event buffered",
		"event_id", event.ID.String(),
		"kind", string(event.Kind),
		"buffered", l.fallback.Len(),
		"dropped", l.fallback.Dropped())
	return fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
}

func (l *AuditLogger) setDegraded(v bool) {
	l.degraded.Store(v)
	if v {
		l.metrics.AuditDegraded.Set(1)
	} else {
		l.metrics.AuditDegraded.Set(0)
	}
}

// Degraded reports whether events are currently going to the in-process
// buffer instead of the sink.
func (l *AuditLogger) Degraded() bool {
	return l.degraded.Load()
}

// Pending returns the number of events waiting in the buffer.
func (l *AuditLogger) Pending() int {
	return l.fallback.Len()
}

// Buffered returns a copy of the events waiting in the buffer.
func (l *AuditLogger) Buffered() []Record {
	return l.fallback.Records()
}

// Close waits for a write in progress, stops the retrier, tries once more to
// flush buffered events and then closes the sink. Events still buffered at
// that point are reported in the returned error.
func (l *AuditLogger) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if l.sink == nil {
		if n := l.fallback.Len(); n > 0 {
			return fmt.Errorf("%w: %d events never written", ErrSinkUnavailable, n)
		}
		return nil
	}

	l.inflight.Wait()
	close(l.stop)
	<-l.done

	var flushErr error
	if l.fallback.Len() > 0 {
		if err := l.drain(ctx); err != nil {
			flushErr = fmt.Errorf("%w: %d events never written: %v", ErrSinkUnavailable, l.fallback.Len(), err)
		}
	}
	return errors.Join(flushErr, l.sink.Close())
}
