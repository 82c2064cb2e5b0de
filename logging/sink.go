// Package logging provides the process logger. Sink satisfies the
// application logger interface, prints one formatted line per materialized
// entry, and mirrors the same entries into the log table through an
// asynchronous writer so that a slow or broken database never stalls a
// request goroutine.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Severity levels, ordered. With debug disabled only LevelError entries are
// materialized; everything below is discarded at the call site.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Identity columns stamped on every persisted row.
const (
	sourceApp    = "server"
	sourceThread = "main"
	sourceLine   = "server"
)

const dateLayout = "2006-01-02 15:04:05"

// Store persists materialized entries. *storage.Engine satisfies it.
type Store interface {
	InsertLogRow(date, app string, hook, level int, thread, line, msg string)
}

type entry struct {
	date  string
	level int
	msg   string
}

// Sink is the shared logger. It is safe for concurrent use.
type Sink struct {
	mu    sync.Mutex // serializes stdout writes and store attachment
	out   io.Writer
	store Store
	debug bool
	now   func() time.Time

	entries  chan entry
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Sink.
type Option func(*Sink)

// WithWriter redirects the line output, default os.Stdout.
func WithWriter(w io.Writer) Option {
	return func(s *Sink) { s.out = w }
}

// WithStore attaches the database mirror at construction.
func WithStore(st Store) Option {
	return func(s *Sink) { s.store = st }
}

// WithQueueSize sets the async writer queue depth, default 256. Entries
// beyond a full queue are dropped.
func WithQueueSize(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.entries = make(chan entry, n)
		}
	}
}

// WithClock substitutes the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// New creates a Sink and starts its writer goroutine. With debug false only
// errors are logged.
func New(debug bool, opts ...Option) *Sink {
	s := &Sink{
		out:     os.Stdout,
		debug:   debug,
		now:     time.Now,
		entries: make(chan entry, 256),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.writeLoop()
	return s
}

// AttachStore wires the database mirror after construction. The engine is
// opened with this sink as its logger, so the two attach to each other in
// sequence rather than at construction.
func (s *Sink) AttachStore(st Store) {
	s.mu.Lock()
	s.store = st
	s.mu.Unlock()
}

// Close stops the writer after draining whatever is queued.
func (s *Sink) Close() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *Sink) Debug(msg string, args ...any) { s.log(LevelDebug, msg, args) }
func (s *Sink) Info(msg string, args ...any)  { s.log(LevelInfo, msg, args) }
func (s *Sink) Warn(msg string, args ...any)  { s.log(LevelWarn, msg, args) }
func (s *Sink) Error(msg string, args ...any) { s.log(LevelError, msg, args) }

// Fatal logs at error severity. Exiting is the supervisor's call, not the
// logger's.
func (s *Sink) Fatal(msg string, args ...any) { s.log(LevelError, msg, args) }

func (s *Sink) log(level int, msg string, args []any) {
	if !s.debug && level < LevelError {
		return
	}

	text := formatMessage(msg, args)
	date := s.now().Format(dateLayout)

	s.mu.Lock()
	fmt.Fprintf(s.out, "[ %s ] [ %s ] [ %s ] %s\n", date, levelName(level), sourceApp, text)
	s.mu.Unlock()

	select {
	case s.entries <- entry{date: date, level: level, msg: text}:
	default:
		// Queue full: the mirror is best-effort.
	}
}

func (s *Sink) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case e := <-s.entries:
			s.persist(e)
		case <-s.done:
			for {
				select {
				case e := <-s.entries:
					s.persist(e)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) persist(e entry) {
	s.mu.Lock()
	st := s.store
	s.mu.Unlock()
	if st == nil {
		return
	}
	st.InsertLogRow(e.date, sourceApp, 0, e.level, sourceThread, sourceLine, e.msg)
}

func levelName(level int) string {
	switch level {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

// formatMessage renders the message with its key-value pairs appended, one
// k=v token per pair.
func formatMessage(msg string, args []any) string {
	if len(args) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	if len(args)%2 != 0 {
		fmt.Fprintf(&b, " %v", args[len(args)-1])
	}
	return b.String()
}
