// Package message defines the polymorphic sink the engine reports progress,
// log lines, and per-file results through. Consumers (a CLI, a GUI) filter by
// Kind; the engine never blocks indefinitely on a sink that cannot keep up.
package message

import (
	"sync/atomic"
	"time"
)

// Kind identifies which payload a Message carries.
type Kind string

const (
	KindProgress   Kind = "progress"
	KindLog        Kind = "log"
	KindFileResult Kind = "file_result"
)

// Level mirrors the severity scale used by the rest of cuba's logging.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Phase names the engine lifecycle stage a message was emitted from.
type Phase string

const (
	PhasePreparing  Phase = "preparing"
	PhasePlanning   Phase = "planning"
	PhaseRunning    Phase = "running"
	PhaseFinalizing Phase = "finalizing"
	PhaseDone       Phase = "done"
)

// Progress carries run-wide counters. Backup sends one at each of its phase
// boundaries; per-file outcomes travel as FileResult messages instead.
type Progress struct {
	Profile        string
	Phase          Phase
	FilesTotal     int64
	FilesCompleted int64
	FilesFailed    int64
	BytesTotal     int64
	BytesCompleted int64
}

// FileResult reports the terminal outcome of one work item.
type FileResult struct {
	Profile   string
	Path      string
	Operation string // "upload", "download", "verify", "delete"
	Success   bool
	Err       error
	Bytes     int64
}

// Log is a structured log line, independent of any particular file job.
type Log struct {
	Profile string
	Level   Level
	Text    string
}

// Message is the envelope delivered to a Sink. Exactly one of Progress, File,
// or LogEntry is populated, selected by Kind.
type Message struct {
	Kind      Kind
	Timestamp time.Time

	Progress *Progress
	File     *FileResult
	LogEntry *Log
}

// Sink receives engine messages. Send must never block the caller
// indefinitely; implementations that buffer should drop and count rather
// than apply backpressure to the engine.
type Sink interface {
	Send(Message)
}

// ChannelSink delivers messages over a bounded channel, dropping and
// counting when the channel is full so a slow or absent consumer can never
// stall a run.
type ChannelSink struct {
	ch      chan Message
	dropped int64
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan Message, buffer)}
}

// Send implements Sink. It never blocks: a full channel increments Dropped
// and discards the message.
func (s *ChannelSink) Send(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case s.ch <- msg:
	default:
		atomic.AddInt64(&s.dropped, 1)
	}
}

// C returns the channel consumers read from.
func (s *ChannelSink) C() <-chan Message {
	return s.ch
}

// Dropped returns the number of messages discarded due to backpressure.
func (s *ChannelSink) Dropped() int64 {
	return atomic.LoadInt64(&s.dropped)
}

// Close closes the underlying channel. Callers must ensure no further Send
// calls are in flight.
func (s *ChannelSink) Close() {
	close(s.ch)
}

// NullSink discards every message. Useful for tests and headless runs that
// don't care about progress reporting.
type NullSink struct{}

// Send implements Sink by discarding msg.
func (NullSink) Send(Message) {}

// ProgressMessage builds a progress Message for kind KindProgress.
func ProgressMessage(p Progress) Message {
	return Message{Kind: KindProgress, Progress: &p}
}

// FileResultMessage builds a Message for kind KindFileResult.
func FileResultMessage(f FileResult) Message {
	return Message{Kind: KindFileResult, File: &f}
}

// LogMessage builds a Message for kind KindLog.
func LogMessage(l Log) Message {
	return Message{Kind: KindLog, LogEntry: &l}
}
