// Package audit appends one structured record per gateway decision to a
// rotating JSON-lines log. Raw SQL and question text are hashed before they
// hit disk; the log is the platform's append-only observability artifact.
package audit

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Record is one gateway decision, success or failure.
type Record struct {
	TimestampUTC string   `json:"ts_utc"`
	Engine       string   `json:"engine"`
	Origin       string   `json:"origin,omitempty"`
	Outcome      string   `json:"outcome"` // "success" or the error kind
	ErrorKind    string   `json:"error_kind,omitempty"`
	LatencyMs    int64    `json:"latency_ms"`
	Rows         *int     `json:"rows,omitempty"`
	EstBytes     *int64   `json:"est_bytes,omitempty"`
	CacheHit     *bool    `json:"cache_hit,omitempty"`
	ModelNames   []string `json:"model_names,omitempty"`
	SQLHash      string   `json:"sql_hash"`
	QuestionHash string   `json:"question_hash,omitempty"`
}

// Logger serializes all appends through a single writer goroutine so the log
// never contains interleaved lines, while submission stays non-blocking.
type Logger struct {
	ch   chan Record
	out  *lumberjack.Logger
	wg   sync.WaitGroup
	once sync.Once
}

// New opens (or creates) the audit log at path. The file rotates once it
// exceeds maxSizeMB.
func New(path string, maxSizeMB, maxBackups, bufferSize int) *Logger {
	l := &Logger{
		ch: make(chan Record, bufferSize),
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			Compress:   false,
		},
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l
}

// Submit queues a record for appending. It never blocks the caller: if the
// buffer is full the record is dropped and counted in the service log.
func (l *Logger) Submit(rec Record) {
	if rec.TimestampUTC == "" {
		rec.TimestampUTC = time.Now().UTC().Format(time.RFC3339)
	}
	select {
	case l.ch <- rec:
	default:
		log.Warn().Str("outcome", rec.Outcome).Msg("audit buffer full, record dropped")
	}
}

// Close flushes the buffer and stops the writer. Safe to call once.
func (l *Logger) Close() error {
	l.once.Do(func() {
		close(l.ch)
	})
	l.wg.Wait()
	return l.out.Close()
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()
	for rec := range l.ch {
		line, err := json.Marshal(rec)
		if err != nil {
			log.Error().Err(err).Msg("audit record marshal failed")
			continue
		}
		line = append(line, '\n')
		if _, err := l.out.Write(line); err != nil {
			log.Error().Err(err).Msg("audit record write failed")
		}
	}
}

// HashSQL fingerprints SQL for the log without storing the text itself.
func HashSQL(sql string) string {
	return hashStr(sql)
}

// HashQuestion fingerprints the user's natural-language question.
func HashQuestion(q string) string {
	if q == "" {
		return ""
	}
	return hashStr(q)
}

// SortedModels normalizes the referenced model list for stable records.
func SortedModels(models []string) []string {
	out := append([]string(nil), models...)
	sort.Strings(out)
	return out
}

func hashStr(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h)
}
