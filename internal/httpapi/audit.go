package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/loyalty_layer/internal/logging"
)

// AuditEntry records one state-changing API call.
type AuditEntry struct {
	Time       time.Time `json:"time"`
	User       string    `json:"user"`
	Role       string    `json:"role"`
	Method     string    `json:"method"`
	Route      string    `json:"route"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	TraceID    string    `json:"trace_id,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// AuditLog keeps the most recent entries in memory and optionally appends
// every entry to a JSONL file.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	max     int
	sink    auditSink
	now     func() time.Time
}

type auditSink interface {
	Write(entry AuditEntry) error
	Close() error
}

// DefaultAuditEntries is the in-memory capacity used when none is given.
const DefaultAuditEntries = 200

// NewMemoryAuditLog returns an audit log without a file sink.
func NewMemoryAuditLog(max int) *AuditLog {
	if max <= 0 {
		max = DefaultAuditEntries
	}
	return &AuditLog{max: max, now: time.Now}
}

// NewAuditLog returns an audit log appending to path. An empty path keeps
// entries in memory only.
func NewAuditLog(max int, path string) (*AuditLog, error) {
	l := NewMemoryAuditLog(max)
	if path == "" {
		return l, nil
	}
	sink, err := newFileAuditSink(path)
	if err != nil {
		return nil, err
	}
	l.sink = sink
	return l, nil
}

// Close releases the file sink.
func (l *AuditLog) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

func (l *AuditLog) add(entry AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	if l.sink != nil {
		return l.sink.Write(entry)
	}
	return nil
}

// Recent returns up to limit of the newest entries, oldest first. A
// non-positive limit returns everything retained.
func (l *AuditLog) Recent(limit int) []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]AuditEntry, limit)
	copy(out, l.entries[len(l.entries)-limit:])
	return out
}

// Middleware records every request that is not a read.
func (l *AuditLog) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		ctx := r.Context()
		entry := AuditEntry{
			Time:       l.now().UTC(),
			User:       logging.GetUserID(ctx),
			Role:       logging.GetRole(ctx),
			Method:     r.Method,
			Route:      route,
			Path:       r.URL.Path,
			Status:     rec.status,
			TraceID:    logging.GetTraceID(ctx),
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		}
		// Persistence failures must not change the response already sent.
		_ = l.add(entry)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wrote {
		s.status = code
		s.wrote = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wrote = true
	return s.ResponseWriter.Write(b)
}

// fileAuditSink appends audit entries as JSONL.
type fileAuditSink struct {
	mu   sync.Mutex
	file *os.File
}

func newFileAuditSink(path string) (*fileAuditSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &fileAuditSink{file: f}, nil
}

func (s *fileAuditSink) Write(entry AuditEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}

func (s *fileAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
