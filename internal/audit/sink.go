package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/khanghh/kgate/model"
	"github.com/valyala/bytebufferpool"
)

type Sink interface {
	Write(ctx context.Context, event *model.AuditEvent) error
}

// RepositorySink appends events to the audit table.
type RepositorySink struct {
	repo AuditEventRepository
}

func (s *RepositorySink) Write(ctx context.Context, event *model.AuditEvent) error {
	return s.repo.Create(ctx, event)
}

func NewRepositorySink(repo AuditEventRepository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

type jsonRecord struct {
	Actor     string         `json:"actor"`
	Area      string         `json:"area"`
	Action    string         `json:"action"`
	Reason    string         `json:"reason,omitempty"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// JSONSink writes one JSON object per line.
type JSONSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *JSONSink) Write(ctx context.Context, event *model.AuditEvent) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	err := json.NewEncoder(buf).Encode(jsonRecord{
		Actor:     event.Actor,
		Area:      event.Area,
		Action:    event.Action,
		Reason:    event.Reason,
		IP:        event.IP,
		UserAgent: event.UserAgent,
		Details:   event.Details,
		CreatedAt: event.CreatedAt,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(buf.B)
	return err
}

func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{w: w}
}
