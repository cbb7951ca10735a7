package domain

import (
	"strings"
	"time"
)

// ResultType classifies a search result by the kind of learning content it
// points at.
type ResultType string

const (
	ResultTypeCourse  ResultType = "COURSE"
	ResultTypeVideo   ResultType = "VIDEO"
	ResultTypeArticle ResultType = "ARTICLE"
	ResultTypeOther   ResultType = "OTHER"
)

// Result is one canonical learning-content link extracted from a provider
// dataset.
type Result struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Description string     `json:"description,omitempty"`
	Type        ResultType `json:"type"`
	Source      string     `json:"source"`
}

// Entry tracks one external search submission from admission to expiry.
//
// RequestID is assigned by this system at admission time; JobID is assigned
// by the external provider once it accepts the job and stays empty until
// then. NormalizedQuery is the deduplication key.
type Entry struct {
	RequestID       string    `json:"request_id"`
	JobID           string    `json:"job_id,omitempty"`
	Query           string    `json:"query"`
	NormalizedQuery string    `json:"normalized_query"`
	Status          Status    `json:"status"`
	Results         []Result  `json:"results,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	QueuePosition   *int      `json:"queue_position,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Expired reports whether the entry's TTL has passed. In-flight entries are
// never treated as expired: only terminal entries age out.
func (e *Entry) Expired(now time.Time) bool {
	return e.Status.Terminal() && now.After(e.ExpiresAt)
}

// Clone returns a deep copy so callers can't mutate shared state through a
// returned entry.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.Results != nil {
		c.Results = make([]Result, len(e.Results))
		copy(c.Results, e.Results)
	}
	if e.QueuePosition != nil {
		pos := *e.QueuePosition
		c.QueuePosition = &pos
	}
	return &c
}

// NormalizeQuery derives the deduplication key from raw query text: trimmed,
// case-folded, inner whitespace collapsed to single spaces. Equivalent
// searches must collide ("  Rust " and "rust" are the same search).
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
