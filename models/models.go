package models

import "time"

// Resolution strategies applied when providers disagree on a field.
const (
	ResolutionAverage          = "average"
	ResolutionPrimaryPreferred = "primary_preferred"
	ResolutionLatestPreferred  = "latest_preferred"
)

// Provider health states ordered by severity.
type HealthState int

const (
	HealthHealthy HealthState = iota
	HealthDegraded
	HealthUnavailable
)

func (s HealthState) String() string {
	switch s {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// FetchRequest identifies a single field-group resolution. Immutable once
// constructed; MaxAge overrides the policy TTL when positive.
type FetchRequest struct {
	Tool   string
	Group  string
	Params map[string]string
	MaxAge time.Duration
}

// SourceMeta records provenance for one resolved field-group.
type SourceMeta struct {
	Provider       string  `json:"provider"`
	Endpoint       string  `json:"endpoint"`
	AsOfUTC        string  `json:"as_of_utc"`
	TTLSeconds     int     `json:"ttl_seconds"`
	Degraded       bool    `json:"degraded"`
	FallbackUsed   string  `json:"fallback_used,omitempty"`
	ResponseTimeMs float64 `json:"response_time_ms,omitempty"`
}

// ConflictRecord captures a disagreement between providers on one field
// together with how it was settled.
type ConflictRecord struct {
	Field       string                 `json:"field"`
	Values      map[string]interface{} `json:"values"`
	DiffPercent float64                `json:"diff_percent"`
	Resolution  string                 `json:"resolution"`
	FinalValue  interface{}            `json:"final_value"`
}

// Result is the caller-facing envelope. Data is keyed by field-group;
// SourceMeta preserves resolution order; AsOfUTC is the latest timestamp
// among all included SourceMeta entries.
type Result struct {
	Tool       string                            `json:"tool"`
	Symbol     string                            `json:"symbol,omitempty"`
	RequestID  string                            `json:"request_id,omitempty"`
	Data       map[string]map[string]interface{} `json:"data"`
	SourceMeta []SourceMeta                      `json:"source_meta"`
	Conflicts  []ConflictRecord                  `json:"conflicts"`
	Warnings   []string                          `json:"warnings"`
	AsOfUTC    string                            `json:"as_of_utc"`
}

// UTCFormat is the timestamp layout used throughout result envelopes.
const UTCFormat = "2006-01-02T15:04:05Z"

// FormatUTC renders t in the envelope timestamp layout.
func FormatUTC(t time.Time) string {
	return t.UTC().Format(UTCFormat)
}
