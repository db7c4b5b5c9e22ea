package model

import (
	"encoding/json"
	"errors"
	"time"
)

// Output record status constants.
const (
	OutputCompleted = "completed"
	OutputFailed    = "failed"
)

// Output types produced by the trading workflow stages.
const (
	OutputMarketAnalysis       = "market_analysis"
	OutputSocialAnalysis       = "social_analysis"
	OutputNewsAnalysis         = "news_analysis"
	OutputFundamentalsAnalysis = "fundamentals_analysis"
	OutputResearchReport       = "research_report"
	OutputTradingDecision      = "trading_decision"
)

// ErrEmptyPayload is returned when decoding a record that carries no payload.
var ErrEmptyPayload = errors.New("output record has no payload")

// ValidOutputStatus reports whether s is a status an output record may carry.
func ValidOutputStatus(s string) bool {
	return s == OutputCompleted || s == OutputFailed
}

// OutputRecord is one published stage output. Records are append-only; for a
// given (session, output type) readers only see the most recent completed one.
type OutputRecord struct {
	ID           int64           `json:"id"`
	SessionID    string          `json:"session_id"`
	ProducerName string          `json:"producer_name"`
	OutputType   string          `json:"output_type"`
	Payload      json.RawMessage `json:"payload"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Decode unmarshals the record payload into v.
func (r *OutputRecord) Decode(v any) error {
	if len(r.Payload) == 0 {
		return ErrEmptyPayload
	}
	return json.Unmarshal(r.Payload, v)
}

// FailurePayload is the payload a stage publishes when its run fails.
type FailurePayload struct {
	Error  string `json:"error"`
	Status string `json:"status"`
}
