package internal

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

type UpstreamID string

const (
	UpstreamNone     UpstreamID = ""
	UpstreamDefault  UpstreamID = "default"
	UpstreamFallback UpstreamID = "fallback"
)

// Upstreams lists the processors in preference order (cheapest first).
var Upstreams = [...]UpstreamID{UpstreamDefault, UpstreamFallback}

type PaymentStatus string

const (
	PaymentProcessed PaymentStatus = "processed"
	PaymentFailed    PaymentStatus = "failed"
)

type PaymentRequest struct {
	CorrelationId string          `json:"correlationId"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
}

// PaymentRequestProcessor is the body sent to an upstream processor.
type PaymentRequestProcessor struct {
	PaymentRequest
	RequestedAt string `json:"requestedAt"`
}

type PaymentRecord struct {
	Id          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Processor   UpstreamID      `json:"processor"`
	Status      PaymentStatus   `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Description string          `json:"description,omitempty"`
}

type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResponse is the payload of GET /payments/service-health.
type HealthCheckResponse struct {
	Failing         bool `json:"failing"`
	MinResponseTime int  `json:"minResponseTime"`
}

type HealthVerdict struct {
	Status    HealthStatus `json:"status"`
	CheckedAt time.Time    `json:"checkedAt"`
	// MinResponseTime is advisory, in milliseconds. Nil when never reported.
	MinResponseTime *int `json:"minResponseTime,omitempty"`
}

type BreakerState string

const (
	BreakerClosed BreakerState = "closed"
	BreakerOpen   BreakerState = "open"
)

type SummaryTotalRequestsResponse struct {
	TotalRequests int             `json:"totalRequests"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
}

func (s *SummaryTotalRequestsResponse) add(amount decimal.Decimal) {
	s.TotalRequests++
	s.TotalAmount = s.TotalAmount.Add(amount)
}

// SummaryResponse only counts processed payments in the per-processor groups
// and in Total; Failed is reported on its own.
type SummaryResponse struct {
	DefaultSummary  SummaryTotalRequestsResponse `json:"default"`
	FallbackSummary SummaryTotalRequestsResponse `json:"fallback"`
	Total           SummaryTotalRequestsResponse `json:"total"`
	Failed          SummaryTotalRequestsResponse `json:"failed"`
}

type SummaryFilter struct {
	From time.Time
	To   time.Time
}

func (f SummaryFilter) IsZero() bool {
	return f.From.IsZero() && f.To.IsZero()
}
