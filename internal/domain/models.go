package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Currency is the single currency this pipeline accepts.
const Currency = "COP"

// Transaction lifecycle statuses.
const (
	StatusProcessed = "processed"
	StatusFailed    = "failed"
	StatusDuplicate = "duplicate"
)

// FailureReason classifies why a message could not be parsed.
type FailureReason string

const (
	ReasonPatternMismatch FailureReason = "pattern_mismatch"
	ReasonInvalidAmount   FailureReason = "invalid_amount"
	ReasonEmptySender     FailureReason = "empty_sender_name"
	ReasonInvalidDate     FailureReason = "invalid_date"
	ReasonInvalidTime     FailureReason = "invalid_time"
)

// Sentinel errors shared across the store and service layers.
var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateDelivery = errors.New("duplicate delivery id")
	ErrInvalidJSON       = errors.New("invalid json body")
	ErrInvalidEnvelope   = errors.New("invalid envelope")
)

// ParseError is returned by the ingestion pipeline when the SMS text does not
// yield a transaction. It carries the specific reason from the parser.
type ParseError struct {
	Reason FailureReason
}

func (e *ParseError) Error() string {
	return "parse failed: " + string(e.Reason)
}

// Envelope is the validated webhook body. The wire field is webhookId; the
// same value acts as the delivery id everywhere downstream.
type Envelope struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Phone     string `json:"phone"`
	WebhookID string `json:"webhookId"`
}

// ParsedFact is the parser's output. Success=true implies every field below
// the flag is populated and valid; Success=false carries only FailureReason.
type ParsedFact struct {
	Success       bool
	FailureReason FailureReason
	Amount        int64
	SenderName    string
	AccountSuffix string // masked, e.g. "**7251"
	OccurredOn    time.Time
	OccurredAt    string // "HH:MM", minute precision
}

// Transaction is the durable record, created exactly once per delivery id.
type Transaction struct {
	ID            string    `json:"id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	SenderName    string    `json:"senderName"`
	AccountNumber string    `json:"accountNumber"`
	Date          time.Time `json:"date"`
	Time          string    `json:"time"`
	RawMessage    string    `json:"rawMessage"`
	ParsedAt      time.Time `json:"parsedAt"`
	DeliveryID    string    `json:"deliveryId"`
	Status        string    `json:"status"`
}

// ParseFailure is the durable record of a message that could not be turned
// into a transaction. Resolved is flipped by a manual review workflow.
type ParseFailure struct {
	ID            string        `json:"id"`
	RawMessage    string        `json:"rawMessage"`
	FailureReason FailureReason `json:"failureReason"`
	DeliveryID    string        `json:"deliveryId"`
	OccurredAt    time.Time     `json:"occurredAt"`
	Resolved      bool          `json:"resolved"`
}

// TransactionFilter bounds transaction list reads.
type TransactionFilter struct {
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// ParseFailureFilter bounds parse-failure list reads.
type ParseFailureFilter struct {
	Resolved *bool
	Limit    int
}

// Aggregate is a sum/count/average over a date range.
type Aggregate struct {
	Sum     decimal.Decimal `json:"sum"`
	Count   int64           `json:"count"`
	Average decimal.Decimal `json:"average"`
}

// WebhookResponse is the canonical webhook reply body.
type WebhookResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transactionId,omitempty"`
	WebhookID     string `json:"webhookId"`
	Error         string `json:"error,omitempty"`
}
