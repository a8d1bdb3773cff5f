// Package gateway talks to external payment providers. Clients are
// stateless and never retry; every failure comes back as *Error.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrGateway = errors.New("payment gateway error")

// Error is returned for transport failures, non-2xx responses and
// responses that do not report success.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("gateway ")
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrGateway}
	}
	return []error{ErrGateway, e.Err}
}

// ProviderStatus is the normalized provider vocabulary.
type ProviderStatus string

const (
	StatusSuccess ProviderStatus = "success"
	StatusFailed  ProviderStatus = "failed"
	StatusPending ProviderStatus = "pending"
	StatusUnknown ProviderStatus = "unknown"
)

var chapaStatuses = map[string]ProviderStatus{
	"success": StatusSuccess,
	"failed":  StatusFailed,
	"pending": StatusPending,
}

// ParseStatus folds a raw provider status string into ProviderStatus.
// Anything unrecognized is StatusUnknown.
func ParseStatus(raw string) ProviderStatus {
	if s, ok := chapaStatuses[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return StatusUnknown
}

type Payer struct {
	FirstName string
	LastName  string
	Email     string
}

type InitiateRequest struct {
	Payer       Payer
	Amount      decimal.Decimal
	Currency    string
	TxRef       string
	Title       string
	Description string
}

type InitiateResult struct {
	CheckoutURL string
	Status      ProviderStatus
	Raw         map[string]interface{}
}

type VerifyResult struct {
	Status ProviderStatus
	Raw    map[string]interface{}
}

type Gateway interface {
	Provider() string
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	Verify(ctx context.Context, txRef string) (*VerifyResult, error)
}

// New returns the client for the named provider.
func New(provider string, chapa ChapaConfig, stripe StripeConfig) (Gateway, error) {
	switch provider {
	case "chapa", "":
		return NewChapaClient(chapa), nil
	case "stripe":
		return NewStripeClient(stripe), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", provider)
	}
}
