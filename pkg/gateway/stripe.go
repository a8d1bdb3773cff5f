package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

type StripeConfig struct {
	SecretKey  string
	SuccessURL string
	CancelURL  string
	// BackendURL overrides api.stripe.com; used by tests.
	BackendURL string
}

// StripeClient initiates payments as hosted Checkout Sessions. The tx_ref
// travels as client_reference_id and as PaymentIntent metadata so Verify
// can find the intent again.
type StripeClient struct {
	api        *client.API
	successURL string
	cancelURL  string
}

func NewStripeClient(cfg StripeConfig) *StripeClient {
	var backends *stripe.Backends
	if cfg.BackendURL != "" {
		backendConfig := &stripe.BackendConfig{
			URL:               stripe.String(cfg.BackendURL),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		}
		backends = &stripe.Backends{
			API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
			Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig),
			Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig),
		}
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, backends)

	return &StripeClient{
		api:        api,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
	}
}

func (c *StripeClient) Provider() string {
	return "stripe"
}

var stripeStatuses = map[stripe.PaymentIntentStatus]ProviderStatus{
	stripe.PaymentIntentStatusSucceeded:             StatusSuccess,
	stripe.PaymentIntentStatusCanceled:              StatusFailed,
	stripe.PaymentIntentStatusProcessing:            StatusPending,
	stripe.PaymentIntentStatusRequiresAction:        StatusPending,
	stripe.PaymentIntentStatusRequiresCapture:       StatusPending,
	stripe.PaymentIntentStatusRequiresConfirmation:  StatusPending,
	stripe.PaymentIntentStatusRequiresPaymentMethod: StatusPending,
}

func (c *StripeClient) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(c.successURL),
		CancelURL:         stripe.String(c.cancelURL),
		ClientReferenceID: stripe.String(req.TxRef),
		CustomerEmail:     stripe.String(req.Payer.Email),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.Amount.Shift(2).Round(0).IntPart()),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(req.Title),
						Description: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"tx_ref": req.TxRef},
		},
	}
	params.Context = ctx

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, stripeError("initialize", err)
	}
	if sess.URL == "" {
		return nil, &Error{Op: "initialize", Message: "checkout session has no url"}
	}

	return &InitiateResult{
		CheckoutURL: sess.URL,
		Status:      StatusPending,
		Raw:         toMap(sess),
	}, nil
}

func (c *StripeClient) Verify(ctx context.Context, txRef string) (*VerifyResult, error) {
	params := &stripe.PaymentIntentSearchParams{}
	params.Query = fmt.Sprintf("metadata['tx_ref']:'%s'", strings.ReplaceAll(txRef, "'", ""))
	params.Context = ctx

	iter := c.api.PaymentIntents.Search(params)
	var intent *stripe.PaymentIntent
	for iter.Next() {
		intent = iter.PaymentIntent()
		break
	}
	if err := iter.Err(); err != nil {
		return nil, stripeError("verify", err)
	}

	// No intent yet means the customer has not reached the payment step.
	if intent == nil {
		return &VerifyResult{
			Status: StatusPending,
			Raw:    map[string]interface{}{"tx_ref": txRef, "status": "not_found"},
		}, nil
	}

	status, ok := stripeStatuses[intent.Status]
	if !ok {
		status = StatusUnknown
	}
	return &VerifyResult{Status: status, Raw: toMap(intent)}, nil
}

func stripeError(op string, err error) error {
	if stripeErr, ok := err.(*stripe.Error); ok {
		return &Error{Op: op, StatusCode: stripeErr.HTTPStatusCode, Message: stripeErr.Msg, Err: err}
	}
	return &Error{Op: op, Message: "request failed", Err: err}
}

func toMap(v interface{}) map[string]interface{} {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
