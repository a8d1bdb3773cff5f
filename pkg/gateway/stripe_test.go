package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStripe(t *testing.T, handler http.HandlerFunc) *StripeClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewStripeClient(StripeConfig{
		SecretKey:  "sk_test_123",
		SuccessURL: "http://localhost/success",
		CancelURL:  "http://localhost/cancel",
		BackendURL: server.URL,
	})
}

func TestStripeInitiate(t *testing.T) {
	client := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "TX-ABC", r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "TX-ABC", r.PostForm.Get("payment_intent_data[metadata][tx_ref]"))
		assert.Equal(t, "1300", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "etb", r.PostForm.Get("line_items[0][price_data][currency]"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`))
	})

	result, err := client.Initiate(context.Background(), InitiateRequest{
		Payer:    Payer{Email: "ada@example.com"},
		Amount:   decimal.RequireFromString("13.00"),
		Currency: "ETB",
		TxRef:    "TX-ABC",
		Title:    "Payment for Order",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", result.CheckoutURL)
	assert.Equal(t, "cs_test_1", result.Raw["id"])
}

func TestStripeInitiateError(t *testing.T) {
	client := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"Invalid currency: etb"}}`))
	})

	_, err := client.Initiate(context.Background(), InitiateRequest{TxRef: "TX-ABC", Amount: decimal.NewFromInt(1), Currency: "ETB"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGateway))

	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusBadRequest, gwErr.StatusCode)
	assert.Equal(t, "Invalid currency: etb", gwErr.Message)
}

func TestStripeVerify(t *testing.T) {
	client := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents/search", r.URL.Path)
		assert.Equal(t, "metadata['tx_ref']:'TX-ABC'", r.URL.Query().Get("query"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"search_result","has_more":false,"data":[{"id":"pi_1","object":"payment_intent","status":"succeeded","metadata":{"tx_ref":"TX-ABC"}}]}`))
	})

	result, err := client.Verify(context.Background(), "TX-ABC")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "pi_1", result.Raw["id"])
}

func TestStripeVerifyNoIntent(t *testing.T) {
	client := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"search_result","has_more":false,"data":[]}`))
	})

	result, err := client.Verify(context.Background(), "TX-ABC")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, result.Status)
}
