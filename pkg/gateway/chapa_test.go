package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChapa(t *testing.T, handler http.HandlerFunc) *ChapaClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewChapaClient(ChapaConfig{
		SecretKey: "CHASECK_TEST-abc",
		BaseURL:   server.URL + "/v1",
		ReturnURL: "http://localhost/return",
	})
}

func TestChapaInitiate(t *testing.T) {
	var got map[string]interface{}
	client := newTestChapa(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer CHASECK_TEST-abc", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"Hosted Link","status":"success","data":{"checkout_url":"https://checkout.chapa.co/checkout/payment/abc"}}`))
	})

	result, err := client.Initiate(context.Background(), InitiateRequest{
		Payer:       Payer{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
		Amount:      decimal.RequireFromString("13.00"),
		Currency:    "ETB",
		TxRef:       "TX-ABCDEF123456",
		Title:       "Payment for Order",
		Description: "Payment for purchasing products",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://checkout.chapa.co/checkout/payment/abc", result.CheckoutURL)
	assert.Equal(t, StatusPending, result.Status)

	assert.Equal(t, "Ada", got["first_name"])
	assert.Equal(t, "Lovelace", got["last_name"])
	assert.Equal(t, "ada@example.com", got["email"])
	assert.Equal(t, 13.0, got["amount"])
	assert.Equal(t, "TX-ABCDEF123456", got["tx_ref"])
	assert.Equal(t, "ETB", got["currency"])
	assert.Equal(t, "http://localhost/return", got["return_url"])
	assert.NotContains(t, got, "callback_url")
	customization, ok := got["customization"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Payment for Order", customization["title"])
	assert.Equal(t, "Payment for purchasing products", customization["description"])
}

func TestChapaInitiateNotSuccessful(t *testing.T) {
	client := newTestChapa(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"Currency not supported","status":"failed","data":null}`))
	})

	result, err := client.Initiate(context.Background(), InitiateRequest{TxRef: "TX-1", Amount: decimal.NewFromInt(1)})
	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGateway))
	assert.Contains(t, err.Error(), "Currency not supported")
}

func TestChapaInitiateHTTPError(t *testing.T) {
	client := newTestChapa(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Invalid API Key","status":"failed"}`))
	})

	_, err := client.Initiate(context.Background(), InitiateRequest{TxRef: "TX-1", Amount: decimal.NewFromInt(1)})
	require.Error(t, err)

	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusUnauthorized, gwErr.StatusCode)
	assert.Equal(t, "Invalid API Key", gwErr.Message)
	assert.Equal(t, "initialize", gwErr.Op)
}

func TestChapaTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewChapaClient(ChapaConfig{BaseURL: server.URL})
	_, err := client.Verify(context.Background(), "TX-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGateway))

	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.NotNil(t, gwErr.Err)
}

func TestChapaVerify(t *testing.T) {
	tests := []struct {
		name   string
		status string
		want   ProviderStatus
	}{
		{"success", "success", StatusSuccess},
		{"failed", "failed", StatusFailed},
		{"pending", "pending", StatusPending},
		{"mixed case", "Success", StatusSuccess},
		{"unrecognized", "reversed", StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestChapa(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/v1/transaction/verify/TX-ABC", r.URL.Path)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"message": "Payment details",
					"status":  "success",
					"data": map[string]interface{}{
						"tx_ref":    "TX-ABC",
						"status":    tt.status,
						"amount":    "13.00",
						"reference": "APfKtRmCk0jv",
					},
				})
			})

			result, err := client.Verify(context.Background(), "TX-ABC")
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Status)

			data := result.Raw["data"].(map[string]interface{})
			assert.Equal(t, "APfKtRmCk0jv", data["reference"])
		})
	}
}

func TestChapaVerifyMissingData(t *testing.T) {
	client := newTestChapa(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"Payment not paid yet","status":"success","data":null}`))
	})

	result, err := client.Verify(context.Background(), "TX-ABC")
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, result.Status)
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, StatusSuccess, ParseStatus(" success "))
	assert.Equal(t, StatusFailed, ParseStatus("FAILED"))
	assert.Equal(t, StatusUnknown, ParseStatus(""))
}
