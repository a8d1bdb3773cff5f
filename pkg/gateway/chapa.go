package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultChapaBaseURL = "https://api.chapa.co/v1/"

type ChapaConfig struct {
	SecretKey   string
	BaseURL     string
	ReturnURL   string
	CallbackURL string
	Timeout     time.Duration
}

// ChapaClient implements the Chapa transaction API.
type ChapaClient struct {
	secretKey   string
	baseURL     string
	returnURL   string
	callbackURL string
	httpClient  *http.Client
}

func NewChapaClient(cfg ChapaConfig) *ChapaClient {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultChapaBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ChapaClient{
		secretKey:   cfg.SecretKey,
		baseURL:     base,
		returnURL:   cfg.ReturnURL,
		callbackURL: cfg.CallbackURL,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (c *ChapaClient) Provider() string {
	return "chapa"
}

type chapaCustomization struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type chapaInitializeRequest struct {
	FirstName     string             `json:"first_name"`
	LastName      string             `json:"last_name"`
	Email         string             `json:"email"`
	Amount        float64            `json:"amount"`
	TxRef         string             `json:"tx_ref"`
	Currency      string             `json:"currency"`
	ReturnURL     string             `json:"return_url"`
	CallbackURL   string             `json:"callback_url,omitempty"`
	Customization chapaCustomization `json:"customization"`
}

func (c *ChapaClient) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	body := chapaInitializeRequest{
		FirstName:   req.Payer.FirstName,
		LastName:    req.Payer.LastName,
		Email:       req.Payer.Email,
		Amount:      req.Amount.InexactFloat64(),
		TxRef:       req.TxRef,
		Currency:    req.Currency,
		ReturnURL:   c.returnURL,
		CallbackURL: c.callbackURL,
		Customization: chapaCustomization{
			Title:       req.Title,
			Description: req.Description,
		},
	}

	raw, err := c.do(ctx, "initialize", http.MethodPost, "transaction/initialize", body)
	if err != nil {
		return nil, err
	}

	if status, _ := raw["status"].(string); status != "success" {
		return nil, &Error{Op: "initialize", Message: describe(raw, "provider did not report success")}
	}

	data, _ := raw["data"].(map[string]interface{})
	checkoutURL, _ := data["checkout_url"].(string)
	if checkoutURL == "" {
		return nil, &Error{Op: "initialize", Message: "response has no data.checkout_url"}
	}

	return &InitiateResult{
		CheckoutURL: checkoutURL,
		Status:      StatusPending,
		Raw:         raw,
	}, nil
}

func (c *ChapaClient) Verify(ctx context.Context, txRef string) (*VerifyResult, error) {
	raw, err := c.do(ctx, "verify", http.MethodGet, "transaction/verify/"+url.PathEscape(txRef), nil)
	if err != nil {
		return nil, err
	}

	status := StatusUnknown
	if data, ok := raw["data"].(map[string]interface{}); ok {
		if s, ok := data["status"].(string); ok {
			status = ParseStatus(s)
		}
	}

	return &VerifyResult{Status: status, Raw: raw}, nil
}

func (c *ChapaClient) do(ctx context.Context, op, method, path string, payload interface{}) (map[string]interface{}, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, &Error{Op: op, Message: "failed to encode request", Err: err}
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &Error{Op: op, Message: "failed to build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Op: op, StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	var raw map[string]interface{}
	decodeErr := json.Unmarshal(respBody, &raw)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		if decodeErr == nil {
			msg = describe(raw, msg)
		}
		return nil, &Error{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, &Error{Op: op, StatusCode: resp.StatusCode, Message: "invalid JSON response", Err: decodeErr}
	}

	return raw, nil
}

// describe pulls the provider's "message" field, which may be a string or
// an object of field errors.
func describe(raw map[string]interface{}, fallback string) string {
	switch m := raw["message"].(type) {
	case string:
		if m != "" {
			return m
		}
	case nil:
	default:
		if b, err := json.Marshal(m); err == nil {
			return string(b)
		}
		return fmt.Sprint(m)
	}
	return fallback
}
