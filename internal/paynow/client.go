package paynow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"estate-backend/internal/metrics"
	"estate-backend/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidHash   = errors.New("paynow reply hash mismatch")
	ErrMalformed     = errors.New("malformed paynow reply")
	ErrMissingFields = errors.New("status update is missing required fields")
)

// GatewayError is an explicit "status=Error" reply. It is final: retrying won't help.
type GatewayError struct {
	Message string
}

func (e *GatewayError) Error() string {
	return "paynow: " + e.Message
}

// TransportError wraps network failures and non-2xx replies, which may be retried.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "paynow transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether err came from the transport rather than the gateway.
func Retryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

type Credentials struct {
	IntegrationID  string
	IntegrationKey string
	ReturnURL      string
	ResultURL      string
}

// CredentialsFor extracts the merchant credentials of an integration.
func CredentialsFor(in *models.PaynowIntegration) Credentials {
	return Credentials{
		IntegrationID:  in.IntegrationID,
		IntegrationKey: in.IntegrationKey,
		ReturnURL:      in.ReturnURL,
		ResultURL:      in.ResultURL,
	}
}

type InitRequest struct {
	Reference      string
	Amount         decimal.Decimal
	AdditionalInfo string
	AuthEmail      string

	// Phone and Method switch to an express mobile checkout.
	Phone  string
	Method models.MobileMethod
}

func (r InitRequest) mobile() bool { return r.Phone != "" && r.Method != "" }

type InitResponse struct {
	PaynowReference string
	PollURL         string
	BrowserURL      string
	Instructions    string
}

// StatusUpdate is a verified status message from the gateway.
type StatusUpdate struct {
	Reference       string
	PaynowReference string
	Amount          string
	Status          string
	PollURL         string
	Fields          Fields
}

// ParseStatusUpdate pulls the known keys out of a status message.
// Reference, status and hash are required.
func ParseStatusUpdate(f Fields) (StatusUpdate, error) {
	u := StatusUpdate{
		Reference:       f.Get("reference"),
		PaynowReference: f.Get("paynowreference"),
		Amount:          f.Get("amount"),
		Status:          f.Get("status"),
		PollURL:         f.Get("pollurl"),
		Fields:          f,
	}
	if u.Reference == "" || u.Status == "" || f.Get("hash") == "" {
		return u, ErrMissingFields
	}
	return u, nil
}

type Client struct {
	HTTP        *http.Client
	InitiateURL string
	RemoteURL   string
}

func NewClient(initiateURL, remoteURL string) *Client {
	return &Client{
		HTTP:        &http.Client{Timeout: 30 * time.Second},
		InitiateURL: initiateURL,
		RemoteURL:   remoteURL,
	}
}

func (c *Client) post(ctx context.Context, target string, body string) (Fields, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if resp.StatusCode >= 300 {
		return nil, &TransportError{Err: fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)}
	}
	fields, err := ParseFields(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fields, nil
}

func initFields(creds Credentials, req InitRequest) Fields {
	f := Fields{}.
		Add("resulturl", creds.ResultURL).
		Add("returnurl", creds.ReturnURL).
		Add("reference", req.Reference).
		Add("amount", req.Amount.StringFixed(2)).
		Add("id", creds.IntegrationID).
		Add("additionalinfo", req.AdditionalInfo).
		Add("authemail", req.AuthEmail)
	if req.mobile() {
		f = f.Add("phone", req.Phone).Add("method", string(req.Method))
	}
	return Sign(f.Add("status", "Message"), creds.IntegrationKey)
}

// Initiate registers a transaction with the gateway.
func (c *Client) Initiate(ctx context.Context, creds Credentials, req InitRequest) (*InitResponse, error) {
	target, op := c.InitiateURL, "initiate"
	if req.mobile() {
		target, op = c.RemoteURL, "initiate_mobile"
	}

	reply, err := c.post(ctx, target, initFields(creds, req).Encode())
	if err != nil {
		metrics.GatewayCalls.WithLabelValues(op, "transport_error").Inc()
		return nil, err
	}

	switch strings.ToLower(reply.Get("status")) {
	case "ok":
		if !VerifyHash(reply, creds.IntegrationKey) {
			metrics.GatewayCalls.WithLabelValues(op, "bad_hash").Inc()
			return nil, ErrInvalidHash
		}
		metrics.GatewayCalls.WithLabelValues(op, "ok").Inc()
		return &InitResponse{
			PaynowReference: reply.Get("paynowreference"),
			PollURL:         reply.Get("pollurl"),
			BrowserURL:      reply.Get("browserurl"),
			Instructions:    reply.Get("instructions"),
		}, nil
	case "error":
		metrics.GatewayCalls.WithLabelValues(op, "error").Inc()
		msg := reply.Get("error")
		if msg == "" {
			msg = "unknown gateway error"
		}
		return nil, &GatewayError{Message: msg}
	default:
		metrics.GatewayCalls.WithLabelValues(op, "malformed").Inc()
		return nil, fmt.Errorf("%w: status %q", ErrMalformed, reply.Get("status"))
	}
}

// Poll asks the gateway for the current status of a transaction.
func (c *Client) Poll(ctx context.Context, creds Credentials, pollURL string) (StatusUpdate, error) {
	reply, err := c.post(ctx, pollURL, "")
	if err != nil {
		metrics.GatewayCalls.WithLabelValues("poll", "transport_error").Inc()
		return StatusUpdate{}, err
	}
	if strings.EqualFold(reply.Get("status"), "error") {
		metrics.GatewayCalls.WithLabelValues("poll", "error").Inc()
		return StatusUpdate{}, &GatewayError{Message: reply.Get("error")}
	}
	u, err := ParseStatusUpdate(reply)
	if err != nil {
		metrics.GatewayCalls.WithLabelValues("poll", "malformed").Inc()
		return u, err
	}
	if !VerifyHash(reply, creds.IntegrationKey) {
		metrics.GatewayCalls.WithLabelValues("poll", "bad_hash").Inc()
		return u, ErrInvalidHash
	}
	metrics.GatewayCalls.WithLabelValues("poll", "ok").Inc()
	return u, nil
}
