package paynow

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"estate-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "3e9fed89-60e1-4ce5-ab6e-6b1eb2d4f977"

var creds = Credentials{
	IntegrationID:  "1201",
	IntegrationKey: testKey,
	ReturnURL:      "https://estate.example/return",
	ResultURL:      "https://estate.example/result",
}

func TestParseFieldsKeepsOrder(t *testing.T) {
	f, err := ParseFields("status=Ok&browserurl=https%3A%2F%2Fpay.example%2F1&hash=AB+CD")
	require.NoError(t, err)
	require.Len(t, f, 3)
	assert.Equal(t, "status", f[0].Key)
	assert.Equal(t, "https://pay.example/1", f.Get("browserurl"))
	assert.Equal(t, "AB CD", f.Get("HASH"))
}

func TestHashIgnoresHashFieldAndOrderMatters(t *testing.T) {
	a := Fields{}.Add("reference", "r1").Add("amount", "10.00")
	b := Fields{}.Add("amount", "10.00").Add("reference", "r1")
	assert.NotEqual(t, Hash(a, testKey), Hash(b, testKey))

	signed := Sign(a, testKey)
	assert.Equal(t, Hash(a, testKey), Hash(signed, testKey))
	assert.True(t, VerifyHash(signed, testKey))
	assert.False(t, VerifyHash(signed, "other-key"))
	assert.False(t, VerifyHash(a, testKey), "missing hash never verifies")
}

func TestHashIsUpperHexSHA512(t *testing.T) {
	h := Hash(Fields{}.Add("a", "b"), "k")
	assert.Len(t, h, 128)
	assert.Regexp(t, "^[0-9A-F]+$", h)
}

func TestMapStatus(t *testing.T) {
	cases := map[string]models.PaymentStatus{
		"Paid":              models.PaymentPaid,
		"Awaiting Delivery": models.PaymentPaid,
		"Delivered":         models.PaymentPaid,
		"Cancelled":         models.PaymentCancelled,
		"Failed":            models.PaymentFailed,
		"Disputed":          models.PaymentFailed,
		"Refunded":          models.PaymentRefunded,
		"Created":           models.PaymentSent,
		"sent":              models.PaymentSent,
	}
	for in, want := range cases {
		got, ok := MapStatus(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := MapStatus("Exploded")
	assert.False(t, ok)
}

func TestInitiateOk(t *testing.T) {
	var received Fields
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		received, _ = ParseFields(string(raw))
		reply := Sign(Fields{}.
			Add("status", "Ok").
			Add("browserurl", "https://pay.example/b").
			Add("pollurl", "https://pay.example/p").
			Add("paynowreference", "9001"), testKey)
		_, _ = io.WriteString(w, reply.Encode())
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL+"/remote")
	resp, err := c.Initiate(context.Background(), creds, InitRequest{
		Reference: "ref-1",
		Amount:    decimal.RequireFromString("50"),
		AuthEmail: "buyer@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "9001", resp.PaynowReference)
	assert.Equal(t, "https://pay.example/p", resp.PollURL)
	assert.Equal(t, "https://pay.example/b", resp.BrowserURL)

	assert.Equal(t, "50.00", received.Get("amount"))
	assert.Equal(t, "Message", received.Get("status"))
	assert.True(t, VerifyHash(received, testKey))
	assert.Equal(t, "resulturl", received[0].Key)
}

func TestInitiateMobileUsesRemoteEndpoint(t *testing.T) {
	var path string
	var received Fields
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		received, _ = ParseFields(string(raw))
		reply := Sign(Fields{}.
			Add("status", "Ok").
			Add("instructions", "Dial *151#").
			Add("pollurl", "https://pay.example/p").
			Add("paynowreference", "77"), testKey)
		_, _ = io.WriteString(w, reply.Encode())
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/initiate", srv.URL+"/remote")
	resp, err := c.Initiate(context.Background(), creds, InitRequest{
		Reference: "ref-2",
		Amount:    decimal.NewFromInt(5),
		Phone:     "0771234567",
		Method:    models.MethodEcocash,
	})
	require.NoError(t, err)
	assert.Equal(t, "/remote", path)
	assert.Equal(t, "ecocash", received.Get("method"))
	assert.Equal(t, "Dial *151#", resp.Instructions)
}

func TestInitiateGatewayErrorIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "status=Error&error=Invalid+Id.")
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.URL).Initiate(context.Background(), creds, InitRequest{Reference: "r", Amount: decimal.NewFromInt(1)})
	var gerr *GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "Invalid Id.", gerr.Message)
	assert.False(t, Retryable(err))
}

func TestInitiateServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.URL).Initiate(context.Background(), creds, InitRequest{Reference: "r", Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.True(t, Retryable(err))
}

func TestInitiateRejectsBadReplyHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "status=Ok&pollurl=x&hash=DEADBEEF")
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.URL).Initiate(context.Background(), creds, InitRequest{Reference: "r", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestPoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply := Sign(Fields{}.
			Add("reference", "ref-1").
			Add("paynowreference", "9001").
			Add("amount", "50.00").
			Add("status", "Paid").
			Add("pollurl", "https://pay.example/p"), testKey)
		_, _ = io.WriteString(w, reply.Encode())
	}))
	defer srv.Close()

	u, err := NewClient(srv.URL, srv.URL).Poll(context.Background(), creds, srv.URL+"/poll")
	require.NoError(t, err)
	assert.Equal(t, "ref-1", u.Reference)
	assert.Equal(t, "Paid", u.Status)
	assert.Equal(t, "50.00", u.Amount)
}

func TestParseStatusUpdateRequiresFields(t *testing.T) {
	_, err := ParseStatusUpdate(Fields{}.Add("reference", "r").Add("status", "Paid"))
	assert.ErrorIs(t, err, ErrMissingFields)
}
