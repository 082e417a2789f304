package testutil

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"estate-backend/internal/auth"
	"estate-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

// Bearer returns an Authorization header value for u.
func Bearer(t *testing.T, u *models.User) string {
	t.Helper()
	tok, err := auth.GenerateToken(Secret, u, auth.TokenAccess, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

// Do sends a JSON request through app and returns the status and raw body.
func Do(t *testing.T, app *fiber.App, method, path, body, authz string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if authz != "" {
		req.Header.Set(fiber.HeaderAuthorization, authz)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

// DoJSON is Do with the body decoded into a map.
func DoJSON(t *testing.T, app *fiber.App, method, path, body, authz string) (int, map[string]any) {
	t.Helper()
	status, raw := Do(t, app, method, path, body, authz)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return status, out
}

// DoList is Do with the body decoded into a slice.
func DoList(t *testing.T, app *fiber.App, method, path, body, authz string) (int, []map[string]any) {
	t.Helper()
	status, raw := Do(t, app, method, path, body, authz)
	var out []map[string]any
	_ = json.Unmarshal(raw, &out)
	return status, out
}
