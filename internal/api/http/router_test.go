package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/whatsapp-helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/whatsapp-helpdesk/internal/auth"
	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
	"github.com/spec-kit/whatsapp-helpdesk/internal/gateway"
	"github.com/spec-kit/whatsapp-helpdesk/internal/observability"
	"github.com/spec-kit/whatsapp-helpdesk/internal/service"
)

type noMembers struct{}

func (noMembers) GetByID(context.Context, string, string) (*domain.Member, error) {
	return nil, pgx.ErrNoRows
}

type acceptAll struct{}

func (acceptAll) Handle(_ context.Context, env gateway.Envelope) (*service.IngestResult, error) {
	return &service.IngestResult{Event: env.Kind()}, nil
}

func newRouterApp() *fiber.App {
	metrics := observability.NewMetrics()
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterMiddlewares(app, zap.NewNop(), metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:          handlers.NewHealthHandler("helpdesk", "test", nil, nil, metrics),
		Webhook:         handlers.NewWebhookHandler(acceptAll{}, nil),
		Actions:         handlers.NewActionsHandler(nil, nil),
		Tickets:         handlers.NewTicketsHandler(nil),
		Contacts:        handlers.NewContactsHandler(nil),
		AuthMiddleware:  auth.NewAuthMiddleware(auth.NewTokenManager("secret", 5), noMembers{}),
		WebhookVerifier: auth.NewWebhookVerifier("hook-secret"),
		WebhookPath:     "/hooks/evolution",
	})
	return app
}

func call(t *testing.T, app *fiber.App, method, target, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	decoded := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	}
	return resp.StatusCode, decoded
}

func TestRoutes(t *testing.T) {
	app := newRouterApp()
	envelope := `{"event":"CONNECTION_UPDATE","instance":"x","data":{"state":"open"}}`

	status, body := call(t, app, nethttp.MethodGet, "/health/live", "")
	assert.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, "alive", body["status"])

	status, body = call(t, app, nethttp.MethodPost, "/hooks/evolution", envelope)
	assert.Equal(t, nethttp.StatusUnauthorized, status)
	assert.Equal(t, "invalid signature", body["error"])

	status, body = call(t, app, nethttp.MethodPost, "/hooks/evolution?token=hook-secret", envelope)
	assert.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, true, body["success"])

	for _, target := range []string{"/actions", "/evolution-api", "/tickets", "/contacts"} {
		status, body = call(t, app, nethttp.MethodPost, target, `{"action":"list-connections"}`)
		assert.Equal(t, nethttp.StatusUnauthorized, status, target)
		assert.Equal(t, "UNAUTHORIZED", body["error"].(map[string]any)["code"], target)
	}

	status, body = call(t, app, nethttp.MethodGet, "/nowhere", "")
	assert.Equal(t, nethttp.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["error"].(map[string]any)["code"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	app := newRouterApp()
	req := httptest.NewRequest(nethttp.MethodGet, "/health/live", nil)
	req.Header.Set(observability.RequestIDHeader, "req-123")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "req-123", resp.Header.Get(observability.RequestIDHeader))
}
