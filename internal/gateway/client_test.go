package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/whatsapp-helpdesk/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.GatewayConfig{BaseURL: srv.URL, APIKey: "secret", TimeoutSeconds: 2}, zap.NewNop())
}

func TestCreateInstance(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/instance/create", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("apikey"))

		var body CreateInstanceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "org1-1700", body.InstanceName)
		assert.True(t, body.QRCode)
		assert.Equal(t, IntegrationBaileys, body.Integration)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"instance":{"instanceName":"org1-1700","status":"created"},"qrcode":{"base64":"data:image/png;base64,AAAA"}}`))
	})

	resp, err := client.CreateInstance(context.Background(), CreateInstanceRequest{InstanceName: "org1-1700"})
	require.NoError(t, err)
	assert.Equal(t, "org1-1700", resp.Instance.InstanceName)
	require.NotNil(t, resp.QRCode)
	assert.Equal(t, "data:image/png;base64,AAAA", resp.QRCode.Base64)
}

func TestGatewayErrorIsParsed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"status":403,"error":"Forbidden","response":{"message":["This name \"x\" is already in use."]}}`))
	})

	_, err := client.CreateInstance(context.Background(), CreateInstanceRequest{InstanceName: "x"})
	require.Error(t, err)
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusForbidden, gwErr.StatusCode)
	assert.Contains(t, gwErr.Message, "already in use")
	assert.False(t, gwErr.Transient())
}

func TestLogoutNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/instance/logout/inst-1", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"instance not found"}`))
	})

	err := client.Logout(context.Background(), "inst-1")
	assert.True(t, IsNotFound(err))
}

func TestServerErrorIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := client.Restart(context.Background(), "inst-1")
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.True(t, gwErr.Transient())
}

func TestFetchInstanceOwner(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/instance/fetchInstances", r.URL.Path)
		assert.Equal(t, "inst-1", r.URL.Query().Get("instanceName"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"instance":{"instanceName":"inst-1","owner":"5511988887777@s.whatsapp.net"}}]`))
	})

	info, err := client.FetchInstance(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "5511988887777@s.whatsapp.net", info.Owner())
}

func TestSendTextReturnsMessageID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/message/sendText/inst-1", r.URL.Path)
		var body SendTextRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "5511999990000", body.Number)
		assert.Equal(t, "hello", body.Text)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"key":{"id":"BAE5","remoteJid":"5511999990000@s.whatsapp.net","fromMe":true},"status":"PENDING"}`))
	})

	resp, err := client.SendText(context.Background(), "inst-1", SendTextRequest{Number: "5511999990000", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "BAE5", resp.Key.ID)
}

func TestUnconfiguredClient(t *testing.T) {
	client := NewClient(config.GatewayConfig{}, zap.NewNop())
	_, err := client.ConnectionState(context.Background(), "inst-1")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRetriesOnlyIdempotentCalls(t *testing.T) {
	var posts, gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
		} else {
			gets.Add(1)
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	client := NewClient(config.GatewayConfig{BaseURL: srv.URL, TimeoutSeconds: 2, RetryCount: 3}, zap.NewNop())
	ctx := context.Background()

	_, err := client.SendText(ctx, "inst-1", SendTextRequest{Number: "5511999990000", Text: "oi"})
	require.Error(t, err)
	_, err = client.CreateInstance(ctx, CreateInstanceRequest{InstanceName: "inst-2"})
	require.Error(t, err)
	assert.Equal(t, int32(2), posts.Load())

	_, err = client.ConnectionState(ctx, "inst-1")
	require.Error(t, err)
	assert.Equal(t, int32(4), gets.Load())
}
