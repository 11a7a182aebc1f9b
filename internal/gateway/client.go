package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/whatsapp-helpdesk/internal/config"
)

// ErrNotConfigured is returned when no gateway base URL is set.
var ErrNotConfigured = errors.New("gateway base url not configured")

// Error is a non-2xx answer from the gateway.
type Error struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s: status %d: %s", e.Operation, e.StatusCode, e.Message)
}

// Transient reports whether the gateway failed on its side and the call may be retried.
func (e *Error) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// NotFound reports whether the gateway does not know the instance.
func (e *Error) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsNotFound reports whether err is a gateway 404.
func IsNotFound(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.NotFound()
}

// Gateway is the subset of the Evolution API used by the helpdesk.
type Gateway interface {
	CreateInstance(ctx context.Context, req CreateInstanceRequest) (*CreateInstanceResponse, error)
	Connect(ctx context.Context, instance string) (*ConnectResponse, error)
	ConnectionState(ctx context.Context, instance string) (*StateResponse, error)
	FetchInstance(ctx context.Context, instance string) (*InstanceInfo, error)
	Logout(ctx context.Context, instance string) error
	DeleteInstance(ctx context.Context, instance string) error
	Restart(ctx context.Context, instance string) error
	SendText(ctx context.Context, instance string, req SendTextRequest) (*SendResponse, error)
	SendMedia(ctx context.Context, instance string, req SendMediaRequest) (*SendResponse, error)
	SendAudio(ctx context.Context, instance string, req SendAudioRequest) (*SendResponse, error)
	MediaBase64(ctx context.Context, instance string, req MediaBase64Request) (*MediaBase64Response, error)
}

// Client talks to the Evolution API over REST. It holds no per-instance state.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient builds a client from configuration.
func NewClient(cfg config.GatewayConfig, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("apikey", cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout())
	if cfg.RetryCount > 0 {
		httpClient.
			SetRetryCount(cfg.RetryCount).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(5 * time.Second).
			AddRetryCondition(retryable)
	}
	logger.Info("gateway client configured", zap.String("base_url", cfg.BaseURL))
	return &Client{http: httpClient, logger: logger}
}

// retryable limits retries to idempotent methods. A POST that timed out may
// already have created an instance or delivered a message, so it is never
// resent.
func retryable(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil {
		return false
	}
	switch r.Request.Method {
	case http.MethodGet, http.MethodPut, http.MethodDelete:
	default:
		return false
	}
	return err != nil || r.StatusCode() >= 500
}

func (c *Client) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*CreateInstanceResponse, error) {
	if req.Integration == "" {
		req.Integration = IntegrationBaileys
	}
	req.QRCode = true
	var out CreateInstanceResponse
	if err := c.do(ctx, "create-instance", http.MethodPost, "/instance/create", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Connect(ctx context.Context, instance string) (*ConnectResponse, error) {
	var out ConnectResponse
	if err := c.do(ctx, "connect", http.MethodGet, "/instance/connect/"+instance, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ConnectionState(ctx context.Context, instance string) (*StateResponse, error) {
	var out StateResponse
	if err := c.do(ctx, "connection-state", http.MethodGet, "/instance/connectionState/"+instance, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchInstance returns the gateway record of one instance, including the paired owner jid.
func (c *Client) FetchInstance(ctx context.Context, instance string) (*InstanceInfo, error) {
	if c.http.BaseURL == "" {
		return nil, ErrNotConfigured
	}
	var out []InstanceInfo
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("instanceName", instance).
		SetResult(&out).
		Get("/instance/fetchInstances")
	if err := c.check("fetch-instances", resp, err); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &Error{Operation: "fetch-instances", StatusCode: http.StatusNotFound, Message: "instance not found"}
	}
	return &out[0], nil
}

func (c *Client) Logout(ctx context.Context, instance string) error {
	return c.do(ctx, "logout", http.MethodDelete, "/instance/logout/"+instance, nil, nil)
}

func (c *Client) DeleteInstance(ctx context.Context, instance string) error {
	return c.do(ctx, "delete-instance", http.MethodDelete, "/instance/delete/"+instance, nil, nil)
}

func (c *Client) Restart(ctx context.Context, instance string) error {
	return c.do(ctx, "restart", http.MethodPut, "/instance/restart/"+instance, nil, nil)
}

func (c *Client) SendText(ctx context.Context, instance string, req SendTextRequest) (*SendResponse, error) {
	var out SendResponse
	if err := c.do(ctx, "send-text", http.MethodPost, "/message/sendText/"+instance, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SendMedia(ctx context.Context, instance string, req SendMediaRequest) (*SendResponse, error) {
	var out SendResponse
	if err := c.do(ctx, "send-media", http.MethodPost, "/message/sendMedia/"+instance, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SendAudio(ctx context.Context, instance string, req SendAudioRequest) (*SendResponse, error) {
	var out SendResponse
	if err := c.do(ctx, "send-audio", http.MethodPost, "/message/sendWhatsAppAudio/"+instance, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MediaBase64 downloads the media of a received message through the gateway.
func (c *Client) MediaBase64(ctx context.Context, instance string, req MediaBase64Request) (*MediaBase64Response, error) {
	var out MediaBase64Response
	if err := c.do(ctx, "media-base64", http.MethodPost, "/chat/getBase64FromMediaMessage/"+instance, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, result any) error {
	if c.http.BaseURL == "" {
		return ErrNotConfigured
	}
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	return c.check(op, resp, err)
}

func (c *Client) check(op string, resp *resty.Response, err error) error {
	if err != nil {
		c.logger.Error("gateway request failed", zap.String("operation", op), zap.Error(err))
		return fmt.Errorf("gateway %s: %w", op, err)
	}
	if resp.IsError() {
		gwErr := &Error{Operation: op, StatusCode: resp.StatusCode(), Message: errorMessage(resp.Body())}
		c.logger.Warn("gateway returned an error",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode()),
			zap.String("message", gwErr.Message))
		return gwErr
	}
	return nil
}

func errorMessage(body []byte) string {
	msg := parseErrorBody(body)
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return msg
}
