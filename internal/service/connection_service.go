package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/panjf2000/ants/v2"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/spec-kit/whatsapp-helpdesk/internal/config"
	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
	"github.com/spec-kit/whatsapp-helpdesk/internal/events"
	"github.com/spec-kit/whatsapp-helpdesk/internal/gateway"
	"github.com/spec-kit/whatsapp-helpdesk/internal/media"
	"github.com/spec-kit/whatsapp-helpdesk/internal/repository"
	apperrors "github.com/spec-kit/whatsapp-helpdesk/pkg/util/errorutil"
)

// webhookEvents are the gateway events registered on new instances.
var webhookEvents = []string{"MESSAGES_UPSERT", "CONNECTION_UPDATE", "QRCODE_UPDATED"}

// ConnectionService manages gateway instances bound to organizations.
type ConnectionService struct {
	connections repository.ConnectionRepository
	gateway     gateway.Gateway
	dispatcher  events.Dispatcher
	logger      *zap.Logger

	webhook     *gateway.WebhookSettings
	poolSize    int
	statusTTL   time.Duration
	pollTimeout time.Duration
	statusCache *cache.Cache
	statusCalls singleflight.Group
	now         func() time.Time
}

// ConnectionDependencies bundles collaborators of the registry.
type ConnectionDependencies struct {
	ConnectionRepo repository.ConnectionRepository
	Gateway        gateway.Gateway
	Dispatcher     events.Dispatcher
	Logger         *zap.Logger
	GatewayConfig  config.GatewayConfig
	WebhookConfig  config.WebhookConfig
	RestartConfig  config.RestartConfig
}

// UpdateConnectionInput is a partial update of agent editable fields.
type UpdateConnectionInput struct {
	DisplayName      *string
	AutoCloseTickets *bool
}

// CreateConnectionResult is the provisioned connection and its first pairing code.
type CreateConnectionResult struct {
	Connection *domain.Connection
	QRCode     *string
}

// QRCodeResult is fresh pairing material.
type QRCodeResult struct {
	QRCode      string
	PairingCode string
}

// StatusResult is the live state reported by the gateway.
type StatusResult struct {
	State       string
	Status      domain.ConnectionStatus
	PhoneNumber *string
}

// RestartResult is the outcome of one instance restart.
type RestartResult struct {
	ID           string
	InstanceName string
	Success      bool
	Error        string
}

// NewConnectionService constructs the registry.
func NewConnectionService(deps ConnectionDependencies) *ConnectionService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := deps.GatewayConfig.StatusCacheTTL()
	poolSize := deps.RestartConfig.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	return &ConnectionService{
		connections: deps.ConnectionRepo,
		gateway:     deps.Gateway,
		dispatcher:  deps.Dispatcher,
		logger:      logger,
		webhook:     webhookSettings(deps.GatewayConfig, deps.WebhookConfig),
		poolSize:    poolSize,
		statusTTL:   ttl,
		pollTimeout: deps.GatewayConfig.Timeout(),
		statusCache: cache.New(ttl, time.Minute),
		now:         time.Now,
	}
}

// webhookSettings builds the registration sent on instance creation. The
// gateway cannot sign requests, so the shared secret travels as a token.
func webhookSettings(gw config.GatewayConfig, hook config.WebhookConfig) *gateway.WebhookSettings {
	endpoint := strings.TrimSpace(gw.WebhookPublicEndpoint)
	if endpoint == "" {
		return nil
	}
	if hook.Secret != "" {
		if parsed, err := url.Parse(endpoint); err == nil {
			query := parsed.Query()
			query.Set("token", hook.Secret)
			parsed.RawQuery = query.Encode()
			endpoint = parsed.String()
		}
	}
	return &gateway.WebhookSettings{URL: endpoint, ByEvents: false, Base64: false, Events: webhookEvents}
}

// InstanceName derives a gateway instance name unique across tenants.
func InstanceName(orgID string, at time.Time) string {
	return fmt.Sprintf("%s-%d", strings.ReplaceAll(orgID, "-", ""), at.UnixMilli())
}

// List returns the organization's connections, newest first.
func (s *ConnectionService) List(ctx context.Context, orgID string) ([]domain.Connection, error) {
	conns, err := s.connections.ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if conns == nil {
		conns = []domain.Connection{}
	}
	return conns, nil
}

// Get returns one connection of the organization.
func (s *ConnectionService) Get(ctx context.Context, orgID, id string) (*domain.Connection, error) {
	conn, err := s.connections.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, notFound(err, "connection", id)
	}
	return conn, nil
}

// Create provisions a gateway instance and records it. If persisting fails
// the instance is deleted again.
func (s *ConnectionService) Create(ctx context.Context, orgID, displayName string) (*CreateConnectionResult, error) {
	instanceName := InstanceName(orgID, s.now())
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = instanceName
	}

	resp, err := s.gateway.CreateInstance(ctx, gateway.CreateInstanceRequest{
		InstanceName: instanceName,
		Webhook:      s.webhook,
	})
	if err != nil {
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) && !gwErr.Transient() {
			return nil, apperrors.NewProvisionError("gateway refused to create the instance: "+gwErr.Message, err)
		}
		return nil, gatewayFailure("create-instance", err)
	}

	conn := &domain.Connection{
		OrganizationID: orgID,
		InstanceName:   instanceName,
		DisplayName:    displayName,
		Status:         domain.ConnectionStatusConnecting,
	}
	var qr *string
	if resp.QRCode != nil {
		if code, err := media.NormalizeQRCode(resp.QRCode.Base64, resp.QRCode.Code); err == nil {
			qr = &code
			conn.QRCode = qr
			conn.Status = domain.ConnectionStatusQRCode
		}
	}

	if err := s.connections.Create(ctx, conn); err != nil {
		s.logger.Error("connection persist failed, removing gateway instance",
			zap.String("instance", instanceName), zap.Error(err))
		if delErr := s.gateway.DeleteInstance(ctx, instanceName); delErr != nil && !gateway.IsNotFound(delErr) {
			s.logger.Error("compensating instance delete failed",
				zap.String("instance", instanceName), zap.Error(delErr))
		}
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewConflict("instance name already registered", map[string]any{"instance_name": instanceName})
		}
		return nil, err
	}

	s.logger.Info("connection created",
		zap.String("organization_id", orgID),
		zap.String("connection_id", conn.ID),
		zap.String("instance", instanceName))
	s.publishUpdated(ctx, conn)
	return &CreateConnectionResult{Connection: conn, QRCode: qr}, nil
}

// Update changes agent editable fields.
func (s *ConnectionService) Update(ctx context.Context, orgID, id string, input UpdateConnectionInput) (*domain.Connection, error) {
	conn, err := s.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if input.DisplayName != nil {
		name := strings.TrimSpace(*input.DisplayName)
		if name == "" {
			return nil, apperrors.NewValidationError("display name cannot be empty", map[string]any{"field": "displayName"})
		}
		conn.DisplayName = name
	}
	if input.AutoCloseTickets != nil {
		conn.AutoCloseTickets = *input.AutoCloseTickets
	}
	if err := s.connections.Update(ctx, conn); err != nil {
		return nil, notFound(err, "connection", id)
	}
	return conn, nil
}

// GetQRCode asks the gateway for fresh pairing material and stores it.
func (s *ConnectionService) GetQRCode(ctx context.Context, orgID, id string) (*QRCodeResult, error) {
	conn, err := s.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	resp, err := s.gateway.Connect(ctx, conn.InstanceName)
	if err != nil {
		return nil, gatewayFailure("connect", err)
	}
	pairing := resp.Pairing()
	qr, err := media.NormalizeQRCode(pairing.Base64, pairing.Code)
	if errors.Is(err, media.ErrNoPairingCode) {
		return nil, apperrors.NewConflict("no pairing code available, the instance may already be connected",
			map[string]any{"connection_id": conn.ID})
	}
	if err != nil {
		return nil, apperrors.NewGatewayRejected("gateway returned an unreadable qr code", err)
	}
	updated, err := s.connections.ApplyState(ctx, conn.InstanceName, repository.ConnectionStateUpdate{
		Status: domain.ConnectionStatusQRCode,
		QRCode: &qr,
	})
	if err != nil {
		return nil, notFound(err, "connection", id)
	}
	s.publishUpdated(ctx, updated)
	return &QRCodeResult{QRCode: qr, PairingCode: pairing.PairingCode}, nil
}

// CheckStatus polls the gateway state and persists connected or
// disconnected transitions. Concurrent polls for one instance share a call.
// The shared call is detached from any single caller, so one caller giving
// up does not fail the others.
func (s *ConnectionService) CheckStatus(ctx context.Context, orgID, id string) (*StatusResult, error) {
	conn, err := s.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	ch := s.statusCalls.DoChan(conn.InstanceName, func() (interface{}, error) {
		if s.statusTTL > 0 {
			if cached, ok := s.statusCache.Get(conn.InstanceName); ok {
				return cached, nil
			}
		}
		pollCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.pollTimeout)
		defer cancel()
		result, err := s.pollStatus(pollCtx, conn)
		if err != nil {
			return nil, err
		}
		if s.statusTTL > 0 {
			s.statusCache.Set(conn.InstanceName, result, s.statusTTL)
		}
		return result, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		result := *res.Val.(*StatusResult)
		return &result, nil
	}
}

func (s *ConnectionService) pollStatus(ctx context.Context, conn *domain.Connection) (*StatusResult, error) {
	state, err := s.gateway.ConnectionState(ctx, conn.InstanceName)
	if err != nil {
		return nil, gatewayFailure("connection-state", err)
	}
	result := &StatusResult{
		State:       state.Instance.State,
		Status:      domain.ConnectionStatusFromGateway(state.Instance.State),
		PhoneNumber: conn.PhoneNumber,
	}

	var update *repository.ConnectionStateUpdate
	switch result.Status {
	case domain.ConnectionStatusConnected:
		if conn.Status == domain.ConnectionStatusConnected && conn.PhoneNumber != nil {
			return result, nil
		}
		now := s.now()
		update = &repository.ConnectionStateUpdate{
			Status:          domain.ConnectionStatusConnected,
			ClearQRCode:     true,
			LastConnectedAt: &now,
		}
		if phone := s.pairedPhone(ctx, conn.InstanceName); phone != "" {
			update.PhoneNumber = &phone
		}
	case domain.ConnectionStatusDisconnected:
		if conn.Status == domain.ConnectionStatusDisconnected {
			return result, nil
		}
		update = &repository.ConnectionStateUpdate{Status: domain.ConnectionStatusDisconnected, ClearQRCode: true}
	default:
		return result, nil
	}

	updated, err := s.connections.ApplyState(ctx, conn.InstanceName, *update)
	if err != nil {
		return nil, notFound(err, "connection", conn.ID)
	}
	result.PhoneNumber = updated.PhoneNumber
	s.publishUpdated(ctx, updated)
	return result, nil
}

func (s *ConnectionService) pairedPhone(ctx context.Context, instance string) string {
	info, err := s.gateway.FetchInstance(ctx, instance)
	if err != nil {
		s.logger.Warn("fetch paired phone failed", zap.String("instance", instance), zap.Error(err))
		return ""
	}
	owner := info.Owner()
	if !strings.Contains(owner, "@") {
		owner += "@s.whatsapp.net"
	}
	phone, err := gateway.PhoneFromJID(owner)
	if err != nil {
		return ""
	}
	return phone
}

// SetDefault marks one connection as the organization default and clears the
// flag on every other connection atomically.
func (s *ConnectionService) SetDefault(ctx context.Context, orgID, id string) (*domain.Connection, error) {
	if err := s.connections.SetDefault(ctx, orgID, id); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewConflict("default connection changed concurrently", map[string]any{"connection_id": id})
		}
		return nil, notFound(err, "connection", id)
	}
	return s.Get(ctx, orgID, id)
}

// Disconnect logs the instance out. The local row is only touched after the
// gateway confirmed.
func (s *ConnectionService) Disconnect(ctx context.Context, orgID, id string) (*domain.Connection, error) {
	conn, err := s.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if err := s.gateway.Logout(ctx, conn.InstanceName); err != nil && !gateway.IsNotFound(err) {
		return nil, gatewayFailure("logout", err)
	}
	updated, err := s.connections.ApplyState(ctx, conn.InstanceName, repository.ConnectionStateUpdate{
		Status:      domain.ConnectionStatusDisconnected,
		ClearQRCode: true,
	})
	if err != nil {
		return nil, notFound(err, "connection", id)
	}
	s.statusCache.Delete(conn.InstanceName)
	s.publishUpdated(ctx, updated)
	return updated, nil
}

// Delete removes the gateway instance, then the row. An instance the gateway
// no longer knows counts as deleted.
func (s *ConnectionService) Delete(ctx context.Context, orgID, id string) error {
	conn, err := s.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	if err := s.gateway.DeleteInstance(ctx, conn.InstanceName); err != nil {
		if !gateway.IsNotFound(err) {
			return gatewayFailure("delete-instance", err)
		}
		s.logger.Info("gateway instance already gone", zap.String("instance", conn.InstanceName))
	}
	if err := s.connections.Delete(ctx, orgID, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	s.statusCache.Delete(conn.InstanceName)
	s.logger.Info("connection deleted", zap.String("connection_id", id), zap.String("instance", conn.InstanceName))
	return nil
}

// RestartAll restarts every instance of the organization on a bounded pool.
// One failure does not stop the others.
func (s *ConnectionService) RestartAll(ctx context.Context, orgID string) ([]RestartResult, error) {
	conns, err := s.connections.ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	results := make([]RestartResult, len(conns))
	if len(conns) == 0 {
		return results, nil
	}

	pool, err := ants.NewPool(s.poolSize)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := range conns {
		conn := conns[i]
		results[i] = RestartResult{ID: conn.ID, InstanceName: conn.InstanceName}
		wg.Add(1)
		restart := func() {
			defer wg.Done()
			if err := s.gateway.Restart(ctx, conn.InstanceName); err != nil {
				results[i].Error = err.Error()
				s.logger.Warn("instance restart failed", zap.String("instance", conn.InstanceName), zap.Error(err))
				return
			}
			results[i].Success = true
		}
		if err := pool.Submit(restart); err != nil {
			wg.Done()
			results[i].Error = err.Error()
		}
	}
	wg.Wait()
	return results, nil
}

func (s *ConnectionService) publishUpdated(ctx context.Context, conn *domain.Connection) {
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:           events.EventConnectionUpdated,
		OrganizationID: conn.OrganizationID,
		Actor:          events.SystemActor(),
		Payload: events.ConnectionUpdatedPayload{
			ConnectionID: conn.ID,
			InstanceName: conn.InstanceName,
			Status:       conn.Status,
		},
	})
}
