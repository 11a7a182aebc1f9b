package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
	"github.com/spec-kit/whatsapp-helpdesk/internal/events"
	apperrors "github.com/spec-kit/whatsapp-helpdesk/pkg/util/errorutil"
)

type dispatchFixture struct {
	store      *memStore
	gateway    *fakeGateway
	dispatcher *recordingDispatcher
	service    *DispatchService
	agent      domain.Principal
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	store := newMemStore()
	conns, contacts, tickets, messages, _ := store.repos()
	f := &dispatchFixture{
		store:      store,
		gateway:    newFakeGateway(),
		dispatcher: &recordingDispatcher{},
		agent:      domain.Principal{MemberID: "agent-1", OrganizationID: orgA, Role: domain.MemberRoleAgent},
	}
	f.service = NewDispatchService(DispatchDependencies{
		TicketRepo:     tickets,
		ContactRepo:    contacts,
		MessageRepo:    messages,
		ConnectionRepo: conns,
		Gateway:        f.gateway,
		Dispatcher:     f.dispatcher,
	})
	return f
}

func (f *dispatchFixture) ticket(t *testing.T, connectionID *string) *domain.Ticket {
	t.Helper()
	_, contacts, tickets, _, _ := f.store.repos()
	phone := "+5511999990000"
	contact := &domain.Contact{OrganizationID: orgA, Name: "Maria", Phone: &phone}
	require.NoError(t, contacts.Create(context.Background(), contact))
	ticket := &domain.Ticket{OrganizationID: orgA, ContactID: contact.ID, ConnectionID: connectionID, Title: "t", Status: domain.TicketStatusInProgress}
	require.NoError(t, tickets.Create(context.Background(), ticket))
	return ticket
}

func TestSendTextPersistsThenDelivers(t *testing.T) {
	f := newDispatchFixture(t)
	conn := f.store.addConnection(orgA, "inst-1")
	ticket := f.ticket(t, &conn.ID)

	result, err := f.service.Send(context.Background(), f.agent, SendMessageInput{TicketID: ticket.ID, Content: " Olá! "})
	require.NoError(t, err)
	assert.True(t, result.Delivered)
	assert.Equal(t, "OUT-1", result.GatewayMessageID)

	require.Len(t, f.gateway.sent, 1)
	sent := f.gateway.sent[0]
	assert.Equal(t, SendEndpointText, sent.Endpoint)
	assert.Equal(t, "inst-1", sent.Instance)
	assert.Equal(t, "5511999990000", sent.Number)
	assert.Equal(t, "Olá!", sent.Text)

	msgs := f.store.snapshotMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.SenderTypeUser, msgs[0].SenderType)
	assert.Equal(t, "agent-1", *msgs[0].SenderID)
	assert.True(t, msgs[0].Read)
	assert.Equal(t, "OUT-1", *msgs[0].ExternalID)
	assert.Equal(t, 1, f.dispatcher.count(events.EventMessageCreated))

	tickets := f.store.snapshotTickets(orgA)
	assert.Equal(t, 0, tickets[0].UnreadCount)
}

func TestSendKeepsMessageWhenGatewayFails(t *testing.T) {
	f := newDispatchFixture(t)
	conn := f.store.addConnection(orgA, "inst-1")
	ticket := f.ticket(t, &conn.ID)
	f.gateway.sendErr = errors.New("gateway timeout")

	result, err := f.service.Send(context.Background(), f.agent, SendMessageInput{TicketID: ticket.ID, Content: "Olá"})
	require.NoError(t, err)
	assert.False(t, result.Delivered)
	assert.Equal(t, "gateway timeout", result.DeliveryError)

	msgs := f.store.snapshotMessages()
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].ExternalID)
}

func TestSendFallsBackToDefaultConnection(t *testing.T) {
	f := newDispatchFixture(t)
	f.store.addConnection(orgA, "inst-1")
	def := f.store.addConnection(orgA, "inst-default")
	conns, _, _, _, _ := f.store.repos()
	require.NoError(t, conns.SetDefault(context.Background(), orgA, def.ID))
	ticket := f.ticket(t, nil)

	result, err := f.service.Send(context.Background(), f.agent, SendMessageInput{TicketID: ticket.ID, Content: "Olá"})
	require.NoError(t, err)
	assert.True(t, result.Delivered)
	assert.Equal(t, "inst-default", f.gateway.sent[0].Instance)
}

func TestSendWithoutAnyConnection(t *testing.T) {
	f := newDispatchFixture(t)
	ticket := f.ticket(t, nil)

	result, err := f.service.Send(context.Background(), f.agent, SendMessageInput{TicketID: ticket.ID, Content: "Olá"})
	require.NoError(t, err)
	assert.False(t, result.Delivered)
	assert.Equal(t, "no connection", result.DeliveryError)
	assert.Len(t, f.store.snapshotMessages(), 1)
}

func TestSendMediaSelectsEndpoint(t *testing.T) {
	f := newDispatchFixture(t)
	conn := f.store.addConnection(orgA, "inst-1")
	ticket := f.ticket(t, &conn.ID)
	url := "https://files.example.com/nota.pdf"
	mediaType := "application/pdf"

	result, err := f.service.Send(context.Background(), f.agent, SendMessageInput{TicketID: ticket.ID, MediaURL: &url, MediaType: &mediaType})
	require.NoError(t, err)
	assert.True(t, result.Delivered)
	assert.Equal(t, domain.MediaPlaceholder, result.Message.Content)
	require.Len(t, f.gateway.sent, 1)
	assert.Equal(t, SendEndpointDocument, f.gateway.sent[0].Endpoint)
	assert.Equal(t, url, f.gateway.sent[0].Media)
}

func TestSendValidatesInput(t *testing.T) {
	f := newDispatchFixture(t)
	ticket := f.ticket(t, nil)

	_, err := f.service.Send(context.Background(), f.agent, SendMessageInput{TicketID: ticket.ID, Content: "   "})
	assert.Equal(t, apperrors.CodeValidation, domainCode(t, err))

	other := domain.Principal{MemberID: "agent-2", OrganizationID: orgB}
	_, err = f.service.Send(context.Background(), other, SendMessageInput{TicketID: ticket.ID, Content: "oi"})
	assert.Equal(t, apperrors.CodeNotFound, domainCode(t, err))
	assert.Empty(t, f.store.snapshotMessages())
}

func TestSendEndpoint(t *testing.T) {
	url := "https://x/y"
	cases := []struct {
		mediaURL  *string
		mediaType string
		want      string
	}{
		{nil, "", SendEndpointText},
		{&url, "image/png", SendEndpointImage},
		{&url, "IMAGE/JPEG", SendEndpointImage},
		{&url, "audio/ogg", SendEndpointAudio},
		{&url, "video/mp4", SendEndpointDocument},
		{&url, "application/pdf", SendEndpointDocument},
		{&url, "", SendEndpointDocument},
	}
	for _, tc := range cases {
		mt := tc.mediaType
		assert.Equal(t, tc.want, SendEndpoint(tc.mediaURL, &mt), "media type %q", tc.mediaType)
	}
}
