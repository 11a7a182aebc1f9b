package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
	"github.com/spec-kit/whatsapp-helpdesk/internal/events"
	"github.com/spec-kit/whatsapp-helpdesk/internal/gateway"
	"github.com/spec-kit/whatsapp-helpdesk/internal/media"
	"github.com/spec-kit/whatsapp-helpdesk/internal/repository"
)

// memStore mirrors the relational constraints of the schema: unique instance
// names, unique (organization, phone), one active ticket per contact, unique
// external message ids per connection and one default connection per organization.
type memStore struct {
	mu          sync.Mutex
	connections []*domain.Connection
	contacts    []*domain.Contact
	tickets     []*domain.Ticket
	messages    []*domain.Message
	history     []*domain.TicketHistory
	seq         int64
	clock       time.Time
}

func newMemStore() *memStore {
	return &memStore{clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

// tick returns a strictly increasing timestamp.
func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Millisecond)
	return m.clock
}

func (m *memStore) repos() (repository.ConnectionRepository, repository.ContactRepository, repository.TicketRepository, repository.MessageRepository, repository.TicketHistoryRepository) {
	return &fakeConnections{s: m}, &fakeContacts{s: m}, &fakeTickets{s: m}, &fakeMessages{s: m}, &fakeHistory{s: m}
}

// --- connections ---

type fakeConnections struct {
	s         *memStore
	createErr error
}

func (r *fakeConnections) Create(_ context.Context, conn *domain.Connection) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.connections {
		if c.InstanceName == conn.InstanceName {
			return repository.ErrConflict
		}
	}
	conn.ID = uuid.NewString()
	conn.CreatedAt = r.s.tick()
	conn.UpdatedAt = conn.CreatedAt
	stored := *conn
	r.s.connections = append(r.s.connections, &stored)
	return nil
}

func (r *fakeConnections) Update(_ context.Context, conn *domain.Connection) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := r.s.connection(conn.OrganizationID, conn.ID)
	if c == nil {
		return pgx.ErrNoRows
	}
	c.DisplayName = conn.DisplayName
	c.AutoCloseTickets = conn.AutoCloseTickets
	c.UpdatedAt = r.s.tick()
	conn.UpdatedAt = c.UpdatedAt
	return nil
}

func (m *memStore) connection(orgID, id string) *domain.Connection {
	for _, c := range m.connections {
		if c.ID == id && c.OrganizationID == orgID {
			return c
		}
	}
	return nil
}

func (r *fakeConnections) GetByID(_ context.Context, orgID, id string) (*domain.Connection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := r.s.connection(orgID, id)
	if c == nil {
		return nil, pgx.ErrNoRows
	}
	out := *c
	return &out, nil
}

func (r *fakeConnections) GetByInstanceName(_ context.Context, instanceName string) (*domain.Connection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.connections {
		if c.InstanceName == instanceName {
			out := *c
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeConnections) GetDefault(_ context.Context, orgID string) (*domain.Connection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.connections {
		if c.OrganizationID == orgID && c.IsDefault {
			out := *c
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeConnections) ListByOrganization(_ context.Context, orgID string) ([]domain.Connection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Connection
	for i := len(r.s.connections) - 1; i >= 0; i-- {
		if r.s.connections[i].OrganizationID == orgID {
			out = append(out, *r.s.connections[i])
		}
	}
	return out, nil
}

func (r *fakeConnections) ApplyState(_ context.Context, instanceName string, update repository.ConnectionStateUpdate) (*domain.Connection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.connections {
		if c.InstanceName != instanceName {
			continue
		}
		c.Status = update.Status
		if update.PhoneNumber != nil {
			c.PhoneNumber = update.PhoneNumber
		}
		if update.ClearQRCode {
			c.QRCode = nil
		} else if update.QRCode != nil {
			c.QRCode = update.QRCode
		}
		if update.LastConnectedAt != nil {
			c.LastConnectedAt = update.LastConnectedAt
		}
		c.UpdatedAt = r.s.tick()
		out := *c
		return &out, nil
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeConnections) SetDefault(_ context.Context, orgID, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.connection(orgID, id) == nil {
		return pgx.ErrNoRows
	}
	for _, c := range r.s.connections {
		if c.OrganizationID == orgID {
			c.IsDefault = c.ID == id
		}
	}
	return nil
}

func (r *fakeConnections) Delete(_ context.Context, orgID, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, c := range r.s.connections {
		if c.ID == id && c.OrganizationID == orgID {
			r.s.connections = append(r.s.connections[:i], r.s.connections[i+1:]...)
			return nil
		}
	}
	return pgx.ErrNoRows
}

// --- contacts ---

type fakeContacts struct {
	s       *memStore
	failErr error
}

func (r *fakeContacts) Create(_ context.Context, contact *domain.Contact) error {
	if r.failErr != nil {
		return r.failErr
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.phoneTaken(contact.OrganizationID, contact.Phone, "") {
		return repository.ErrConflict
	}
	contact.ID = uuid.NewString()
	contact.CreatedAt = r.s.tick()
	contact.UpdatedAt = contact.CreatedAt
	stored := *contact
	r.s.contacts = append(r.s.contacts, &stored)
	return nil
}

func (m *memStore) phoneTaken(orgID string, phone *string, exceptID string) bool {
	if phone == nil {
		return false
	}
	for _, c := range m.contacts {
		if c.OrganizationID == orgID && c.ID != exceptID && c.Phone != nil && *c.Phone == *phone {
			return true
		}
	}
	return false
}

func (r *fakeContacts) Update(_ context.Context, contact *domain.Contact) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.phoneTaken(contact.OrganizationID, contact.Phone, contact.ID) {
		return repository.ErrConflict
	}
	for i, c := range r.s.contacts {
		if c.ID == contact.ID && c.OrganizationID == contact.OrganizationID {
			contact.UpdatedAt = r.s.tick()
			stored := *contact
			r.s.contacts[i] = &stored
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *fakeContacts) GetByID(_ context.Context, orgID, id string) (*domain.Contact, error) {
	if r.failErr != nil {
		return nil, r.failErr
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.contacts {
		if c.ID == id && c.OrganizationID == orgID {
			out := *c
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeContacts) GetByPhone(_ context.Context, orgID, phone string) (*domain.Contact, error) {
	if r.failErr != nil {
		return nil, r.failErr
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.contacts {
		if c.OrganizationID == orgID && c.Phone != nil && *c.Phone == phone {
			out := *c
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

// --- tickets ---

type fakeTickets struct {
	s *memStore
}

func (r *fakeTickets) Create(_ context.Context, ticket *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if ticket.Status.IsActive() {
		for _, t := range r.s.tickets {
			if t.OrganizationID == ticket.OrganizationID && t.ContactID == ticket.ContactID && t.Status.IsActive() {
				return fmt.Errorf("%w: tickets_one_active_per_contact", repository.ErrConflict)
			}
		}
	}
	ticket.ID = uuid.NewString()
	ticket.CreatedAt = r.s.tick()
	ticket.UpdatedAt = ticket.CreatedAt
	stored := *ticket
	r.s.tickets = append(r.s.tickets, &stored)
	return nil
}

func (m *memStore) ticket(orgID, id string) *domain.Ticket {
	for _, t := range m.tickets {
		if t.ID == id && t.OrganizationID == orgID {
			return t
		}
	}
	return nil
}

func (r *fakeTickets) GetByID(_ context.Context, orgID, id string) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t := r.s.ticket(orgID, id)
	if t == nil {
		return nil, pgx.ErrNoRows
	}
	out := *t
	return &out, nil
}

func (r *fakeTickets) FindActiveByContact(_ context.Context, orgID, contactID string) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.tickets) - 1; i >= 0; i-- {
		t := r.s.tickets[i]
		if t.OrganizationID == orgID && t.ContactID == contactID && t.Status.IsActive() {
			out := *t
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeTickets) Transition(_ context.Context, tr repository.TicketTransition) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t := r.s.ticket(tr.OrganizationID, tr.TicketID)
	if t == nil || !(domain.Transition{From: tr.From}).Allows(t.Status) {
		return nil, pgx.ErrNoRows
	}
	if tr.IdleBefore != nil && !t.LastActivity().Before(*tr.IdleBefore) {
		return nil, pgx.ErrNoRows
	}
	t.Status = tr.To
	if tr.SetAssignee {
		t.AssignedTo = tr.AssignedTo
	}
	t.UpdatedAt = r.s.tick()
	if tr.To == domain.TicketStatusClosed {
		closedAt := t.UpdatedAt
		t.ClosedAt = &closedAt
	}
	out := *t
	return &out, nil
}

func (r *fakeTickets) ResetUnread(_ context.Context, orgID, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t := r.s.ticket(orgID, id)
	if t == nil {
		return pgx.ErrNoRows
	}
	t.UnreadCount = 0
	return nil
}

func (r *fakeTickets) ListIdleAutoClose(_ context.Context, idleBefore time.Time, limit int) ([]domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Ticket
	for _, t := range r.s.tickets {
		if !t.Status.IsActive() || t.ConnectionID == nil || !t.LastActivity().Before(idleBefore) {
			continue
		}
		conn := r.s.connection(t.OrganizationID, *t.ConnectionID)
		if conn == nil || !conn.AutoCloseTickets {
			continue
		}
		out = append(out, *t)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- messages ---

type fakeMessages struct {
	s *memStore
}

// Create also applies what the messages insert trigger does to the ticket.
func (r *fakeMessages) Create(_ context.Context, msg *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if msg.ExternalID != nil {
		for _, m := range r.s.messages {
			if m.ExternalID != nil && *m.ExternalID == *msg.ExternalID && sameConnection(m.ConnectionID, msg.ConnectionID) {
				return repository.ErrConflict
			}
		}
	}
	r.s.seq++
	msg.ID = uuid.NewString()
	msg.Seq = r.s.seq
	msg.CreatedAt = r.s.tick()
	stored := *msg
	r.s.messages = append(r.s.messages, &stored)
	for _, t := range r.s.tickets {
		if t.ID == msg.TicketID {
			at := msg.CreatedAt
			t.LastMessageAt = &at
			if msg.SenderType == domain.SenderTypeContact {
				t.UnreadCount++
			}
		}
	}
	return nil
}

// sameConnection mirrors the unique index: NULL connection ids never collide.
func sameConnection(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

func (r *fakeMessages) ExistsByExternalID(_ context.Context, connectionID, externalID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.messages {
		if m.ExternalID != nil && *m.ExternalID == externalID && m.ConnectionID != nil && *m.ConnectionID == connectionID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeMessages) SetExternalID(_ context.Context, id, connectionID, externalID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.messages {
		if m.ID == id && m.ExternalID == nil {
			m.ConnectionID = &connectionID
			m.ExternalID = &externalID
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *fakeMessages) ListByTicket(_ context.Context, ticketID string) ([]domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Message
	for _, m := range r.s.messages {
		if m.TicketID == ticketID {
			out = append(out, *m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *fakeMessages) MarkTicketRead(_ context.Context, ticketID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, m := range r.s.messages {
		if m.TicketID == ticketID && !m.Read {
			m.Read = true
			n++
		}
	}
	return n, nil
}

// --- history ---

type fakeHistory struct {
	s *memStore
}

func (r *fakeHistory) Create(_ context.Context, entry *domain.TicketHistory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entry.ID = uuid.NewString()
	entry.CreatedAt = r.s.tick()
	stored := *entry
	r.s.history = append(r.s.history, &stored)
	return nil
}

func (r *fakeHistory) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketHistory, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.TicketHistory
	for _, h := range r.s.history {
		if h.TicketID == ticketID {
			out = append(out, *h)
		}
	}
	return out, nil
}

// --- store inspection ---

func (m *memStore) snapshotContacts(orgID string) []domain.Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Contact
	for _, c := range m.contacts {
		if c.OrganizationID == orgID {
			out = append(out, *c)
		}
	}
	return out
}

func (m *memStore) snapshotTickets(orgID string) []domain.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Ticket
	for _, t := range m.tickets {
		if t.OrganizationID == orgID {
			out = append(out, *t)
		}
	}
	return out
}

func (m *memStore) snapshotMessages() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Message, 0, len(m.messages))
	for _, msg := range m.messages {
		out = append(out, *msg)
	}
	return out
}

func (m *memStore) addConnection(orgID, instance string) *domain.Connection {
	conn := &domain.Connection{
		OrganizationID: orgID,
		InstanceName:   instance,
		DisplayName:    instance,
		Status:         domain.ConnectionStatusConnected,
	}
	if err := (&fakeConnections{s: m}).Create(context.Background(), conn); err != nil {
		panic(err)
	}
	return conn
}

// --- gateway ---

type sentMessage struct {
	Endpoint string
	Instance string
	Number   string
	Text     string
	Media    string
}

type fakeGateway struct {
	mu sync.Mutex

	createErr   error
	createResp  *gateway.CreateInstanceResponse
	connectResp *gateway.ConnectResponse
	states      map[string]string
	owner       string
	stateDelay  time.Duration
	stateErr    error
	logoutErr   error
	deleteErr   error
	restartErrs map[string]error
	sendErr     error
	mediaResp   *gateway.MediaBase64Response

	stateCalls int32
	created    []gateway.CreateInstanceRequest
	deleted    []string
	loggedOut  []string
	restarted  []string
	sent       []sentMessage
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{states: map[string]string{}, restartErrs: map[string]error{}}
}

func (g *fakeGateway) CreateInstance(_ context.Context, req gateway.CreateInstanceRequest) (*gateway.CreateInstanceResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	if g.createResp != nil {
		return g.createResp, nil
	}
	return &gateway.CreateInstanceResponse{}, nil
}

func (g *fakeGateway) Connect(_ context.Context, _ string) (*gateway.ConnectResponse, error) {
	if g.connectResp == nil {
		return &gateway.ConnectResponse{}, nil
	}
	return g.connectResp, nil
}

func (g *fakeGateway) ConnectionState(ctx context.Context, instance string) (*gateway.StateResponse, error) {
	atomic.AddInt32(&g.stateCalls, 1)
	if g.stateDelay > 0 {
		time.Sleep(g.stateDelay)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.stateErr != nil {
		return nil, g.stateErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var out gateway.StateResponse
	out.Instance.InstanceName = instance
	out.Instance.State = g.states[instance]
	return &out, nil
}

func (g *fakeGateway) FetchInstance(_ context.Context, instance string) (*gateway.InstanceInfo, error) {
	return &gateway.InstanceInfo{Name: instance, OwnerJID: g.owner}, nil
}

func (g *fakeGateway) Logout(_ context.Context, instance string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.logoutErr != nil {
		return g.logoutErr
	}
	g.loggedOut = append(g.loggedOut, instance)
	return nil
}

func (g *fakeGateway) DeleteInstance(_ context.Context, instance string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, instance)
	return g.deleteErr
}

func (g *fakeGateway) Restart(_ context.Context, instance string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.restarted = append(g.restarted, instance)
	return g.restartErrs[instance]
}

func (g *fakeGateway) record(msg sentMessage) (*gateway.SendResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return nil, g.sendErr
	}
	g.sent = append(g.sent, msg)
	return &gateway.SendResponse{Key: gateway.MessageKey{ID: fmt.Sprintf("OUT-%d", len(g.sent)), FromMe: true}, Status: "PENDING"}, nil
}

func (g *fakeGateway) SendText(_ context.Context, instance string, req gateway.SendTextRequest) (*gateway.SendResponse, error) {
	return g.record(sentMessage{Endpoint: SendEndpointText, Instance: instance, Number: req.Number, Text: req.Text})
}

func (g *fakeGateway) SendMedia(_ context.Context, instance string, req gateway.SendMediaRequest) (*gateway.SendResponse, error) {
	return g.record(sentMessage{Endpoint: req.MediaType, Instance: instance, Number: req.Number, Text: req.Caption, Media: req.Media})
}

func (g *fakeGateway) SendAudio(_ context.Context, instance string, req gateway.SendAudioRequest) (*gateway.SendResponse, error) {
	return g.record(sentMessage{Endpoint: SendEndpointAudio, Instance: instance, Number: req.Number, Media: req.Audio})
}

func (g *fakeGateway) MediaBase64(_ context.Context, _ string, _ gateway.MediaBase64Request) (*gateway.MediaBase64Response, error) {
	if g.mediaResp == nil {
		return nil, &gateway.Error{Operation: "media-base64", StatusCode: 400, Message: "no media"}
	}
	return g.mediaResp, nil
}

// --- events, tracker, archiver ---

type recordingDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (d *recordingDispatcher) Publish(_ context.Context, event events.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func (d *recordingDispatcher) Subscribe(events.EventType, events.EventHandler) {}

func (d *recordingDispatcher) count(eventType events.EventType) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type memTracker struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func newMemTracker() *memTracker {
	return &memTracker{keys: map[string]bool{}}
}

func (t *memTracker) Seen(_ context.Context, key string) (bool, error) {
	if t.err != nil {
		return false, t.err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.keys[key], nil
}

func (t *memTracker) Mark(_ context.Context, key string) (bool, error) {
	if t.err != nil {
		return false, t.err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.keys[key] {
		return false, nil
	}
	t.keys[key] = true
	return true, nil
}

type fakeArchiver struct {
	mu      sync.Mutex
	err     error
	objects []media.Object
}

func (a *fakeArchiver) Archive(_ context.Context, obj media.Object) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects = append(a.objects, obj)
	return "https://media.example.com/" + obj.MessageID, nil
}
