package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/ports"
)

var _ ports.Store = (*Store)(nil)

// Store implements ports.Store in memory.
// Safe for concurrent use. Values are copied on the way in and out,
// so callers never share pointers with the store.
type Store struct {
	mu sync.RWMutex

	tenants       map[int64]domain.Tenant
	flows         map[int64]domain.Flow
	conversations map[int64]domain.Conversation
	byKey         map[string]int64
	messages      map[int64][]domain.Message
	deliveries    map[deliveryKey]domain.Message
	audit         map[int64][]domain.AuditEntry

	seq int64
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		tenants:       make(map[int64]domain.Tenant),
		flows:         make(map[int64]domain.Flow),
		conversations: make(map[int64]domain.Conversation),
		byKey:         make(map[string]int64),
		messages:      make(map[int64][]domain.Message),
		deliveries:    make(map[deliveryKey]domain.Message),
		audit:         make(map[int64][]domain.AuditEntry),
	}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// CreateTenant stores a new tenant.
func (s *Store) CreateTenant(ctx context.Context, name string) (*domain.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := domain.Tenant{ID: s.nextID(), Name: name, CreatedAt: time.Now().UTC()}
	s.tenants[t.ID] = t
	return &t, nil
}

// GetTenant retrieves a tenant by ID.
func (s *Store) GetTenant(ctx context.Context, id int64) (*domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	return &t, nil
}

// ListTenants returns all tenants ordered by ID.
func (s *Store) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateFlow stores a new flow version.
func (s *Store) CreateFlow(ctx context.Context, flow *domain.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if flow.Version == 0 {
		max := 0
		for _, f := range s.flows {
			if f.TenantID == flow.TenantID && f.Version > max {
				max = f.Version
			}
		}
		flow.Version = max + 1
	}
	flow.ID = s.nextID()
	flow.CreatedAt = time.Now().UTC()
	s.flows[flow.ID] = copyFlow(*flow)
	return nil
}

// GetFlow retrieves a flow by ID.
func (s *Store) GetFlow(ctx context.Context, id int64) (*domain.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flows[id]
	if !ok {
		return nil, domain.ErrFlowNotFound
	}
	cp := copyFlow(f)
	return &cp, nil
}

// ListFlows returns the tenant's flows, highest version first.
func (s *Store) ListFlows(ctx context.Context, tenantID int64) ([]domain.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tenantFlows(tenantID), nil
}

// ActiveFlow returns the highest published version for the tenant.
func (s *Store) ActiveFlow(ctx context.Context, tenantID int64) (*domain.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := domain.SelectActive(s.tenantFlows(tenantID))
	if active == nil {
		return nil, domain.ErrNoActiveFlow
	}
	return active, nil
}

func (s *Store) tenantFlows(tenantID int64) []domain.Flow {
	out := make([]domain.Flow, 0)
	for _, f := range s.flows {
		if f.TenantID == tenantID {
			out = append(out, copyFlow(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out
}

// GetOrCreate finds or creates the conversation for a (tenant, participant) pair.
// The write lock makes lookup and insert a single critical section.
func (s *Store) GetOrCreate(ctx context.Context, tenantID int64, participant string) (*domain.Conversation, bool, error) {
	key := domain.ConversationKey(tenantID, participant)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[key]; ok {
		c := s.conversations[id]
		return &c, false, nil
	}

	now := time.Now().UTC()
	c := *domain.NewConversation(tenantID, participant)
	c.ID = s.nextID()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.conversations[c.ID] = c
	s.byKey[key] = c.ID
	return &c, true, nil
}

// Save persists the mutable fields of a conversation.
func (s *Store) Save(ctx context.Context, conv *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(conv)
}

func (s *Store) saveLocked(conv *domain.Conversation) error {
	stored, ok := s.conversations[conv.ID]
	if !ok {
		return domain.ErrConversationNotFound
	}
	stored.State = conv.State
	stored.CurrentNode = conv.CurrentNode
	stored.AssignedAgent = conv.AssignedAgent
	stored.UpdatedAt = time.Now().UTC()
	s.conversations[conv.ID] = stored
	conv.UpdatedAt = stored.UpdatedAt
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id int64) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	return &c, nil
}

// ListConversations returns matching conversations, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, filter domain.ConversationFilter) ([]domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Conversation, 0)
	for _, c := range s.conversations {
		if filter.TenantID != 0 && c.TenantID != filter.TenantID {
			continue
		}
		if filter.State != "" && c.State != filter.State {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Append adds a message to the conversation transcript.
func (s *Store) Append(ctx context.Context, conversationID int64, direction domain.Direction, content string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, domain.ErrConversationNotFound
	}
	m := s.appendLocked(conversationID, direction, content)
	return &m, nil
}

type deliveryKey struct {
	conversationID int64
	deliveryID     string
}

// AppendInbound adds an inbound message unless deliveryID was already logged.
func (s *Store) AppendInbound(ctx context.Context, conversationID int64, deliveryID, content string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, domain.ErrConversationNotFound
	}
	key := deliveryKey{conversationID, deliveryID}
	if deliveryID != "" {
		if m, ok := s.deliveries[key]; ok {
			return &m, nil
		}
	}
	m := s.appendLocked(conversationID, domain.DirectionInbound, content)
	if deliveryID != "" {
		s.deliveries[key] = m
	}
	return &m, nil
}

func (s *Store) appendLocked(conversationID int64, direction domain.Direction, content string) domain.Message {
	m := domain.Message{
		ID:             s.nextID(),
		ConversationID: conversationID,
		Direction:      direction,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], m)
	return m
}

// ListMessages returns the transcript in creation order.
func (s *Store) ListMessages(ctx context.Context, conversationID int64) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.messages[conversationID]
	out := make([]domain.Message, len(src))
	copy(out, src)
	return out, nil
}

// CommitStep saves the conversation and appends outbound messages under one lock.
func (s *Store) CommitStep(ctx context.Context, conv *domain.Conversation, outbound ...string) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.saveLocked(conv); err != nil {
		return nil, err
	}
	emitted := make([]domain.Message, 0, len(outbound))
	for _, content := range outbound {
		emitted = append(emitted, s.appendLocked(conv.ID, domain.DirectionOutbound, content))
	}
	return emitted, nil
}

// RecordAudit appends an audit entry.
func (s *Store) RecordAudit(ctx context.Context, entry *domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = s.nextID()
	entry.CreatedAt = time.Now().UTC()
	cp := *entry
	if entry.Data != nil {
		cp.Data = make(map[string]any, len(entry.Data))
		for k, v := range entry.Data {
			cp.Data[k] = v
		}
	}
	s.audit[entry.TenantID] = append(s.audit[entry.TenantID], cp)
	return nil
}

// ListAudit returns the tenant's entries, most recent first.
func (s *Store) ListAudit(ctx context.Context, tenantID int64, limit int) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.audit[tenantID]
	out := make([]domain.AuditEntry, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		out = append(out, src[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func copyFlow(f domain.Flow) domain.Flow {
	cp := f
	if f.Definition.Nodes != nil {
		cp.Definition.Nodes = make([]domain.Node, len(f.Definition.Nodes))
		copy(cp.Definition.Nodes, f.Definition.Nodes)
	}
	return cp
}
