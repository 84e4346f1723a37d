package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ ports.Store = (*Store)(nil)

// Schema is the DDL applied by Migrate.
const Schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS flows (
	id BIGSERIAL PRIMARY KEY,
	tenant_id BIGINT NOT NULL,
	name TEXT NOT NULL,
	version INT NOT NULL,
	status TEXT NOT NULL,
	definition JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, version)
);
CREATE TABLE IF NOT EXISTS conversations (
	id BIGSERIAL PRIMARY KEY,
	tenant_id BIGINT NOT NULL,
	participant TEXT NOT NULL,
	state TEXT NOT NULL,
	current_node TEXT NOT NULL DEFAULT '',
	assigned_agent TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (tenant_id, participant)
);
CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations (tenant_id, updated_at DESC);
CREATE TABLE IF NOT EXISTS messages (
	id BIGSERIAL PRIMARY KEY,
	conversation_id BIGINT NOT NULL REFERENCES conversations(id),
	direction TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, id);
ALTER TABLE messages ADD COLUMN IF NOT EXISTS delivery_id TEXT;
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_delivery ON messages (conversation_id, delivery_id);
CREATE TABLE IF NOT EXISTS audit_logs (
	id BIGSERIAL PRIMARY KEY,
	tenant_id BIGINT NOT NULL,
	event_type TEXT NOT NULL,
	data JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
`

// Store implements ports.Store on PostgreSQL through a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing pool. Call Migrate before first use on a fresh database.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s := NewStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply postgres schema: %w", err)
	}
	return nil
}

// Postgres keeps microseconds; truncating up front keeps returned values
// equal to what a later read observes.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// CreateTenant stores a new tenant.
func (s *Store) CreateTenant(ctx context.Context, name string) (*domain.Tenant, error) {
	t := &domain.Tenant{Name: name}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tenants (name, created_at) VALUES ($1, $2) RETURNING id, created_at`, name, now(),
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert tenant: %w", err)
	}
	return t, nil
}

// GetTenant retrieves a tenant by ID.
func (s *Store) GetTenant(ctx context.Context, id int64) (*domain.Tenant, error) {
	var t domain.Tenant
	err := s.pool.QueryRow(ctx, `SELECT id, name, created_at FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTenants returns all tenants ordered by ID.
func (s *Store) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, created_at FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateFlow stores a new flow version. A zero version is assigned inside the
// insert transaction under a per-tenant advisory lock.
func (s *Store) CreateFlow(ctx context.Context, flow *domain.Flow) error {
	def, err := json.Marshal(flow.Definition)
	if err != nil {
		return fmt.Errorf("failed to encode definition: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, flow.TenantID); err != nil {
			return fmt.Errorf("failed to lock tenant flows: %w", err)
		}
		version := flow.Version
		if version == 0 {
			if err := tx.QueryRow(ctx,
				`SELECT COALESCE(MAX(version), 0) + 1 FROM flows WHERE tenant_id = $1`, flow.TenantID,
			).Scan(&version); err != nil {
				return fmt.Errorf("failed to compute flow version: %w", err)
			}
		}

		var (
			id      int64
			created time.Time
		)
		err := tx.QueryRow(ctx,
			`INSERT INTO flows (tenant_id, name, version, status, definition, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`,
			flow.TenantID, flow.Name, version, string(flow.Status), def, now(),
		).Scan(&id, &created)
		if err != nil {
			return fmt.Errorf("failed to insert flow: %w", err)
		}
		flow.ID = id
		flow.Version = version
		flow.CreatedAt = created
		return nil
	})
}

const flowColumns = `id, tenant_id, name, version, status, definition, created_at`

func scanFlow(row pgx.Row) (*domain.Flow, error) {
	var (
		f      domain.Flow
		status string
		def    []byte
	)
	if err := row.Scan(&f.ID, &f.TenantID, &f.Name, &f.Version, &status, &def, &f.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(def, &f.Definition); err != nil {
		return nil, fmt.Errorf("failed to decode definition of flow %d: %w", f.ID, err)
	}
	f.Status = domain.FlowStatus(status)
	return &f, nil
}

// GetFlow retrieves a flow by ID.
func (s *Store) GetFlow(ctx context.Context, id int64) (*domain.Flow, error) {
	f, err := scanFlow(s.pool.QueryRow(ctx, `SELECT `+flowColumns+` FROM flows WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrFlowNotFound
	}
	return f, err
}

// ListFlows returns the tenant's flows, highest version first.
func (s *Store) ListFlows(ctx context.Context, tenantID int64) ([]domain.Flow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+flowColumns+` FROM flows WHERE tenant_id = $1 ORDER BY version DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// ActiveFlow returns the highest published version for the tenant.
func (s *Store) ActiveFlow(ctx context.Context, tenantID int64) (*domain.Flow, error) {
	f, err := scanFlow(s.pool.QueryRow(ctx,
		`SELECT `+flowColumns+` FROM flows WHERE tenant_id = $1 AND status = $2 ORDER BY version DESC LIMIT 1`,
		tenantID, string(domain.FlowStatusPublished),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNoActiveFlow
	}
	return f, err
}

const conversationColumns = `id, tenant_id, participant, state, current_node, assigned_agent, created_at, updated_at`

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	var (
		c     domain.Conversation
		state string
	)
	if err := row.Scan(&c.ID, &c.TenantID, &c.Participant, &state, &c.CurrentNode, &c.AssignedAgent, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.State = domain.ConversationState(state)
	return &c, nil
}

// GetOrCreate inserts the (tenant, participant) row unless it exists, then reads it back.
func (s *Store) GetOrCreate(ctx context.Context, tenantID int64, participant string) (*domain.Conversation, bool, error) {
	ts := now()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (tenant_id, participant, state, current_node, assigned_agent, created_at, updated_at)
		 VALUES ($1, $2, $3, '', '', $4, $4)
		 ON CONFLICT (tenant_id, participant) DO NOTHING`,
		tenantID, participant, string(domain.StateAutomated), ts,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert conversation: %w", err)
	}

	conv, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE tenant_id = $1 AND participant = $2`,
		tenantID, participant,
	))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load conversation: %w", err)
	}
	return conv, tag.RowsAffected() == 1, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Save persists the mutable fields of a conversation.
func (s *Store) Save(ctx context.Context, conv *domain.Conversation) error {
	return save(ctx, s.pool, conv)
}

func save(ctx context.Context, q execer, conv *domain.Conversation) error {
	updated := now()
	tag, err := q.Exec(ctx,
		`UPDATE conversations SET state = $1, current_node = $2, assigned_agent = $3, updated_at = $4 WHERE id = $5`,
		string(conv.State), conv.CurrentNode, conv.AssignedAgent, updated, conv.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}
	conv.UpdatedAt = updated
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id int64) (*domain.Conversation, error) {
	c, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrConversationNotFound
	}
	return c, err
}

// ListConversations returns matching conversations, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, filter domain.ConversationFilter) ([]domain.Conversation, error) {
	var (
		where []string
		args  []any
	)
	if filter.TenantID != 0 {
		args = append(args, filter.TenantID)
		where = append(where, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Append adds a message to the conversation transcript.
func (s *Store) Append(ctx context.Context, conversationID int64, direction domain.Direction, content string) (*domain.Message, error) {
	m, err := appendMessage(ctx, s.pool, conversationID, direction, content)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}
	return m, nil
}

// AppendInbound adds an inbound message unless deliveryID was already logged.
func (s *Store) AppendInbound(ctx context.Context, conversationID int64, deliveryID, content string) (*domain.Message, error) {
	if deliveryID == "" {
		return s.Append(ctx, conversationID, domain.DirectionInbound, content)
	}

	m := &domain.Message{ConversationID: conversationID, Direction: domain.DirectionInbound, Content: content}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, direction, content, delivery_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (conversation_id, delivery_id) DO NOTHING
		 RETURNING id, created_at`,
		conversationID, string(domain.DirectionInbound), content, deliveryID, now(),
	).Scan(&m.ID, &m.CreatedAt)
	if err == nil {
		return m, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return nil, domain.ErrConversationNotFound
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	// Conflict: the delivery is already in the transcript.
	err = s.pool.QueryRow(ctx,
		`SELECT id, content, created_at FROM messages WHERE conversation_id = $1 AND delivery_id = $2`,
		conversationID, deliveryID,
	).Scan(&m.ID, &m.Content, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load logged delivery %s: %w", deliveryID, err)
	}
	return m, nil
}

func appendMessage(ctx context.Context, q execer, conversationID int64, direction domain.Direction, content string) (*domain.Message, error) {
	m := &domain.Message{ConversationID: conversationID, Direction: direction, Content: content}
	err := q.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, direction, content, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		conversationID, string(direction), content, now(),
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return m, nil
}

// ListMessages returns the transcript in creation order.
func (s *Store) ListMessages(ctx context.Context, conversationID int64) ([]domain.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, direction, content, created_at FROM messages WHERE conversation_id = $1 ORDER BY id`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var (
			m         domain.Message
			direction string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &direction, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Direction = domain.Direction(direction)
		out = append(out, m)
	}
	return out, rows.Err()
}

// CommitStep saves the conversation and appends outbound messages in one transaction.
func (s *Store) CommitStep(ctx context.Context, conv *domain.Conversation, outbound ...string) ([]domain.Message, error) {
	var (
		emitted = make([]domain.Message, 0, len(outbound))
		updated time.Time
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		staged := *conv
		if err := save(ctx, tx, &staged); err != nil {
			return err
		}
		updated = staged.UpdatedAt
		for _, content := range outbound {
			m, err := appendMessage(ctx, tx, conv.ID, domain.DirectionOutbound, content)
			if err != nil {
				return err
			}
			emitted = append(emitted, *m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	conv.UpdatedAt = updated
	return emitted, nil
}

// RecordAudit appends an audit entry.
func (s *Store) RecordAudit(ctx context.Context, entry *domain.AuditEntry) error {
	var data []byte
	if entry.Data != nil {
		raw, err := json.Marshal(entry.Data)
		if err != nil {
			return fmt.Errorf("failed to encode audit data: %w", err)
		}
		data = raw
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO audit_logs (tenant_id, event_type, data, created_at) VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		entry.TenantID, entry.EventType, data, now(),
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the tenant's entries, most recent first.
func (s *Store) ListAudit(ctx context.Context, tenantID int64, limit int) ([]domain.AuditEntry, error) {
	query := `SELECT id, tenant_id, event_type, data, created_at FROM audit_logs WHERE tenant_id = $1 ORDER BY id DESC`
	args := []any{tenantID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e    domain.AuditEntry
			data []byte
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.EventType, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("failed to decode audit data: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
