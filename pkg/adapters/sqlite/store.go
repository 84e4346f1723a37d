package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/ports"

	_ "modernc.org/sqlite"
)

var _ ports.Store = (*Store)(nil)

// Store implements ports.Store on SQLite.
//
// Timestamps are stored as unix nanoseconds so that ordering by update time
// stays exact. SQLite allows a single writer; Open limits the pool to one
// connection, which also keeps ":memory:" databases shared across callers.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn and initializes the schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s, err := NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing *sql.DB that uses the "sqlite" driver
// and creates the tables if they do not exist.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to init sqlite schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tenants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS flows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			version INTEGER NOT NULL,
			status TEXT NOT NULL,
			definition TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			UNIQUE (tenant_id, version)
		);
		CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id INTEGER NOT NULL,
			participant TEXT NOT NULL,
			state TEXT NOT NULL,
			current_node TEXT NOT NULL DEFAULT '',
			assigned_agent TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (tenant_id, participant)
		);
		CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations (tenant_id, updated_at);
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL REFERENCES conversations(id),
			direction TEXT NOT NULL,
			content TEXT NOT NULL,
			delivery_id TEXT,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, id);
		CREATE TABLE IF NOT EXISTS audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			data TEXT,
			created_at INTEGER NOT NULL
		);`,
	)
	if err != nil {
		return err
	}
	return s.migrateDeliveryID()
}

// migrateDeliveryID adds messages.delivery_id to databases created before it existed.
func (s *Store) migrateDeliveryID() error {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('messages') WHERE name = 'delivery_id'`).Scan(&n)
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.db.Exec(`ALTER TABLE messages ADD COLUMN delivery_id TEXT`); err != nil {
			return err
		}
	}
	_, err = s.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_delivery ON messages (conversation_id, delivery_id)`)
	return err
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func now() time.Time {
	return time.Now().UTC()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// CreateTenant stores a new tenant.
func (s *Store) CreateTenant(ctx context.Context, name string) (*domain.Tenant, error) {
	t := &domain.Tenant{Name: name, CreatedAt: now()}
	res, err := s.db.ExecContext(ctx, `INSERT INTO tenants (name, created_at) VALUES (?, ?)`, name, t.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to insert tenant: %w", err)
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTenant retrieves a tenant by ID.
func (s *Store) GetTenant(ctx context.Context, id int64) (*domain.Tenant, error) {
	var (
		t       domain.Tenant
		created int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM tenants WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	t.CreatedAt = fromNanos(created)
	return &t, nil
}

// ListTenants returns all tenants ordered by ID.
func (s *Store) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Tenant
	for rows.Next() {
		var (
			t       domain.Tenant
			created int64
		)
		if err := rows.Scan(&t.ID, &t.Name, &created); err != nil {
			return nil, err
		}
		t.CreatedAt = fromNanos(created)
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateFlow stores a new flow version. Version assignment and insert share a transaction.
func (s *Store) CreateFlow(ctx context.Context, flow *domain.Flow) error {
	def, err := json.Marshal(flow.Definition)
	if err != nil {
		return fmt.Errorf("failed to encode definition: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	version := flow.Version
	if version == 0 {
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM flows WHERE tenant_id = ?`, flow.TenantID,
		).Scan(&version); err != nil {
			return fmt.Errorf("failed to compute flow version: %w", err)
		}
	}

	created := now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO flows (tenant_id, name, version, status, definition, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		flow.TenantID, flow.Name, version, string(flow.Status), string(def), created.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert flow: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	flow.ID = id
	flow.Version = version
	flow.CreatedAt = created
	return nil
}

const flowColumns = `id, tenant_id, name, version, status, definition, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFlow(row scanner) (*domain.Flow, error) {
	var (
		f       domain.Flow
		status  string
		def     string
		created int64
	)
	if err := row.Scan(&f.ID, &f.TenantID, &f.Name, &f.Version, &status, &def, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(def), &f.Definition); err != nil {
		return nil, fmt.Errorf("failed to decode definition of flow %d: %w", f.ID, err)
	}
	f.Status = domain.FlowStatus(status)
	f.CreatedAt = fromNanos(created)
	return &f, nil
}

// GetFlow retrieves a flow by ID.
func (s *Store) GetFlow(ctx context.Context, id int64) (*domain.Flow, error) {
	f, err := scanFlow(s.db.QueryRowContext(ctx, `SELECT `+flowColumns+` FROM flows WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrFlowNotFound
	}
	return f, err
}

// ListFlows returns the tenant's flows, highest version first.
func (s *Store) ListFlows(ctx context.Context, tenantID int64) ([]domain.Flow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+flowColumns+` FROM flows WHERE tenant_id = ? ORDER BY version DESC`, tenantID)
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
	f, err := scanFlow(s.db.QueryRowContext(ctx,
		`SELECT `+flowColumns+` FROM flows WHERE tenant_id = ? AND status = ? ORDER BY version DESC LIMIT 1`,
		tenantID, string(domain.FlowStatusPublished),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoActiveFlow
	}
	return f, err
}

const conversationColumns = `id, tenant_id, participant, state, current_node, assigned_agent, created_at, updated_at`

func scanConversation(row scanner) (*domain.Conversation, error) {
	var (
		c                domain.Conversation
		state            string
		created, updated int64
	)
	if err := row.Scan(&c.ID, &c.TenantID, &c.Participant, &state, &c.CurrentNode, &c.AssignedAgent, &created, &updated); err != nil {
		return nil, err
	}
	c.State = domain.ConversationState(state)
	c.CreatedAt = fromNanos(created)
	c.UpdatedAt = fromNanos(updated)
	return &c, nil
}

// GetOrCreate inserts the (tenant, participant) row unless it exists, then reads it back.
// The unique constraint makes concurrent callers converge on one row.
func (s *Store) GetOrCreate(ctx context.Context, tenantID int64, participant string) (*domain.Conversation, bool, error) {
	ts := now().UnixNano()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (tenant_id, participant, state, current_node, assigned_agent, created_at, updated_at)
		 VALUES (?, ?, ?, '', '', ?, ?)
		 ON CONFLICT (tenant_id, participant) DO NOTHING`,
		tenantID, participant, string(domain.StateAutomated), ts, ts,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	conv, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE tenant_id = ? AND participant = ?`,
		tenantID, participant,
	))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load conversation: %w", err)
	}
	return conv, n == 1, nil
}

// Save persists the mutable fields of a conversation.
func (s *Store) Save(ctx context.Context, conv *domain.Conversation) error {
	return save(ctx, s.db, conv)
}

func save(ctx context.Context, q queryer, conv *domain.Conversation) error {
	updated := now()
	res, err := q.ExecContext(ctx,
		`UPDATE conversations SET state = ?, current_node = ?, assigned_agent = ?, updated_at = ? WHERE id = ?`,
		string(conv.State), conv.CurrentNode, conv.AssignedAgent, updated.UnixNano(), conv.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrConversationNotFound
	}
	conv.UpdatedAt = updated
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id int64) (*domain.Conversation, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
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
		where = append(where, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return appendMessage(ctx, s.db, conversationID, direction, content)
}

// AppendInbound adds an inbound message unless deliveryID was already logged.
func (s *Store) AppendInbound(ctx context.Context, conversationID int64, deliveryID, content string) (*domain.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	if deliveryID == "" {
		return appendMessage(ctx, s.db, conversationID, domain.DirectionInbound, content)
	}

	m := &domain.Message{
		ConversationID: conversationID,
		Direction:      domain.DirectionInbound,
		Content:        content,
		CreatedAt:      now(),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (conversation_id, direction, content, delivery_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		conversationID, string(domain.DirectionInbound), content, deliveryID, m.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 1 {
		if m.ID, err = res.LastInsertId(); err != nil {
			return nil, err
		}
		return m, nil
	}

	var created int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id, content, created_at FROM messages WHERE conversation_id = ? AND delivery_id = ?`,
		conversationID, deliveryID,
	).Scan(&m.ID, &m.Content, &created)
	if err != nil {
		return nil, fmt.Errorf("failed to load logged delivery %s: %w", deliveryID, err)
	}
	m.CreatedAt = fromNanos(created)
	return m, nil
}

func appendMessage(ctx context.Context, q queryer, conversationID int64, direction domain.Direction, content string) (*domain.Message, error) {
	m := &domain.Message{
		ConversationID: conversationID,
		Direction:      direction,
		Content:        content,
		CreatedAt:      now(),
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, direction, content, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, string(direction), content, m.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns the transcript in creation order.
func (s *Store) ListMessages(ctx context.Context, conversationID int64) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, direction, content, created_at FROM messages WHERE conversation_id = ? ORDER BY id`,
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
			created   int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &direction, &m.Content, &created); err != nil {
			return nil, err
		}
		m.Direction = domain.Direction(direction)
		m.CreatedAt = fromNanos(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// CommitStep saves the conversation and appends outbound messages in one transaction.
func (s *Store) CommitStep(ctx context.Context, conv *domain.Conversation, outbound ...string) ([]domain.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := save(ctx, tx, conv); err != nil {
		return nil, err
	}
	emitted := make([]domain.Message, 0, len(outbound))
	for _, content := range outbound {
		m, err := appendMessage(ctx, tx, conv.ID, domain.DirectionOutbound, content)
		if err != nil {
			return nil, err
		}
		emitted = append(emitted, *m)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit step: %w", err)
	}
	return emitted, nil
}

// RecordAudit appends an audit entry.
func (s *Store) RecordAudit(ctx context.Context, entry *domain.AuditEntry) error {
	var data any
	if entry.Data != nil {
		raw, err := json.Marshal(entry.Data)
		if err != nil {
			return fmt.Errorf("failed to encode audit data: %w", err)
		}
		data = string(raw)
	}

	created := now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (tenant_id, event_type, data, created_at) VALUES (?, ?, ?, ?)`,
		entry.TenantID, entry.EventType, data, created.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	if entry.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	entry.CreatedAt = created
	return nil
}

// ListAudit returns the tenant's entries, most recent first.
func (s *Store) ListAudit(ctx context.Context, tenantID int64, limit int) ([]domain.AuditEntry, error) {
	query := `SELECT id, tenant_id, event_type, data, created_at FROM audit_logs WHERE tenant_id = ? ORDER BY id DESC`
	args := []any{tenantID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			data    sql.NullString
			created int64
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.EventType, &data, &created); err != nil {
			return nil, err
		}
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
				return nil, fmt.Errorf("failed to decode audit data: %w", err)
			}
		}
		e.CreatedAt = fromNanos(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
