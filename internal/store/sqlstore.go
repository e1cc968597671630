package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dialect hides the handful of places Postgres and SQLite syntax
// diverge (placeholders, upsert, autoincrement), the same way
// internal/core/whatsapp/whatsmeow.go picks a driver string and branches
// on it in initStore.
type dialect interface {
	name() string
	placeholder(n int) string
	nowTS() string
}

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }
func (postgresDialect) placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (postgresDialect) nowTS() string { return time.Now().UTC().Format(time.RFC3339Nano) }

type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite" }
func (sqliteDialect) placeholder(int) string { return "?" }
func (sqliteDialect) nowTS() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// SQLStore implements Store over database/sql, backing both the
// networked Postgres deployment (lib/pq) and the embedded single-file
// SQLite deployment (modernc.org/sqlite) behind the same contract, per
// spec.md §4.1.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, d: d}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) ph(n int) string { return s.d.placeholder(n) }

// rebind rewrites a query written with `?` placeholders into the
// active dialect's placeholder style.
func (s *SQLStore) rebind(query string) string {
	if s.d.name() != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.ph(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// ---- upsert_message (spec.md §4.1) ----

func (s *SQLStore) findMessage(ctx context.Context, userID, upstreamID, tempID string) (*Message, error) {
	if upstreamID != "" {
		if m, err := s.scanMessageRow(s.queryRow(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE user_id = ? AND upstream_id = ?`,
			userID, upstreamID)); err == nil {
			return m, nil
		} else if err != ErrNotFound {
			return nil, err
		}
	}
	if tempID != "" {
		if m, err := s.scanMessageRow(s.queryRow(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE user_id = ? AND temp_id = ?`,
			userID, tempID)); err == nil {
			return m, nil
		} else if err != ErrNotFound {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// UpsertMessage implements the idempotent upsert algorithm of
// spec.md §4.1: locate by (user_id, upstream_id) then (user_id,
// temp_id); on hit, merge with status-monotonicity; on miss, insert,
// retrying as an update on a unique-violation race.
func (s *SQLStore) UpsertMessage(ctx context.Context, msg *Message) (*Message, error) {
	if msg.UserID == "" {
		return nil, ErrMissingUserID
	}
	existing, err := s.findMessage(ctx, msg.UserID, msg.UpstreamID, msg.TempID)
	if err != nil && err != ErrNotFound {
		return nil, err
	}
	if existing != nil {
		merged := mergeMessage(existing, msg)
		if err := s.updateMessage(ctx, merged); err != nil {
			return nil, err
		}
		return merged, nil
	}

	if err := s.insertMessage(ctx, msg); err != nil {
		if isUniqueViolation(err) {
			// concurrent insert raced us: retry as an update.
			existing, ferr := s.findMessage(ctx, msg.UserID, msg.UpstreamID, msg.TempID)
			if ferr != nil {
				return nil, ferr
			}
			merged := mergeMessage(existing, msg)
			if err := s.updateMessage(ctx, merged); err != nil {
				return nil, err
			}
			return merged, nil
		}
		return nil, err
	}
	return s.findMessage(ctx, msg.UserID, msg.UpstreamID, msg.TempID)
}

// mergeMessage applies spec.md §4.1 step 2: merge incoming over
// current, honoring status monotonicity; non-zero incoming fields win.
func mergeMessage(current, incoming *Message) *Message {
	merged := *current
	if newStatus, changed := MergeStatus(current.Status, incoming.Status); changed || incoming.Status == "" {
		merged.Status = newStatus
	}
	if incoming.UpstreamID != "" {
		merged.UpstreamID = incoming.UpstreamID
	}
	if incoming.TempID != "" {
		merged.TempID = incoming.TempID
	}
	if incoming.Body != "" {
		merged.Body = incoming.Body
	}
	if incoming.Kind != "" {
		merged.Kind = incoming.Kind
	}
	if incoming.Caption != "" {
		merged.Caption = incoming.Caption
	}
	if incoming.Price != "" {
		merged.Price = incoming.Price
	}
	if incoming.MediaLocalPath != "" {
		merged.MediaLocalPath = incoming.MediaLocalPath
	}
	if incoming.MediaPublicURL != "" {
		merged.MediaPublicURL = incoming.MediaPublicURL
	}
	if incoming.ReplyToUpstreamID != "" {
		merged.ReplyToUpstreamID = incoming.ReplyToUpstreamID
	}
	if incoming.QuotedSnippet != "" {
		merged.QuotedSnippet = incoming.QuotedSnippet
	}
	if incoming.ReactionTargetUpstreamID != "" {
		merged.ReactionTargetUpstreamID = incoming.ReactionTargetUpstreamID
	}
	if incoming.ReactionEmoji != "" {
		merged.ReactionEmoji = incoming.ReactionEmoji
	}
	if incoming.ReactionAction != "" {
		merged.ReactionAction = incoming.ReactionAction
	}
	if incoming.Waveform != nil {
		merged.Waveform = incoming.Waveform
	}
	if incoming.ProductIdentifiers != nil {
		merged.ProductIdentifiers = incoming.ProductIdentifiers
	}
	if incoming.ClientTS != "" {
		merged.ClientTS = incoming.ClientTS
	}
	if incoming.ServerTS != "" {
		merged.ServerTS = incoming.ServerTS
	}
	return &merged
}

const messageColumns = `id, upstream_id, temp_id, user_id, body, kind, from_agent, status, caption, price,
	media_local_path, media_public_url, reply_to_upstream_id, quoted_snippet,
	reaction_target_upstream_id, reaction_emoji, reaction_action, waveform, product_identifiers,
	client_ts, server_ts`

func (s *SQLStore) insertMessage(ctx context.Context, m *Message) error {
	waveform, pids := encodeJSON(m.Waveform), encodeJSON(m.ProductIdentifiers)
	_, err := s.exec(ctx, `INSERT INTO messages
		(upstream_id, temp_id, user_id, body, kind, from_agent, status, caption, price,
		 media_local_path, media_public_url, reply_to_upstream_id, quoted_snippet,
		 reaction_target_upstream_id, reaction_emoji, reaction_action, waveform, product_identifiers,
		 client_ts, server_ts)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		nullable(m.UpstreamID), nullable(m.TempID), m.UserID, m.Body, string(m.Kind), m.FromAgent, string(m.Status),
		m.Caption, m.Price, m.MediaLocalPath, m.MediaPublicURL, m.ReplyToUpstreamID, m.QuotedSnippet,
		m.ReactionTargetUpstreamID, m.ReactionEmoji, string(m.ReactionAction), waveform, pids,
		m.ClientTS, m.ServerTS)
	return err
}

func (s *SQLStore) updateMessage(ctx context.Context, m *Message) error {
	waveform, pids := encodeJSON(m.Waveform), encodeJSON(m.ProductIdentifiers)
	_, err := s.exec(ctx, `UPDATE messages SET
		upstream_id = ?, temp_id = ?, body = ?, kind = ?, status = ?, caption = ?, price = ?,
		media_local_path = ?, media_public_url = ?, reply_to_upstream_id = ?, quoted_snippet = ?,
		reaction_target_upstream_id = ?, reaction_emoji = ?, reaction_action = ?, waveform = ?,
		product_identifiers = ?, client_ts = ?, server_ts = ?
		WHERE id = ?`,
		nullable(m.UpstreamID), nullable(m.TempID), m.Body, string(m.Kind), string(m.Status), m.Caption, m.Price,
		m.MediaLocalPath, m.MediaPublicURL, m.ReplyToUpstreamID, m.QuotedSnippet,
		m.ReactionTargetUpstreamID, m.ReactionEmoji, string(m.ReactionAction), waveform, pids,
		m.ClientTS, m.ServerTS, m.ID)
	return err
}

func (s *SQLStore) scanMessageRow(row *sql.Row) (*Message, error) {
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return m, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scanner) (*Message, error) {
	var m Message
	var upstreamID, tempID, waveform, pids sql.NullString
	if err := row.Scan(&m.ID, &upstreamID, &tempID, &m.UserID, &m.Body, &m.Kind, &m.FromAgent, &m.Status,
		&m.Caption, &m.Price, &m.MediaLocalPath, &m.MediaPublicURL, &m.ReplyToUpstreamID, &m.QuotedSnippet,
		&m.ReactionTargetUpstreamID, &m.ReactionEmoji, &m.ReactionAction, &waveform, &pids,
		&m.ClientTS, &m.ServerTS); err != nil {
		return nil, err
	}
	m.UpstreamID = upstreamID.String
	m.TempID = tempID.String
	if waveform.Valid && waveform.String != "" {
		_ = json.Unmarshal([]byte(waveform.String), &m.Waveform)
	}
	if pids.Valid && pids.String != "" {
		var p ProductIdentifiers
		if json.Unmarshal([]byte(pids.String), &p) == nil {
			m.ProductIdentifiers = &p
		}
	}
	return &m, nil
}

func encodeJSON(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case []int:
		if t == nil {
			return nil
		}
	case *ProductIdentifiers:
		if t == nil {
			return nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// GetMessages implements the pagination contract of spec.md §4.1: a
// newest-first window reversed to chronological order for display.
func (s *SQLStore) GetMessages(ctx context.Context, userID string, offset, limit int) ([]Message, error) {
	rows, err := s.query(ctx, `SELECT `+messageColumns+` FROM messages WHERE user_id = ?
		ORDER BY COALESCE(server_ts, client_ts) DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// GetMessagesSince returns messages strictly newer than ts, ascending.
func (s *SQLStore) GetMessagesSince(ctx context.Context, userID, ts string, limit int) ([]Message, error) {
	rows, err := s.query(ctx, `SELECT `+messageColumns+` FROM messages WHERE user_id = ?
		AND COALESCE(server_ts, client_ts) > ?
		ORDER BY COALESCE(server_ts, client_ts) ASC LIMIT ?`, userID, ts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetMessagesBefore returns messages strictly older than ts, ascending.
func (s *SQLStore) GetMessagesBefore(ctx context.Context, userID, ts string, limit int) ([]Message, error) {
	rows, err := s.query(ctx, `SELECT `+messageColumns+` FROM messages WHERE user_id = ?
		AND COALESCE(server_ts, client_ts) < ?
		ORDER BY COALESCE(server_ts, client_ts) ASC LIMIT ?`, userID, ts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func reverse(m []Message) {
	for i, j := 0, len(m)-1; i < j; i, j = i+1, j-1 {
		m[i], m[j] = m[j], m[i]
	}
}

// UpdateStatus applies status monotonicity directly against the row
// identified by upstream_id (used for webhook status callbacks).
func (s *SQLStore) UpdateStatus(ctx context.Context, upstreamID string, status Status) (*Message, error) {
	row := s.queryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE upstream_id = ?`, upstreamID)
	m, err := s.scanMessageRow(row)
	if err != nil {
		return nil, err
	}
	newStatus, changed := MergeStatus(m.Status, status)
	if !changed {
		return m, nil
	}
	m.Status = newStatus
	if err := s.updateMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLStore) GetUserForMessage(ctx context.Context, upstreamID string) (string, error) {
	var userID string
	err := s.queryRow(ctx, `SELECT user_id FROM messages WHERE upstream_id = ?`, upstreamID).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return userID, err
}

// ---- users ----

func (s *SQLStore) UpsertUser(ctx context.Context, u *User) (*User, error) {
	now := s.d.nowTS()
	if u.CreatedAt == "" {
		u.CreatedAt = now
	}
	if u.LastSeen == "" {
		u.LastSeen = now
	}
	if s.d.name() == "postgres" {
		_, err := s.exec(ctx, `INSERT INTO users (user_id, display_name, phone, is_admin, last_seen, created_at)
			VALUES (?,?,?,?,?,?)
			ON CONFLICT (user_id) DO UPDATE SET
				display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), users.display_name),
				phone = COALESCE(NULLIF(EXCLUDED.phone, ''), users.phone),
				last_seen = EXCLUDED.last_seen`,
			u.UserID, u.DisplayName, u.Phone, u.IsAdmin, u.LastSeen, u.CreatedAt)
		if err != nil {
			return nil, err
		}
	} else {
		_, err := s.exec(ctx, `INSERT INTO users (user_id, display_name, phone, is_admin, last_seen, created_at)
			VALUES (?,?,?,?,?,?)
			ON CONFLICT (user_id) DO UPDATE SET
				display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE users.display_name END,
				phone = CASE WHEN excluded.phone <> '' THEN excluded.phone ELSE users.phone END,
				last_seen = excluded.last_seen`,
			u.UserID, u.DisplayName, u.Phone, u.IsAdmin, u.LastSeen, u.CreatedAt)
		if err != nil {
			return nil, err
		}
	}
	var out User
	err := s.queryRow(ctx, `SELECT user_id, display_name, phone, is_admin, last_seen, created_at
		FROM users WHERE user_id = ?`, u.UserID).
		Scan(&out.UserID, &out.DisplayName, &out.Phone, &out.IsAdmin, &out.LastSeen, &out.CreatedAt)
	return &out, err
}

// ListAdmins returns user_id for every admin user.
func (s *SQLStore) ListAdmins(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `SELECT user_id FROM users WHERE is_admin = ?`, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// MarkRead updates status=read for the given message ids (by
// upstream_id) or, when all is true, every inbound unread row for
// userID.
func (s *SQLStore) MarkRead(ctx context.Context, userID string, ids []string, all bool) error {
	if all {
		_, err := s.exec(ctx, `UPDATE messages SET status = ? WHERE user_id = ? AND from_agent = ? AND status <> ?`,
			string(StatusRead), userID, false, string(StatusRead))
		return err
	}
	for _, id := range ids {
		if _, err := s.UpdateStatus(ctx, id, StatusRead); err != nil && err != ErrNotFound {
			return err
		}
	}
	return nil
}

// ---- conversation meta & listing ----

func (s *SQLStore) GetConversationMeta(ctx context.Context, userID string) (*ConversationMeta, error) {
	var tagsJSON sql.NullString
	meta := &ConversationMeta{UserID: userID}
	err := s.queryRow(ctx, `SELECT assigned_agent, tags, avatar_url FROM conversation_meta WHERE user_id = ?`, userID).
		Scan(&meta.AssignedAgent, &tagsJSON, &meta.AvatarURL)
	if err == sql.ErrNoRows {
		return meta, nil // lazily created on first write, per spec.md §3 lifecycle
	}
	if err != nil {
		return nil, err
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &meta.Tags)
	}
	return meta, nil
}

func (s *SQLStore) SetConversationMeta(ctx context.Context, meta *ConversationMeta) error {
	tagsJSON, _ := json.Marshal(meta.Tags)
	if s.d.name() == "postgres" {
		_, err := s.exec(ctx, `INSERT INTO conversation_meta (user_id, assigned_agent, tags, avatar_url)
			VALUES (?,?,?,?)
			ON CONFLICT (user_id) DO UPDATE SET
				assigned_agent = EXCLUDED.assigned_agent, tags = EXCLUDED.tags, avatar_url = EXCLUDED.avatar_url`,
			meta.UserID, meta.AssignedAgent, string(tagsJSON), meta.AvatarURL)
		return err
	}
	_, err := s.exec(ctx, `INSERT INTO conversation_meta (user_id, assigned_agent, tags, avatar_url)
		VALUES (?,?,?,?)
		ON CONFLICT (user_id) DO UPDATE SET
			assigned_agent = excluded.assigned_agent, tags = excluded.tags, avatar_url = excluded.avatar_url`,
		meta.UserID, meta.AssignedAgent, string(tagsJSON), meta.AvatarURL)
	return err
}

// ListConversations implements spec.md §4.1's conversation summary
// aggregation: per-user_id last message, unread count, unresponded
// count, filtered and sorted by last_message_time descending.
func (s *SQLStore) ListConversations(ctx context.Context, f ConversationFilter) ([]ConversationSummary, error) {
	rows, err := s.query(ctx, `
		SELECT m.user_id, COALESCE(u.display_name, ''), m.body, m.ts,
			COALESCE(cm.assigned_agent, ''), COALESCE(cm.tags, '')
		FROM (
			SELECT user_id, body, COALESCE(server_ts, client_ts) AS ts,
				ROW_NUMBER() OVER (PARTITION BY user_id ORDER BY COALESCE(server_ts, client_ts) DESC) AS rn
			FROM messages
		) m
		LEFT JOIN users u ON u.user_id = m.user_id
		LEFT JOIN conversation_meta cm ON cm.user_id = m.user_id
		WHERE m.rn = 1
		ORDER BY m.ts DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConversationSummary
	for rows.Next() {
		var c ConversationSummary
		var tagsJSON string
		if err := rows.Scan(&c.UserID, &c.DisplayName, &c.LastMessageBody, &c.LastMessageTime,
			&c.AssignedAgent, &tagsJSON); err != nil {
			return nil, err
		}
		if tagsJSON != "" {
			_ = json.Unmarshal([]byte(tagsJSON), &c.Tags)
		}
		c.UnreadCount, _ = s.unreadCount(ctx, c.UserID)
		c.UnrespondedCount, _ = s.UnrespondedCount(ctx, c.UserID)
		if matchesFilter(c, f) {
			out = append(out, c)
		}
	}
	return out, rows.Err()
}

func (s *SQLStore) unreadCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM messages WHERE user_id = ? AND from_agent = ? AND status <> ?`,
		userID, false, string(StatusRead)).Scan(&n)
	return n, err
}

func matchesFilter(c ConversationSummary, f ConversationFilter) bool {
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(c.DisplayName), q) && !strings.Contains(strings.ToLower(c.UserID), q) {
			return false
		}
	}
	if f.UnreadOnly && c.UnreadCount == 0 {
		return false
	}
	if f.UnrespondedOnly && c.UnrespondedCount == 0 {
		return false
	}
	if f.AssignedAgent != "" {
		if f.AssignedAgent == "unassigned" {
			if c.AssignedAgent != "" {
				return false
			}
		} else if c.AssignedAgent != f.AssignedAgent {
			return false
		}
	}
	for _, want := range f.Tags {
		found := false
		for _, have := range c.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ---- agents ----

func (s *SQLStore) CreateAgent(ctx context.Context, a *Agent) (*Agent, error) {
	res, err := s.exec(ctx, `INSERT INTO agents (username, display_name, password_hash, is_admin) VALUES (?,?,?,?)`,
		a.Username, a.DisplayName, a.PasswordHash, a.IsAdmin)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	a.ID = id
	return a, nil
}

func (s *SQLStore) GetAgentByUsername(ctx context.Context, username string) (*Agent, error) {
	var a Agent
	err := s.queryRow(ctx, `SELECT id, username, display_name, password_hash, is_admin FROM agents WHERE username = ?`,
		username).Scan(&a.ID, &a.Username, &a.DisplayName, &a.PasswordHash, &a.IsAdmin)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return &a, err
}

func (s *SQLStore) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.query(ctx, `SELECT id, username, display_name, password_hash, is_admin FROM agents ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.Username, &a.DisplayName, &a.PasswordHash, &a.IsAdmin); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteAgent(ctx context.Context, username string) error {
	_, err := s.exec(ctx, `DELETE FROM agents WHERE username = ?`, username)
	return err
}

// ---- settings ----

func (s *SQLStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.queryRow(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	return v, err == nil, err
}

func (s *SQLStore) SetSetting(ctx context.Context, key, value string) error {
	if s.d.name() == "postgres" {
		_, err := s.exec(ctx, `INSERT INTO settings (key, value) VALUES (?,?)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
		return err
	}
	_, err := s.exec(ctx, `INSERT INTO settings (key, value) VALUES (?,?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// ---- orders ----

func (s *SQLStore) UpsertOrder(ctx context.Context, o *Order) error {
	if o.CreatedAt == "" {
		o.CreatedAt = s.d.nowTS()
	}
	if s.d.name() == "postgres" {
		_, err := s.exec(ctx, `INSERT INTO orders (order_id, status, created_at) VALUES (?,?,?)
			ON CONFLICT (order_id) DO UPDATE SET status = EXCLUDED.status`, o.OrderID, string(o.Status), o.CreatedAt)
		return err
	}
	_, err := s.exec(ctx, `INSERT INTO orders (order_id, status, created_at) VALUES (?,?,?)
		ON CONFLICT (order_id) DO UPDATE SET status = excluded.status`, o.OrderID, string(o.Status), o.CreatedAt)
	return err
}

func (s *SQLStore) MarkOrderDelivered(ctx context.Context, orderID string) error {
	_, err := s.exec(ctx, `UPDATE orders SET status = ? WHERE order_id = ?`, string(OrderPayout), orderID)
	return err
}

func (s *SQLStore) MarkOrderPaid(ctx context.Context, orderID string) error {
	_, err := s.exec(ctx, `UPDATE orders SET status = ? WHERE order_id = ?`, string(OrderArchived), orderID)
	return err
}

func (s *SQLStore) ListPayouts(ctx context.Context) ([]Order, error) {
	return s.listOrders(ctx, OrderPayout)
}

func (s *SQLStore) ListArchive(ctx context.Context) ([]Order, error) {
	return s.listOrders(ctx, OrderArchived)
}

func (s *SQLStore) listOrders(ctx context.Context, status OrderStatus) ([]Order, error) {
	rows, err := s.query(ctx, `SELECT order_id, status, created_at FROM orders WHERE status = ? ORDER BY created_at DESC`,
		string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.OrderID, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ---- survey/auto-reply gating helpers ----

func (s *SQLStore) LastAgentMessageTime(ctx context.Context, userID string) (string, error) {
	var ts sql.NullString
	err := s.queryRow(ctx, `SELECT MAX(COALESCE(server_ts, client_ts)) FROM messages
		WHERE user_id = ? AND from_agent = ?`, userID, true).Scan(&ts)
	if err != nil {
		return "", err
	}
	return ts.String, nil
}

func (s *SQLStore) HasInvoiceMessage(ctx context.Context, userID, captionMarker string) (bool, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM messages
		WHERE user_id = ? AND from_agent = ? AND kind = ? AND caption LIKE ?`,
		userID, true, string(KindImage), "%"+captionMarker+"%").Scan(&n)
	return n > 0, err
}

func (s *SQLStore) UnrespondedCount(ctx context.Context, userID string) (int, error) {
	lastOut, err := s.LastAgentMessageTime(ctx, userID)
	if err != nil {
		return 0, err
	}
	if lastOut == "" {
		var n int
		err := s.queryRow(ctx, `SELECT COUNT(*) FROM messages WHERE user_id = ? AND from_agent = ?`,
			userID, false).Scan(&n)
		return n, err
	}
	var n int
	err = s.queryRow(ctx, `SELECT COUNT(*) FROM messages
		WHERE user_id = ? AND from_agent = ? AND COALESCE(server_ts, client_ts) > ?`,
		userID, false, lastOut).Scan(&n)
	return n, err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value violates unique constraint") // postgres (lib/pq)
}
