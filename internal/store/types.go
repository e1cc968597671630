// Package store is the durable message/user/conversation/settings tier.
// It follows the teacher's raw database/sql style
// (internal/shared/database/database.go) rather than GORM: the Store's
// idempotent-upsert and cursor-pagination queries are exactly the kind
// of "complex date logic" the teacher already drops to raw SQL for in
// internal/modules/saas/repositories/conversation_repo.go.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// MediaFilename derives a stable object-storage filename from kind,
// timestamp, and a short random suffix (spec.md §6 "Persisted state
// layout").
func MediaFilename(kind Kind, ts time.Time) string {
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("%s_%d_%s", kind, ts.Unix(), hex.EncodeToString(suffix))
}

// Status is the outbound delivery state of a Message.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// StatusRank gives the total order sending<sent<delivered<read used by
// the monotonicity rule in spec.md §3/§4.1. Failed is an absorbing
// sentinel ranked above read so it always wins, but a write carrying a
// non-failed status is never allowed to downgrade a failed row either
// -- MergeStatus's plain rank comparison gives both.
var StatusRank = map[Status]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
	StatusFailed:    99,
}

// MergeStatus implements spec.md §4.1 step 2: a write carrying a
// lower-ranked status than the current one is ignored.
func MergeStatus(current, incoming Status) (Status, bool) {
	if incoming == "" {
		return current, false
	}
	if current == "" {
		return incoming, true
	}
	if StatusRank[incoming] < StatusRank[current] {
		return current, false
	}
	return incoming, incoming != current
}

// Kind enumerates the Message.Kind domain from spec.md §3.
type Kind string

const (
	KindText               Kind = "text"
	KindImage              Kind = "image"
	KindAudio              Kind = "audio"
	KindVideo              Kind = "video"
	KindDocument           Kind = "document"
	KindSticker            Kind = "sticker"
	KindCatalogItem        Kind = "catalog_item"
	KindInteractiveProduct Kind = "interactive_product"
	KindInteractiveButtons Kind = "interactive_buttons"
	KindInteractiveList    Kind = "interactive_list"
	KindOrder              Kind = "order"
	KindReaction           Kind = "reaction"
	KindCatalogSet         Kind = "catalog_set"
)

// ReactionAction enumerates Message.ReactionAction.
type ReactionAction string

const (
	ReactionReact   ReactionAction = "react"
	ReactionUnreact ReactionAction = "unreact"
)

// ProductIdentifiers is the retailer/product/variant id triple carried
// on catalog-kind messages.
type ProductIdentifiers struct {
	RetailerID string `json:"retailer_id,omitempty"`
	ProductID  string `json:"product_id,omitempty"`
	VariantID  string `json:"variant_id,omitempty"`
}

// Message is the canonical conversational event (spec.md §3).
type Message struct {
	ID                       int64               `json:"id"`
	UpstreamID               string              `json:"upstream_id,omitempty"`
	TempID                   string              `json:"temp_id,omitempty"`
	UserID                   string              `json:"user_id"`
	Body                     string              `json:"body,omitempty"`
	Kind                     Kind                `json:"kind"`
	FromAgent                bool                `json:"from_agent"`
	Status                   Status              `json:"status"`
	Caption                  string              `json:"caption,omitempty"`
	Price                    string              `json:"price,omitempty"`
	MediaLocalPath           string              `json:"media_local_path,omitempty"`
	MediaPublicURL           string              `json:"media_public_url,omitempty"`
	ReplyToUpstreamID        string              `json:"reply_to_upstream_id,omitempty"`
	QuotedSnippet            string              `json:"quoted_snippet,omitempty"`
	ReactionTargetUpstreamID string              `json:"reaction_target_upstream_id,omitempty"`
	ReactionEmoji            string              `json:"reaction_emoji,omitempty"`
	ReactionAction           ReactionAction      `json:"reaction_action,omitempty"`
	Waveform                 []int               `json:"waveform,omitempty"`
	ProductIdentifiers       *ProductIdentifiers `json:"product_identifiers,omitempty"`
	ClientTS                 string              `json:"client_ts,omitempty"`
	ServerTS                 string              `json:"server_ts,omitempty"`
}

// User is a conversation counterpart (spec.md §3).
type User struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	IsAdmin     bool   `json:"is_admin"`
	LastSeen    string `json:"last_seen,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// Agent is an operator account. PasswordHash is PBKDF2-SHA256 in
// "salt$hex" format -- see internal/auth.
type Agent struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	DisplayName  string `json:"display_name,omitempty"`
	PasswordHash string `json:"-"`
	IsAdmin      bool   `json:"is_admin"`
}

// ConversationMeta is the per-user_id assignment/tag/avatar record.
type ConversationMeta struct {
	UserID        string   `json:"user_id"`
	AssignedAgent string   `json:"assigned_agent,omitempty"`
	Tags          []string `json:"tags"`
	AvatarURL     string   `json:"avatar_url,omitempty"`
}

// OrderStatus is the payout lifecycle of an Order.
type OrderStatus string

const (
	OrderPayout   OrderStatus = "payout"
	OrderArchived OrderStatus = "archived"
)

// Order is the payout-lifecycle record (spec.md §3; not the
// e-commerce backend's order -- that is an external collaborator).
type Order struct {
	OrderID   string      `json:"order_id"`
	Status    OrderStatus `json:"status"`
	CreatedAt string      `json:"created_at"`
}

// ConversationSummary is one row of list_conversations (spec.md §4.1).
type ConversationSummary struct {
	UserID             string   `json:"user_id"`
	DisplayName        string   `json:"display_name,omitempty"`
	LastMessageBody    string   `json:"last_message_body,omitempty"`
	LastMessageTime    string   `json:"last_message_time,omitempty"`
	UnreadCount        int      `json:"unread_count"`
	UnrespondedCount   int      `json:"unresponded_count"`
	AssignedAgent      string   `json:"assigned_agent,omitempty"`
	Tags               []string `json:"tags"`
}

// ConversationFilter is the filter set accepted by ListConversations.
type ConversationFilter struct {
	Query            string   // substring match on name/user_id
	UnreadOnly       bool
	AssignedAgent    string   // "" = no filter, "unassigned" = sentinel
	Tags             []string // superset match
	UnrespondedOnly  bool
}

var (
	// ErrNotFound is returned by lookups with no matching row.
	ErrNotFound = errors.New("store: not found")
	// ErrMissingUserID is returned when a Message lacks user_id.
	ErrMissingUserID = errors.New("store: message missing user_id")
)

// Store is the durable persistence contract; Postgres and embedded
// SQLite backends both satisfy it (spec.md §4.1).
type Store interface {
	UpsertMessage(ctx context.Context, msg *Message) (*Message, error)
	GetMessages(ctx context.Context, userID string, offset, limit int) ([]Message, error)
	GetMessagesSince(ctx context.Context, userID, ts string, limit int) ([]Message, error)
	GetMessagesBefore(ctx context.Context, userID, ts string, limit int) ([]Message, error)
	UpdateStatus(ctx context.Context, upstreamID string, status Status) (*Message, error)
	GetUserForMessage(ctx context.Context, upstreamID string) (string, error)
	UpsertUser(ctx context.Context, u *User) (*User, error)
	MarkRead(ctx context.Context, userID string, ids []string, all bool) error
	// ListAdmins returns user_id for every User with is_admin=true, for
	// the Connection Registry's broadcast_to_admins (spec.md §4.4).
	ListAdmins(ctx context.Context) ([]string, error)

	ListConversations(ctx context.Context, f ConversationFilter) ([]ConversationSummary, error)
	GetConversationMeta(ctx context.Context, userID string) (*ConversationMeta, error)
	SetConversationMeta(ctx context.Context, meta *ConversationMeta) error

	CreateAgent(ctx context.Context, a *Agent) (*Agent, error)
	GetAgentByUsername(ctx context.Context, username string) (*Agent, error)
	ListAgents(ctx context.Context) ([]Agent, error)
	DeleteAgent(ctx context.Context, username string) error

	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error

	UpsertOrder(ctx context.Context, o *Order) error
	MarkOrderDelivered(ctx context.Context, orderID string) error
	MarkOrderPaid(ctx context.Context, orderID string) error
	ListPayouts(ctx context.Context) ([]Order, error)
	ListArchive(ctx context.Context) ([]Order, error)

	// LastAgentMessageTime returns MAX(COALESCE(server_ts, client_ts))
	// over outbound rows for userID, or "" if none exist.
	LastAgentMessageTime(ctx context.Context, userID string) (string, error)
	// HasInvoiceMessage scans for a prior outbound image whose caption
	// contains the invoice marker (spec supplement #4).
	HasInvoiceMessage(ctx context.Context, userID, captionMarker string) (bool, error)
	// UnrespondedCount counts inbound messages newer than the last
	// outbound message for userID.
	UnrespondedCount(ctx context.Context, userID string) (int, error)

	Close() error
}
