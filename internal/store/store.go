package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a user in the system.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsGuest      bool
	SessionID    string // For guest user session tracking
	CreatedAt    time.Time
}

// ConversationType defines different types of conversations.
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// Conversation represents a chat conversation. Its ID doubles as the room id
// on the realtime side.
type Conversation struct {
	ID        string
	Name      string
	Type      ConversationType
	DirectKey *string // for direct conversations: "dm:{minIdentity}:{maxIdentity}"
	CreatedAt time.Time
}

// Message represents a persisted chat message. Sender is the opaque identity
// used by the realtime layer, not a numeric user id.
type Message struct {
	ID             int64
	ConversationID string
	Sender         string
	Body           string
	ContentType    string
	CreatedAt      time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// CreateGuestUser creates a temporary guest user with session ID.
	CreateGuestUser(ctx context.Context, sessionID string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// ConversationStore handles conversation persistence. Membership lives here;
// the realtime core never owns it, it only trusts room ids handed to clients.
type ConversationStore interface {
	// CreateGroup creates a group conversation with the given members.
	CreateGroup(ctx context.Context, name string, members []string) (*Conversation, error)

	// CreateDirect returns the direct conversation between two identities,
	// creating it on first use. Deduplicated via the direct key.
	CreateDirect(ctx context.Context, a, b string) (*Conversation, error)

	// GetConversation retrieves a conversation by ID.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations lists conversations the identity is a member of.
	ListConversations(ctx context.Context, identity string) ([]*Conversation, error)

	// IsMember checks membership of an identity in a conversation.
	IsMember(ctx context.Context, conversationID, identity string) (bool, error)

	// ListMembers lists member identities of a conversation.
	ListMembers(ctx context.Context, conversationID string) ([]string, error)
}

// MessageStore handles message persistence. Live fan-out is best-effort;
// this is the durable path offline members read from.
type MessageStore interface {
	// SaveMessage persists a message and fills in its ID and CreatedAt.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListMessages retrieves messages from a conversation, newest first.
	// If beforeID is provided, returns messages older than that ID.
	ListMessages(ctx context.Context, conversationID string, limit int, beforeID *int64) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ConversationStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
