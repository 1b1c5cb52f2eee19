package chatmodel

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
	"github.com/google/uuid"
)

var (
	// ErrInvalidChatContext is returned when a chat-scoped operation is
	// invoked on a context that does not carry a ChatContext.
	ErrInvalidChatContext = errors.New("invalid chat context")
)

// ChatContext is the conversation-scoped context carried through a run.
// It contains the tenant ID, the chat ID, and optional app data.
type ChatContext interface {
	GetTenantID() string
	GetChatID() string
	SetChatID(chatID string)
	// AppData returns immutable app data
	AppData() any
	// GetMetadata retrieves metadata by key
	GetMetadata(key string) (value any, ok bool)
	// SetMetadata sets metadata by key
	SetMetadata(key string, value any)
}

type chatContext struct {
	tenantID string
	chatID   string
	metadata sync.Map
	appData  any
}

func (c *chatContext) GetTenantID() string {
	return c.tenantID
}

func (c *chatContext) GetChatID() string {
	return c.chatID
}

func (c *chatContext) SetChatID(chatID string) {
	c.chatID = chatID
}

func (c *chatContext) AppData() any {
	return c.appData
}

func (c *chatContext) GetMetadata(key string) (value any, ok bool) {
	return c.metadata.Load(key)
}

func (c *chatContext) SetMetadata(key string, value any) {
	c.metadata.Store(key, value)
}

func NewChatContext(chatID, tenantID string, appData any) ChatContext {
	return &chatContext{
		tenantID: values.StringsCoalesce(tenantID, "default"),
		chatID:   values.StringsCoalesce(chatID, NewChatID()),
		appData:  appData,
	}
}

type contextKey int

const (
	keyContext contextKey = iota
)

// WithChatContext returns a new context with ChatContext value
func WithChatContext(ctx context.Context, chatCtx ChatContext) context.Context {
	return context.WithValue(ctx, keyContext, chatCtx)
}

// GetChatContext retrieves the ChatContext from the context
func GetChatContext(ctx context.Context) ChatContext {
	if v, ok := ctx.Value(keyContext).(ChatContext); ok {
		return v
	}
	return nil
}

// GetChatID retrieves the chat ID from the provided context.
// If the context does not contain a ChatContext, it returns an empty string.
func GetChatID(ctx context.Context) string {
	if v, ok := ctx.Value(keyContext).(ChatContext); ok {
		return v.GetChatID()
	}
	return ""
}

// GetTenantAndChatID retrieves the tenant and chat IDs from the provided
// context, or ErrInvalidChatContext if the context carries none.
func GetTenantAndChatID(ctx context.Context) (tenantID string, chatID string, err error) {
	v, ok := ctx.Value(keyContext).(ChatContext)
	if !ok {
		return "", "", errors.WithStack(ErrInvalidChatContext)
	}
	return v.GetTenantID(), v.GetChatID(), nil
}

// SetChatID updates the chat ID on the ChatContext carried by ctx.
func SetChatID(ctx context.Context, chatID string) (context.Context, error) {
	v, ok := ctx.Value(keyContext).(ChatContext)
	if !ok {
		return ctx, errors.WithStack(ErrInvalidChatContext)
	}
	v.SetChatID(chatID)
	return ctx, nil
}

// NewChatID generates a new chat ID.
func NewChatID() string {
	return uuid.NewString()
}
