package store

import (
	"context"
	"path"
	"sync"

	"github.com/effective-security/xlog"
	"github.com/promptops/mcpagent/chatmodel"
	"github.com/promptops/mcpagent/pkg/llms"
)

type inMemory struct {
	mu      sync.RWMutex
	storage map[string][]llms.Message
}

func NewMemoryStore() MessageStore {
	return &inMemory{}
}

func storageKey(ctx context.Context) (string, error) {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return "", err
	}
	return path.Join(tenantID, chatID), nil
}

func (m *inMemory) Messages(ctx context.Context) []llms.Message {
	key, err := storageKey(ctx)
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR, "reason", "GetTenantAndChatID", "err", err.Error())
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.storage == nil {
		return nil
	}
	return m.storage[key]
}

func (m *inMemory) Add(ctx context.Context, msg llms.Message) error {
	key, err := storageKey(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storage == nil {
		// create on first use
		m.storage = make(map[string][]llms.Message)
	}
	m.storage[key] = append(m.storage[key], msg)
	return nil
}

func (m *inMemory) Reset(ctx context.Context) error {
	key, err := storageKey(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storage != nil {
		delete(m.storage, key)
	}
	return nil
}
