package storage

import (
	"context"
	"errors"
	"sync"
)

// Memory is an in-process Store for local runs and tests.
type Memory struct {
	mu    sync.Mutex
	users map[string]User
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{users: make(map[string]User)}
}

func (m *Memory) FindByChatID(_ context.Context, chatUserID string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[chatUserID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *Memory) UpsertByChatID(_ context.Context, chatUserID string, fields Fields) (*User, error) {
	if chatUserID == "" {
		return nil, errors.New("empty chat user id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[chatUserID]
	if !ok {
		u = User{ChatUserID: chatUserID}
	}
	fields.apply(&u, nowFunc().UTC())
	m.users[chatUserID] = u
	return cloneUser(u), nil
}

func (m *Memory) ListAll(_ context.Context) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, *cloneUser(u))
	}
	sortUsers(users)
	return users, nil
}

func (m *Memory) Close(context.Context) error { return nil }

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

func cloneUser(u User) *User {
	c := u
	if u.WalletAddress != nil {
		addr := *u.WalletAddress
		c.WalletAddress = &addr
	}
	if u.Transactions != nil {
		c.Transactions = append([]string(nil), u.Transactions...)
	}
	return &c
}
