package state

import (
	"context"
	"fmt"
	"sync"

	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
)

var _ StateManager = &InMemoryStateManager{}

type InMemoryStateManager struct {
	lock    sync.RWMutex
	session *gametypes.GameSession
}

func NewInMemoryStateManager() *InMemoryStateManager {
	return &InMemoryStateManager{}
}

func (m *InMemoryStateManager) Get(ctx context.Context) (*gametypes.GameSession, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.session.Copy(), nil
}

func (m *InMemoryStateManager) Set(ctx context.Context, session *gametypes.GameSession) error {
	if session == nil {
		return fmt.Errorf("game session is nil")
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	m.session = session.Copy()
	return nil
}
