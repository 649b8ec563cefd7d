package session

import (
	"sort"
	"sync"

	"cdpwatch/internal/logger"
	"cdpwatch/pkg/model"
)

// Manager 全局会话管理器
type Manager struct {
	mu       sync.RWMutex
	sessions map[model.SessionID]*Session
	log      logger.Logger
}

// NewManager 创建会话管理器
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[model.SessionID]*Session),
		log:      l,
	}
}

// Add 注册会话，同 ID 的旧会话会被替换并返回
func (m *Manager) Add(s *Session) (replaced *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	replaced = m.sessions[s.ID()]
	m.sessions[s.ID()] = s
	m.log.Info("创建业务会话", "sessionID", string(s.ID()))
	return replaced
}

// Get 获取会话
func (m *Manager) Get(id model.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete 移除并返回会话，不负责关闭
func (m *Manager) Delete(id model.SessionID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		m.log.Info("销毁业务会话", "sessionID", string(id))
	}
	return s, ok
}

// List 返回所有活动会话，按 ID 排序
func (m *Manager) List() []*Session {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
	return list
}
