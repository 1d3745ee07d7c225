package session

import (
	"sync"

	"github.com/google/uuid"

	"cdpdrive/internal/config"
	"cdpdrive/internal/logger"
)

// Registry 全局会话注册表
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	log      logger.Logger
}

// NewRegistry 创建会话注册表
func NewRegistry(l logger.Logger) *Registry {
	if l == nil {
		l = logger.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		log:      l,
	}
}

// Create 创建并注册新会话
func (r *Registry) Create(cfg *config.Config) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	s := New(id, cfg, r.log)
	r.sessions[id] = s
	r.log.Info("创建调试会话", "sessionID", id)
	return s
}

// Get 获取会话
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Delete 关闭并销毁会话
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		if err := s.Close(); err != nil {
			r.log.Err(err, "关闭会话出错", "sessionID", id)
		}
		r.log.Info("销毁调试会话", "sessionID", id)
	}
}

// List 返回所有活动会话
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	return list
}
