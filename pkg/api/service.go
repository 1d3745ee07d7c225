package api

import (
	"context"
	"fmt"
	"time"

	"cdpdrive/internal/config"
	"cdpdrive/internal/logger"
	"cdpdrive/internal/netmgr"
	"cdpdrive/internal/session"
	"cdpdrive/internal/storage"
)

// Service 服务接口
type Service interface {
	// StartSession 连接 DevTools 端点并启动会话
	StartSession(ctx context.Context) (string, error)

	// StopSession 停止会话
	StopSession(id string) error

	// Network 返回会话的网络管理器
	Network(id string) (*netmgr.Manager, error)

	// SetInterception 启用或禁用请求拦截
	SetInterception(ctx context.Context, id string, enabled bool, patterns ...string) error

	// Authenticate 设置 HTTP 认证凭据
	Authenticate(ctx context.Context, id, username, password string) error

	// WaitForIdle 等待网络空闲
	WaitForIdle(ctx context.Context, id string) error

	// WaitForRequestURL 等待匹配的请求出现
	WaitForRequestURL(ctx context.Context, id, pattern string, timeout time.Duration) (*netmgr.Request, error)

	// WaitForResponseURL 等待匹配的响应出现
	WaitForResponseURL(ctx context.Context, id, pattern string, timeout time.Duration) (*netmgr.Response, error)

	// RecentRecords 返回最近归档的请求记录
	RecentRecords(n int) ([]storage.Record, error)

	// Close 停止全部会话并关闭归档库
	Close() error
}

type service struct {
	cfg      *config.Config
	log      logger.Logger
	registry *session.Registry
	archive  *storage.Archive
}

// NewService 创建并返回服务接口实现
func NewService(cfg *config.Config, l logger.Logger) (Service, error) {
	if l == nil {
		l = logger.NewNop()
	}
	archive, err := storage.Open(cfg.Sqlite.Dsn, l)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return &service{
		cfg:      cfg,
		log:      l,
		registry: session.NewRegistry(l),
		archive:  archive,
	}, nil
}

func (s *service) StartSession(ctx context.Context) (string, error) {
	sess := s.registry.Create(s.cfg)
	if err := sess.Attach(ctx); err != nil {
		s.registry.Delete(sess.ID())
		return "", err
	}
	s.archive.Attach(sess.Network())
	return sess.ID(), nil
}

func (s *service) StopSession(id string) error {
	if _, ok := s.registry.Get(id); !ok {
		return fmt.Errorf("unknown session %q", id)
	}
	s.registry.Delete(id)
	return nil
}

func (s *service) Network(id string) (*netmgr.Manager, error) {
	sess, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("unknown session %q", id)
	}
	return sess.Network(), nil
}

func (s *service) SetInterception(ctx context.Context, id string, enabled bool, patterns ...string) error {
	m, err := s.Network(id)
	if err != nil {
		return err
	}
	return m.SetRequestInterception(ctx, enabled, patterns...)
}

func (s *service) Authenticate(ctx context.Context, id, username, password string) error {
	m, err := s.Network(id)
	if err != nil {
		return err
	}
	if username == "" && password == "" {
		return m.Authenticate(ctx, nil)
	}
	return m.Authenticate(ctx, &netmgr.Credentials{Username: username, Password: password})
}

func (s *service) idleOptions() netmgr.IdleOptions {
	opts := netmgr.DefaultIdleOptions()
	if s.cfg.Idle.GlobalWaitMS > 0 {
		opts.GlobalWait = time.Duration(s.cfg.Idle.GlobalWaitMS) * time.Millisecond
	}
	if s.cfg.Idle.InflightIdleMS > 0 {
		opts.InflightIdle = time.Duration(s.cfg.Idle.InflightIdleMS) * time.Millisecond
	}
	opts.NumInflight = s.cfg.Idle.NumInflight
	return opts
}

func (s *service) WaitForIdle(ctx context.Context, id string) error {
	m, err := s.Network(id)
	if err != nil {
		return err
	}
	return m.WaitForIdle(ctx, s.idleOptions())
}

func (s *service) WaitForRequestURL(ctx context.Context, id, pattern string, timeout time.Duration) (*netmgr.Request, error) {
	m, err := s.Network(id)
	if err != nil {
		return nil, err
	}
	return m.WaitForRequestURL(ctx, pattern, timeout)
}

func (s *service) WaitForResponseURL(ctx context.Context, id, pattern string, timeout time.Duration) (*netmgr.Response, error) {
	m, err := s.Network(id)
	if err != nil {
		return nil, err
	}
	return m.WaitForResponseURL(ctx, pattern, timeout)
}

func (s *service) RecentRecords(n int) ([]storage.Record, error) {
	return s.archive.Recent(n)
}

func (s *service) Close() error {
	for _, sess := range s.registry.List() {
		s.registry.Delete(sess.ID())
	}
	return s.archive.Close()
}
