package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/rpcc"
	"golang.org/x/sync/errgroup"

	"cdpdrive/internal/config"
	"cdpdrive/internal/logger"
	"cdpdrive/internal/netmgr"
	"cdpdrive/internal/protocol"
)

// Session 一个浏览器目标上的调试会话：连接、网络管理器与事件分发循环
type Session struct {
	id  string
	cfg *config.Config
	log logger.Logger

	conn   *rpcc.Conn
	client *cdp.Client
	mgr    *netmgr.Manager

	cancel context.CancelFunc
	eg     *errgroup.Group
}

// New 创建未连接的会话
func New(id string, cfg *config.Config, l logger.Logger) *Session {
	if l == nil {
		l = logger.NewNop()
	}
	return &Session{id: id, cfg: cfg, log: l}
}

// ID 返回会话标识
func (s *Session) ID() string { return s.id }

// Network 返回网络管理器，Attach 之前为 nil
func (s *Session) Network() *netmgr.Manager { return s.mgr }

// Attach 连接 DevTools 端点并绑定目标页面，随后启动事件分发循环。
// 目标列表查询带指数退避重试，浏览器刚启动时端点尚未就绪是常态。
func (s *Session) Attach(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	target, err := s.resolveTarget(ctx)
	if err != nil {
		cancel()
		return err
	}
	s.log.Info("绑定调试目标", "id", target.ID, "url", target.URL)

	conn, err := rpcc.DialContext(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		cancel()
		return fmt.Errorf("dial %s: %w", target.WebSocketDebuggerURL, err)
	}
	s.conn = conn
	s.client = cdp.NewClient(conn)

	mode := netmgr.ModeModern
	if s.cfg.DevTools.InterceptMode == "legacy" {
		mode = netmgr.ModeLegacy
	}
	s.mgr = netmgr.NewManager(ctx, protocol.NewConnSender(conn),
		netmgr.WithLogger(s.log),
		netmgr.WithMode(mode),
		netmgr.WithProcessTimeout(time.Duration(s.cfg.DevTools.ProcessTimeoutMS)*time.Millisecond),
	)

	eg, egCtx := errgroup.WithContext(ctx)
	s.eg = eg
	eg.Go(func() error { return s.dispatch(egCtx) })

	if err := s.mgr.Init(ctx); err != nil {
		s.Close()
		return err
	}
	return nil
}

func (s *Session) resolveTarget(ctx context.Context) (*devtool.Target, error) {
	dt := devtool.New(s.cfg.DevTools.URL)
	var targets []*devtool.Target
	op := func() error {
		var err error
		targets, err = dt.List(ctx)
		return err
	}
	notify := func(err error, next time.Duration) {
		s.log.Warn("DevTools 端点未就绪，稍后重试", "err", err.Error(), "next", next.String())
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}

	want := s.cfg.DevTools.Target
	for _, t := range targets {
		if t.Type != devtool.Page {
			continue
		}
		if want == "" || string(t.ID) == want {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no page target matching %q", want)
}

// dispatch 打开全部事件流并在单协程内串行分发给网络管理器。
// rpcc.Sync 保证各流之间保持协议事件的原始顺序。
func (s *Session) dispatch(ctx context.Context) error {
	c := s.client

	willBeSent, err := c.Network.RequestWillBeSent(ctx)
	if err != nil {
		return err
	}
	defer willBeSent.Close()
	intercepted, err := c.Network.RequestIntercepted(ctx)
	if err != nil {
		return err
	}
	defer intercepted.Close()
	servedFromCache, err := c.Network.RequestServedFromCache(ctx)
	if err != nil {
		return err
	}
	defer servedFromCache.Close()
	responseReceived, err := c.Network.ResponseReceived(ctx)
	if err != nil {
		return err
	}
	defer responseReceived.Close()
	loadingFinished, err := c.Network.LoadingFinished(ctx)
	if err != nil {
		return err
	}
	defer loadingFinished.Close()
	loadingFailed, err := c.Network.LoadingFailed(ctx)
	if err != nil {
		return err
	}
	defer loadingFailed.Close()
	requestPaused, err := c.Fetch.RequestPaused(ctx)
	if err != nil {
		return err
	}
	defer requestPaused.Close()
	authRequired, err := c.Fetch.AuthRequired(ctx)
	if err != nil {
		return err
	}
	defer authRequired.Close()

	err = rpcc.Sync(willBeSent, intercepted, servedFromCache, responseReceived,
		loadingFinished, loadingFailed, requestPaused, authRequired)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-willBeSent.Ready():
			ev, err := willBeSent.Recv()
			if err != nil {
				return err
			}
			s.mgr.HandleRequestWillBeSent(ev)
		case <-intercepted.Ready():
			ev, err := intercepted.Recv()
			if err != nil {
				return err
			}
			s.mgr.HandleRequestIntercepted(ev)
		case <-servedFromCache.Ready():
			ev, err := servedFromCache.Recv()
			if err != nil {
				return err
			}
			s.mgr.HandleRequestServedFromCache(ev)
		case <-responseReceived.Ready():
			ev, err := responseReceived.Recv()
			if err != nil {
				return err
			}
			s.mgr.HandleResponseReceived(ev)
		case <-loadingFinished.Ready():
			ev, err := loadingFinished.Recv()
			if err != nil {
				return err
			}
			s.mgr.HandleLoadingFinished(ev)
		case <-loadingFailed.Ready():
			ev, err := loadingFailed.Recv()
			if err != nil {
				return err
			}
			s.mgr.HandleLoadingFailed(ev)
		case <-requestPaused.Ready():
			ev, err := requestPaused.Recv()
			if err != nil {
				return err
			}
			s.mgr.HandleRequestPaused(ev)
		case <-authRequired.Ready():
			ev, err := authRequired.Recv()
			if err != nil {
				return err
			}
			s.mgr.HandleAuthRequired(ev)
		}
	}
}

// Close 断开连接并等待分发循环退出
func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	var err error
	if s.conn != nil {
		err = s.conn.Close()
	}
	if s.eg != nil {
		if werr := s.eg.Wait(); werr != nil && err == nil && !errors.Is(werr, context.Canceled) {
			err = werr
		}
	}
	return err
}
