package netmgr

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/mafredri/cdp/protocol/network"

	"cdpdrive/internal/logger"
	"cdpdrive/internal/protocol"
)

// Mode selects which protocol facility pauses requests when interception is
// enabled. The choice is made at construction and never changes for the
// lifetime of the manager.
type Mode int

const (
	// ModeModern uses the Fetch domain. Pause events carry the network
	// request id, making correlation exact.
	ModeModern Mode = iota
	// ModeLegacy uses Network.setRequestInterception, pairing pause events
	// with requests by a content hash.
	ModeLegacy
)

func (m Mode) String() string {
	if m == ModeLegacy {
		return "legacy"
	}
	return "modern"
}

// Credentials answer HTTP auth challenges.
type Credentials struct {
	Username string
	Password string
}

// IsEmpty reports whether both fields are blank.
func (c *Credentials) IsEmpty() bool {
	return c == nil || (c.Username == "" && c.Password == "")
}

// NetworkConditions describe emulated link characteristics. Throughput is in
// bytes per second; -1 disables the respective limit.
type NetworkConditions struct {
	Offline  bool
	Latency  float64
	Download float64
	Upload   float64
}

const defaultProcessTimeout = 40 * time.Second

// Manager owns the network state of one browser target: the live request
// table, interception, auth arbitration, cookies and emulation settings.
// Protocol events must be fed to the Handle* methods from a single
// goroutine; every other method is safe for concurrent use.
type Manager struct {
	ctx    context.Context
	sender protocol.Sender
	log    logger.Logger
	mode   Mode

	fetch *fetchAdapter
	strat interceptor
	bus   *eventBus

	processTimeout time.Duration

	mu            sync.Mutex
	requests      map[network.RequestID]*Request
	pendingChains map[network.RequestID][]*Request
	legacyCorr    *legacyCorrelator
	modernCorr    *modernCorrelator

	attemptedAuth map[string]bool
	credentials   *Credentials

	extraHTTPHeaders map[string]string
	conditions       NetworkConditions

	userCacheEnabled            bool
	userInterceptionEnabled     bool
	protocolInterceptionEnabled bool
	protocolAuthEnabled         bool
	patterns                    []string
	appliedPatterns             []string
}

// Option configures a Manager.
type Option func(*Manager)

// WithMode selects the interception strategy.
func WithMode(mode Mode) Option {
	return func(m *Manager) { m.mode = mode }
}

// WithLogger sets the manager logger.
func WithLogger(log logger.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithProcessTimeout bounds internally issued commands that have no caller
// context, such as the auto-continue of unmatched pauses.
func WithProcessTimeout(d time.Duration) Option {
	return func(m *Manager) { m.processTimeout = d }
}

// NewManager builds a manager over the given command sender. ctx bounds the
// manager lifetime; internal commands are cancelled with it.
func NewManager(ctx context.Context, sender protocol.Sender, opts ...Option) *Manager {
	m := &Manager{
		ctx:              ctx,
		sender:           sender,
		log:              logger.NewNop(),
		bus:              newEventBus(),
		processTimeout:   defaultProcessTimeout,
		requests:         make(map[network.RequestID]*Request),
		pendingChains:    make(map[network.RequestID][]*Request),
		legacyCorr:       newLegacyCorrelator(),
		modernCorr:       newModernCorrelator(),
		attemptedAuth:    make(map[string]bool),
		userCacheEnabled: true,
	}
	for _, o := range opts {
		o(m)
	}
	m.fetch = newFetchAdapter(sender, m.log)
	if m.mode == ModeLegacy {
		m.strat = &legacyInterceptor{mgr: m}
	} else {
		m.strat = &modernInterceptor{fetch: m.fetch}
	}
	return m
}

// Mode returns the interception strategy chosen at construction.
func (m *Manager) Mode() Mode { return m.mode }

func (m *Manager) interceptor() interceptor { return m.strat }

// Init enables network tracking on the target. It must be called before any
// events arrive.
func (m *Manager) Init(ctx context.Context) error {
	return m.sender.Send(ctx, "Network.enable", nil, nil)
}

// commandContext derives a context for commands issued from event handlers,
// which have no caller context to inherit.
func (m *Manager) commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(m.ctx, m.processTimeout)
}

// sendQuiet issues a command whose failure cannot be surfaced to a caller.
// Errors are logged and swallowed; stale-context failures are expected during
// navigation and demoted to debug.
func (m *Manager) sendQuiet(method string, args any) {
	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.processTimeout)
		defer cancel()
		if err := m.sender.Send(ctx, method, args, nil); err != nil {
			if protocol.IsStaleContext(err) {
				m.log.Debug("command raced a navigation", "method", method, "err", err.Error())
				return
			}
			m.log.Err(err, "background command failed", "method", method)
		}
	}()
}

// SetRequestInterception enables or disables request interception. When
// enabled, every matching request must be settled exactly once with
// Continue, Respond or Abort. Patterns use the protocol's URL glob syntax;
// none means intercept everything.
func (m *Manager) SetRequestInterception(ctx context.Context, enabled bool, patterns ...string) error {
	m.mu.Lock()
	m.userInterceptionEnabled = enabled
	if enabled {
		m.patterns = patterns
	} else {
		m.patterns = nil
	}
	flushed, err := m.updateProtocolRequestInterception(ctx)
	m.mu.Unlock()
	for _, req := range flushed {
		m.bus.emit(EventRequest, req)
	}
	return err
}

// Authenticate installs credentials for HTTP auth challenges. Passing nil
// removes them. Each unique challenge is answered with the credentials once;
// a repeat of the same challenge means they were rejected and is cancelled
// to break the retry loop.
func (m *Manager) Authenticate(ctx context.Context, creds *Credentials) error {
	m.mu.Lock()
	m.credentials = creds
	flushed, err := m.updateProtocolRequestInterception(ctx)
	m.mu.Unlock()
	for _, req := range flushed {
		m.bus.emit(EventRequest, req)
	}
	return err
}

// updateProtocolRequestInterception reconciles the protocol interception
// state with what the user asked for. Interception at the protocol level is
// needed when the user intercepts or when credentials must answer auth
// challenges, and it requires the cache to be off. Changing the pattern set
// while enabled tears the old session down and brings up a new one.
//
// Callers hold m.mu and must emit EventRequest for the returned requests
// after unlocking; those are buffered requests whose pause partner can no
// longer arrive once the old interception session is gone.
func (m *Manager) updateProtocolRequestInterception(ctx context.Context) ([]*Request, error) {
	enabled := m.userInterceptionEnabled || m.credentials != nil
	wantAuth := m.credentials != nil
	if enabled == m.protocolInterceptionEnabled && wantAuth == m.protocolAuthEnabled &&
		(!enabled || slices.Equal(m.patterns, m.appliedPatterns)) {
		return nil, nil
	}
	var flushed []*Request
	if m.protocolInterceptionEnabled {
		if err := m.strat.disable(ctx); err != nil {
			return nil, err
		}
		m.protocolInterceptionEnabled = false
		flushed = m.flushCorrelatorsLocked()
	}
	if !enabled {
		m.protocolAuthEnabled = false
		m.appliedPatterns = nil
		return flushed, m.setCacheDisabled(ctx, !m.userCacheEnabled)
	}
	if err := m.setCacheDisabled(ctx, true); err != nil {
		return flushed, err
	}
	if err := m.strat.enable(ctx, m.patterns, wantAuth); err != nil {
		return flushed, err
	}
	m.protocolInterceptionEnabled = true
	m.protocolAuthEnabled = wantAuth
	m.appliedPatterns = slices.Clone(m.patterns)
	return flushed, nil
}

// flushCorrelatorsLocked starts every buffered requestWillBeSent whose pause
// partner will never arrive and drops all correlation state. The returned
// requests are no longer actionable. Callers hold m.mu.
func (m *Manager) flushCorrelatorsLocked() []*Request {
	var events []*network.RequestWillBeSentReply
	if m.mode == ModeLegacy {
		events = m.legacyCorr.drainSent()
	} else {
		events = m.modernCorr.drainSent()
	}
	out := make([]*Request, 0, len(events))
	for _, ev := range events {
		chain := m.takePendingChainLocked(ev.RequestID)
		req := m.startRequestLocked(ev, "", chain)
		req.allowInterception = false
		out = append(out, req)
	}
	m.legacyCorr.reset()
	m.modernCorr.reset()
	m.pendingChains = make(map[network.RequestID][]*Request)
	return out
}

// SetCacheEnabled toggles the browser cache. While interception is active
// the cache stays off regardless; the requested state is applied once
// interception ends.
func (m *Manager) SetCacheEnabled(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userCacheEnabled = enabled
	if m.protocolInterceptionEnabled {
		return nil
	}
	return m.setCacheDisabled(ctx, !enabled)
}

func (m *Manager) setCacheDisabled(ctx context.Context, disabled bool) error {
	args := struct {
		CacheDisabled bool `json:"cacheDisabled"`
	}{CacheDisabled: disabled}
	return m.sender.Send(ctx, "Network.setCacheDisabled", args, nil)
}

// SetOfflineMode toggles offline emulation, preserving the other emulated
// link characteristics.
func (m *Manager) SetOfflineMode(ctx context.Context, offline bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conditions.Offline == offline {
		return nil
	}
	cond := m.conditions
	cond.Offline = offline
	return m.emulateConditions(ctx, cond)
}

// EmulateNetworkConditions replaces the emulated link characteristics.
func (m *Manager) EmulateNetworkConditions(ctx context.Context, cond NetworkConditions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emulateConditions(ctx, cond)
}

func (m *Manager) emulateConditions(ctx context.Context, cond NetworkConditions) error {
	args := struct {
		Offline            bool    `json:"offline"`
		Latency            float64 `json:"latency"`
		DownloadThroughput float64 `json:"downloadThroughput"`
		UploadThroughput   float64 `json:"uploadThroughput"`
	}{
		Offline:            cond.Offline,
		Latency:            cond.Latency,
		DownloadThroughput: cond.Download,
		UploadThroughput:   cond.Upload,
	}
	if err := m.sender.Send(ctx, "Network.emulateNetworkConditions", args, nil); err != nil {
		return err
	}
	m.conditions = cond
	return nil
}

// SetUserAgent overrides the user agent for requests from this target.
func (m *Manager) SetUserAgent(ctx context.Context, ua string) error {
	args := struct {
		UserAgent string `json:"userAgent"`
	}{UserAgent: ua}
	return m.sender.Send(ctx, "Network.setUserAgentOverride", args, nil)
}

// SetExtraHTTPHeaders attaches headers to every outgoing request. Values
// must be strings; the protocol silently mangles anything else.
func (m *Manager) SetExtraHTTPHeaders(ctx context.Context, headers map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make(map[string]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}
	args := struct {
		Headers map[string]string `json:"headers"`
	}{Headers: copied}
	if err := m.sender.Send(ctx, "Network.setExtraHTTPHeaders", args, nil); err != nil {
		return err
	}
	m.extraHTTPHeaders = copied
	return nil
}

// ExtraHTTPHeaders returns the headers last applied with
// SetExtraHTTPHeaders.
func (m *Manager) ExtraHTTPHeaders() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.extraHTTPHeaders))
	for k, v := range m.extraHTTPHeaders {
		out[k] = v
	}
	return out
}

// CookieParam describes a cookie to store.
type CookieParam struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	URL      string  `json:"url,omitempty"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
}

// CookieSelector identifies cookies to delete. Name is required; URL or
// Domain/Path narrow the match.
type CookieSelector struct {
	Name   string `json:"name"`
	URL    string `json:"url,omitempty"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

// GetAllCookies returns every cookie in the browser jar, across all URLs.
func (m *Manager) GetAllCookies(ctx context.Context) ([]*Cookie, error) {
	var reply struct {
		Cookies []network.Cookie `json:"cookies"`
	}
	if err := m.sender.Send(ctx, "Network.getAllCookies", nil, &reply); err != nil {
		return nil, err
	}
	return m.wrapCookies(reply.Cookies), nil
}

// GetCookies returns the cookies that would be sent for the given URLs, or
// for the current page when none are given.
func (m *Manager) GetCookies(ctx context.Context, urls ...string) ([]*Cookie, error) {
	args := struct {
		URLs []string `json:"urls,omitempty"`
	}{URLs: urls}
	var reply struct {
		Cookies []network.Cookie `json:"cookies"`
	}
	if err := m.sender.Send(ctx, "Network.getCookies", args, &reply); err != nil {
		return nil, err
	}
	return m.wrapCookies(reply.Cookies), nil
}

func (m *Manager) wrapCookies(cs []network.Cookie) []*Cookie {
	out := make([]*Cookie, len(cs))
	for i, c := range cs {
		out[i] = &Cookie{mgr: m, c: c}
	}
	return out
}

// SetCookie stores one cookie and reports whether the browser accepted it.
func (m *Manager) SetCookie(ctx context.Context, p CookieParam) (bool, error) {
	if p.Name == "" {
		return false, usageErrorf("set cookie: name is required")
	}
	if p.URL == "" && p.Domain == "" {
		return false, usageErrorf("set cookie: either url or domain is required")
	}
	var reply struct {
		Success bool `json:"success"`
	}
	if err := m.sender.Send(ctx, "Network.setCookie", p, &reply); err != nil {
		return false, err
	}
	return reply.Success, nil
}

// SetCookies stores several cookies in one command.
func (m *Manager) SetCookies(ctx context.Context, params []CookieParam) error {
	for _, p := range params {
		if p.Name == "" {
			return usageErrorf("set cookies: name is required")
		}
		if p.URL == "" && p.Domain == "" {
			return usageErrorf("set cookies: either url or domain is required for %q", p.Name)
		}
	}
	args := struct {
		Cookies []CookieParam `json:"cookies"`
	}{Cookies: params}
	return m.sender.Send(ctx, "Network.setCookies", args, nil)
}

// DeleteCookies removes the cookies matching the selector.
func (m *Manager) DeleteCookies(ctx context.Context, sel CookieSelector) error {
	if sel.Name == "" {
		return usageErrorf("delete cookies: name is required")
	}
	return m.sender.Send(ctx, "Network.deleteCookies", sel, nil)
}

// DeleteCookie removes a cookie by name for the given URL.
func (m *Manager) DeleteCookie(ctx context.Context, name, url string) error {
	return m.DeleteCookies(ctx, CookieSelector{Name: name, URL: url})
}

// DeleteCookieString removes cookies given in "name=value" header shorthand,
// one delete per name. The URL narrows the match and may be empty.
func (m *Manager) DeleteCookieString(ctx context.Context, cookies, url string) error {
	parsed := protocol.ParseCookieHeader(cookies)
	if len(parsed) == 0 {
		return usageErrorf("delete cookie: no name=value pairs in %q", cookies)
	}
	for name := range parsed {
		if err := m.DeleteCookies(ctx, CookieSelector{Name: name, URL: url}); err != nil {
			return err
		}
	}
	return nil
}

// ClearBrowserCookies empties the browser cookie jar.
func (m *Manager) ClearBrowserCookies(ctx context.Context) error {
	return m.sender.Send(ctx, "Network.clearBrowserCookies", nil, nil)
}

// ClearBrowserCache empties the browser cache.
func (m *Manager) ClearBrowserCache(ctx context.Context) error {
	return m.sender.Send(ctx, "Network.clearBrowserCache", nil, nil)
}

// Requests returns a snapshot of the in-flight request table.
func (m *Manager) Requests() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Request, 0, len(m.requests))
	for _, r := range m.requests {
		out = append(out, r)
	}
	return out
}

// InflightCount returns the number of requests started but not yet finished
// or failed.
func (m *Manager) InflightCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
