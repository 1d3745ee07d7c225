package netmgr

import (
	"fmt"
	"strings"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"

	"cdpdrive/internal/protocol"
)

// The Handle* methods consume protocol events. They must all be called from
// one goroutine; the session dispatcher satisfies this by draining every
// event stream in a single loop. Each handler mutates state under m.mu and
// emits bus events only after releasing it, so listeners may call back into
// the manager.

// HandleRequestWillBeSent consumes Network.requestWillBeSent. Depending on
// interception state the request either starts immediately or waits for its
// pause-event partner.
func (m *Manager) HandleRequestWillBeSent(ev *network.RequestWillBeSentReply) {
	m.mu.Lock()

	var chain []*Request
	var redirected *Request
	if ev.RedirectResponse != nil {
		if prev, ok := m.requests[ev.RequestID]; ok {
			m.closeRedirectLocked(prev, ev.RedirectResponse)
			redirected = prev
			chain = append(chain, prev.redirectChain...)
			chain = append(chain, prev)
		}
	}

	if !m.protocolInterceptionEnabled || m.interceptionBypassedLocked(ev.Request.URL) {
		req := m.startRequestLocked(ev, "", chain)
		if m.protocolInterceptionEnabled {
			// No pause partner will ever arrive; the request is not
			// actionable either.
			req.allowInterception = false
		}
		m.mu.Unlock()
		m.emitRedirect(redirected)
		m.bus.emit(EventRequest, req)
		return
	}

	var interceptionID string
	var paired bool
	if m.mode == ModeLegacy {
		interceptionID, paired = m.legacyCorr.observeSent(ev)
	} else {
		var fid fetch.RequestID
		fid, paired = m.modernCorr.observeSent(ev)
		interceptionID = string(fid)
	}
	if !paired {
		// Buffered until the pause event arrives. The redirect close-out
		// still goes out now.
		if redirected != nil {
			if chain != nil {
				m.pendingChains[ev.RequestID] = chain
			}
			m.mu.Unlock()
			m.emitRedirect(redirected)
			return
		}
		m.mu.Unlock()
		return
	}

	req := m.startRequestLocked(ev, interceptionID, chain)
	autoContinue := !m.userInterceptionEnabled
	m.mu.Unlock()

	m.emitRedirect(redirected)
	if autoContinue {
		m.autoContinue(interceptionID)
	}
	m.bus.emit(EventRequest, req)
}

// HandleRequestIntercepted consumes Network.requestIntercepted, the legacy
// pause event. Auth challenges are answered inline; plain pauses are paired
// with their requestWillBeSent partner by content hash.
func (m *Manager) HandleRequestIntercepted(ev *network.RequestInterceptedReply) {
	if ev.AuthChallenge != nil {
		m.mu.Lock()
		response, creds := m.arbitrateAuthLocked(string(ev.InterceptionID))
		m.mu.Unlock()
		args := continueInterceptedArgs{
			InterceptionID:        string(ev.InterceptionID),
			AuthChallengeResponse: &authChallengeResponse{Response: response},
		}
		if creds != nil {
			args.AuthChallengeResponse.Username = creds.Username
			args.AuthChallengeResponse.Password = creds.Password
		}
		m.sendQuiet("Network.continueInterceptedRequest", args)
		return
	}

	m.mu.Lock()
	sent, paired := m.legacyCorr.observeIntercepted(string(ev.InterceptionID), ev.Request)
	if !paired {
		m.mu.Unlock()
		return
	}
	chain := m.takePendingChainLocked(sent.RequestID)
	req := m.startRequestLocked(sent, string(ev.InterceptionID), chain)
	// The pause event sees the request after the browser added its own
	// headers; keep the complete set.
	req.fullHeaders = headerFromMap(protocol.DecodeHeaders(ev.Request.Headers))
	autoContinue := !m.userInterceptionEnabled
	m.mu.Unlock()

	if autoContinue {
		m.autoContinue(string(ev.InterceptionID))
	}
	m.bus.emit(EventRequest, req)
}

// HandleRequestPaused consumes Fetch.requestPaused, the modern pause event.
// The network id on the event makes pairing a map lookup. Pauses without a
// network id cannot belong to any tracked request and are released.
func (m *Manager) HandleRequestPaused(ev *fetch.RequestPausedReply) {
	if ev.NetworkID == nil {
		m.log.Debug("releasing unattributed paused request", "url", ev.Request.URL)
		m.autoContinue(string(ev.RequestID))
		return
	}

	m.mu.Lock()
	sent, paired := m.modernCorr.observePaused(*ev.NetworkID, ev.RequestID)
	if !paired {
		m.mu.Unlock()
		return
	}
	chain := m.takePendingChainLocked(sent.RequestID)
	req := m.startRequestLocked(sent, string(ev.RequestID), chain)
	req.fullHeaders = headerFromMap(protocol.DecodeHeaders(ev.Request.Headers))
	autoContinue := !m.userInterceptionEnabled
	m.mu.Unlock()

	if autoContinue {
		m.autoContinue(string(ev.RequestID))
	}
	m.bus.emit(EventRequest, req)
}

// HandleAuthRequired consumes Fetch.authRequired. Credentials are offered
// once per pause id; a repeated challenge on the same id means they were
// rejected, and the challenge is cancelled instead of retrying forever.
func (m *Manager) HandleAuthRequired(ev *fetch.AuthRequiredReply) {
	m.mu.Lock()
	response, creds := m.arbitrateAuthLocked(string(ev.RequestID))
	m.mu.Unlock()

	ctx, cancel := m.commandContext()
	defer cancel()
	if err := m.fetch.ContinueWithAuth(ctx, ev.RequestID, response, creds); err != nil {
		m.log.Err(err, "auth challenge response failed", "response", response)
	}
}

// arbitrateAuthLocked decides the answer to an auth challenge. Callers hold
// m.mu. The attempted set is never cleared for an id: once credentials have
// been offered, every later challenge for that id cancels.
func (m *Manager) arbitrateAuthLocked(id string) (string, *Credentials) {
	if m.attemptedAuth[id] {
		return "CancelAuth", nil
	}
	if m.credentials == nil {
		return "Default", nil
	}
	m.attemptedAuth[id] = true
	return "ProvideCredentials", m.credentials
}

// HandleRequestServedFromCache consumes Network.requestServedFromCache.
func (m *Manager) HandleRequestServedFromCache(ev *network.RequestServedFromCacheReply) {
	m.mu.Lock()
	req := m.requests[ev.RequestID]
	m.mu.Unlock()
	if req != nil {
		req.setFromCache()
	}
}

// HandleResponseReceived consumes Network.responseReceived and attaches the
// response to its request.
func (m *Manager) HandleResponseReceived(ev *network.ResponseReceivedReply) {
	m.mu.Lock()
	req := m.requests[ev.RequestID]
	m.mu.Unlock()
	if req == nil {
		return
	}
	resp := newResponse(m, req, &ev.Response)
	req.setResponse(resp)
	m.bus.emit(EventResponse, resp)
}

// HandleLoadingFinished consumes Network.loadingFinished, retiring the
// request and unblocking body reads.
func (m *Manager) HandleLoadingFinished(ev *network.LoadingFinishedReply) {
	m.mu.Lock()
	req := m.requests[ev.RequestID]
	delete(m.requests, ev.RequestID)
	m.mu.Unlock()
	if req == nil {
		return
	}
	if resp := req.Response(); resp != nil {
		resp.resolveBody(nil)
	}
	m.bus.emit(EventRequestFinished, req)
}

// HandleLoadingFailed consumes Network.loadingFailed, retiring the request
// with its failure text.
func (m *Manager) HandleLoadingFailed(ev *network.LoadingFailedReply) {
	m.mu.Lock()
	req := m.requests[ev.RequestID]
	delete(m.requests, ev.RequestID)
	m.mu.Unlock()
	if req == nil {
		return
	}
	canceled := ev.Canceled != nil && *ev.Canceled
	req.setFailure(ev.ErrorText, canceled)
	if resp := req.Response(); resp != nil {
		resp.resolveBody(fmt.Errorf("response body is unavailable: %s", ev.ErrorText))
	}
	m.bus.emit(EventRequestFailed, req)
}

// startRequestLocked creates and registers a request. Callers hold m.mu and
// emit EventRequest after unlocking.
func (m *Manager) startRequestLocked(ev *network.RequestWillBeSentReply, interceptionID string, chain []*Request) *Request {
	req := newRequest(m, ev, interceptionID, chain)
	m.requests[ev.RequestID] = req
	return req
}

// closeRedirectLocked finalizes a redirect hop: the redirect response is
// attached with its body marked unavailable and the request leaves the
// in-flight table. Callers hold m.mu and emit via emitRedirect after
// unlocking.
func (m *Manager) closeRedirectLocked(prev *Request, redirect *network.Response) {
	resp := newResponse(m, prev, redirect)
	resp.resolveBody(errRedirectResponseBody)
	prev.setResponse(resp)
	delete(m.requests, prev.requestID)
}

// emitRedirect publishes the response and finished events for a closed-out
// redirect hop, in that order, before the next hop's request event.
func (m *Manager) emitRedirect(prev *Request) {
	if prev == nil {
		return
	}
	m.bus.emit(EventResponse, prev.Response())
	m.bus.emit(EventRequestFinished, prev)
}

// interceptionBypassedLocked reports whether the browser will never pause a
// request for this URL: data: URLs do not reach the network stack, and
// pattern-scoped interception skips URLs outside the patterns. Such requests
// start immediately instead of waiting for a pause partner.
func (m *Manager) interceptionBypassedLocked(url string) bool {
	if strings.HasPrefix(url, "data:") {
		return true
	}
	if len(m.patterns) == 0 {
		return false
	}
	for _, p := range m.patterns {
		if glob(url, p) {
			return false
		}
	}
	return true
}

func (m *Manager) takePendingChainLocked(id network.RequestID) []*Request {
	chain := m.pendingChains[id]
	if chain != nil {
		delete(m.pendingChains, id)
	}
	return chain
}

// autoContinue releases a paused request the user is not intercepting, which
// happens when interception is on only to answer auth challenges.
func (m *Manager) autoContinue(interceptionID string) {
	if m.mode == ModeLegacy {
		m.sendQuiet("Network.continueInterceptedRequest",
			continueInterceptedArgs{InterceptionID: interceptionID})
		return
	}
	m.sendQuiet("Fetch.continueRequest",
		fetch.ContinueRequestArgs{RequestID: fetch.RequestID(interceptionID)})
}
