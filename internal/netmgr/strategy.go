package netmgr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"

	"cdpdrive/internal/protocol"
)

// interceptor is the strategy seam between the manager and the two protocol
// facilities able to pause requests. The strategy is chosen once per manager
// and never switched while interception is live.
type interceptor interface {
	enable(ctx context.Context, patterns []string, handleAuth bool) error
	disable(ctx context.Context) error

	Continue(ctx context.Context, r *Request, o *ContinueOverrides) error
	Fulfill(ctx context.Context, r *Request, o RespondOptions) error
	Abort(ctx context.Context, r *Request, reason network.ErrorReason) error
}

// modernInterceptor drives the Fetch domain. Pause events carry the network
// request id, so no content correlation is needed.
type modernInterceptor struct {
	fetch *fetchAdapter
}

func (m *modernInterceptor) enable(ctx context.Context, patterns []string, handleAuth bool) error {
	return m.fetch.Enable(ctx, patterns, handleAuth)
}

func (m *modernInterceptor) disable(ctx context.Context) error {
	return m.fetch.Disable(ctx)
}

func (m *modernInterceptor) Continue(ctx context.Context, r *Request, o *ContinueOverrides) error {
	return m.fetch.ContinueRequest(ctx, fetch.RequestID(r.interceptionID), o)
}

func (m *modernInterceptor) Fulfill(ctx context.Context, r *Request, o RespondOptions) error {
	return m.fetch.FulfillRequest(ctx, fetch.RequestID(r.interceptionID), o)
}

func (m *modernInterceptor) Abort(ctx context.Context, r *Request, reason network.ErrorReason) error {
	return m.fetch.FailRequest(ctx, fetch.RequestID(r.interceptionID), reason)
}

// legacyInterceptor drives Network.setRequestInterception and answers pauses
// with Network.continueInterceptedRequest. The command set predates Fetch and
// expresses fulfillment as a raw serialized HTTP response.
type legacyInterceptor struct {
	mgr *Manager
}

type legacyPattern struct {
	URLPattern        string `json:"urlPattern,omitempty"`
	InterceptionStage string `json:"interceptionStage,omitempty"`
}

func (l *legacyInterceptor) enable(ctx context.Context, patterns []string, handleAuth bool) error {
	for _, p := range patterns {
		if p == "" {
			return usageErrorf("interception enable: empty URL pattern")
		}
	}
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	args := struct {
		Patterns []legacyPattern `json:"patterns"`
	}{}
	for _, p := range patterns {
		args.Patterns = append(args.Patterns, legacyPattern{URLPattern: p})
	}
	return l.mgr.sender.Send(ctx, "Network.setRequestInterception", args, nil)
}

func (l *legacyInterceptor) disable(ctx context.Context) error {
	args := struct {
		Patterns []legacyPattern `json:"patterns"`
	}{Patterns: []legacyPattern{}}
	return l.mgr.sender.Send(ctx, "Network.setRequestInterception", args, nil)
}

// continueInterceptedArgs covers every shape of Network.continueInterceptedRequest
// this package issues. Zero fields are omitted on the wire.
type continueInterceptedArgs struct {
	InterceptionID        string                 `json:"interceptionId"`
	ErrorReason           string                 `json:"errorReason,omitempty"`
	RawResponse           string                 `json:"rawResponse,omitempty"`
	URL                   string                 `json:"url,omitempty"`
	Method                string                 `json:"method,omitempty"`
	PostData              string                 `json:"postData,omitempty"`
	Headers               json.RawMessage        `json:"headers,omitempty"`
	AuthChallengeResponse *authChallengeResponse `json:"authChallengeResponse,omitempty"`
}

type authChallengeResponse struct {
	Response string `json:"response"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

func (l *legacyInterceptor) send(ctx context.Context, args continueInterceptedArgs) error {
	return l.mgr.sender.Send(ctx, "Network.continueInterceptedRequest", args, nil)
}

func (l *legacyInterceptor) Continue(ctx context.Context, r *Request, o *ContinueOverrides) error {
	args := continueInterceptedArgs{InterceptionID: r.interceptionID}
	if o != nil {
		args.URL = o.URL
		args.Method = o.Method
		args.PostData = string(o.PostData)
		if len(o.Headers) > 0 {
			raw, err := protocol.BuildHeaders(o.Headers)
			if err != nil {
				return err
			}
			args.Headers = json.RawMessage(raw)
		}
	}
	return l.send(ctx, args)
}

func (l *legacyInterceptor) Fulfill(ctx context.Context, r *Request, o RespondOptions) error {
	return l.send(ctx, continueInterceptedArgs{
		InterceptionID: r.interceptionID,
		RawResponse:    buildRawResponse(o),
	})
}

func (l *legacyInterceptor) Abort(ctx context.Context, r *Request, reason network.ErrorReason) error {
	return l.send(ctx, continueInterceptedArgs{
		InterceptionID: r.interceptionID,
		ErrorReason:    string(reason),
	})
}

// buildRawResponse serializes a full HTTP/1.1 response and base64-encodes it,
// the only fulfillment form the legacy command accepts.
func buildRawResponse(o RespondOptions) string {
	var b strings.Builder
	text := http.StatusText(o.Status)
	if text == "" {
		text = "OK"
	}
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", o.Status, text)
	for k, v := range o.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")
	b.Write(o.Body)
	return base64.StdEncoding.EncodeToString([]byte(b.String()))
}

// legacyCorrelator pairs Network.requestWillBeSent with
// Network.requestIntercepted. The events share no id, so both sides are
// keyed by a content hash and buffered until the partner arrives. Identical
// concurrent requests collapse to the same hash; FIFO order pairs them
// arbitrarily but exhaustively.
type legacyCorrelator struct {
	sent        map[string][]*network.RequestWillBeSentReply
	intercepted map[string][]string
}

func newLegacyCorrelator() *legacyCorrelator {
	return &legacyCorrelator{
		sent:        make(map[string][]*network.RequestWillBeSentReply),
		intercepted: make(map[string][]string),
	}
}

// observeSent records a sent event, returning the interception id of an
// already-buffered partner when one exists.
func (c *legacyCorrelator) observeSent(ev *network.RequestWillBeSentReply) (string, bool) {
	h := interceptionHash(ev.Request)
	if ids := c.intercepted[h]; len(ids) > 0 {
		id := ids[0]
		c.popIntercepted(h)
		return id, true
	}
	c.sent[h] = append(c.sent[h], ev)
	return "", false
}

// observeIntercepted records an intercepted event, returning the buffered
// sent event when one exists.
func (c *legacyCorrelator) observeIntercepted(id string, req network.Request) (*network.RequestWillBeSentReply, bool) {
	h := interceptionHash(req)
	if evs := c.sent[h]; len(evs) > 0 {
		ev := evs[0]
		c.popSent(h)
		return ev, true
	}
	c.intercepted[h] = append(c.intercepted[h], id)
	return nil, false
}

func (c *legacyCorrelator) popSent(h string) {
	evs := c.sent[h]
	if len(evs) <= 1 {
		delete(c.sent, h)
		return
	}
	c.sent[h] = evs[1:]
}

func (c *legacyCorrelator) popIntercepted(h string) {
	ids := c.intercepted[h]
	if len(ids) <= 1 {
		delete(c.intercepted, h)
		return
	}
	c.intercepted[h] = ids[1:]
}

// drainSent returns every buffered requestWillBeSent event, oldest per
// bucket first. Used when interception ends and the pause partners can no
// longer arrive.
func (c *legacyCorrelator) drainSent() []*network.RequestWillBeSentReply {
	var out []*network.RequestWillBeSentReply
	for _, evs := range c.sent {
		out = append(out, evs...)
	}
	return out
}

func (c *legacyCorrelator) reset() {
	c.sent = make(map[string][]*network.RequestWillBeSentReply)
	c.intercepted = make(map[string][]string)
}

// modernCorrelator pairs Network.requestWillBeSent with Fetch.requestPaused
// by the network request id the pause event carries.
type modernCorrelator struct {
	sent   map[network.RequestID]*network.RequestWillBeSentReply
	paused map[network.RequestID]fetch.RequestID
}

func newModernCorrelator() *modernCorrelator {
	return &modernCorrelator{
		sent:   make(map[network.RequestID]*network.RequestWillBeSentReply),
		paused: make(map[network.RequestID]fetch.RequestID),
	}
}

func (c *modernCorrelator) observeSent(ev *network.RequestWillBeSentReply) (fetch.RequestID, bool) {
	if id, ok := c.paused[ev.RequestID]; ok {
		delete(c.paused, ev.RequestID)
		return id, true
	}
	c.sent[ev.RequestID] = ev
	return "", false
}

func (c *modernCorrelator) observePaused(networkID network.RequestID, id fetch.RequestID) (*network.RequestWillBeSentReply, bool) {
	if ev, ok := c.sent[networkID]; ok {
		delete(c.sent, networkID)
		return ev, true
	}
	c.paused[networkID] = id
	return nil, false
}

// drainSent returns every buffered requestWillBeSent event.
func (c *modernCorrelator) drainSent() []*network.RequestWillBeSentReply {
	out := make([]*network.RequestWillBeSentReply, 0, len(c.sent))
	for _, ev := range c.sent {
		out = append(out, ev)
	}
	return out
}

func (c *modernCorrelator) reset() {
	c.sent = make(map[network.RequestID]*network.RequestWillBeSentReply)
	c.paused = make(map[network.RequestID]fetch.RequestID)
}
