package netmgr

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/mafredri/cdp/protocol/network"

	"cdpdrive/internal/protocol"
)

// Request represents one observed HTTP(S) request attempt. Redirects do not
// mutate a Request; each hop is a new Request carrying the chain of its
// predecessors.
type Request struct {
	mgr *Manager

	requestID      network.RequestID
	interceptionID string
	documentURL    string
	url            string
	urlFragment    string
	method         string
	headers        Header
	fullHeaders    Header
	postData       string
	hasPostData    bool
	resourceType   string
	initiatorType  string
	frameID        string
	isNavigation   bool
	fromCache      bool

	redirectChain []*Request

	mu                  sync.Mutex
	allowInterception   bool
	interceptionHandled bool
	response            *Response
	failureText         string
	canceled            bool
}

func newRequest(m *Manager, ev *network.RequestWillBeSentReply, interceptionID string, chain []*Request) *Request {
	r := &Request{
		mgr:               m,
		requestID:         ev.RequestID,
		interceptionID:    interceptionID,
		documentURL:       ev.DocumentURL,
		url:               ev.Request.URL,
		method:            ev.Request.Method,
		headers:           headerFromMap(protocol.DecodeHeaders(ev.Request.Headers)),
		resourceType:      string(ev.Type),
		initiatorType:     ev.Initiator.Type,
		isNavigation:      string(ev.RequestID) == string(ev.LoaderID) && string(ev.Type) == "Document",
		redirectChain:     chain,
		allowInterception: m.userInterceptionEnabled,
	}
	if ev.Request.URLFragment != nil {
		r.urlFragment = *ev.Request.URLFragment
	}
	if ev.Request.PostData != nil {
		r.postData = *ev.Request.PostData
		r.hasPostData = true
	} else if ev.Request.HasPostData != nil {
		r.hasPostData = *ev.Request.HasPostData
	}
	if ev.FrameID != nil {
		r.frameID = string(*ev.FrameID)
	}
	return r
}

// URL returns the request URL including any fragment reported separately
// from the base URL.
func (r *Request) URL() string { return r.url + r.urlFragment }

// Method returns the HTTP method.
func (r *Request) Method() string { return r.method }

// Headers returns the headers known when the request was created.
func (r *Request) Headers() Header { return r.headers.clone() }

// FullHeaders returns the complete header set when it was discovered through
// interception, falling back to the initial headers.
func (r *Request) FullHeaders() Header {
	if r.fullHeaders != nil {
		return r.fullHeaders.clone()
	}
	return r.headers.clone()
}

// PostData returns the request body, if any was captured with the request.
func (r *Request) PostData() (string, bool) { return r.postData, r.hasPostData }

// FetchPostData retrieves the request body from the browser for requests
// whose body was not delivered inline.
func (r *Request) FetchPostData(ctx context.Context) (string, error) {
	if r.postData != "" {
		return r.postData, nil
	}
	var reply struct {
		PostData string `json:"postData"`
	}
	err := r.mgr.sender.Send(ctx, "Network.getRequestPostData",
		network.GetRequestPostDataArgs{RequestID: r.requestID}, &reply)
	if err != nil {
		return "", err
	}
	return reply.PostData, nil
}

// ResourceType returns the protocol resource type (Document, XHR, ...).
func (r *Request) ResourceType() string { return r.resourceType }

// InitiatorType returns the protocol initiator type (parser, script, ...).
func (r *Request) InitiatorType() string { return r.initiatorType }

// FrameID returns the owning frame id, when reported.
func (r *Request) FrameID() string { return r.frameID }

// IsNavigationRequest reports whether this request is a frame navigation.
func (r *Request) IsNavigationRequest() bool { return r.isNavigation }

// FromCache reports whether the request was served from cache.
func (r *Request) FromCache() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fromCache
}

// RedirectChain returns the redirect hops that preceded this request,
// oldest first.
func (r *Request) RedirectChain() []*Request {
	out := make([]*Request, len(r.redirectChain))
	copy(out, r.redirectChain)
	return out
}

// Response returns the response attached to this request, or nil.
func (r *Request) Response() *Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.response
}

// Failure returns the protocol error text for a failed request.
func (r *Request) Failure() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failureText
}

// InterceptionID returns the opaque interception handle, present only while
// interception is active for this request.
func (r *Request) InterceptionID() string { return r.interceptionID }

func (r *Request) setResponse(resp *Response) {
	r.mu.Lock()
	r.response = resp
	r.mu.Unlock()
}

func (r *Request) setFailure(text string, canceled bool) {
	r.mu.Lock()
	r.failureText = text
	r.canceled = canceled
	r.mu.Unlock()
}

func (r *Request) setFromCache() {
	r.mu.Lock()
	r.fromCache = true
	r.mu.Unlock()
}

func (r *Request) isDataURL() bool {
	return strings.HasPrefix(r.url, "data:")
}

// takeInterception asserts interception is enabled and unused for this
// request, then marks it handled. Violations are integration bugs and fail
// immediately.
func (r *Request) takeInterception(action string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.allowInterception {
		return usageErrorf("%s: request interception is not enabled", action)
	}
	if r.interceptionHandled {
		return usageErrorf("%s: request is already handled", action)
	}
	r.interceptionHandled = true
	return nil
}

// ContinueOverrides optionally rewrites parts of a continued request.
type ContinueOverrides struct {
	URL      string
	Method   string
	PostData []byte
	Headers  map[string]string
}

// Continue lets an intercepted request proceed, optionally with overrides.
// It may be called at most once per request.
func (r *Request) Continue(ctx context.Context, overrides *ContinueOverrides) error {
	if r.isDataURL() {
		return nil
	}
	if err := r.takeInterception("continue"); err != nil {
		return err
	}
	return r.mgr.interceptor().Continue(ctx, r, overrides)
}

// RespondOptions describe a synthesized response for Respond.
type RespondOptions struct {
	Status      int
	Headers     map[string]string
	ContentType string
	Body        []byte
}

// Respond fulfills an intercepted request without contacting the network.
// It may be called at most once per request.
func (r *Request) Respond(ctx context.Context, opts RespondOptions) error {
	if r.isDataURL() {
		return nil
	}
	if err := r.takeInterception("respond"); err != nil {
		return err
	}
	if opts.Status == 0 {
		opts.Status = 200
	}
	headers := headerFromMap(opts.Headers)
	if opts.ContentType != "" {
		headers.Set("content-type", opts.ContentType)
	}
	if len(opts.Body) > 0 && !headers.Has("content-length") {
		headers.Set("content-length", strconv.Itoa(len(opts.Body)))
	}
	opts.Headers = headers
	return r.mgr.interceptor().Fulfill(ctx, r, opts)
}

// Abort fails an intercepted request with one of the protocol error reasons.
// It may be called at most once per request.
func (r *Request) Abort(ctx context.Context, reason string) error {
	if r.isDataURL() {
		return nil
	}
	errorReason, ok := abortReasons[reason]
	if !ok {
		return usageErrorf("abort: unknown error reason %q", reason)
	}
	if err := r.takeInterception("abort"); err != nil {
		return err
	}
	return r.mgr.interceptor().Abort(ctx, r, errorReason)
}

var abortReasons = map[string]network.ErrorReason{
	"aborted":               network.ErrorReasonAborted,
	"access-denied":         network.ErrorReasonAccessDenied,
	"address-unreachable":   network.ErrorReasonAddressUnreachable,
	"blocked-by-client":     network.ErrorReasonBlockedByClient,
	"blocked-by-response":   network.ErrorReasonBlockedByResponse,
	"connection-aborted":    network.ErrorReasonConnectionAborted,
	"connection-closed":     network.ErrorReasonConnectionClosed,
	"connection-failed":     network.ErrorReasonConnectionFailed,
	"connection-refused":    network.ErrorReasonConnectionRefused,
	"connection-reset":      network.ErrorReasonConnectionReset,
	"internet-disconnected": network.ErrorReasonInternetDisconnected,
	"name-not-resolved":     network.ErrorReasonNameNotResolved,
	"timed-out":             network.ErrorReasonTimedOut,
	"failed":                network.ErrorReasonFailed,
}
