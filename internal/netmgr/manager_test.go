package netmgr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestStartsWithoutInterception(t *testing.T) {
	m, _ := newTestManager(ModeModern)

	var got []*Request
	m.OnRequest(func(r *Request) { got = append(got, r) })

	m.HandleRequestWillBeSent(sentEvent("r1", "https://example.com/a", "GET"))

	require.Len(t, got, 1)
	assert.Equal(t, "https://example.com/a", got[0].URL())
	assert.Equal(t, "GET", got[0].Method())
	assert.Empty(t, got[0].InterceptionID())
	assert.Equal(t, 1, m.InflightCount())
}

func TestModernCorrelation(t *testing.T) {
	ctx := context.Background()

	t.Run("sent_then_paused", func(t *testing.T) {
		m, _ := newTestManager(ModeModern)
		require.NoError(t, m.SetRequestInterception(ctx, true))

		var got []*Request
		m.OnRequest(func(r *Request) { got = append(got, r) })

		m.HandleRequestWillBeSent(sentEvent("r1", "https://example.com/a", "GET"))
		require.Empty(t, got, "request must wait for its pause partner")

		m.HandleRequestPaused(pausedEvent("f1", "r1", "https://example.com/a", "GET"))
		require.Len(t, got, 1)
		assert.Equal(t, "f1", got[0].InterceptionID())
	})

	t.Run("paused_then_sent", func(t *testing.T) {
		m, _ := newTestManager(ModeModern)
		require.NoError(t, m.SetRequestInterception(ctx, true))

		var got []*Request
		m.OnRequest(func(r *Request) { got = append(got, r) })

		m.HandleRequestPaused(pausedEvent("f1", "r1", "https://example.com/a", "GET"))
		require.Empty(t, got)

		m.HandleRequestWillBeSent(sentEvent("r1", "https://example.com/a", "GET"))
		require.Len(t, got, 1)
		assert.Equal(t, "f1", got[0].InterceptionID())
	})
}

func TestLegacyCorrelation(t *testing.T) {
	ctx := context.Background()

	t.Run("sent_then_intercepted", func(t *testing.T) {
		m, _ := newTestManager(ModeLegacy)
		require.NoError(t, m.SetRequestInterception(ctx, true))

		var got []*Request
		m.OnRequest(func(r *Request) { got = append(got, r) })

		m.HandleRequestWillBeSent(sentEvent("r1", "https://example.com/a", "GET"))
		require.Empty(t, got)

		m.HandleRequestIntercepted(interceptedEvent("i1", "https://example.com/a", "GET"))
		require.Len(t, got, 1)
		assert.Equal(t, "i1", got[0].InterceptionID())
	})

	t.Run("intercepted_then_sent", func(t *testing.T) {
		m, _ := newTestManager(ModeLegacy)
		require.NoError(t, m.SetRequestInterception(ctx, true))

		var got []*Request
		m.OnRequest(func(r *Request) { got = append(got, r) })

		m.HandleRequestIntercepted(interceptedEvent("i1", "https://example.com/a", "GET"))
		require.Empty(t, got)

		m.HandleRequestWillBeSent(sentEvent("r1", "https://example.com/a", "GET"))
		require.Len(t, got, 1)
		assert.Equal(t, "i1", got[0].InterceptionID())
	})

	t.Run("identical_requests_pair_fifo", func(t *testing.T) {
		m, _ := newTestManager(ModeLegacy)
		require.NoError(t, m.SetRequestInterception(ctx, true))

		var got []*Request
		m.OnRequest(func(r *Request) { got = append(got, r) })

		// Two indistinguishable requests in flight at once: every pause
		// still ends up attached to exactly one of them.
		m.HandleRequestWillBeSent(sentEvent("r1", "https://example.com/dup", "GET"))
		m.HandleRequestWillBeSent(sentEvent("r2", "https://example.com/dup", "GET"))
		m.HandleRequestIntercepted(interceptedEvent("i1", "https://example.com/dup", "GET"))
		m.HandleRequestIntercepted(interceptedEvent("i2", "https://example.com/dup", "GET"))

		require.Len(t, got, 2)
		assert.Equal(t, "i1", got[0].InterceptionID())
		assert.Equal(t, "i2", got[1].InterceptionID())
	})
}

func TestRedirectChain(t *testing.T) {
	m, _ := newTestManager(ModeModern)

	var (
		requests  []*Request
		responses []*Response
		finished  []*Request
	)
	m.OnRequest(func(r *Request) { requests = append(requests, r) })
	m.OnResponse(func(r *Response) { responses = append(responses, r) })
	m.OnRequestFinished(func(r *Request) { finished = append(finished, r) })

	m.HandleRequestWillBeSent(sentEvent("r1", "https://example.com/start", "GET"))

	hop := sentEvent("r1", "https://example.com/next", "GET")
	hop.RedirectResponse = &network.Response{
		URL:        "https://example.com/start",
		Status:     302,
		StatusText: "Found",
		Headers:    network.Headers([]byte(`{"Location":"https://example.com/next"}`)),
	}
	m.HandleRequestWillBeSent(hop)

	require.Len(t, requests, 2)
	require.Len(t, responses, 1, "redirect hop must close out with its response")
	require.Len(t, finished, 1)
	assert.Same(t, requests[0], finished[0])

	assert.Equal(t, 302, responses[0].Status())
	chain := requests[1].RedirectChain()
	require.Len(t, chain, 1)
	assert.Equal(t, "https://example.com/start", chain[0].URL())

	// The redirect response has no retrievable body.
	_, err := responses[0].Body(context.Background())
	assert.ErrorIs(t, err, errRedirectResponseBody)

	// The hop left the in-flight table; only the new request remains.
	assert.Equal(t, 1, m.InflightCount())
}

func TestInterceptionActions(t *testing.T) {
	ctx := context.Background()

	start := func(t *testing.T) (*Manager, *fakeSender, *Request) {
		m, fs := newTestManager(ModeModern)
		require.NoError(t, m.SetRequestInterception(ctx, true))
		var got *Request
		m.OnRequest(func(r *Request) { got = r })
		m.HandleRequestWillBeSent(sentEvent("r1", "https://example.com/a", "GET"))
		m.HandleRequestPaused(pausedEvent("f1", "r1", "https://example.com/a", "GET"))
		require.NotNil(t, got)
		return m, fs, got
	}

	t.Run("continue", func(t *testing.T) {
		_, fs, req := start(t)
		require.NoError(t, req.Continue(ctx, nil))
		cmd, ok := fs.lastCommand("Fetch.continueRequest")
		require.True(t, ok)
		assert.Equal(t, fetch.RequestID("f1"), cmd.args.(fetch.ContinueRequestArgs).RequestID)
	})

	t.Run("respond_fills_defaults", func(t *testing.T) {
		_, fs, req := start(t)
		require.NoError(t, req.Respond(ctx, RespondOptions{
			ContentType: "text/plain",
			Body:        []byte("hi"),
		}))
		cmd, ok := fs.lastCommand("Fetch.fulfillRequest")
		require.True(t, ok)
		args := cmd.args.(fetch.FulfillRequestArgs)
		assert.Equal(t, 200, args.ResponseCode)
		headers := map[string]string{}
		for _, h := range args.ResponseHeaders {
			headers[h.Name] = h.Value
		}
		assert.Equal(t, "text/plain", headers["content-type"])
		assert.Equal(t, "2", headers["content-length"])
	})

	t.Run("abort", func(t *testing.T) {
		_, fs, req := start(t)
		require.NoError(t, req.Abort(ctx, "connection-refused"))
		cmd, ok := fs.lastCommand("Fetch.failRequest")
		require.True(t, ok)
		assert.Equal(t, network.ErrorReasonConnectionRefused, cmd.args.(fetch.FailRequestArgs).ErrorReason)
	})

	t.Run("second_action_fails", func(t *testing.T) {
		_, fs, req := start(t)
		require.NoError(t, req.Continue(ctx, nil))
		err := req.Abort(ctx, "failed")
		assert.True(t, IsUsageError(err))
		assert.Equal(t, 0, fs.count("Fetch.failRequest"))
	})

	t.Run("unknown_abort_reason_fails_before_sending", func(t *testing.T) {
		_, fs, req := start(t)
		err := req.Abort(ctx, "bogus-reason")
		assert.True(t, IsUsageError(err))
		assert.Equal(t, 0, fs.count("Fetch.failRequest"))
		// The request is still actionable afterwards.
		require.NoError(t, req.Continue(ctx, nil))
	})

	t.Run("action_without_interception_fails", func(t *testing.T) {
		m, fs := newTestManager(ModeModern)
		var got *Request
		m.OnRequest(func(r *Request) { got = r })
		m.HandleRequestWillBeSent(sentEvent("r1", "https://example.com/a", "GET"))
		require.NotNil(t, got)
		err := got.Continue(ctx, nil)
		assert.True(t, IsUsageError(err))
		assert.Equal(t, 0, fs.count("Fetch.continueRequest"))
	})
}

func TestAuthArbitration(t *testing.T) {
	ctx := context.Background()
	m, fs := newTestManager(ModeModern)
	require.NoError(t, m.Authenticate(ctx, &Credentials{Username: "u", Password: "p"}))

	challenge := &fetch.AuthRequiredReply{
		RequestID: fetch.RequestID("f1"),
		Request:   network.Request{URL: "https://example.com/private", Method: "GET"},
		AuthChallenge: fetch.AuthChallenge{
			Origin: "https://example.com",
			Scheme: "basic",
			Realm:  "private",
		},
	}

	var responses []string
	for i := 0; i < 3; i++ {
		m.HandleAuthRequired(challenge)
		cmd, ok := fs.lastCommand("Fetch.continueWithAuth")
		require.True(t, ok)
		responses = append(responses, cmd.args.(fetch.ContinueWithAuthArgs).AuthChallengeResponse.Response)
	}

	// Credentials are offered once; repeats of the same challenge cancel.
	assert.Equal(t, []string{"ProvideCredentials", "CancelAuth", "CancelAuth"}, responses)
}

func TestAuthWithoutCredentials(t *testing.T) {
	m, fs := newTestManager(ModeModern)

	m.HandleAuthRequired(&fetch.AuthRequiredReply{
		RequestID: fetch.RequestID("f1"),
		Request:   network.Request{URL: "https://example.com/private", Method: "GET"},
	})
	cmd, ok := fs.lastCommand("Fetch.continueWithAuth")
	require.True(t, ok)
	assert.Equal(t, "Default", cmd.args.(fetch.ContinueWithAuthArgs).AuthChallengeResponse.Response)

	// Default does not burn the one credential attempt.
	require.NoError(t, m.Authenticate(context.Background(), &Credentials{Username: "u", Password: "p"}))
	m.HandleAuthRequired(&fetch.AuthRequiredReply{RequestID: fetch.RequestID("f1")})
	cmd, _ = fs.lastCommand("Fetch.continueWithAuth")
	assert.Equal(t, "ProvideCredentials", cmd.args.(fetch.ContinueWithAuthArgs).AuthChallengeResponse.Response)
}

func TestInterceptionCacheCoupling(t *testing.T) {
	ctx := context.Background()
	m, fs := newTestManager(ModeModern)

	require.NoError(t, m.SetRequestInterception(ctx, true))
	cmd, ok := fs.lastCommand("Network.setCacheDisabled")
	require.True(t, ok)
	assert.Contains(t, string(mustJSON(t, cmd.args)), `"cacheDisabled":true`)
	assert.Equal(t, 1, fs.count("Fetch.enable"))

	// Enabling twice is a no-op at the protocol level.
	require.NoError(t, m.SetRequestInterception(ctx, true))
	assert.Equal(t, 1, fs.count("Fetch.enable"))

	// While intercepting, the user's cache preference is deferred.
	require.NoError(t, m.SetCacheEnabled(ctx, false))
	assert.Equal(t, 1, fs.count("Network.setCacheDisabled"))

	require.NoError(t, m.SetRequestInterception(ctx, false))
	assert.Equal(t, 1, fs.count("Fetch.disable"))
	cmd, _ = fs.lastCommand("Network.setCacheDisabled")
	assert.Contains(t, string(mustJSON(t, cmd.args)), `"cacheDisabled":true`)
}

func TestResponseLifecycle(t *testing.T) {
	ctx := context.Background()
	m, fs := newTestManager(ModeModern)
	fs.replies["Network.getResponseBody"] = map[string]any{
		"body":          base64.StdEncoding.EncodeToString([]byte("hello")),
		"base64Encoded": true,
	}

	var finished []*Request
	m.OnRequestFinished(func(r *Request) { finished = append(finished, r) })

	m.HandleRequestWillBeSent(sentEvent("r1", "https://example.com/a", "GET"))
	m.HandleResponseReceived(responseEvent("r1", "https://example.com/a", 200))
	m.HandleLoadingFinished(finishedEvent("r1"))

	require.Len(t, finished, 1)
	resp := finished[0].Response()
	require.NotNil(t, resp)
	assert.True(t, resp.OK())
	assert.Equal(t, "text/plain", resp.MimeType())

	body, err := resp.Body(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, 0, m.InflightCount())
}

func TestLoadingFailed(t *testing.T) {
	m, _ := newTestManager(ModeModern)

	var failed []*Request
	m.OnRequestFailed(func(r *Request) { failed = append(failed, r) })

	m.HandleRequestWillBeSent(sentEvent("r1", "https://example.com/a", "GET"))
	m.HandleLoadingFailed(failedEvent("r1", "net::ERR_CONNECTION_REFUSED"))

	require.Len(t, failed, 1)
	assert.Equal(t, "net::ERR_CONNECTION_REFUSED", failed[0].Failure())
	assert.Equal(t, 0, m.InflightCount())
}

func TestServedFromCache(t *testing.T) {
	m, _ := newTestManager(ModeModern)
	var got *Request
	m.OnRequest(func(r *Request) { got = r })

	m.HandleRequestWillBeSent(sentEvent("r1", "https://example.com/a", "GET"))
	require.NotNil(t, got)
	assert.False(t, got.FromCache())

	m.HandleRequestServedFromCache(&network.RequestServedFromCacheReply{
		RequestID: network.RequestID("r1"),
	})
	assert.True(t, got.FromCache())
}

func TestCookies(t *testing.T) {
	ctx := context.Background()
	m, fs := newTestManager(ModeModern)
	fs.replies["Network.getAllCookies"] = map[string]any{
		"cookies": []map[string]any{
			{"name": "sid", "value": "abc", "domain": "example.com", "path": "/", "expires": -1.0, "size": 6, "httpOnly": true, "secure": true, "session": true},
		},
	}
	fs.replies["Network.setCookie"] = map[string]any{"success": true}

	cookies, err := m.GetAllCookies(ctx)
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name())
	assert.Equal(t, "abc", cookies[0].Value())
	assert.True(t, cookies[0].HTTPOnly())

	ok, err := cookies[0].SetValue(ctx, "def")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "def", cookies[0].Value())

	require.NoError(t, cookies[0].Delete(ctx))
	cmd, found := fs.lastCommand("Network.deleteCookies")
	require.True(t, found)
	assert.Equal(t, "sid", cmd.args.(CookieSelector).Name)

	_, err = m.SetCookie(ctx, CookieParam{Name: "x", Value: "y"})
	assert.True(t, IsUsageError(err), "url or domain is required")
}

func TestLegacyInterceptionActions(t *testing.T) {
	ctx := context.Background()

	start := func(t *testing.T) (*fakeSender, *Request) {
		m, fs := newTestManager(ModeLegacy)
		require.NoError(t, m.SetRequestInterception(ctx, true))
		var got *Request
		m.OnRequest(func(r *Request) { got = r })
		m.HandleRequestWillBeSent(sentEvent("r1", "https://example.com/a", "GET"))
		m.HandleRequestIntercepted(interceptedEvent("i1", "https://example.com/a", "GET"))
		require.NotNil(t, got)
		return fs, got
	}

	t.Run("abort", func(t *testing.T) {
		fs, req := start(t)
		require.NoError(t, req.Abort(ctx, "aborted"))
		cmd, ok := fs.lastCommand("Network.continueInterceptedRequest")
		require.True(t, ok)
		args := cmd.args.(continueInterceptedArgs)
		assert.Equal(t, "i1", args.InterceptionID)
		assert.Equal(t, "Aborted", args.ErrorReason)
	})

	t.Run("respond_sends_raw_response", func(t *testing.T) {
		fs, req := start(t)
		require.NoError(t, req.Respond(ctx, RespondOptions{Status: 404, Body: []byte("gone")}))
		cmd, ok := fs.lastCommand("Network.continueInterceptedRequest")
		require.True(t, ok)
		raw, err := base64.StdEncoding.DecodeString(cmd.args.(continueInterceptedArgs).RawResponse)
		require.NoError(t, err)
		text := string(raw)
		assert.Contains(t, text, "HTTP/1.1 404 Not Found\r\n")
		assert.Contains(t, text, "content-length: 4\r\n")
		assert.Contains(t, text, "\r\n\r\ngone")
	})
}

func TestDeleteCookieString(t *testing.T) {
	ctx := context.Background()
	m, fs := newTestManager(ModeModern)

	require.NoError(t, m.DeleteCookieString(ctx, "sid=abc", "https://example.com"))
	cmd, ok := fs.lastCommand("Network.deleteCookies")
	require.True(t, ok)
	sel := cmd.args.(CookieSelector)
	assert.Equal(t, "sid", sel.Name)
	assert.Equal(t, "https://example.com", sel.URL)

	err := m.DeleteCookieString(ctx, "not-a-cookie", "")
	assert.True(t, IsUsageError(err))
}

func TestInterceptionSkipsUnpausableRequests(t *testing.T) {
	ctx := context.Background()

	t.Run("data_url", func(t *testing.T) {
		m, _ := newTestManager(ModeModern)
		require.NoError(t, m.SetRequestInterception(ctx, true))

		var requests, finished []*Request
		m.OnRequest(func(r *Request) { requests = append(requests, r) })
		m.OnRequestFinished(func(r *Request) { finished = append(finished, r) })

		// data: URLs never generate a pause event, so the full lifecycle
		// must flow without one.
		m.HandleRequestWillBeSent(sentEvent("r1", "data:text/plain,hello", "GET"))
		require.Len(t, requests, 1)
		assert.Empty(t, requests[0].InterceptionID())

		m.HandleResponseReceived(responseEvent("r1", "data:text/plain,hello", 200))
		m.HandleLoadingFinished(finishedEvent("r1"))
		require.Len(t, finished, 1)
		assert.Zero(t, m.InflightCount())
	})

	t.Run("outside_patterns", func(t *testing.T) {
		m, fs := newTestManager(ModeModern)
		require.NoError(t, m.SetRequestInterception(ctx, true, "https://a.example/*"))

		var requests []*Request
		m.OnRequest(func(r *Request) { requests = append(requests, r) })

		m.HandleRequestWillBeSent(sentEvent("r1", "https://other.example/x", "GET"))
		require.Len(t, requests, 1, "non-matching request must start immediately")

		// It was never paused, so it is not actionable.
		err := requests[0].Continue(ctx, nil)
		assert.True(t, IsUsageError(err))
		assert.Zero(t, fs.count("Fetch.continueRequest"))

		// Matching requests still wait for their pause partner.
		m.HandleRequestWillBeSent(sentEvent("r2", "https://a.example/y", "GET"))
		require.Len(t, requests, 1)
		m.HandleRequestPaused(pausedEvent("f2", "r2", "https://a.example/y", "GET"))
		require.Len(t, requests, 2)
		assert.Equal(t, "f2", requests[1].InterceptionID())
	})
}

func TestInterceptionPatternChange(t *testing.T) {
	ctx := context.Background()
	m, fs := newTestManager(ModeModern)

	require.NoError(t, m.SetRequestInterception(ctx, true, "https://a.example/*"))
	assert.Equal(t, 1, fs.count("Fetch.enable"))

	// Changing the pattern set must reach the wire as a fresh enable.
	require.NoError(t, m.SetRequestInterception(ctx, true, "https://b.example/*"))
	assert.Equal(t, 1, fs.count("Fetch.disable"))
	assert.Equal(t, 2, fs.count("Fetch.enable"))
	cmd, ok := fs.lastCommand("Fetch.enable")
	require.True(t, ok)
	args := cmd.args.(fetch.EnableArgs)
	require.Len(t, args.Patterns, 1)
	assert.Equal(t, "https://b.example/*", *args.Patterns[0].URLPattern)

	// Repeating the same pattern set stays a no-op.
	require.NoError(t, m.SetRequestInterception(ctx, true, "https://b.example/*"))
	assert.Equal(t, 2, fs.count("Fetch.enable"))
}

func TestDisableFlushesBufferedRequests(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(ModeModern)
	require.NoError(t, m.SetRequestInterception(ctx, true))

	var requests []*Request
	m.OnRequest(func(r *Request) { requests = append(requests, r) })

	m.HandleRequestWillBeSent(sentEvent("r1", "https://example.com/a", "GET"))
	require.Empty(t, requests)

	// Disabling releases the buffered request; its pause partner can no
	// longer arrive.
	require.NoError(t, m.SetRequestInterception(ctx, false))
	require.Len(t, requests, 1)
	assert.Equal(t, "https://example.com/a", requests[0].URL())
	assert.Empty(t, m.modernCorr.sent)
	assert.Empty(t, m.pendingChains)

	err := requests[0].Continue(ctx, nil)
	assert.True(t, IsUsageError(err))

	// The request keeps its normal lifecycle afterwards.
	var finished []*Request
	m.OnRequestFinished(func(r *Request) { finished = append(finished, r) })
	m.HandleLoadingFinished(finishedEvent("r1"))
	require.Len(t, finished, 1)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
