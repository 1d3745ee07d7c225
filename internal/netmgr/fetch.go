package netmgr

import (
	"context"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"

	"cdpdrive/internal/logger"
	"cdpdrive/internal/protocol"
)

// fetchAdapter wraps the Fetch domain, the modern pause-based interception
// facility. It translates continue/fulfill/fail/auth calls into protocol
// commands and holds no correlation state.
type fetchAdapter struct {
	sender  protocol.Sender
	log     logger.Logger
	enabled bool
}

func newFetchAdapter(sender protocol.Sender, log logger.Logger) *fetchAdapter {
	return &fetchAdapter{sender: sender, log: log}
}

// Enable turns the Fetch domain on for the given URL patterns (catch-all
// when empty) and optionally routes auth challenges through Fetch.
func (f *fetchAdapter) Enable(ctx context.Context, patterns []string, handleAuthRequests bool) error {
	if f.enabled {
		return nil
	}
	for _, p := range patterns {
		if p == "" {
			return usageErrorf("fetch enable: empty URL pattern")
		}
	}
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	args := fetch.EnableArgs{}
	for i := range patterns {
		args.Patterns = append(args.Patterns, fetch.RequestPattern{
			URLPattern:   &patterns[i],
			RequestStage: fetch.RequestStageRequest,
		})
	}
	if handleAuthRequests {
		args.HandleAuthRequests = &handleAuthRequests
	}
	if err := f.sender.Send(ctx, "Fetch.enable", args, nil); err != nil {
		return err
	}
	f.enabled = true
	return nil
}

// Disable turns the Fetch domain off.
func (f *fetchAdapter) Disable(ctx context.Context) error {
	if !f.enabled {
		return nil
	}
	f.enabled = false
	return f.sender.Send(ctx, "Fetch.disable", nil, nil)
}

// ContinueRequest resumes a paused request, optionally with overrides.
func (f *fetchAdapter) ContinueRequest(ctx context.Context, id fetch.RequestID, o *ContinueOverrides) error {
	args := fetch.ContinueRequestArgs{RequestID: id}
	if o != nil {
		if o.URL != "" {
			args.URL = &o.URL
		}
		if o.Method != "" {
			args.Method = &o.Method
		}
		if len(o.PostData) > 0 {
			args.PostData = o.PostData
		}
		if len(o.Headers) > 0 {
			args.Headers = toHeaderEntries(o.Headers)
		}
	}
	return f.sender.Send(ctx, "Fetch.continueRequest", args, nil)
}

// FulfillRequest answers a paused request with a synthesized response.
func (f *fetchAdapter) FulfillRequest(ctx context.Context, id fetch.RequestID, o RespondOptions) error {
	args := fetch.FulfillRequestArgs{RequestID: id, ResponseCode: o.Status}
	if len(o.Headers) > 0 {
		args.ResponseHeaders = toHeaderEntries(o.Headers)
	}
	if len(o.Body) > 0 {
		args.Body = o.Body
	}
	return f.sender.Send(ctx, "Fetch.fulfillRequest", args, nil)
}

// FailRequest aborts a paused request.
func (f *fetchAdapter) FailRequest(ctx context.Context, id fetch.RequestID, reason network.ErrorReason) error {
	args := fetch.FailRequestArgs{RequestID: id, ErrorReason: reason}
	return f.sender.Send(ctx, "Fetch.failRequest", args, nil)
}

// ContinueWithAuth answers an auth challenge for a paused request.
func (f *fetchAdapter) ContinueWithAuth(ctx context.Context, id fetch.RequestID, response string, creds *Credentials) error {
	acr := fetch.AuthChallengeResponse{Response: response}
	if creds != nil {
		acr.Username = &creds.Username
		acr.Password = &creds.Password
	}
	args := fetch.ContinueWithAuthArgs{RequestID: id, AuthChallengeResponse: acr}
	return f.sender.Send(ctx, "Fetch.continueWithAuth", args, nil)
}

func toHeaderEntries(h map[string]string) []fetch.HeaderEntry {
	out := make([]fetch.HeaderEntry, 0, len(h))
	for k, v := range h {
		out = append(out, fetch.HeaderEntry{Name: k, Value: v})
	}
	return out
}
