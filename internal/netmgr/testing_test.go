package netmgr

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
)

// fakeSender records every command and answers from canned replies.
type fakeSender struct {
	mu       sync.Mutex
	commands []sentCommand
	replies  map[string]any
	errs     map[string]error
}

type sentCommand struct {
	method string
	args   any
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		replies: make(map[string]any),
		errs:    make(map[string]error),
	}
}

func (f *fakeSender) Send(_ context.Context, method string, args, reply any) error {
	f.mu.Lock()
	f.commands = append(f.commands, sentCommand{method: method, args: args})
	canned, hasReply := f.replies[method]
	err := f.errs[method]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if hasReply && reply != nil {
		b, merr := json.Marshal(canned)
		if merr != nil {
			return merr
		}
		return json.Unmarshal(b, reply)
	}
	return nil
}

func (f *fakeSender) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.commands))
	for i, c := range f.commands {
		out[i] = c.method
	}
	return out
}

func (f *fakeSender) lastCommand(method string) (sentCommand, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.commands) - 1; i >= 0; i-- {
		if f.commands[i].method == method {
			return f.commands[i], true
		}
	}
	return sentCommand{}, false
}

func (f *fakeSender) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.commands {
		if c.method == method {
			n++
		}
	}
	return n
}

func newTestManager(mode Mode) (*Manager, *fakeSender) {
	fs := newFakeSender()
	m := NewManager(context.Background(), fs, WithMode(mode))
	return m, fs
}

func sentEvent(id, url, method string) *network.RequestWillBeSentReply {
	return &network.RequestWillBeSentReply{
		RequestID: network.RequestID(id),
		LoaderID:  network.LoaderID("loader-1"),
		Request: network.Request{
			URL:     url,
			Method:  method,
			Headers: network.Headers([]byte(`{"User-Agent":"test"}`)),
		},
		Initiator: network.Initiator{Type: "other"},
		Type:      network.ResourceType("XHR"),
	}
}

func pausedEvent(fetchID, networkID, url, method string) *fetch.RequestPausedReply {
	nid := network.RequestID(networkID)
	return &fetch.RequestPausedReply{
		RequestID: fetch.RequestID(fetchID),
		Request: network.Request{
			URL:     url,
			Method:  method,
			Headers: network.Headers([]byte(`{"User-Agent":"test"}`)),
		},
		ResourceType: network.ResourceType("XHR"),
		NetworkID:    &nid,
	}
}

func interceptedEvent(id, url, method string) *network.RequestInterceptedReply {
	return &network.RequestInterceptedReply{
		InterceptionID: network.InterceptionID(id),
		Request: network.Request{
			URL:     url,
			Method:  method,
			Headers: network.Headers([]byte(`{"User-Agent":"test"}`)),
		},
		ResourceType: network.ResourceType("XHR"),
	}
}

func responseEvent(id, url string, status int) *network.ResponseReceivedReply {
	return &network.ResponseReceivedReply{
		RequestID: network.RequestID(id),
		Type:      network.ResourceType("XHR"),
		Response: network.Response{
			URL:        url,
			Status:     status,
			StatusText: "OK",
			Headers:    network.Headers([]byte(`{"Content-Type":"text/plain"}`)),
			MimeType:   "text/plain",
		},
	}
}

func finishedEvent(id string) *network.LoadingFinishedReply {
	return &network.LoadingFinishedReply{RequestID: network.RequestID(id)}
}

func failedEvent(id, errorText string) *network.LoadingFailedReply {
	return &network.LoadingFailedReply{
		RequestID: network.RequestID(id),
		Type:      network.ResourceType("XHR"),
		ErrorText: errorText,
	}
}
