package netmgr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/mafredri/cdp/protocol/network"

	"cdpdrive/internal/protocol"
)

// Response represents the response to one request attempt. The body is
// fetched lazily from the browser: it becomes available once loading
// completes, is fetched at most once, and is cached afterwards.
type Response struct {
	mgr *Manager
	req *Request

	url               string
	status            int
	statusText        string
	headers           Header
	mimeType          string
	protocolName      string
	remoteIP          string
	remotePort        int
	fromDiskCache     bool
	fromServiceWorker bool
	encodedDataLength float64
	timing            *network.ResourceTiming
	securityDetails   *network.SecurityDetails

	bodyLoaded  chan struct{}
	loadOnce    sync.Once
	bodyLoadErr error

	fetchOnce sync.Once
	body      []byte
	bodyErr   error
}

func newResponse(m *Manager, req *Request, r *network.Response) *Response {
	resp := &Response{
		mgr:               m,
		req:               req,
		url:               r.URL,
		status:            r.Status,
		statusText:        r.StatusText,
		headers:           headerFromMap(protocol.DecodeHeaders(r.Headers)),
		mimeType:          r.MimeType,
		encodedDataLength: r.EncodedDataLength,
		timing:            r.Timing,
		securityDetails:   r.SecurityDetails,
		bodyLoaded:        make(chan struct{}),
	}
	if r.Protocol != nil {
		resp.protocolName = *r.Protocol
	}
	if r.RemoteIPAddress != nil {
		resp.remoteIP = *r.RemoteIPAddress
	}
	if r.RemotePort != nil {
		resp.remotePort = *r.RemotePort
	}
	if r.FromDiskCache != nil {
		resp.fromDiskCache = *r.FromDiskCache
	}
	if r.FromServiceWorker != nil {
		resp.fromServiceWorker = *r.FromServiceWorker
	}
	return resp
}

// URL returns the response URL.
func (r *Response) URL() string { return r.url }

// Status returns the HTTP status code, 0 for synthetic responses.
func (r *Response) Status() int { return r.status }

// StatusText returns the HTTP status text.
func (r *Response) StatusText() string { return r.statusText }

/// OK reports whether the response was successful: status 0 or 200-299.
func (r *Response) OK() bool {
	return r.status == 0 || (r.status >= 200 && r.status < 300)
}

// Headers returns the response headers.
func (r *Response) Headers() Header { return r.headers.clone() }

// MimeType returns the reported MIME type.
func (r *Response) MimeType() string { return r.mimeType }

// Protocol returns the protocol/version string (h2, http/1.1, ...).
func (r *Response) Protocol() string { return r.protocolName }

// RemoteAddress returns the remote IP and port the request connected to.
func (r *Response) RemoteAddress() (string, int) { return r.remoteIP, r.remotePort }

// FromDiskCache reports whether the response came from the disk cache.
func (r *Response) FromDiskCache() bool { return r.fromDiskCache }

// FromServiceWorker reports whether a service worker produced the response.
func (r *Response) FromServiceWorker() bool { return r.fromServiceWorker }

// EncodedDataLength returns the bytes received over the wire.
func (r *Response) EncodedDataLength() float64 { return r.encodedDataLength }

// Timing returns the protocol timing block, when present.
func (r *Response) Timing() *network.ResourceTiming { return r.timing }

// SecurityDetails returns the TLS details, when present.
func (r *Response) SecurityDetails() *network.SecurityDetails { return r.securityDetails }

// Request returns the owning request.
func (r *Response) Request() *Request { return r.req }

// resolveBody completes the body-load signal exactly once; later calls are
// ignored. A nil err means the body may now be fetched.
func (r *Response) resolveBody(err error) {
	r.loadOnce.Do(func() {
		r.bodyLoadErr = err
		close(r.bodyLoaded)
	})
}

// Body waits for loading to complete and returns the response body. The
// protocol fetch happens at most once; subsequent calls return the cached
// bytes.
func (r *Response) Body(ctx context.Context) ([]byte, error) {
	select {
	case <-r.bodyLoaded:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.bodyLoadErr != nil {
		return nil, r.bodyLoadErr
	}
	r.fetchOnce.Do(func() {
		r.body, r.bodyErr = r.mgr.fetchResponseBody(ctx, r.req.requestID)
	})
	return r.body, r.bodyErr
}

// Text returns the body as a string.
func (r *Response) Text(ctx context.Context) (string, error) {
	b, err := r.Body(ctx)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// JSON decodes the body into v.
func (r *Response) JSON(ctx context.Context, v any) error {
	b, err := r.Body(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (m *Manager) fetchResponseBody(ctx context.Context, id network.RequestID) ([]byte, error) {
	var reply struct {
		Body          string `json:"body"`
		Base64Encoded bool   `json:"base64Encoded"`
	}
	err := m.sender.Send(ctx, "Network.getResponseBody",
		network.GetResponseBodyArgs{RequestID: id}, &reply)
	if err != nil {
		return nil, err
	}
	if reply.Base64Encoded {
		return base64.StdEncoding.DecodeString(reply.Body)
	}
	return []byte(reply.Body), nil
}
