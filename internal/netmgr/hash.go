package netmgr

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	"github.com/mafredri/cdp/protocol/network"

	"cdpdrive/internal/protocol"
)

// Headers that browsers rewrite between requestWillBeSent and
// requestIntercepted; they must not contribute to the correlation hash.
var volatileHeaders = map[string]struct{}{
	"accept":       {},
	"referer":      {},
	"x-devtools-emulate-network-conditions-client-id": {},
	"cookie":       {},
	"origin":       {},
	"content-type": {},
	"intervention": {},
}

// interceptionHash computes the legacy-mode correlation key for a request.
// The same logical request seen through Network.requestWillBeSent and
// Network.requestIntercepted must hash identically, so the URL is
// percent-decoded (falling back to the raw URL), and headers are filtered,
// lower-cased and sorted before hashing.
func interceptionHash(req network.Request) string {
	u := req.URL
	if dec, err := url.QueryUnescape(u); err == nil {
		u = dec
	}

	var b strings.Builder
	b.WriteString(u)
	b.WriteByte(0)
	b.WriteString(req.Method)
	b.WriteByte(0)
	if req.PostData != nil {
		b.WriteString(*req.PostData)
	}
	b.WriteByte(0)

	headers := protocol.DecodeHeaders(req.Headers)
	keys := make([]string, 0, len(headers))
	lowered := make(map[string]string, len(headers))
	for k, v := range headers {
		lk := strings.ToLower(k)
		if _, skip := volatileHeaders[lk]; skip {
			continue
		}
		if _, dup := lowered[lk]; !dup {
			keys = append(keys, lk)
		}
		lowered[lk] = v
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(lowered[k])
		b.WriteByte(0)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
