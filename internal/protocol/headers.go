package protocol

import (
	"errors"
	"strings"

	"github.com/mafredri/cdp/protocol/network"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DecodeHeaders 将 CDP 原始 JSON 头部解析为映射，键保持原始大小写
func DecodeHeaders(raw network.Headers) map[string]string {
	out := make(map[string]string)
	if len(raw) == 0 {
		return out
	}
	gjson.ParseBytes(raw).ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = value.String()
		return true
	})
	return out
}

// HeaderValue 大小写不敏感地读取单个头部值
func HeaderValue(raw network.Headers, name string) (string, bool) {
	var val string
	var found bool
	gjson.ParseBytes(raw).ForEach(func(key, value gjson.Result) bool {
		if strings.EqualFold(key.String(), name) {
			val = value.String()
			found = true
			return false
		}
		return true
	})
	return val, found
}

// BuildHeaders 将映射编码为 CDP 原始 JSON 头部，空头部名视为错误
func BuildHeaders(h map[string]string) (network.Headers, error) {
	out := []byte("{}")
	for k, v := range h {
		if k == "" {
			return nil, errors.New("header name must not be empty")
		}
		var err error
		out, err = sjson.SetBytes(out, escapePath(k), v)
		if err != nil {
			return nil, err
		}
	}
	return network.Headers(out), nil
}

// escapePath 转义 sjson 路径语法中的特殊字符，头部名按字面量处理
func escapePath(k string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)
	return r.Replace(k)
}

// ParseCookieHeader 解析 Cookie 请求头为名值映射
func ParseCookieHeader(s string) map[string]string {
	out := make(map[string]string)
	for _, p := range strings.Split(s, ";") {
		kv := strings.SplitN(strings.TrimSpace(p), "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}
