package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy decides which browser origins may open an inbox connection.
type OriginPolicy struct {
	allowed        map[string]bool
	allowLocalhost bool
}

// NewOriginPolicy accepts full URLs or bare origins; paths are ignored.
// Entries that are not absolute http(s) URLs are skipped with a warning.
func NewOriginPolicy(origins []string, allowLocalhost bool) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]bool, len(origins)), allowLocalhost: allowLocalhost}
	for _, raw := range origins {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		origin, ok := normalizeOrigin(raw)
		if !ok {
			slog.Warn("Ignoring invalid websocket origin", "origin", raw)
			continue
		}
		p.allowed[origin] = true
	}
	return p
}

// CheckOrigin has the signature centrifuge.WebsocketConfig expects. Requests
// without an Origin header come from non-browser clients and are allowed;
// their JWT still has to pass.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	raw := r.Header.Get("Origin")
	if raw == "" {
		return true
	}

	origin, ok := normalizeOrigin(raw)
	switch {
	case ok && p.allowed[origin]:
		return true
	case ok && p.allowLocalhost && isLocalhost(origin):
		return true
	}

	slog.Warn("WebSocket origin rejected", "origin", raw, "remote_addr", r.RemoteAddr)
	return false
}

// normalizeOrigin lowercases scheme and host and drops default ports, so
// "HTTPS://App.example.com:443/x" and "https://app.example.com" compare equal.
func normalizeOrigin(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	port := u.Port()
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host, true
}

func isLocalhost(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
