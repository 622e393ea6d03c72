package observability

import (
	"net"
	"net/http"
	"strings"
)

// Client identifies the remote end of a request for connection logs.
type Client struct {
	DeviceID  string
	IP        string
	UserAgent string
}

func ClientFromRequest(r *http.Request) Client {
	return Client{
		DeviceID:  r.Header.Get("X-Device-Id"),
		IP:        IPFromRequest(r),
		UserAgent: r.UserAgent(),
	}
}

func IPFromRequest(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
