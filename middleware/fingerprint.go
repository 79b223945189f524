package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/gatekeeper"
)

// FingerprintFunc resolves the device fingerprint of a request.
type FingerprintFunc func(*http.Request) gatekeeper.Fingerprint

// DefaultFingerprint uses the first X-Forwarded-For hop (or the remote address)
// and a coarse browser/OS classification of the User-Agent. Only deploy it
// behind a proxy that overwrites X-Forwarded-For.
func DefaultFingerprint(r *http.Request) gatekeeper.Fingerprint {
	ua := r.UserAgent()
	return gatekeeper.Fingerprint{
		IP:      clientIP(r),
		Browser: browserOf(ua),
		OS:      osOf(ua),
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Order matters: Edge and Opera UAs also contain "Chrome", Chrome UAs contain "Safari".
var browsers = []struct{ token, name string }{
	{"Edg/", "Edge"},
	{"OPR/", "Opera"},
	{"Firefox/", "Firefox"},
	{"Chrome/", "Chrome"},
	{"Safari/", "Safari"},
}

var systems = []struct{ token, name string }{
	{"Android", "Android"},
	{"iPhone", "iOS"},
	{"iPad", "iOS"},
	{"Windows", "Windows"},
	{"Mac OS X", "macOS"},
	{"Linux", "Linux"},
}

func browserOf(ua string) string {
	for _, b := range browsers {
		if strings.Contains(ua, b.token) {
			return b.name
		}
	}
	if ua == "" {
		return ""
	}
	return "Other"
}

func osOf(ua string) string {
	for _, s := range systems {
		if strings.Contains(ua, s.token) {
			return s.name
		}
	}
	if ua == "" {
		return ""
	}
	return "Other"
}
