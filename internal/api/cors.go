package api

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// The agent serves a browser-based editor: localhost dev origins and the
// hosted editor's per-org subdomains are allowed, nothing else.
const (
	editorDomain      = ".app.cutroom.co"
	editorLocalDomain = ".app.cutroom.local"
)

var corsAllowHeaders = strings.Join([]string{
	"Range",
	"Content-Type",
	"Authorization",
	"X-Cutroom-Request-Id",
	"X-Cutroom-Device-Id",
}, ", ")

var corsExposeHeaders = strings.Join([]string{
	"Content-Range",
	"Accept-Ranges",
	"Content-Length",
	"Content-Type",
	"Content-Disposition",
}, ", ")

const corsAllowMethods = "GET, HEAD, POST, OPTIONS"

func CORSAllowlist() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !isAllowedOrigin(origin) {
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Expose-Headers", corsExposeHeaders)

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
				w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LoopbackGuard rejects requests that did not originate on this machine. The
// agent binds to 127.0.0.1, but the guard also covers misconfigured proxies.
func LoopbackGuard() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemoteAddr(r.RemoteAddr) {
				WriteError(w, http.StatusForbidden, "loopback connections only", "FORBIDDEN")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isAllowedOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Path != "" || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return false
	}
	if port := u.Port(); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return false
		}
	}

	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" {
		return true
	}

	for _, domain := range []string{editorDomain, editorLocalDomain} {
		if !strings.HasSuffix(host, domain) {
			continue
		}
		sub := strings.TrimSuffix(host, domain)
		if isValidSubdomainLabel(sub) {
			return true
		}
	}
	return false
}

// isValidSubdomainLabel accepts a single DNS label: letters, digits and
// interior hyphens only.
func isValidSubdomainLabel(label string) bool {
	if label == "" || strings.Contains(label, ".") {
		return false
	}
	if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
		return false
	}
	for _, c := range label {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return false
		}
	}
	return true
}

func isLoopbackRemoteAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		// Bare address without a port.
		host = strings.Trim(addr, "[]")
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
