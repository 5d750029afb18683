package api

import (
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"jeoparty/internal/apperr"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

// rateLimit allows limit requests per window for each client address.
func (s *Server) rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return clientIP(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if w.Header().Get("Retry-After") == "" {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			}
			s.writeDomainError(w, r, fmt.Errorf("%w: too many requests, slow down", apperr.ErrRateLimited))
		}),
	)
}

// trustedRealIP applies the forwarding headers only when the direct peer is a
// configured proxy. Anyone else keeps the socket address.
func trustedRealIP(proxies []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		forwarded := middleware.RealIP(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if trusted(proxies, clientIP(r)) {
				forwarded.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func trusted(proxies []netip.Prefix, host string) bool {
	if len(proxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
