package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jeoparty/internal/apperr"
	"jeoparty/internal/config"
)

func TestRateLimitPerClient(t *testing.T) {
	s := New(config.APIConfig{}, nil, Deps{})
	h := s.rateLimit(2, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	hit := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/join/ABC123", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, hit("10.0.0.1:5000").Code)
	assert.Equal(t, http.StatusNoContent, hit("10.0.0.1:5001").Code)
	rec := hit("10.0.0.1:5002")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "too many requests")
	assert.Equal(t, http.StatusNoContent, hit("10.0.0.2:5000").Code, "limits are per client")
}

func TestForwardingHeadersNeedTrustedPeer(t *testing.T) {
	proxies := []netip.Prefix{netip.MustParsePrefix("10.1.0.0/16")}
	s := New(config.APIConfig{}, nil, Deps{})
	var seen []string
	h := trustedRealIP(proxies)(s.rateLimit(1, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, clientIP(r))
		w.WriteHeader(http.StatusNoContent)
	})))
	hit := func(remote, forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/join/ABC123", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", forwarded)
		req.Header.Set("X-Real-IP", forwarded)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, hit("203.0.113.9:4000", "198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, hit("203.0.113.9:4001", "198.51.100.2"), "rotating headers must not reset the limit")

	assert.Equal(t, http.StatusNoContent, hit("10.1.2.3:443", "198.51.100.7"))
	assert.Equal(t, http.StatusNoContent, hit("10.1.2.3:443", "198.51.100.8"))
	assert.Equal(t, http.StatusTooManyRequests, hit("10.1.2.3:443", "198.51.100.8"))

	assert.Equal(t, []string{"203.0.113.9", "198.51.100.7", "198.51.100.8"}, seen)
}

func TestTrustedPeer(t *testing.T) {
	proxies := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8"), netip.MustParsePrefix("::1/128")}
	assert.True(t, trusted(proxies, "10.9.8.7"))
	assert.True(t, trusted(proxies, "::ffff:10.0.0.1"))
	assert.True(t, trusted(proxies, "::1"))
	assert.False(t, trusted(proxies, "11.0.0.1"))
	assert.False(t, trusted(proxies, "not-an-ip"))
	assert.False(t, trusted(nil, "10.0.0.1"))
}

type recordingReporter struct {
	errs []error
}

func (r *recordingReporter) Report(_ *http.Request, err error) {
	r.errs = append(r.errs, err)
}

func TestWriteDomainError(t *testing.T) {
	rep := &recordingReporter{}
	s := New(config.APIConfig{}, nil, Deps{Reporter: rep})

	tests := []struct {
		err    error
		status int
	}{
		{apperr.Invalid("title", "is required"), http.StatusBadRequest},
		{apperr.ErrSuspended, http.StatusForbidden},
		{apperr.Limit("FREE plan allows at most 3 question banks"), http.StatusForbidden},
		{apperr.NotFound("bank"), http.StatusNotFound},
		{apperr.Conflict("team already judged"), http.StatusConflict},
		{apperr.ErrRateLimited, http.StatusTooManyRequests},
		{apperr.ErrUpstream, http.StatusBadGateway},
		{errors.New("pq: connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		rec := httptest.NewRecorder()
		s.writeDomainError(rec, httptest.NewRequest(http.MethodGet, "/v1/banks", nil), tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
	}

	require.Len(t, rep.errs, 1)
	rec := httptest.NewRecorder()
	s.writeDomainError(rec, httptest.NewRequest(http.MethodGet, "/v1/banks", nil), errors.New("secret detail"))
	assert.NotContains(t, rec.Body.String(), "secret detail")
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestRecovererReportsPanics(t *testing.T) {
	rep := &recordingReporter{}
	s := New(config.APIConfig{}, nil, Deps{Reporter: rep})

	h := s.recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/me", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Len(t, rep.errs, 1)
	assert.Contains(t, rep.errs[0].Error(), "boom")
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken(""))
}
