package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"jeoparty/internal/account"
	"jeoparty/internal/admin"
	"jeoparty/internal/auth"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("api status %d: %s", e.Status, e.Message)
	if len(e.Fields) == 0 {
		return msg
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return msg + " (" + strings.Join(parts, "; ") + ")"
}

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", map[string]any{
		"email":    email,
		"password": password,
	}, &out)
	return out, err
}

type Me struct {
	Profile account.Profile `json:"profile"`
}

func (c *Client) Me(ctx context.Context) (Me, error) {
	var out Me
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/me", nil, &out)
	return out, err
}

type UserQuery struct {
	Query     string
	Tier      string
	Status    string
	Suspended *bool
	Limit     int
	Offset    int
}

func (c *Client) ListUsers(ctx context.Context, q UserQuery) (Page[account.Profile], error) {
	v := url.Values{}
	setIf(v, "q", q.Query)
	setIf(v, "tier", q.Tier)
	setIf(v, "status", q.Status)
	if q.Suspended != nil {
		v.Set("suspended", strconv.FormatBool(*q.Suspended))
	}
	setPage(v, q.Limit, q.Offset)
	var out Page[account.Profile]
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/admin/users"+encode(v), nil, &out)
	return out, err
}

func (c *Client) GetUser(ctx context.Context, id string) (admin.UserDetail, error) {
	var out admin.UserDetail
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/admin/users/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) Suspend(ctx context.Context, id, reason string) (account.Profile, error) {
	return c.profileAction(ctx, http.MethodPost, "/v1/admin/users/"+url.PathEscape(id)+"/suspend", admin.ReasonInput{Reason: reason})
}

func (c *Client) Unsuspend(ctx context.Context, id, reason string) (account.Profile, error) {
	return c.profileAction(ctx, http.MethodPost, "/v1/admin/users/"+url.PathEscape(id)+"/unsuspend", admin.ReasonInput{Reason: reason})
}

func (c *Client) Grant(ctx context.Context, id string, in admin.GrantInput) (account.Profile, error) {
	return c.profileAction(ctx, http.MethodPost, "/v1/admin/users/"+url.PathEscape(id)+"/grant", in)
}

func (c *Client) RevokeGrant(ctx context.Context, id, reason string) (account.Profile, error) {
	return c.profileAction(ctx, http.MethodDelete, "/v1/admin/users/"+url.PathEscape(id)+"/grant", admin.ReasonInput{Reason: reason})
}

func (c *Client) SetCustomPlan(ctx context.Context, id string, in admin.CustomPlanInput) (account.Profile, error) {
	return c.profileAction(ctx, http.MethodPut, "/v1/admin/users/"+url.PathEscape(id)+"/plan", in)
}

func (c *Client) ClearCustomPlan(ctx context.Context, id, reason string) (account.Profile, error) {
	return c.profileAction(ctx, http.MethodDelete, "/v1/admin/users/"+url.PathEscape(id)+"/plan", admin.ReasonInput{Reason: reason})
}

func (c *Client) profileAction(ctx context.Context, method, path string, in any) (account.Profile, error) {
	var out account.Profile
	err := c.jsonRequest(ctx, method, path, in, &out)
	return out, err
}

func (c *Client) Refund(ctx context.Context, in admin.RefundInput) (admin.Refund, error) {
	var out admin.Refund
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/refunds", in, &out)
	return out, err
}

func (c *Client) StartImpersonation(ctx context.Context, in admin.ImpersonationInput) (admin.Session, error) {
	var out struct {
		Session admin.Session `json:"session"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/impersonation", in, &out)
	return out.Session, err
}

// ActiveImpersonation returns nil when the admin has no open session.
func (c *Client) ActiveImpersonation(ctx context.Context) (*admin.Session, error) {
	var out struct {
		Session *admin.Session `json:"session"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/admin/impersonation", nil, &out)
	return out.Session, err
}

func (c *Client) EndImpersonation(ctx context.Context, sessionID string) (admin.EndImpersonationResult, error) {
	var out admin.EndImpersonationResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/impersonation/"+url.PathEscape(sessionID)+"/end", nil, &out)
	return out, err
}

type AuditQuery struct {
	AdminID      string
	TargetUserID string
	Action       string
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Offset       int
}

func (c *Client) Audit(ctx context.Context, q AuditQuery) (Page[admin.AuditEntry], error) {
	v := url.Values{}
	setIf(v, "admin_id", q.AdminID)
	setIf(v, "target_user_id", q.TargetUserID)
	setIf(v, "action", q.Action)
	if q.Since != nil {
		v.Set("since", q.Since.UTC().Format(time.RFC3339))
	}
	if q.Until != nil {
		v.Set("until", q.Until.UTC().Format(time.RFC3339))
	}
	setPage(v, q.Limit, q.Offset)
	var out Page[admin.AuditEntry]
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/admin/audit"+encode(v), nil, &out)
	return out, err
}

func setIf(v url.Values, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		v.Set(key, value)
	}
}

func setPage(v url.Values, limit, offset int) {
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		v.Set("offset", strconv.Itoa(offset))
	}
}

func encode(v url.Values) string {
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode}
		var eb struct {
			Error  string            `json:"error"`
			Fields map[string]string `json:"fields"`
		}
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			apiErr.Message = eb.Error
			apiErr.Fields = eb.Fields
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
