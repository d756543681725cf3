package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"clinic-guards/middleware/session"
)

// upstreamAuth valida as credenciais no backend da clínica: POST /auth/login
// devolve um JWT e GET /auth/profile com esse JWT devolve o usuário.
// O JWT não sai do gateway; o cliente recebe só o token de sessão.
type upstreamAuth struct {
	base   *url.URL
	client *http.Client
}

func newUpstreamAuth(base *url.URL) *upstreamAuth {
	return &upstreamAuth{base: base, client: &http.Client{Timeout: 10 * time.Second}}
}

type loginReply struct {
	AccessToken string `json:"access_token"`
}

type profileReply struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (a *upstreamAuth) Authenticate(r *http.Request) (session.Identity, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		return session.Identity{}, session.ErrInvalidCredentials
	}

	var login loginReply
	if err := a.call(r.Context(), http.MethodPost, "/auth/login", "", body, &login); err != nil {
		return session.Identity{}, err
	}
	if login.AccessToken == "" {
		return session.Identity{}, session.ErrInvalidCredentials
	}

	var prof profileReply
	if err := a.call(r.Context(), http.MethodGet, "/auth/profile", login.AccessToken, nil, &prof); err != nil {
		return session.Identity{}, err
	}
	if prof.Username == "" {
		prof.Username = prof.UserID
	}
	return session.Identity{UserID: prof.UserID, Username: prof.Username, Role: prof.Role}, nil
}

func (a *upstreamAuth) call(ctx context.Context, method, path, bearer string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.base.JoinPath(path).String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return session.ErrInvalidCredentials
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("call %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
