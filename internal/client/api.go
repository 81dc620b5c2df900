package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"forumdm/internal/protocol"
)

// API is the session-authenticated HTTP surface the controller reads from.
type API interface {
	Users(ctx context.Context) ([]protocol.UserEntry, error)
	History(ctx context.Context, counterpartID int64, offset int) ([]protocol.HistoryMessage, error)
	CurrentUser(ctx context.Context) (protocol.Identity, error)
	Logout(ctx context.Context) error
}

// HTTPAPI implements API against the server's /api routes, sending the
// session token as a bearer token.
type HTTPAPI struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewHTTPAPI returns an API for the server at baseURL. token may be empty
// until DevSession issues one.
func NewHTTPAPI(baseURL, token string) *HTTPAPI {
	return &HTTPAPI{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Users returns the caller's user list with presence, previews and unread counts.
func (a *HTTPAPI) Users(ctx context.Context) ([]protocol.UserEntry, error) {
	var out []protocol.UserEntry
	return out, a.call(ctx, http.MethodGet, "/api/chat/users", nil, nil, &out)
}

// History returns one newest-first page of the conversation with counterpartID.
func (a *HTTPAPI) History(ctx context.Context, counterpartID int64, offset int) ([]protocol.HistoryMessage, error) {
	q := url.Values{}
	q.Set("recipient_id", strconv.FormatInt(counterpartID, 10))
	q.Set("offset", strconv.Itoa(offset))

	var out []protocol.HistoryMessage
	return out, a.call(ctx, http.MethodGet, "/api/chat/messages", q, nil, &out)
}

// CurrentUser returns the identity the session token belongs to.
func (a *HTTPAPI) CurrentUser(ctx context.Context) (protocol.Identity, error) {
	var out protocol.Identity
	return out, a.call(ctx, http.MethodGet, "/api/current-user", nil, nil, &out)
}

// Logout ends the session on the server.
func (a *HTTPAPI) Logout(ctx context.Context) error {
	return a.call(ctx, http.MethodPost, "/api/logout", nil, nil, nil)
}

// DevSession provisions a user on a development server and adopts the
// issued token for later calls.
func (a *HTTPAPI) DevSession(ctx context.Context, req protocol.DevSessionRequest) (protocol.DevSessionResponse, error) {
	var out protocol.DevSessionResponse
	if err := a.call(ctx, http.MethodPost, "/api/dev/session", nil, req, &out); err != nil {
		return out, err
	}
	a.Token = out.Token
	return out, nil
}

func (a *HTTPAPI) call(ctx context.Context, method, path string, query url.Values, payload, dst any) error {
	u := a.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}

	res, err := a.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransportDropped, method, path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrTransportDropped, path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s %s: status %d: undecodable body: %w", method, path, res.StatusCode, err)
	}
	if env.Code != 0 {
		return errorForCode(env.Code, env.Message)
	}
	if dst == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("%s %s: decode data: %w", method, path, err)
	}
	return nil
}
