package realtimeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"devconnect/models"
)

// APIError is a non-2xx REST answer.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

type NotificationSnapshot struct {
	Notifications []models.Notification `json:"notifications"`
	Total         int64                 `json:"total"`
	Unread        int64                 `json:"unreadCount"`
}

type ConversationSnapshot struct {
	Conversations []models.Conversation `json:"conversations"`
	Degraded      bool                  `json:"degraded"`
}

// Fetcher loads REST snapshots used to (re)seed the local stores.
type Fetcher struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewFetcher(baseURL, token string, client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{baseURL: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

func (f *Fetcher) Notifications(ctx context.Context, page, limit int) (*NotificationSnapshot, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	var out NotificationSnapshot
	if err := f.do(ctx, http.MethodGet, "/api/notifications?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *Fetcher) MarkNotificationRead(ctx context.Context, id string) error {
	return f.do(ctx, http.MethodPatch, "/api/notifications/"+url.PathEscape(id)+"/read", nil)
}

func (f *Fetcher) Conversations(ctx context.Context) (*ConversationSnapshot, error) {
	var out ConversationSnapshot
	if err := f.do(ctx, http.MethodGet, "/api/conversations", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncInbox replaces inbox with the first notification page.
func (f *Fetcher) SyncInbox(ctx context.Context, inbox *Inbox, limit int) error {
	snap, err := f.Notifications(ctx, 1, limit)
	if err != nil {
		return err
	}
	inbox.Replace(snap.Notifications, snap.Unread)
	return nil
}

func (f *Fetcher) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
