package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"notesync-go/internal/notesync"
)

const defaultTimeout = 30 * time.Second

// HTTPChannel is an EventChannel backed by a generic JSON calendar API.
// Every call is bounded by a per-call timeout, and wire-level failures are
// mapped onto the sentinel errors the engine classifies by.
type HTTPChannel struct {
	httpClient   *http.Client
	baseURL      string
	collectionID string
	creds        notesync.CredentialSource
	timeout      time.Duration
}

// NewHTTPChannel creates an event channel against the given API base URL.
// A nil httpClient falls back to http.DefaultClient; a zero timeout falls
// back to 30 seconds.
func NewHTTPChannel(httpClient *http.Client, baseURL, collectionID string, creds notesync.CredentialSource, timeout time.Duration) *HTTPChannel {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPChannel{
		httpClient:   httpClient,
		baseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		collectionID: collectionID,
		creds:        creds,
		timeout:      timeout,
	}
}

// wireItem is the JSON representation of an event on the wire. Times are
// RFC 3339 strings; absent means unset.
type wireItem struct {
	ID           string `json:"id,omitempty"`
	CollectionID string `json:"collection_id,omitempty"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Location     string `json:"location,omitempty"`
	Start        string `json:"start,omitempty"`
	End          string `json:"end,omitempty"`
	Completed    bool   `json:"completed"`
}

type changesResponse struct {
	Items      []wireItem `json:"items"`
	Checkpoint string     `json:"checkpoint"`
}

type createResponse struct {
	ID string `json:"id"`
}

// ListChanged queries GET /changes with the checkpoint, or with the window
// bounds when the checkpoint is zero.
func (c *HTTPChannel) ListChanged(ctx context.Context, cp notesync.Checkpoint, window notesync.Window) (*notesync.ChangeList, error) {
	q := url.Values{}
	q.Set("collection", c.collectionID)
	if cp.IsZero() {
		q.Set("from", window.Start.UTC().Format(time.RFC3339))
		q.Set("to", window.End.UTC().Format(time.RFC3339))
	} else {
		q.Set("checkpoint", cp.Token)
	}

	var out changesResponse
	if err := c.do(ctx, http.MethodGet, "/changes?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("listing changes: %w", err)
	}

	list := &notesync.ChangeList{Next: notesync.Checkpoint{Token: out.Checkpoint}}
	for _, w := range out.Items {
		item, err := itemFromWire(w)
		if err != nil {
			// One bad item must not sink the batch: it is skipped but recorded
			// so the caller can surface it.
			list.Malformed = append(list.Malformed, err)
			continue
		}
		list.Items = append(list.Items, item)
	}
	return list, nil
}

// Create posts a new event and returns the id the service assigned.
func (c *HTTPChannel) Create(ctx context.Context, item notesync.RemoteItem) (string, error) {
	w := wireFromItem(item)
	if w.CollectionID == "" {
		w.CollectionID = c.collectionID
	}

	var out createResponse
	if err := c.do(ctx, http.MethodPost, "/items", w, &out); err != nil {
		return "", fmt.Errorf("creating item: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("creating item: service returned no id")
	}
	return out.ID, nil
}

// Update replaces an existing event's content.
func (c *HTTPChannel) Update(ctx context.Context, remoteID string, item notesync.RemoteItem) error {
	w := wireFromItem(item)
	if err := c.do(ctx, http.MethodPut, "/items/"+url.PathEscape(remoteID), w, nil); err != nil {
		return fmt.Errorf("updating item %s: %w", remoteID, err)
	}
	return nil
}

// Delete removes an event.
func (c *HTTPChannel) Delete(ctx context.Context, remoteID string) error {
	if err := c.do(ctx, http.MethodDelete, "/items/"+url.PathEscape(remoteID), nil, nil); err != nil {
		return fmt.Errorf("deleting item %s: %w", remoteID, err)
	}
	return nil
}

func (c *HTTPChannel) do(ctx context.Context, method, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.creds.BearerToken(ctx)
	if err != nil {
		return fmt.Errorf("fetching credential: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("request timed out: %w", notesync.ErrNetwork)
		}
		return fmt.Errorf("%v: %w", err, notesync.ErrNetwork)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return notesync.ErrUnauthorized
	case http.StatusNotFound:
		return notesync.ErrRemoteNotFound
	case http.StatusGone:
		return notesync.ErrCheckpointInvalid
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("status %d: %w", resp.StatusCode, notesync.ErrNetwork)
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func wireFromItem(item notesync.RemoteItem) wireItem {
	w := wireItem{
		ID:           item.RemoteID,
		CollectionID: item.CollectionID,
		Title:        item.Title,
		Description:  item.Description,
		Location:     item.Location,
		Completed:    item.Completed,
	}
	if item.StartTime != nil {
		w.Start = item.StartTime.UTC().Format(time.RFC3339)
	}
	if item.EndTime != nil {
		w.End = item.EndTime.UTC().Format(time.RFC3339)
	}
	return w
}

func itemFromWire(w wireItem) (notesync.RemoteItem, error) {
	item := notesync.RemoteItem{
		RemoteID:     w.ID,
		CollectionID: w.CollectionID,
		Title:        w.Title,
		Description:  w.Description,
		Location:     w.Location,
		Completed:    w.Completed,
	}
	if w.ID == "" {
		return item, &notesync.MalformedItemError{RemoteID: w.ID, Reason: "missing id"}
	}
	if w.Start != "" {
		t, err := time.Parse(time.RFC3339, w.Start)
		if err != nil {
			return item, &notesync.MalformedItemError{RemoteID: w.ID, Reason: "bad start time: " + err.Error()}
		}
		item.StartTime = &t
	}
	if w.End != "" {
		t, err := time.Parse(time.RFC3339, w.End)
		if err != nil {
			return item, &notesync.MalformedItemError{RemoteID: w.ID, Reason: "bad end time: " + err.Error()}
		}
		item.EndTime = &t
	}
	return item, nil
}

// Compile-time check that HTTPChannel implements the EventChannel interface
var _ notesync.EventChannel = (*HTTPChannel)(nil)
