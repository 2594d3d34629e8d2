// Package api is the synchronous client for the collection server: remote
// deletions, the paginated status listings and the reachability probe.
// Uploads do not go through here; they run on transport sessions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/common"
)

var (
	ErrUnavailable      = errors.New("server unavailable")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// maxPages bounds a listing walk in case the server loops its next links.
const maxPages = 1000

// Client talks to one API base URL.
type Client struct {
	baseURL  string
	thingURL string
	videoURL string
	http     *http.Client
}

// NewClient returns a client for the given endpoints. A nil httpClient uses
// one with a 30 second timeout.
func NewClient(baseURL, thingURL, videoURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, thingURL: thingURL, videoURL: videoURL, http: httpClient}
}

// RemoteThing is one entry of the thing listing.
type RemoteThing struct {
	ID               int64  `json:"id"`
	LabelParticipant string `json:"label_participant"`
	LabelValidated   string `json:"label_validated"`
}

// RemoteVideo is one entry of the video listing.
type RemoteVideo struct {
	ID        int64  `json:"id"`
	Thing     int64  `json:"thing"`
	Technique string `json:"technique"`
}

type page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// Ping probes the base URL. Any HTTP answer means the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	_ = resp.Body.Close()
	return nil
}

// Delete removes a remote resource. A 404 means it is already gone and
// counts as success.
func (c *Client) Delete(ctx context.Context, credential, locator string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, locator, nil)
	if err != nil {
		return err
	}
	req.Header.Set(common.AuthorizationHeaderName, credential)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return mapStatus(resp.StatusCode)
	}
}

// ListThings walks every page of the participant's things.
func (c *Client) ListThings(ctx context.Context, credential string) ([]RemoteThing, error) {
	return list[RemoteThing](ctx, c, credential, c.thingURL)
}

// ListVideos walks every page of the participant's videos.
func (c *Client) ListVideos(ctx context.Context, credential string) ([]RemoteVideo, error) {
	return list[RemoteVideo](ctx, c, credential, c.videoURL)
}

func list[T any](ctx context.Context, c *Client, credential, url string) ([]T, error) {
	var out []T
	next := url
	for i := 0; next != "" && i < maxPages; i++ {
		var p page[T]
		if err := c.getJSON(ctx, credential, next, &p); err != nil {
			return nil, err
		}
		out = append(out, p.Results...)

		next = ""
		if p.Next != nil {
			next = *p.Next
		}
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, credential, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set(common.AuthorizationHeaderName, credential)
	req.Header.Set("Accept", common.JSONContentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return mapStatus(resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func mapStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusServiceUnavailable || code == http.StatusBadGateway || code == http.StatusGatewayTimeout:
		return ErrUnavailable
	default:
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, code)
	}
}
