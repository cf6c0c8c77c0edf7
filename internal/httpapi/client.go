package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultAddr is where a daemon with default config listens.
const DefaultAddr = "http://127.0.0.1:32456"

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: %s (status %d)", e.Message, e.Status)
}

var ErrNoMatch = errors.New("no mascot matched")

// Client talks to a running daemon.
type Client struct {
	base  string
	token string
	http  *http.Client
}

func NewClient(base, token string) *Client {
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	u := c.base + prefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("api: malformed response: %w", err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/ping", nil, nil, nil)
}

// List returns the live mascots selector matches, oldest first.
func (c *Client) List(ctx context.Context, selector string) ([]Mascot, error) {
	var q url.Values
	if selector != "" {
		q = url.Values{"selector": {selector}}
	}
	var out struct {
		Mascots []Mascot `json:"mascots"`
	}
	err := c.do(ctx, http.MethodGet, "/mascots", q, nil, &out)
	return out.Mascots, err
}

func (c *Client) Get(ctx context.Context, id int64) (*Mascot, error) {
	var out struct {
		Mascot *Mascot `json:"mascot"`
	}
	err := c.do(ctx, http.MethodGet, "/mascots/"+strconv.FormatInt(id, 10), nil, nil, &out)
	return out.Mascot, err
}

func (c *Client) Spawn(ctx context.Context, req SpawnRequest) (*Mascot, error) {
	var out struct {
		Mascot *Mascot `json:"mascot"`
	}
	err := c.do(ctx, http.MethodPost, "/mascots", nil, req, &out)
	return out.Mascot, err
}

func (c *Client) Alter(ctx context.Context, id int64, p Patch) (*Mascot, error) {
	var out struct {
		Mascot *Mascot `json:"mascot"`
	}
	err := c.do(ctx, http.MethodPut, "/mascots/"+strconv.FormatInt(id, 10), nil, p, &out)
	return out.Mascot, err
}

func (c *Client) Dismiss(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/mascots/"+strconv.FormatInt(id, 10), nil, nil, nil)
}

// DismissAll marks every mascot selector matches and returns how many.
func (c *Client) DismissAll(ctx context.Context, selector string) (int, error) {
	var out struct {
		Marked int `json:"marked"`
	}
	err := c.do(ctx, http.MethodDelete, "/mascots", nil, deleteRequest{Selector: selector}, &out)
	return out.Marked, err
}

func (c *Client) Loaded(ctx context.Context) ([]LoadedMascot, error) {
	var out struct {
		Loaded []LoadedMascot `json:"loaded_mascots"`
	}
	err := c.do(ctx, http.MethodGet, "/loadedMascots", nil, nil, &out)
	return out.Loaded, err
}

// ResolveID turns a command-line id into a mascot id. A number is taken as
// is; "oldest", "newest" and "random" pick from the mascots the first
// matching selector returns.
func (c *Client) ResolveID(ctx context.Context, id string, selectors []string) (int64, error) {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		if len(selectors) > 0 {
			return 0, errors.New("a numeric id can't be combined with a selector")
		}
		if n < 0 {
			return 0, errors.New("id must be greater than or equal to 0")
		}
		return n, nil
	}
	var pick func([]Mascot) Mascot
	switch id {
	case "oldest":
		pick = func(ms []Mascot) Mascot { return ms[0] }
	case "newest":
		pick = func(ms []Mascot) Mascot { return ms[len(ms)-1] }
	case "random":
		pick = func(ms []Mascot) Mascot { return ms[rand.Intn(len(ms))] }
	default:
		return 0, fmt.Errorf("invalid id %q, expected a number, oldest, newest or random", id)
	}
	if len(selectors) == 0 {
		selectors = []string{""}
	}
	for _, sel := range selectors {
		ms, err := c.List(ctx, sel)
		if err != nil {
			return 0, err
		}
		if len(ms) > 0 {
			return pick(ms).ID, nil
		}
	}
	return 0, ErrNoMatch
}
