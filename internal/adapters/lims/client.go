// Package lims is a REST client for the sequencing facility's LIMS.
package lims

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "strings"
    "time"

    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/ports"
)

type Client struct {
    baseURL    string
    token      string
    httpClient *http.Client
}

var (
    _ ports.Lims   = (*Client)(nil)
    _ ports.Opener = (*Client)(nil)
)

func New(baseURL, token string, timeout time.Duration) *Client {
    if timeout <= 0 { timeout = time.Minute }
    return &Client{
        baseURL:    strings.TrimRight(baseURL, "/"),
        token:      token,
        httpClient: &http.Client{Timeout: timeout},
    }
}

func (c *Client) newRequest(ctx context.Context, rawurl string) (*http.Request, error) {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
    if err != nil { return nil, fmt.Errorf("create request: %w", err) }
    if c.token != "" { req.Header.Set("Authorization", "Token "+c.token) }
    req.Header.Set("Accept", "application/json")
    return req, nil
}

// do performs the request, mapping transport failures and 5xx responses to
// ErrLimsUnavailable and 404 to ErrNotFound.
func (c *Client) do(req *http.Request) (*http.Response, error) {
    resp, err := c.httpClient.Do(req)
    if err != nil { return nil, fmt.Errorf("%w: %v", domain.ErrLimsUnavailable, err) }
    if resp.StatusCode == http.StatusOK { return resp, nil }
    defer resp.Body.Close()
    body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
    switch {
    case resp.StatusCode == http.StatusNotFound:
        return nil, fmt.Errorf("%s: %w", req.URL.Path, domain.ErrNotFound)
    case resp.StatusCode >= 500:
        return nil, fmt.Errorf("%w: %s - %s", domain.ErrLimsUnavailable, resp.Status, strings.TrimSpace(string(body)))
    }
    return nil, fmt.Errorf("lims error: %s - %s", resp.Status, strings.TrimSpace(string(body)))
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
    u := c.baseURL + path
    if len(query) > 0 { u += "?" + query.Encode() }
    req, err := c.newRequest(ctx, u)
    if err != nil { return err }
    resp, err := c.do(req)
    if err != nil { return err }
    defer resp.Body.Close()
    if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
        return fmt.Errorf("decode %s: %w", path, err)
    }
    return nil
}

func (c *Client) RecentRuns(ctx context.Context, since time.Time) ([]domain.LimsRun, error) {
    q := url.Values{}
    if !since.IsZero() { q.Set("completed_since", since.UTC().Format(time.RFC3339)) }
    var runs []domain.LimsRun
    if err := c.getJSON(ctx, "/runs", q, &runs); err != nil { return nil, err }
    return runs, nil
}

func (c *Client) RunInfo(ctx context.Context, runID string) (domain.LimsRun, error) {
    var run domain.LimsRun
    err := c.getJSON(ctx, "/runs/"+url.PathEscape(runID), nil, &run)
    return run, err
}

// Open streams a LIMS-hosted file. Relative URLs are resolved against the
// base URL.
func (c *Client) Open(ctx context.Context, rawurl string) (io.ReadCloser, error) {
    if !strings.Contains(rawurl, "://") { rawurl = c.baseURL + "/" + strings.TrimLeft(rawurl, "/") }
    req, err := c.newRequest(ctx, rawurl)
    if err != nil { return nil, err }
    req.Header.Set("Accept", "application/octet-stream")
    resp, err := c.do(req)
    if err != nil { return nil, err }
    return resp.Body, nil
}
