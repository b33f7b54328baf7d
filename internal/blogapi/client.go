// Package blogapi is a thin client for a JSONPlaceholder-compatible posts API.
//
// Every call is a single attempt bound only by the caller's context. Failures
// are returned to the caller unchanged in kind: transport errors, non-2xx
// statuses (*StatusError) and decode errors.
package blogapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/starford/blogview/internal/apperr"
	"github.com/starford/blogview/internal/models"
)

// DefaultPageSize is the number of posts requested per page.
const DefaultPageSize = 10

// Client issues requests against the posts API.
type Client struct {
	baseURL  string
	pageSize int
	http     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithPageSize sets how many posts make up one page.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		pageSize: DefaultPageSize,
		http:     &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PageSize returns the configured page size.
func (c *Client) PageSize() int {
	return c.pageSize
}

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: request failed with status code %d", e.Method, e.Path, e.StatusCode)
}

// Is lets errors.Is(err, apperr.ErrNotFound) match 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == apperr.ErrNotFound && e.StatusCode == http.StatusNotFound
}

// FetchPosts returns the posts on the given 1-based page.
func (c *Client) FetchPosts(ctx context.Context, page int) ([]models.Post, error) {
	if page < 1 {
		return nil, fmt.Errorf("page %d: %w", page, apperr.ErrInvalidInput)
	}
	q := url.Values{}
	q.Set("_limit", strconv.Itoa(c.pageSize))
	q.Set("_page", strconv.Itoa(page))

	var posts []models.Post
	if err := c.do(ctx, http.MethodGet, "/posts", q, nil, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// FetchComments returns the comments attached to a post.
func (c *Client) FetchComments(ctx context.Context, postID int) ([]models.Comment, error) {
	q := url.Values{}
	q.Set("postId", strconv.Itoa(postID))

	var comments []models.Comment
	if err := c.do(ctx, http.MethodGet, "/comments", q, nil, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// DeletePost deletes a post by id.
func (c *Client) DeletePost(ctx context.Context, id int) error {
	return c.do(ctx, http.MethodDelete, "/posts/"+strconv.Itoa(id), nil, nil, nil)
}

// UpdatePost changes the title of a post and returns the API's view of it.
func (c *Client) UpdatePost(ctx context.Context, id int, title string) (models.Post, error) {
	body := map[string]string{"title": title}
	var post models.Post
	if err := c.do(ctx, http.MethodPatch, "/posts/"+strconv.Itoa(id), nil, body, &post); err != nil {
		return models.Post{}, err
	}
	return post, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("blogapi: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("blogapi: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("blogapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("blogapi: %s %s: empty response body", method, path)
		}
		return fmt.Errorf("blogapi: decode %s %s: %w", method, path, err)
	}
	return nil
}
