// Package client is the Go API client for the arvon broker. It is used
// by the CLI and is importable by services that consume credentials.
package client

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

type Option func(*Client)

// WithAuthToken sets the session token sent with every request.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = token
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type urlBuilder struct {
	base   string
	path   string
	params url.Values
}

func (c *Client) url() *urlBuilder {
	return &urlBuilder{base: c.baseURL, params: url.Values{}}
}

func (b *urlBuilder) setPath(path string) *urlBuilder {
	b.path = path
	return b
}

// setPathParam substitutes a {name} segment in the route pattern.
func (b *urlBuilder) setPathParam(name, value string) *urlBuilder {
	b.path = strings.ReplaceAll(b.path, "{"+name+"}", url.PathEscape(value))
	return b
}

func (b *urlBuilder) addQueryParam(name string, value any) *urlBuilder {
	b.params.Add(name, toString(value))
	return b
}

func (b *urlBuilder) build() string {
	u := b.base + b.path
	if len(b.params) > 0 {
		u += "?" + b.params.Encode()
	}
	return u
}
