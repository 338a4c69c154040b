package testutil

import (
	"time"

	"github.com/filipjov/askoro/internal/service"
)

// NewTestConnection builds a usable connection fixture; defaults can be
// overridden through opts.
func NewTestConnection(opts ...func(*service.Connection)) *service.Connection {
	conn := &service.Connection{
		ID:       "conn-fixture",
		UserID:   "user-1",
		Provider: service.ProviderGitHub,
		Auth: &service.ConnectionAuth{
			RootFolderURL: "https://github.com/acme/docs",
		},
		CreatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(conn)
	}
	return conn
}

// WithProvider overrides the fixture's provider.
func WithProvider(p service.Provider) func(*service.Connection) {
	return func(c *service.Connection) { c.Provider = p }
}

// WithRootFolderURL overrides the fixture's root locator.
func WithRootFolderURL(u string) func(*service.Connection) {
	return func(c *service.Connection) {
		if c.Auth == nil {
			c.Auth = &service.ConnectionAuth{}
		}
		c.Auth.RootFolderURL = u
	}
}

// WithTokens sets the fixture's stored token blob.
func WithTokens(tokens any) func(*service.Connection) {
	return func(c *service.Connection) {
		raw, err := service.EncodeTokens(tokens)
		if err != nil {
			panic(err)
		}
		if c.Auth == nil {
			c.Auth = &service.ConnectionAuth{}
		}
		c.Auth.Tokens = raw
	}
}
