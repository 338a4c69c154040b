// Package oauthstate encodes the opaque state parameter round-tripped
// through every provider's OAuth redirect. The state is the only channel
// carrying the user's chosen root location across the redirect.
package oauthstate

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"

	infraerrors "github.com/filipjov/askoro/internal/pkg/errors"
)

// Payload is the decoded state contents.
type Payload struct {
	Nonce         string `json:"nonce"`
	RootFolderURL string `json:"rootFolderUrl"`
}

// NewNonce returns a random 16-byte hex nonce.
func NewNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", infraerrors.Newf(http.StatusInternalServerError, "NONCE_FAILED", "failed to generate nonce: %v", err)
	}
	return hex.EncodeToString(buf), nil
}

// Encode serializes the payload to URL-safe base64 JSON.
func Encode(p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", infraerrors.Newf(http.StatusInternalServerError, infraerrors.ReasonInvalidState, "failed to encode state: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode parses a state string. It fails with an INVALID_STATE error unless
// the decoded JSON carries both a string nonce and a string rootFolderUrl.
func Decode(state string) (Payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(state)
	if err != nil {
		// Tolerate padded input from providers that re-encode the value.
		raw, err = base64.URLEncoding.DecodeString(state)
	}
	if err != nil {
		return Payload{}, infraerrors.BadRequest(infraerrors.ReasonInvalidState, "invalid state parameter")
	}

	var probe struct {
		Nonce         *string `json:"nonce"`
		RootFolderURL *string `json:"rootFolderUrl"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.Nonce == nil || probe.RootFolderURL == nil {
		return Payload{}, infraerrors.BadRequest(infraerrors.ReasonInvalidState, "invalid state parameter")
	}
	return Payload{Nonce: *probe.Nonce, RootFolderURL: *probe.RootFolderURL}, nil
}
