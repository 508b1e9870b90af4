// Package api implements the HTTP client for the session authorization
// backend. The lookup endpoint is a GraphQL query keyed by the session
// key GUID; a null session in the response means the owner has not
// approved yet, which callers treat as "keep polling".
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "StarkSession/internal/errors"
	"StarkSession/internal/felt"
)

// DefaultHTTPTimeout bounds a single lookup round trip. Polling loops
// issue many short requests rather than one long one.
const DefaultHTTPTimeout = 15 * time.Second

const sessionInfoQuery = `query SessionInfo($sessionKeyGuid: String!) {
    session(sessionKeyGuid: $sessionKeyGuid) {
        authorization
        address
        chainId
        expiresAt
        username
        rpcUrl
        authorizedPolicies {
            contracts
        }
        ownerSigner {
            type
            ... on StarknetSigner {
                publicKey
            }
            ... on WebauthnSigner {
                origin
                rpId
                publicKey
            }
        }
    }
}`

// Client wraps HTTP interactions with the authorization API.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient instantiates a client for the given API endpoint. When
// httpClient is nil, a default client with a sensible timeout is used.
func NewClient(endpoint string, httpClient *http.Client) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if trimmed == "" {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "api endpoint must not be empty")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "invalid api endpoint")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{endpoint: trimmed, httpClient: httpClient}, nil
}

// SignerEnvelope carries the owner signer exactly as reported by the
// backend. Only the discriminator is interpreted; the rest of the
// object is preserved verbatim for storage.
type SignerEnvelope struct {
	Kind string
	Raw  json.RawMessage
}

// UnmarshalJSON keeps the full object while extracting the type tag.
func (s *SignerEnvelope) UnmarshalJSON(data []byte) error {
	var peek struct {
		Kind string `json:"type"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return err
	}
	s.Kind = peek.Kind
	s.Raw = append(s.Raw[:0], data...)
	return nil
}

// MarshalJSON round-trips the stored raw object.
func (s SignerEnvelope) MarshalJSON() ([]byte, error) {
	if len(s.Raw) == 0 {
		return []byte("null"), nil
	}
	return s.Raw, nil
}

// SessionInfo is the backend's view of an approved session. Field
// values arrive as hex strings and are converted on demand.
type SessionInfo struct {
	Authorization []string        `json:"authorization"`
	Address       string          `json:"address"`
	ChainID       string          `json:"chainId"`
	ExpiresAt     int64           `json:"expiresAt"`
	Username      string          `json:"username"`
	RPCURL        string          `json:"rpcUrl"`
	Policies      json.RawMessage `json:"authorizedPolicies,omitempty"`
	OwnerSigner   SignerEnvelope  `json:"ownerSigner"`
}

// AuthorizationFelts converts the authorization signature to felts.
func (s *SessionInfo) AuthorizationFelts() ([]felt.Felt, error) {
	out := make([]felt.Felt, 0, len(s.Authorization))
	for _, raw := range s.Authorization {
		f, err := felt.Parse(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeLookupFailure, err, "invalid authorization element")
		}
		out = append(out, f)
	}
	return out, nil
}

// AddressFelt converts the account address to a felt.
func (s *SessionInfo) AddressFelt() (felt.Felt, error) {
	f, err := felt.Parse(s.Address)
	if err != nil {
		return felt.Felt{}, xerrors.Wrap(xerrors.CodeLookupFailure, err, "invalid account address")
	}
	return f, nil
}

// ChainIDFelt converts the chain identifier to a felt.
func (s *SessionInfo) ChainIDFelt() (felt.Felt, error) {
	f, err := felt.Parse(s.ChainID)
	if err != nil {
		return felt.Felt{}, xerrors.Wrap(xerrors.CodeLookupFailure, err, "invalid chain id")
	}
	return f, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

// QuerySessionInfo asks the backend whether the session identified by
// keyGUID has been approved. A (nil, nil) return means the approval is
// still pending; callers are expected to retry.
func (c *Client) QuerySessionInfo(ctx context.Context, keyGUID string) (*SessionInfo, error) {
	if strings.TrimSpace(keyGUID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "session key guid must not be empty")
	}

	var response struct {
		Data struct {
			Session *SessionInfo `json:"session"`
		} `json:"data"`
		Errors []graphQLError `json:"errors"`
	}
	request := graphQLRequest{
		Query:     sessionInfoQuery,
		Variables: map[string]any{"sessionKeyGuid": keyGUID},
	}
	if err := c.post(ctx, c.endpoint+"/graphql", request, &response); err != nil {
		return nil, err
	}
	if len(response.Errors) > 0 {
		messages := make([]string, 0, len(response.Errors))
		for _, gqlErr := range response.Errors {
			messages = append(messages, gqlErr.Message)
		}
		return nil, xerrors.Newf(xerrors.CodeLookupFailure, "graphql errors: %s", strings.Join(messages, ", "))
	}
	return response.Data.Session, nil
}

// ShortenURL asks the backend for a compact alias of longURL. The call
// is best effort: callers fall back to the full URL on any error.
func (c *Client) ShortenURL(ctx context.Context, longURL string) (string, error) {
	var response struct {
		ShortURL string `json:"short_url"`
	}
	request := map[string]string{"url": longURL}
	if err := c.post(ctx, c.endpoint+"/shorten", request, &response); err != nil {
		return "", err
	}
	if strings.TrimSpace(response.ShortURL) == "" {
		return "", xerrors.New(xerrors.CodeLookupFailure, "shortener returned an empty url")
	}
	return response.ShortURL, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeLookupFailure, err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeLookupFailure, err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeLookupFailure, err, "perform request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		message := strings.TrimSpace(string(data))
		if message == "" {
			message = resp.Status
		}
		return xerrors.Newf(xerrors.CodeLookupFailure, "api returned status %d: %s", resp.StatusCode, message)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeLookupFailure, err, "decode response")
	}
	return nil
}
