package handshake

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"testing"
	"time"

	"StarkSession/internal/api"
	xerrors "StarkSession/internal/errors"
	"StarkSession/internal/felt"
	"StarkSession/internal/keystore"
	"StarkSession/internal/policy"
	"StarkSession/internal/session"
)

// fakeClock advances its notion of now by the slept duration, so the
// polling loop can run through its budget instantly.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(d)
	return nil
}

// fakeLookup replays a scripted sequence of query outcomes.
type fakeLookup struct {
	results []lookupResult
	calls   int
}

type lookupResult struct {
	info *api.SessionInfo
	err  error
}

func (l *fakeLookup) QuerySessionInfo(ctx context.Context, keyGUID string) (*api.SessionInfo, error) {
	idx := l.calls
	l.calls++
	if idx >= len(l.results) {
		idx = len(l.results) - 1
	}
	r := l.results[idx]
	return r.info, r.err
}

func testPolicy() *policy.Document {
	return &policy.Document{Contracts: map[string]policy.Contract{
		"0x49d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7": {
			Name:    "ETH",
			Methods: []policy.Method{{Name: "Transfer", Entrypoint: "transfer"}},
		},
	}}
}

func testRequest(t *testing.T) *Request {
	t.Helper()
	req, err := BuildRequest("https://x.cartridge.gg", felt.FromUint64(42), testPolicy(), "https://rpc.example")
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}

func approvedInfo(expiresAt int64) *api.SessionInfo {
	return &api.SessionInfo{
		Authorization: []string{"0x1", "0x2", "0x3"},
		Address:       "0x1234",
		ChainID:       "0x534e5f5345504f4c4941",
		ExpiresAt:     expiresAt,
		Username:      "player1",
		OwnerSigner: api.SignerEnvelope{
			Kind: "starknet",
			Raw:  json.RawMessage(`{"type":"starknet","publicKey":"0x7"}`),
		},
	}
}

func newTestStore(t *testing.T) session.Store {
	t.Helper()
	store, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	return store
}

func TestBuildRequestURL(t *testing.T) {
	req := testRequest(t)

	parsed, err := url.Parse(req.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if parsed.Path != "/session" {
		t.Fatalf("unexpected path: %s", parsed.Path)
	}
	query := parsed.Query()
	if query.Get("public_key") != "0x2a" {
		t.Fatalf("unexpected public_key: %s", query.Get("public_key"))
	}
	if query.Get("rpc_url") != "https://rpc.example" {
		t.Fatalf("unexpected rpc_url: %s", query.Get("rpc_url"))
	}
	if query.Get("mode") != "cli" {
		t.Fatalf("unexpected mode: %s", query.Get("mode"))
	}

	decoded, err := policy.Decode(query.Get("policies"))
	if err != nil {
		t.Fatalf("decode policies param: %v", err)
	}
	if !decoded.Equal(testPolicy()) {
		t.Fatal("policies param should round trip the document")
	}

	if req.KeyGUID != keystore.KeyGUID(req.PublicKey) {
		t.Fatal("request guid should be derived from the public key")
	}
	if req.DisplayURL() != req.URL {
		t.Fatal("display url should fall back to the full url")
	}
	req.ShortURL = "https://short/x"
	if req.DisplayURL() != "https://short/x" {
		t.Fatal("display url should prefer the short link")
	}
}

func TestBuildRequestValidation(t *testing.T) {
	doc := testPolicy()
	if _, err := BuildRequest("https://x.cartridge.gg", felt.Zero, doc, "https://rpc.example"); err == nil {
		t.Fatal("expected zero public key to be rejected")
	}
	if _, err := BuildRequest("https://x.cartridge.gg", felt.FromUint64(1), nil, "https://rpc.example"); err == nil {
		t.Fatal("expected nil policy to be rejected")
	}
	if _, err := BuildRequest("https://x.cartridge.gg", felt.FromUint64(1), doc, " "); err == nil {
		t.Fatal("expected empty rpc url to be rejected")
	}
	if _, err := BuildRequest("not a url", felt.FromUint64(1), doc, "https://rpc.example"); err == nil {
		t.Fatal("expected invalid keychain url to be rejected")
	}
}

func TestAwaitImmediateApproval(t *testing.T) {
	store := newTestStore(t)
	expiresAt := time.Now().Add(time.Hour).Unix()
	lookup := &fakeLookup{results: []lookupResult{{info: approvedInfo(expiresAt)}}}
	clock := &fakeClock{now: time.Unix(1_000, 0)}

	h := New(lookup, store, WithClock(clock))
	req := testRequest(t)

	creds, err := h.Await(context.Background(), req)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if h.State() != StateAuthorized {
		t.Fatalf("expected authorized state, got %s", h.State())
	}
	if lookup.calls != 1 {
		t.Fatalf("expected a single query, got %d", lookup.calls)
	}
	if creds.AccountAddress != felt.FromUint64(0x1234) {
		t.Fatalf("unexpected account: %s", creds.AccountAddress.String())
	}
	if creds.ChainName() != "SN_SEPOLIA" {
		t.Fatalf("unexpected chain: %s", creds.ChainName())
	}
	if len(creds.Authorization) != 3 {
		t.Fatalf("unexpected authorization length: %d", len(creds.Authorization))
	}
	if creds.RPCURL != "https://rpc.example" {
		t.Fatalf("expected the request rpc url, got %s", creds.RPCURL)
	}
	if creds.OwnerSigner.Kind != session.SignerStarknet {
		t.Fatalf("unexpected signer kind: %s", creds.OwnerSigner.Kind)
	}
	if creds.PolicySnapshot == nil || !creds.PolicySnapshot.Equal(req.Policy) {
		t.Fatal("policy snapshot should mirror the request")
	}

	persisted, err := store.Load(context.Background(), req.KeyGUID.String())
	if err != nil {
		t.Fatalf("load persisted: %v", err)
	}
	if persisted == nil || persisted.ExpiresAt != expiresAt {
		t.Fatalf("credentials were not persisted: %+v", persisted)
	}
}

func TestAwaitPollsUntilApproved(t *testing.T) {
	store := newTestStore(t)
	lookup := &fakeLookup{results: []lookupResult{
		{},
		{},
		{info: approvedInfo(time.Now().Add(time.Hour).Unix())},
	}}
	clock := &fakeClock{now: time.Unix(1_000, 0)}

	h := New(lookup, store, WithClock(clock), WithPollInterval(time.Second), WithBudget(time.Minute))
	creds, err := h.Await(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if lookup.calls != 3 {
		t.Fatalf("expected 3 queries, got %d", lookup.calls)
	}
	if creds == nil || h.State() != StateAuthorized {
		t.Fatalf("expected authorization, state %s", h.State())
	}
}

func TestAwaitRetriesTransientErrors(t *testing.T) {
	store := newTestStore(t)
	lookup := &fakeLookup{results: []lookupResult{
		{err: fmt.Errorf("connection reset")},
		{info: approvedInfo(time.Now().Add(time.Hour).Unix())},
	}}
	clock := &fakeClock{now: time.Unix(1_000, 0)}

	h := New(lookup, store, WithClock(clock), WithPollInterval(time.Second), WithBudget(time.Minute))
	if _, err := h.Await(context.Background(), testRequest(t)); err != nil {
		t.Fatalf("transient lookup errors should not abort polling: %v", err)
	}
	if lookup.calls != 2 {
		t.Fatalf("expected 2 queries, got %d", lookup.calls)
	}
}

func TestAwaitTimesOut(t *testing.T) {
	store := newTestStore(t)
	lookup := &fakeLookup{results: []lookupResult{{}}}
	clock := &fakeClock{now: time.Unix(1_000, 0)}

	h := New(lookup, store, WithClock(clock), WithPollInterval(3*time.Second), WithBudget(10*time.Second))
	req := testRequest(t)

	_, err := h.Await(context.Background(), req)
	if xerrors.CodeOf(err) != xerrors.CodeCallbackTimeout {
		t.Fatalf("expected CALLBACK_TIMEOUT, got %v", err)
	}
	if h.State() != StateTimedOut {
		t.Fatalf("expected timed_out state, got %s", h.State())
	}
	if lookup.calls != 4 {
		t.Fatalf("expected 4 queries within the budget, got %d", lookup.calls)
	}

	// Nothing is persisted on timeout.
	persisted, err := store.Load(context.Background(), req.KeyGUID.String())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if persisted != nil {
		t.Fatal("timed out handshake must not leave credentials behind")
	}
}

func TestAwaitCancelled(t *testing.T) {
	store := newTestStore(t)
	lookup := &fakeLookup{results: []lookupResult{{err: fmt.Errorf("interrupted")}}}
	clock := &fakeClock{now: time.Unix(1_000, 0)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := New(lookup, store, WithClock(clock))
	_, err := h.Await(ctx, testRequest(t))
	if xerrors.CodeOf(err) != xerrors.CodeCallbackTimeout {
		t.Fatalf("expected CALLBACK_TIMEOUT on cancellation, got %v", err)
	}
	if h.State() != StateFailed {
		t.Fatalf("expected failed state, got %s", h.State())
	}
}

func TestAwaitRejectsUnknownSigner(t *testing.T) {
	store := newTestStore(t)
	info := approvedInfo(time.Now().Add(time.Hour).Unix())
	info.OwnerSigner = api.SignerEnvelope{Kind: "ledger", Raw: json.RawMessage(`{"type":"ledger"}`)}
	lookup := &fakeLookup{results: []lookupResult{{info: info}}}
	clock := &fakeClock{now: time.Unix(1_000, 0)}

	h := New(lookup, store, WithClock(clock))
	req := testRequest(t)

	_, err := h.Await(context.Background(), req)
	if xerrors.CodeOf(err) != xerrors.CodeLookupFailure {
		t.Fatalf("expected LOOKUP_FAILURE for unknown signer, got %v", err)
	}
	if h.State() != StateFailed {
		t.Fatalf("expected failed state, got %s", h.State())
	}
	persisted, _ := store.Load(context.Background(), req.KeyGUID.String())
	if persisted != nil {
		t.Fatal("failed handshake must not persist credentials")
	}
}

func TestAwaitRejectsInvalidExpiry(t *testing.T) {
	store := newTestStore(t)
	lookup := &fakeLookup{results: []lookupResult{{info: approvedInfo(0)}}}
	clock := &fakeClock{now: time.Unix(1_000, 0)}

	h := New(lookup, store, WithClock(clock))
	_, err := h.Await(context.Background(), testRequest(t))
	if xerrors.CodeOf(err) != xerrors.CodeLookupFailure {
		t.Fatalf("expected LOOKUP_FAILURE for invalid expiry, got %v", err)
	}
}

func TestAwaitMarksDivergedPolicy(t *testing.T) {
	store := newTestStore(t)
	info := approvedInfo(time.Now().Add(time.Hour).Unix())
	// The remote approved a different contract set than requested.
	info.Policies = json.RawMessage(`{"contracts":{"0x999":{"methods":[{"name":"Transfer","entrypoint":"transfer"}]}}}`)
	lookup := &fakeLookup{results: []lookupResult{{info: info}}}
	clock := &fakeClock{now: time.Unix(1_000, 0)}

	h := New(lookup, store, WithClock(clock))
	creds, err := h.Await(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if !creds.PolicyDiverged {
		t.Fatal("expected the divergence flag to be set")
	}
	if creds.AuthorizedPolicy == nil {
		t.Fatal("expected the authorized policy to be recorded")
	}
	if effective := creds.EffectivePolicy(); !effective.Equal(creds.AuthorizedPolicy) {
		t.Fatal("the effective policy should be the remotely approved one")
	}
}

func TestAwaitPrefersRemoteRPCURL(t *testing.T) {
	store := newTestStore(t)
	info := approvedInfo(time.Now().Add(time.Hour).Unix())
	info.RPCURL = "https://rpc.remote"
	lookup := &fakeLookup{results: []lookupResult{{info: info}}}
	clock := &fakeClock{now: time.Unix(1_000, 0)}

	h := New(lookup, store, WithClock(clock))
	creds, err := h.Await(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if creds.RPCURL != "https://rpc.remote" {
		t.Fatalf("expected the remote rpc url, got %s", creds.RPCURL)
	}
}
