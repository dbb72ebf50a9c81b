package inbox

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cvhariharan/sailboat/activity"
	"github.com/cvhariharan/sailboat/apperror"
	"github.com/cvhariharan/sailboat/keyring"
	"github.com/cvhariharan/sailboat/models"
	"github.com/cvhariharan/sailboat/signature"
	"github.com/cvhariharan/sailboat/store"
)

const (
	bobID      = "https://remote.example/users/bob"
	bobInbox   = "https://remote.example/users/bob/inbox"
	aliceID    = "https://example.com/profiles/1"
	aliceInbox = "https://example.com/profiles/1/inbox"

	followBody = `{"type":"Follow","actor":"https://remote.example/users/bob","object":"https://example.com/profiles/1"}`
)

var (
	keyOnce          sync.Once
	aliceKey, bobKey *rsa.PrivateKey
	testDate         = time.Date(2024, 3, 5, 14, 3, 9, 0, time.UTC)
)

func keys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		if aliceKey, err = signature.GenerateKey(2048); err != nil {
			panic(err)
		}
		if bobKey, err = signature.GenerateKey(2048); err != nil {
			panic(err)
		}
	})
	return aliceKey, bobKey
}

type fakeResolver struct {
	mu      sync.Mutex
	actors  map[string]*models.Actor
	err     error
	fetches int
	forgot  []string
}

func (f *fakeResolver) GetActor(_ context.Context, uri string, as *models.CurrentProfile) (*models.Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	if as == nil {
		return nil, apperror.Internal(nil, "unsigned fetch")
	}
	a, ok := f.actors[uri]
	if !ok {
		return nil, apperror.BadGateway(nil, "fetch %s: 404", uri)
	}
	return a, nil
}

func (f *fakeResolver) Forget(uri string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgot = append(f.forgot, uri)
}

type delivery struct {
	as    *models.CurrentProfile
	inbox string
	body  []byte
	kind  string
}

type fakeSender struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (f *fakeSender) Deliver(as *models.CurrentProfile, inbox string, body []byte, kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, delivery{as, inbox, body, kind})
}

type fixture struct {
	store    *store.SQLiteStore
	resolver *fakeResolver
	sender   *fakeSender
	handler  *Handler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	alice, bob := keys(t)
	ctx := context.Background()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sailboat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.CreateProfile(ctx, &store.Profile{
		PreferredUsername: "alice",
		PrivateKeyPEM:     signature.EncodePrivateKey(alice),
	}))

	bobPEM, err := signature.EncodePublicKey(&bob.PublicKey)
	require.NoError(t, err)
	f := &fixture{
		store: s,
		resolver: &fakeResolver{actors: map[string]*models.Actor{
			bobID: {
				ID:                bobID,
				Type:              models.TypePerson,
				PreferredUsername: "bob",
				Inbox:             bobInbox,
				PublicKey:         models.PublicKey{ID: bobID + "#main-key", Owner: bobID, PublicKeyPem: bobPEM},
			},
		}},
		sender: &fakeSender{},
	}
	opts = append([]Option{WithClock(func() time.Time { return testDate })}, opts...)
	f.handler = New(s, keyring.New(s, "example.com"), f.resolver, f.sender,
		activity.NewBuilder("example.com"), zap.NewNop(), opts...)
	return f
}

// signed builds an inbox request signed with key under bob's key id.
func signed(t *testing.T, key *rsa.PrivateKey, target, body string, date time.Time) *http.Request {
	t.Helper()
	return signedAs(t, key, bobID+"#main-key", target, body, date)
}

func signedAs(t *testing.T, key *rsa.PrivateKey, keyID, target, body string, date time.Time) *http.Request {
	t.Helper()
	u, err := url.Parse(target)
	require.NoError(t, err)
	digest := signature.Digest([]byte(body))
	header, err := signature.Sign(http.MethodPost, u, date, key, keyID, digest)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	r.Header.Set("Date", signature.FormatDate(date))
	r.Header.Set(signature.DigestHeader, digest)
	r.Header.Set(signature.HeaderName, header)
	return r
}

func (f *fixture) post(t *testing.T, body string, owner int64) error {
	t.Helper()
	_, bob := keys(t)
	return f.handler.Handle(context.Background(), signed(t, bob, aliceInbox, body, testDate), []byte(body), owner)
}

func (f *fixture) followers(t *testing.T) []string {
	t.Helper()
	actors, err := f.store.ListFollowers(context.Background(), 1)
	require.NoError(t, err)
	ids := make([]string, 0, len(actors))
	for _, a := range actors {
		ids = append(ids, a.ActorID)
	}
	return ids
}

func TestFollow(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.post(t, followBody, 1))
	assert.Equal(t, []string{bobID}, f.followers(t))

	known, err := f.store.GetKnownActor(context.Background(), bobID)
	require.NoError(t, err)
	require.NotNil(t, known)
	assert.Equal(t, bobInbox, known.Inbox)

	require.Len(t, f.sender.deliveries, 1)
	d := f.sender.deliveries[0]
	assert.Equal(t, bobInbox, d.inbox)
	assert.Equal(t, "accept", d.kind)
	assert.Equal(t, int64(1), d.as.ProfileID)

	var accept models.Activity
	require.NoError(t, json.Unmarshal(d.body, &accept))
	assert.Equal(t, models.TypeAccept, accept.Type)
	assert.Equal(t, aliceID, accept.Actor)
	assert.JSONEq(t, followBody, string(accept.Object))
}

func TestFollowIsIdempotent(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.post(t, followBody, 1))
	require.NoError(t, f.post(t, followBody, 1))
	assert.Equal(t, []string{bobID}, f.followers(t))
}

func TestFollowAddressedToSingleIRI(t *testing.T) {
	f := newFixture(t)

	body := `{"type":"Follow","actor":"https://remote.example/users/bob","object":"https://example.com/profiles/1","to":"https://example.com/profiles/1"}`
	require.NoError(t, f.post(t, body, 1))
	assert.Equal(t, []string{bobID}, f.followers(t))
}

func TestSharedInboxFollow(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.post(t, followBody, 0))
	assert.Equal(t, []string{bobID}, f.followers(t))
}

func TestUndoFollow(t *testing.T) {
	f := newFixture(t)
	undo := `{"type":"Undo","actor":"https://remote.example/users/bob","object":` + followBody + `}`

	require.NoError(t, f.post(t, followBody, 1))
	require.NoError(t, f.post(t, undo, 1))
	assert.Empty(t, f.followers(t))

	// Undoing an edge that no longer exists succeeds and changes nothing.
	require.NoError(t, f.post(t, undo, 1))
	assert.Empty(t, f.followers(t))
	assert.Len(t, f.sender.deliveries, 1, "undo is not answered")
}

func TestUndoLeavesOtherEdges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertKnownActor(ctx, &store.KnownActor{
		ActorID: "https://other.example/users/carol",
		Inbox:   "https://other.example/users/carol/inbox",
	}))
	_, err := f.store.AddFollower(ctx, 1, "https://other.example/users/carol")
	require.NoError(t, err)

	undo := `{"type":"Undo","actor":"https://remote.example/users/bob","object":` + followBody + `}`
	require.NoError(t, f.post(t, undo, 1))
	assert.Equal(t, []string{"https://other.example/users/carol"}, f.followers(t))
}

func TestUndoByAnotherActor(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.post(t, followBody, 1))

	undo := `{"type":"Undo","actor":"https://remote.example/users/bob","object":` +
		`{"type":"Follow","actor":"https://other.example/users/carol","object":"https://example.com/profiles/1"}}`
	err := f.post(t, undo, 1)
	assert.True(t, apperror.Is(err, apperror.KindBadRequest))
	assert.Equal(t, []string{bobID}, f.followers(t))
}

func TestBadRequests(t *testing.T) {
	tests := map[string]struct {
		body  string
		owner int64
	}{
		"malformed json":  {`{"type":`, 1},
		"no actor":        {`{"type":"Follow","object":"https://example.com/profiles/1"}`, 1},
		"no object":       {`{"type":"Follow","actor":"https://remote.example/users/bob"}`, 1},
		"remote object":   {`{"type":"Follow","actor":"https://remote.example/users/bob","object":"https://remote.example/users/carol"}`, 1},
		"not a profile":   {`{"type":"Follow","actor":"https://remote.example/users/bob","object":"https://example.com/posts/1"}`, 1},
		"unknown profile": {`{"type":"Follow","actor":"https://remote.example/users/bob","object":"https://example.com/profiles/99"}`, 0},
		"other inbox":     {followBody, 2},
		"undo bad object": {`{"type":"Undo","actor":"https://remote.example/users/bob","object":{"type":"Follow","actor":"https://remote.example/users/bob"}}`, 1},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			err := f.post(t, tt.body, tt.owner)
			assert.True(t, apperror.Is(err, apperror.KindBadRequest), err)
			assert.Empty(t, f.followers(t))
			assert.Empty(t, f.sender.deliveries)
		})
	}
}

func TestRemoteActorFailure(t *testing.T) {
	f := newFixture(t)
	f.resolver.err = apperror.BadGateway(nil, "remote.example is down")

	err := f.post(t, followBody, 1)
	assert.True(t, apperror.Is(err, apperror.KindBadGateway))
	assert.Empty(t, f.followers(t))
	assert.Empty(t, f.sender.deliveries)
}

func TestIgnoredActivities(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{
		`{"type":"Create","actor":"https://remote.example/users/bob","object":{"type":"Note","content":"hi"}}`,
		`{"type":"Undo","actor":"https://remote.example/users/bob","object":{"type":"Like","actor":"https://remote.example/users/bob","object":"https://example.com/posts/1"}}`,
		`{"type":"Undo","actor":"https://remote.example/users/bob","object":"https://remote.example/follows/1"}`,
	} {
		require.NoError(t, f.post(t, body, 1), body)
	}
	assert.Zero(t, f.resolver.fetches)
}

func TestSignatureEnforced(t *testing.T) {
	alice, bob := keys(t)
	ctx := context.Background()

	t.Run("unsigned", func(t *testing.T) {
		f := newFixture(t)
		r := httptest.NewRequest(http.MethodPost, aliceInbox, strings.NewReader(followBody))
		err := f.handler.Handle(ctx, r, []byte(followBody), 1)
		assert.True(t, apperror.Is(err, apperror.KindUnauthorized))
		assert.Zero(t, f.resolver.fetches)
	})

	t.Run("wrong key", func(t *testing.T) {
		f := newFixture(t)
		err := f.handler.Handle(ctx, signed(t, alice, aliceInbox, followBody, testDate), []byte(followBody), 1)
		assert.True(t, apperror.Is(err, apperror.KindUnauthorized))
		assert.Empty(t, f.followers(t))
		assert.Equal(t, []string{bobID}, f.resolver.forgot)
	})

	t.Run("stale date", func(t *testing.T) {
		f := newFixture(t)
		old := testDate.Add(-13 * time.Hour)
		err := f.handler.Handle(ctx, signed(t, bob, aliceInbox, followBody, old), []byte(followBody), 1)
		assert.True(t, apperror.Is(err, apperror.KindUnauthorized))
		assert.Zero(t, f.resolver.fetches)
	})

	t.Run("junk signature", func(t *testing.T) {
		f := newFixture(t)
		r := signed(t, bob, aliceInbox, followBody, testDate)
		r.Header.Set(signature.HeaderName, "garbage")
		err := f.handler.Handle(ctx, r, []byte(followBody), 1)
		assert.True(t, apperror.Is(err, apperror.KindUnauthorized))
		assert.Zero(t, f.resolver.fetches)
	})

	t.Run("key on another host", func(t *testing.T) {
		f := newFixture(t)
		r := signedAs(t, bob, "https://evil.example/keys/1", aliceInbox, followBody, testDate)
		err := f.handler.Handle(ctx, r, []byte(followBody), 1)
		assert.True(t, apperror.Is(err, apperror.KindUnauthorized))
		assert.Zero(t, f.resolver.fetches)
	})

	t.Run("tampered body", func(t *testing.T) {
		f := newFixture(t)
		tampered := strings.Replace(followBody, `"Follow"`, `"Follow" `, 1)
		require.NotEqual(t, followBody, tampered)
		err := f.handler.Handle(ctx, signed(t, bob, aliceInbox, followBody, testDate), []byte(tampered), 1)
		assert.True(t, apperror.Is(err, apperror.KindUnauthorized), err)
		assert.Contains(t, err.Error(), "digest")
		assert.Zero(t, f.resolver.fetches)
	})

	t.Run("different key id", func(t *testing.T) {
		f := newFixture(t)
		f.resolver.actors[bobID].PublicKey.ID = bobID + "#other-key"
		err := f.handler.Handle(ctx, signed(t, bob, aliceInbox, followBody, testDate), []byte(followBody), 1)
		assert.True(t, apperror.Is(err, apperror.KindUnauthorized))
	})
}

func TestSignatureModes(t *testing.T) {
	alice, _ := keys(t)
	ctx := context.Background()

	f := newFixture(t, WithVerifyMode(VerifyLog))
	require.NoError(t, f.handler.Handle(ctx, signed(t, alice, aliceInbox, followBody, testDate), []byte(followBody), 1))
	assert.Equal(t, []string{bobID}, f.followers(t))

	f = newFixture(t, WithVerifyMode(VerifyOff))
	r := httptest.NewRequest(http.MethodPost, aliceInbox, strings.NewReader(followBody))
	require.NoError(t, f.handler.Handle(ctx, r, []byte(followBody), 1))
	assert.Equal(t, []string{bobID}, f.followers(t))
}

func TestParseVerifyMode(t *testing.T) {
	for in, want := range map[string]VerifyMode{"": VerifyEnforce, "Enforce": VerifyEnforce, "log": VerifyLog, " off ": VerifyOff} {
		got, err := ParseVerifyMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseVerifyMode("strict")
	assert.Error(t, err)
}

func TestAcceptAndReject(t *testing.T) {
	ctx := context.Background()
	const followID = "https://example.com/profiles/1#follows/abc"
	embedded := `{"id":"` + followID + `","type":"Follow","actor":"https://example.com/profiles/1","object":"https://remote.example/users/bob"}`

	f := newFixture(t)
	require.NoError(t, f.store.AddFollowing(ctx, &store.Following{ProfileID: 1, ActorID: bobID, FollowID: followID}))

	// An answer to some other follow is ignored.
	other := `{"type":"Accept","actor":"https://remote.example/users/bob","object":"https://example.com/profiles/1#follows/zzz"}`
	require.NoError(t, f.post(t, other, 1))
	following, err := f.store.GetFollowing(ctx, 1, bobID)
	require.NoError(t, err)
	assert.False(t, following.Accepted)

	require.NoError(t, f.post(t, `{"type":"Accept","actor":"https://remote.example/users/bob","object":`+embedded+`}`, 1))
	following, err = f.store.GetFollowing(ctx, 1, bobID)
	require.NoError(t, err)
	assert.True(t, following.Accepted)

	require.NoError(t, f.post(t, `{"type":"Reject","actor":"https://remote.example/users/bob","object":"`+followID+`"}`, 0))
	following, err = f.store.GetFollowing(ctx, 1, bobID)
	require.NoError(t, err)
	assert.Nil(t, following)
}
