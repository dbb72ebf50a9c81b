package keyring

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvhariharan/sailboat/apperror"
	"github.com/cvhariharan/sailboat/signature"
	"github.com/cvhariharan/sailboat/store"
)

type fakeProfiles struct {
	profiles map[int64]*store.Profile
	calls    int
	err      error
}

func (f *fakeProfiles) GetProfile(_ context.Context, id int64) (*store.Profile, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.profiles[id], nil
}

func TestCurrentProfile(t *testing.T) {
	key, err := signature.GenerateKey(2048)
	require.NoError(t, err)
	profiles := &fakeProfiles{profiles: map[int64]*store.Profile{
		1: {ID: 1, PreferredUsername: "alice", PrivateKeyPEM: signature.EncodePrivateKey(key)},
		2: {ID: 2, PreferredUsername: "broken", PrivateKeyPEM: "garbage"},
	}}
	k := New(profiles, "example.com")
	ctx := context.Background()

	cp, err := k.CurrentProfile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cp.ProfileID)
	assert.Equal(t, "example.com", cp.Domain)
	assert.True(t, key.Equal(cp.PrivateKey))
	assert.Equal(t, "https://example.com/profiles/1", cp.ActorURL())
	assert.Equal(t, "https://example.com/profiles/1#main-key", cp.KeyID())

	_, err = k.CurrentProfile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, profiles.calls, "parsed keys are cached")

	_, err = k.CurrentProfile(ctx, 3)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))

	_, err = k.CurrentProfile(ctx, 2)
	assert.True(t, apperror.Is(err, apperror.KindInternal))

	pemData, err := k.PublicKeyPEM(ctx, 1)
	require.NoError(t, err)
	pub, err := signature.ParsePublicKey(pemData)
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(pub))
}

func TestCurrentProfileStoreError(t *testing.T) {
	k := New(&fakeProfiles{err: errors.New("disk full")}, "example.com")

	_, err := k.CurrentProfile(context.Background(), 1)
	assert.True(t, apperror.Is(err, apperror.KindInternal))
}

type createdProfiles struct {
	fakeProfiles
}

func (c *createdProfiles) CreateProfile(_ context.Context, p *store.Profile) error {
	p.ID = int64(len(c.profiles) + 1)
	c.profiles[p.ID] = p
	return nil
}

func TestCreateProfile(t *testing.T) {
	s := &createdProfiles{fakeProfiles{profiles: map[int64]*store.Profile{}}}
	ctx := context.Background()

	p := &store.Profile{PreferredUsername: "alice"}
	require.NoError(t, CreateProfile(ctx, s, p))
	assert.Equal(t, int64(1), p.ID)

	cp, err := New(s, "example.com").CurrentProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, signature.DefaultKeyBits, cp.PrivateKey.N.BitLen())

	err = CreateProfile(ctx, s, &store.Profile{})
	assert.True(t, apperror.Is(err, apperror.KindBadRequest))
}
