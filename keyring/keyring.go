// Package keyring hands out the signing capability of local profiles.
package keyring

import (
	"context"
	"crypto/rsa"
	"sync"

	"github.com/cvhariharan/sailboat/apperror"
	"github.com/cvhariharan/sailboat/models"
	"github.com/cvhariharan/sailboat/signature"
	"github.com/cvhariharan/sailboat/store"
)

type ProfileStore interface {
	GetProfile(ctx context.Context, id int64) (*store.Profile, error)
}

// Keyring loads profile keys from the store and keeps the parsed keys.
// Keypairs never change after a profile is created, so a cached key is
// never stale.
type Keyring struct {
	store  ProfileStore
	domain string
	keys   sync.Map // int64 -> *rsa.PrivateKey
}

func New(s ProfileStore, domain string) *Keyring {
	return &Keyring{store: s, domain: domain}
}

func (k *Keyring) Domain() string { return k.domain }

// CurrentProfile returns the capability to sign as profileID. It fails with
// NotFound when the profile does not exist.
func (k *Keyring) CurrentProfile(ctx context.Context, profileID int64) (*models.CurrentProfile, error) {
	if key, ok := k.keys.Load(profileID); ok {
		return k.capability(profileID, key.(*rsa.PrivateKey)), nil
	}

	p, err := k.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, apperror.Internal(err, "load profile %d", profileID)
	}
	if p == nil {
		return nil, apperror.NotFound("profile %d not found", profileID)
	}

	key, err := signature.ParsePrivateKey(p.PrivateKeyPEM)
	if err != nil {
		return nil, apperror.Internal(err, "parse private key of profile %d", profileID)
	}
	k.keys.Store(profileID, key)
	return k.capability(profileID, key), nil
}

func (k *Keyring) capability(profileID int64, key *rsa.PrivateKey) *models.CurrentProfile {
	return &models.CurrentProfile{ProfileID: profileID, Domain: k.domain, PrivateKey: key}
}

// PublicKeyPEM returns the PKIX encoded public half of the profile key.
func (k *Keyring) PublicKeyPEM(ctx context.Context, profileID int64) (string, error) {
	cp, err := k.CurrentProfile(ctx, profileID)
	if err != nil {
		return "", err
	}
	pemData, err := signature.EncodePublicKey(&cp.PrivateKey.PublicKey)
	if err != nil {
		return "", apperror.Internal(err, "encode public key of profile %d", profileID)
	}
	return pemData, nil
}

type ProfileCreator interface {
	CreateProfile(ctx context.Context, p *store.Profile) error
}

// CreateProfile generates the keypair of a new profile and stores it. The
// keypair never changes afterwards.
func CreateProfile(ctx context.Context, s ProfileCreator, p *store.Profile) error {
	if p.PreferredUsername == "" {
		return apperror.BadRequest("a profile needs a username")
	}
	key, err := signature.GenerateKey(signature.DefaultKeyBits)
	if err != nil {
		return apperror.Internal(err, "generate key for %s", p.PreferredUsername)
	}
	p.PrivateKeyPEM = signature.EncodePrivateKey(key)
	if err := s.CreateProfile(ctx, p); err != nil {
		return apperror.Internal(err, "create profile %s", p.PreferredUsername)
	}
	return nil
}
