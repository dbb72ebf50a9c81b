package models

import (
	"crypto/rsa"
	"fmt"
)

// CurrentProfile is the capability to act as a local profile: everything
// needed to sign outgoing requests on its behalf.
type CurrentProfile struct {
	ProfileID  int64
	Domain     string
	PrivateKey *rsa.PrivateKey
}

func (p *CurrentProfile) ActorURL() string { return ProfileURL(p.Domain, p.ProfileID) }

func (p *CurrentProfile) KeyID() string { return KeyID(p.Domain, p.ProfileID) }

func ProfileURL(domain string, profileID int64) string {
	return fmt.Sprintf("https://%s/profiles/%d", domain, profileID)
}

func KeyID(domain string, profileID int64) string {
	return ProfileURL(domain, profileID) + "#main-key"
}

func InboxURL(domain string, profileID int64) string {
	return ProfileURL(domain, profileID) + "/inbox"
}

func OutboxURL(domain string, profileID int64) string {
	return ProfileURL(domain, profileID) + "/outbox"
}

func OutboxPageURL(domain string, profileID int64, page int) string {
	return fmt.Sprintf("%s?page=%d", OutboxURL(domain, profileID), page)
}

func FollowersURL(domain string, profileID int64) string {
	return ProfileURL(domain, profileID) + "/followers"
}

func FollowingURL(domain string, profileID int64) string {
	return ProfileURL(domain, profileID) + "/following"
}

func SharedInboxURL(domain string) string {
	return fmt.Sprintf("https://%s/inbox", domain)
}

func PostURL(domain string, postID int64) string {
	return fmt.Sprintf("https://%s/posts/%d", domain, postID)
}
