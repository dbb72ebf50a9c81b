package models

import "errors"

type Actor struct {
	Context           any        `json:"@context,omitempty"`
	ID                string     `json:"id"`
	Type              string     `json:"type"`
	URL               string     `json:"url,omitempty"`
	Name              string     `json:"name,omitempty"`
	PreferredUsername string     `json:"preferredUsername"`
	Summary           string     `json:"summary,omitempty"`
	Inbox             string     `json:"inbox"`
	Outbox            string     `json:"outbox,omitempty"`
	Followers         string     `json:"followers,omitempty"`
	Following         string     `json:"following,omitempty"`
	Endpoints         *Endpoints `json:"endpoints,omitempty"`
	PublicKey         PublicKey  `json:"publicKey"`
	Icon              *Icon      `json:"icon,omitempty"`
}

type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

type Endpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

type Icon struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url"`
}

// Validate checks the fields federation depends on. A remote document
// missing any of them cannot be followed or delivered to.
func (a *Actor) Validate() error {
	switch {
	case a.ID == "":
		return errors.New("actor has no id")
	case a.Inbox == "":
		return errors.New("actor has no inbox")
	}
	return nil
}
