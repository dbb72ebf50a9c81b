package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"
	SecurityContext        = "https://w3id.org/security/v1"
	PublicStream           = "https://www.w3.org/ns/activitystreams#Public"

	ContentType   = "application/activity+json"
	LDContentType = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
)

const (
	TypeFollow = "Follow"
	TypeAccept = "Accept"
	TypeReject = "Reject"
	TypeUndo   = "Undo"
	TypeCreate = "Create"
	TypeNote   = "Note"
	TypePerson = "Person"
)

var ErrObjectNotEmbedded = errors.New("activity object is a reference, not an embedded object")

// Activity is an ActivityStreams activity. Object is kept raw because it is
// either an IRI string or an embedded object depending on the activity type.
type Activity struct {
	Context   any             `json:"@context,omitempty"`
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type"`
	Actor     string          `json:"actor"`
	Published string          `json:"published,omitempty"`
	To        IRIs            `json:"to,omitempty"`
	Cc        IRIs            `json:"cc,omitempty"`
	Object    json.RawMessage `json:"object,omitempty"`
}

// NewActivity builds an activity wrapping object, which is marshalled as is.
func NewActivity(typ, id, actor string, object any) (*Activity, error) {
	raw, ok := object.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(object); err != nil {
			return nil, fmt.Errorf("marshal %s object: %w", typ, err)
		}
	}
	return &Activity{
		Context: ActivityStreamsContext,
		ID:      id,
		Type:    typ,
		Actor:   actor,
		Object:  raw,
	}, nil
}

// ObjectID returns the IRI of the object, whether it was sent as a bare
// string or as an embedded object with an id.
func (a *Activity) ObjectID() (string, error) {
	if len(a.Object) == 0 {
		return "", errors.New("activity has no object")
	}
	var id string
	if err := json.Unmarshal(a.Object, &id); err == nil {
		if id == "" {
			return "", errors.New("activity object is empty")
		}
		return id, nil
	}
	var ref struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(a.Object, &ref); err != nil {
		return "", fmt.Errorf("decode activity object: %w", err)
	}
	if ref.ID == "" {
		return "", errors.New("activity object has no id")
	}
	return ref.ID, nil
}

// EmbeddedActivity decodes the object as an activity, as carried by Undo,
// Accept and Reject.
func (a *Activity) EmbeddedActivity() (*Activity, error) {
	if len(a.Object) == 0 {
		return nil, errors.New("activity has no object")
	}
	var s string
	if json.Unmarshal(a.Object, &s) == nil {
		return nil, ErrObjectNotEmbedded
	}
	var inner Activity
	if err := json.Unmarshal(a.Object, &inner); err != nil {
		return nil, fmt.Errorf("decode embedded activity: %w", err)
	}
	return &inner, nil
}

// IRIs is an addressing list such as to or cc. It accepts a single IRI as
// well as an array and always encodes as an array.
type IRIs []string

func (l *IRIs) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*l = nil
		} else {
			*l = IRIs{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("addressing must be an IRI or a list of IRIs: %w", err)
	}
	*l = many
	return nil
}
