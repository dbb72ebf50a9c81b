package models

// WebFinger is an RFC 7033 JSON Resource Descriptor.
type WebFinger struct {
	Subject    string         `json:"subject,omitempty"`
	Aliases    []string       `json:"aliases,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Links      []Link         `json:"links,omitempty"`
}

type Link struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

// SelfLink returns the href of the ActivityPub actor link. Links typed as
// JSON-LD with the ActivityStreams profile are accepted when no
// application/activity+json link is present.
func (w *WebFinger) SelfLink() (string, bool) {
	var fallback string
	for _, l := range w.Links {
		if l.Rel != "self" || l.Href == "" {
			continue
		}
		switch l.Type {
		case ContentType:
			return l.Href, true
		case LDContentType:
			if fallback == "" {
				fallback = l.Href
			}
		}
	}
	return fallback, fallback != ""
}
