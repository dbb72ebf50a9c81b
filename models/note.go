package models

import (
	"encoding/json"
	"fmt"
)

type Note struct {
	Context      any      `json:"@context,omitempty"`
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	URL          string   `json:"url"`
	Summary      *string  `json:"summary"`
	Published    string   `json:"published,omitempty"`
	AttributedTo string   `json:"attributedTo"`
	To           IRIs     `json:"to"`
	Cc           IRIs     `json:"cc"`
	Sensitive    bool     `json:"sensitive"`
	Content      string   `json:"content"`
	Tag          []string `json:"tag"`
}

// OrderedCollection is the summary document of a paged collection.
type OrderedCollection struct {
	Context      any       `json:"@context,omitempty"`
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	TotalItems   int       `json:"totalItems"`
	First        *PageLink `json:"first,omitempty"`
	Last         *PageLink `json:"last,omitempty"`
	OrderedItems []string  `json:"orderedItems,omitempty"`
}

type OrderedCollectionPage struct {
	Context      any        `json:"@context,omitempty"`
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	PartOf       string     `json:"partOf"`
	TotalItems   int        `json:"totalItems"`
	Next         *PageLink  `json:"next,omitempty"`
	Prev         *PageLink  `json:"prev,omitempty"`
	OrderedItems []Activity `json:"orderedItems"`
}

// PageLink points at a collection page. Remote servers send either the
// page IRI or the page itself embedded; Page is set only in the latter case.
type PageLink struct {
	ID   string
	Page *OrderedCollectionPage
}

// LinkTo returns a PageLink holding only the IRI of a page.
func LinkTo(id string) *PageLink { return &PageLink{ID: id} }

func (l PageLink) MarshalJSON() ([]byte, error) {
	if l.Page != nil {
		return json.Marshal(l.Page)
	}
	return json.Marshal(l.ID)
}

func (l *PageLink) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*l = PageLink{ID: id}
		return nil
	}
	var page OrderedCollectionPage
	if err := json.Unmarshal(data, &page); err != nil {
		return fmt.Errorf("page must be an IRI or an embedded page: %w", err)
	}
	*l = PageLink{ID: page.ID, Page: &page}
	return nil
}
