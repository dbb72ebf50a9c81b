package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectID(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"iri", `{"type":"Follow","object":"https://example.com/profiles/1"}`, "https://example.com/profiles/1", false},
		{"embedded", `{"type":"Undo","object":{"id":"https://remote.example/f/1","type":"Follow"}}`, "https://remote.example/f/1", false},
		{"missing", `{"type":"Follow"}`, "", true},
		{"embedded without id", `{"type":"Undo","object":{"type":"Follow"}}`, "", true},
		{"empty string", `{"type":"Follow","object":""}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a Activity
			require.NoError(t, json.Unmarshal([]byte(tt.body), &a))

			got, err := a.ObjectID()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmbeddedActivity(t *testing.T) {
	body := `{"type":"Undo","actor":"https://remote.example/users/bob",
		"object":{"type":"Follow","actor":"https://remote.example/users/bob","object":"https://example.com/profiles/1"}}`

	var a Activity
	require.NoError(t, json.Unmarshal([]byte(body), &a))

	inner, err := a.EmbeddedActivity()
	require.NoError(t, err)
	assert.Equal(t, TypeFollow, inner.Type)
	assert.Equal(t, "https://remote.example/users/bob", inner.Actor)

	target, err := inner.ObjectID()
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/profiles/1", target)

	ref := Activity{Type: TypeUndo, Object: json.RawMessage(`"https://remote.example/f/1"`)}
	_, err = ref.EmbeddedActivity()
	assert.ErrorIs(t, err, ErrObjectNotEmbedded)
}

func TestNewActivityKeepsRawObject(t *testing.T) {
	follow := json.RawMessage(`{"type":"Follow","id":"https://remote.example/f/1"}`)

	a, err := NewActivity(TypeAccept, "https://example.com/profiles/1#accepts/1", "https://example.com/profiles/1", follow)
	require.NoError(t, err)

	out, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "https://example.com/profiles/1#accepts/1",
		"type": "Accept",
		"actor": "https://example.com/profiles/1",
		"object": {"type":"Follow","id":"https://remote.example/f/1"}
	}`, string(out))
}

func TestSelfLink(t *testing.T) {
	wf := WebFinger{Links: []Link{
		{Rel: "http://webfinger.net/rel/profile-page", Type: "text/html", Href: "https://remote.example/@bob"},
		{Rel: "self", Type: LDContentType, Href: "https://remote.example/ld/bob"},
		{Rel: "self", Type: ContentType, Href: "https://remote.example/users/bob"},
	}}

	href, ok := wf.SelfLink()
	assert.True(t, ok)
	assert.Equal(t, "https://remote.example/users/bob", href)

	wf.Links = wf.Links[:2]
	href, ok = wf.SelfLink()
	assert.True(t, ok)
	assert.Equal(t, "https://remote.example/ld/bob", href)

	wf.Links = wf.Links[:1]
	_, ok = wf.SelfLink()
	assert.False(t, ok)
}

func TestAddressingAcceptsSingleIRI(t *testing.T) {
	var a Activity
	require.NoError(t, json.Unmarshal([]byte(`{"type":"Follow","actor":"https://remote.example/users/bob","to":"https://example.com/profiles/1","cc":["`+PublicStream+`"]}`), &a))
	assert.Equal(t, IRIs{"https://example.com/profiles/1"}, a.To)
	assert.Equal(t, IRIs{PublicStream}, a.Cc)

	out, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"to":["https://example.com/profiles/1"]`)

	assert.Error(t, json.Unmarshal([]byte(`{"to":42}`), &a))
}

func TestPageLink(t *testing.T) {
	var c OrderedCollection
	require.NoError(t, json.Unmarshal([]byte(`{"id":"https://remote.example/outbox","type":"OrderedCollection",
		"first":{"id":"https://remote.example/outbox?page=true","type":"OrderedCollectionPage","orderedItems":[]},
		"last":"https://remote.example/outbox?min_id=0&page=true"}`), &c))
	require.NotNil(t, c.First)
	assert.Equal(t, "https://remote.example/outbox?page=true", c.First.ID)
	require.NotNil(t, c.First.Page)
	assert.Equal(t, "OrderedCollectionPage", c.First.Page.Type)
	require.NotNil(t, c.Last)
	assert.Equal(t, "https://remote.example/outbox?min_id=0&page=true", c.Last.ID)
	assert.Nil(t, c.Last.Page)

	out, err := json.Marshal(OrderedCollection{ID: "x", First: LinkTo("x?page=1")})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"first":"x?page=1"`)
	assert.NotContains(t, string(out), `"last"`)
}
