package repo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type mockResult struct {
	records []*neo4j.Record
	idx     int
}

func (m *mockResult) Next(context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record { return m.records[m.idx-1] }

type mockRunner struct {
	records []*neo4j.Record
	err     error
	cyphers []string
	params  []map[string]any
	closed  int
}

func (m *mockRunner) Run(_ context.Context, cypher string, params map[string]any) (Result, error) {
	m.cyphers = append(m.cyphers, cypher)
	m.params = append(m.params, params)
	if m.err != nil {
		return nil, m.err
	}
	return &mockResult{records: m.records}, nil
}

func (m *mockRunner) Close(context.Context) error { m.closed++; return nil }

type speaker struct {
	ID   string
	Name string
}

var speakerSchema = Schema[speaker]{
	Label:  "Speaker",
	Encode: func(s speaker) map[string]any { return map[string]any{"id": s.ID, "name": s.Name} },
	Decode: func(p map[string]any) (speaker, error) {
		id, _ := p["id"].(string)
		name, _ := p["name"].(string)
		if id == "" {
			return speaker{}, errors.New("no id")
		}
		return speaker{ID: id, Name: name}, nil
	},
}

func node(id, name string) *neo4j.Record {
	return &neo4j.Record{Keys: []string{"n"}, Values: []any{neo4j.Node{Props: map[string]any{"id": id, "name": name}}}}
}

func newTestRepo(m *mockRunner) *Neo4jRepo[speaker, string] {
	return NewNeo4jRepo[speaker, string](nil, speakerSchema, WithSessions(func(context.Context) Runner { return m }))
}

func TestSchemaKeyDefaults(t *testing.T) {
	r := NewNeo4jRepo[speaker, string](nil, speakerSchema, WithDatabase("voice"))
	if r.schema.Key != "id" {
		t.Fatalf("key = %q", r.schema.Key)
	}
}

func TestGet(t *testing.T) {
	m := &mockRunner{records: []*neo4j.Record{node("1", "ada")}}
	got, err := newTestRepo(m).Get(context.Background(), "1")
	if err != nil || got.Name != "ada" {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	if m.cyphers[0] != "MATCH (n:Speaker {id: $id}) RETURN n LIMIT 1" || m.closed != 1 {
		t.Fatalf("cypher = %q closed = %d", m.cyphers[0], m.closed)
	}

	if _, err := newTestRepo(&mockRunner{}).Get(context.Background(), "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDecodeAcceptsMapsAndRejectsScalars(t *testing.T) {
	r := newTestRepo(&mockRunner{})
	if s, err := r.decode(&neo4j.Record{Values: []any{map[string]any{"id": "2"}}}); err != nil || s.ID != "2" {
		t.Fatalf("map column: %+v, %v", s, err)
	}
	for _, rec := range []*neo4j.Record{{}, {Values: []any{42}}, {Values: []any{map[string]any{}}}} {
		if _, err := r.decode(rec); err == nil {
			t.Errorf("decode(%v) should fail", rec.Values)
		}
	}
}

func TestList(t *testing.T) {
	cases := []struct {
		opts  ListOpts
		query string
		limit int
	}{
		{ListOpts{}, "MATCH (n:Speaker) RETURN n SKIP $offset LIMIT $limit", 100},
		{ListOpts{Limit: 5, OrderBy: "name"}, "MATCH (n:Speaker) RETURN n ORDER BY n.name SKIP $offset LIMIT $limit", 5},
		{ListOpts{Limit: 5, OrderBy: "-created_at"}, "MATCH (n:Speaker) RETURN n ORDER BY n.created_at DESC SKIP $offset LIMIT $limit", 5},
	}
	for _, c := range cases {
		m := &mockRunner{records: []*neo4j.Record{node("1", "a"), node("2", "b")}}
		items, err := newTestRepo(m).List(context.Background(), c.opts)
		if err != nil || len(items) != 2 {
			t.Fatalf("List(%+v) = %v, %v", c.opts, items, err)
		}
		if m.cyphers[0] != c.query || m.params[0]["limit"] != c.limit {
			t.Errorf("List(%+v): %q %v", c.opts, m.cyphers[0], m.params[0])
		}
	}

	m := &mockRunner{}
	if _, err := newTestRepo(m).List(context.Background(), ListOpts{OrderBy: "name; DROP"}); err == nil || len(m.cyphers) != 0 {
		t.Fatalf("unsafe order property accepted: %v", err)
	}
}

func TestQueryErrors(t *testing.T) {
	if _, err := newTestRepo(&mockRunner{err: errors.New("down")}).Query(context.Background(), "MATCH (n) RETURN n", nil); err == nil {
		t.Fatal("expected run error")
	}
	bad := &mockRunner{records: []*neo4j.Record{node("1", "a"), {Values: []any{"oops"}}}}
	if _, err := newTestRepo(bad).Query(context.Background(), "MATCH (n) RETURN n", nil); err == nil || !strings.Contains(err.Error(), "not a node") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestWrite(t *testing.T) {
	m := &mockRunner{records: []*neo4j.Record{node("1", "ada")}}
	r := newTestRepo(m)
	got, err := r.Write(context.Background(), "CREATE (n:Speaker $props) RETURN n", map[string]any{"props": r.Props(speaker{ID: "1", Name: "ada"})})
	if err != nil || got.ID != "1" {
		t.Fatalf("Write = %+v, %v", got, err)
	}
	if props := m.params[0]["props"].(map[string]any); props["name"] != "ada" {
		t.Fatalf("props = %v", props)
	}

	if _, err := newTestRepo(&mockRunner{}).Write(context.Background(), "MERGE (n) RETURN n", nil); err == nil {
		t.Fatal("expected error when nothing is returned")
	}
}

func TestDelete(t *testing.T) {
	count := func(n int64) []*neo4j.Record {
		return []*neo4j.Record{{Keys: []string{"deleted"}, Values: []any{n}}}
	}
	m := &mockRunner{records: count(1)}
	if err := newTestRepo(m).Delete(context.Background(), "1"); err != nil {
		t.Fatal(err)
	}
	if m.cyphers[0] != "MATCH (n:Speaker {id: $id}) DETACH DELETE n RETURN count(*) AS deleted" {
		t.Fatalf("cypher = %s", m.cyphers[0])
	}
	if err := newTestRepo(&mockRunner{records: count(0)}).Delete(context.Background(), "1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
