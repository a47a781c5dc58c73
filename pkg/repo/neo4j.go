package repo

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Result is the part of a neo4j result the repository reads.
type Result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// Runner is the part of a neo4j session the repository uses.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (Result, error)
	Close(ctx context.Context) error
}

type sessionRunner struct{ neo4j.SessionWithContext }

func (s sessionRunner) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	return s.SessionWithContext.Run(ctx, cypher, params)
}

// Option configures a Neo4jRepo.
type Option func(*settings)

type settings struct {
	database string
	sessions func(ctx context.Context) Runner
}

// WithDatabase opens sessions against a named database.
func WithDatabase(name string) Option {
	return func(s *settings) { s.database = name }
}

// WithSessions replaces the driver as the source of sessions.
func WithSessions(f func(ctx context.Context) Runner) Option {
	return func(s *settings) { s.sessions = f }
}

var _ Repository[struct{}, string] = (*Neo4jRepo[struct{}, string])(nil)

// Neo4jRepo stores T as nodes with a single label. Statements passed to
// Query and Write must return the node in their first column.
type Neo4jRepo[T any, ID comparable] struct {
	schema Schema[T]
	open   func(ctx context.Context) Runner
}

// NewNeo4jRepo returns a repository for schema on driver.
func NewNeo4jRepo[T any, ID comparable](driver neo4j.DriverWithContext, schema Schema[T], opts ...Option) *Neo4jRepo[T, ID] {
	if schema.Key == "" {
		schema.Key = "id"
	}
	var s settings
	for _, o := range opts {
		o(&s)
	}
	open := s.sessions
	if open == nil {
		open = func(ctx context.Context) Runner {
			return sessionRunner{driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})}
		}
	}
	return &Neo4jRepo[T, ID]{schema: schema, open: open}
}

// Props encodes an entity as node properties.
func (r *Neo4jRepo[T, ID]) Props(entity T) map[string]any { return r.schema.Encode(entity) }

// run opens a session, runs cypher and hands each record to each.
func (r *Neo4jRepo[T, ID]) run(ctx context.Context, cypher string, params map[string]any, each func(*neo4j.Record) error) error {
	sess := r.open(ctx)
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return fmt.Errorf("repo: %s: %w", r.schema.Label, err)
	}
	for res.Next(ctx) {
		if err := each(res.Record()); err != nil {
			return err
		}
	}
	return nil
}

func (r *Neo4jRepo[T, ID]) decode(rec *neo4j.Record) (T, error) {
	var zero T
	if len(rec.Values) == 0 {
		return zero, fmt.Errorf("repo: %s: empty record", r.schema.Label)
	}
	switch v := rec.Values[0].(type) {
	case neo4j.Node:
		return r.schema.Decode(v.Props)
	case map[string]any:
		return r.schema.Decode(v)
	default:
		return zero, fmt.Errorf("repo: %s: column is %T, not a node", r.schema.Label, v)
	}
}

// Query runs a read and decodes every row.
func (r *Neo4jRepo[T, ID]) Query(ctx context.Context, cypher string, params map[string]any) ([]T, error) {
	var out []T
	err := r.run(ctx, cypher, params, func(rec *neo4j.Record) error {
		v, err := r.decode(rec)
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// Write runs a statement and returns the node it produced.
func (r *Neo4jRepo[T, ID]) Write(ctx context.Context, cypher string, params map[string]any) (T, error) {
	var zero T
	rows, err := r.Query(ctx, cypher, params)
	if err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, fmt.Errorf("repo: %s: write returned no node", r.schema.Label)
	}
	return rows[0], nil
}

// Get returns the node whose key equals id.
func (r *Neo4jRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) RETURN n LIMIT 1", r.schema.Label, r.schema.Key)
	rows, err := r.Query(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		var zero T
		return zero, err
	}
	if len(rows) == 0 {
		var zero T
		return zero, fmt.Errorf("%s %v: %w", r.schema.Label, id, ErrNotFound)
	}
	return rows[0], nil
}

var property = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// List pages through every node. Limit defaults to 100.
func (r *Neo4jRepo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	var b strings.Builder
	fmt.Fprintf(&b, "MATCH (n:%s) RETURN n", r.schema.Label)
	if opts.OrderBy != "" {
		prop, desc := strings.CutPrefix(opts.OrderBy, "-")
		if !property.MatchString(prop) {
			return nil, fmt.Errorf("repo: %s: invalid order property %q", r.schema.Label, prop)
		}
		fmt.Fprintf(&b, " ORDER BY n.%s", prop)
		if desc {
			b.WriteString(" DESC")
		}
	}
	b.WriteString(" SKIP $offset LIMIT $limit")
	return r.Query(ctx, b.String(), map[string]any{"offset": opts.Offset, "limit": opts.Limit})
}

// Delete removes the node and its relationships. It returns ErrNotFound
// when no node has the key.
func (r *Neo4jRepo[T, ID]) Delete(ctx context.Context, id ID) error {
	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) DETACH DELETE n RETURN count(*) AS deleted", r.schema.Label, r.schema.Key)
	var deleted int64
	err := r.run(ctx, cypher, map[string]any{"id": id}, func(rec *neo4j.Record) error {
		if len(rec.Values) > 0 {
			deleted, _ = rec.Values[0].(int64)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if deleted == 0 {
		return fmt.Errorf("%s %v: %w", r.schema.Label, id, ErrNotFound)
	}
	return nil
}
