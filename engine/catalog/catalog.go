// Package catalog records uploaded documents in Neo4j as
// (:Owner)-[:OWNS]->(:Document) so they can be listed and removed.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/wessley-voice/engine/domain"
	"github.com/WessleyAI/wessley-voice/pkg/repo"
)

// Catalog stores Document nodes.
type Catalog struct {
	docs *repo.Neo4jRepo[domain.Document, string]
}

// New creates a Catalog on the given driver.
func New(driver neo4j.DriverWithContext, database string) *Catalog {
	return newCatalog(driver, repo.WithDatabase(database))
}

var documentSchema = repo.Schema[domain.Document]{
	Label:  "Document",
	Key:    "document_id",
	Encode: toMap,
	Decode: fromProps,
}

func newCatalog(driver neo4j.DriverWithContext, opts ...repo.Option) *Catalog {
	return &Catalog{docs: repo.NewNeo4jRepo[domain.Document, string](driver, documentSchema, opts...)}
}

func toMap(d domain.Document) map[string]any {
	return map[string]any{
		"document_id":    d.ID,
		"filename":       d.Filename,
		"owner_identity": d.OwnerIdentity,
		"created_at":     d.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func fromProps(props map[string]any) (domain.Document, error) {
	d := domain.Document{
		ID:            str(props["document_id"]),
		Filename:      str(props["filename"]),
		OwnerIdentity: str(props["owner_identity"]),
	}
	if d.ID == "" {
		return d, errors.New("catalog: node without document_id")
	}
	if ts, err := time.Parse(time.RFC3339, str(props["created_at"])); err == nil {
		d.CreatedAt = ts
	}
	return d, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// Record stores a document and links it to its owner.
func (c *Catalog) Record(ctx context.Context, d domain.Document) error {
	const cypher = `MERGE (o:Owner {identity: $owner})
CREATE (o)-[:OWNS]->(n:Document $props)
RETURN n`
	_, err := c.docs.Write(ctx, cypher, map[string]any{"owner": d.OwnerIdentity, "props": c.docs.Props(d)})
	if err != nil {
		return fmt.Errorf("catalog: record %s: %w", d.ID, err)
	}
	return nil
}

// ListByOwner returns an owner's documents, newest first.
func (c *Catalog) ListByOwner(ctx context.Context, owner string, limit int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	const cypher = `MATCH (:Owner {identity: $owner})-[:OWNS]->(n:Document)
RETURN n ORDER BY n.created_at DESC LIMIT $limit`
	docs, err := c.docs.Query(ctx, cypher, map[string]any{"owner": owner, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("catalog: list %s: %w", owner, err)
	}
	return docs, nil
}

// All returns documents of every owner, newest first.
func (c *Catalog) All(ctx context.Context, limit int) ([]domain.Document, error) {
	docs, err := c.docs.List(ctx, repo.ListOpts{Limit: limit, OrderBy: "-created_at"})
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	return docs, nil
}

// Get returns one document.
func (c *Catalog) Get(ctx context.Context, id string) (domain.Document, error) {
	d, err := c.docs.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return d, fmt.Errorf("catalog: document %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return d, fmt.Errorf("catalog: get %s: %w", id, err)
	}
	return d, nil
}

// Delete removes a document node and its ownership edge.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	err := c.docs.Delete(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("catalog: document %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("catalog: delete %s: %w", id, err)
	}
	return nil
}
