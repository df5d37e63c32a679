// Package knowledge is a small vector store for policy, employee and finance text.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/philippgille/chromem-go"

	wardenErrors "github.com/harunnryd/warden/internal/errors"
)

const (
	CollectionPolicies  = "policies"
	CollectionEmployees = "employees"
	CollectionFinance   = "finance"
	CollectionDocuments = "documents"

	DefaultTopK = 5
)

// Collections lists the collections a Base accepts.
var Collections = []string{CollectionPolicies, CollectionEmployees, CollectionFinance, CollectionDocuments}

type Item struct {
	ID       string            `json:"id"`
	Document string            `json:"document"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type Match struct {
	ID         string            `json:"id"`
	Document   string            `json:"document"`
	Metadata   map[string]string `json:"metadata"`
	Similarity float32           `json:"similarity"`
}

type Base struct {
	db         *chromem.DB
	embed      chromem.EmbeddingFunc
	provenance *Provenance
}

// Open returns a persistent base under dir, or an in-memory one when dir is empty.
func Open(dir string, provenance *Provenance) (*Base, error) {
	var db *chromem.DB
	if dir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		// Embeddings are computed by HashingEmbedder, never by chromem's defaults.
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to init vector db: %w", err)
		}
	}
	if provenance == nil {
		provenance, _ = NewProvenance("", nil, nil)
	}
	return &Base{db: db, embed: HashingEmbedder(DefaultDimensions), provenance: provenance}, nil
}

func (b *Base) collection(name string) (*chromem.Collection, error) {
	known := false
	for _, c := range Collections {
		if c == name {
			known = true
			break
		}
	}
	if !known {
		return nil, wardenErrors.InvalidInput(fmt.Sprintf("unknown collection %q", name))
	}
	return b.db.GetOrCreateCollection(name, nil, b.embed)
}

// Ingest upserts items and records one provenance entry per item.
func (b *Base) Ingest(ctx context.Context, collection string, items []Item) error {
	slog.Info("knowledge_ingest", "collection", collection, "count", len(items))
	col, err := b.collection(collection)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			return wardenErrors.InvalidInput("knowledge item id is required")
		}
		embedding, err := b.embed(ctx, item.Document)
		if err != nil {
			return fmt.Errorf("embed %s: %w", item.ID, err)
		}
		meta := item.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		docs = append(docs, chromem.Document{ID: item.ID, Metadata: meta, Embedding: embedding, Content: item.Document})
	}
	// AddDocuments is upsert in chromem
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}

	for _, item := range items {
		details := make(map[string]any, len(item.Metadata)+1)
		for k, v := range item.Metadata {
			details[k] = v
		}
		details["collection"] = collection
		if err := b.provenance.Record(ctx, item.Metadata["source_id"], "ingest", details); err != nil {
			slog.Warn("Failed to record provenance", "id", item.ID, "error", err)
		}
	}
	return nil
}

// Query returns up to k matches with positive similarity, best first.
func (b *Base) Query(ctx context.Context, collection, text string, k int) ([]Match, error) {
	slog.Info("knowledge_query", "collection", collection)
	col, err := b.collection(collection)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = DefaultTopK
	}
	if n := col.Count(); n < k {
		k = n
	}
	if k == 0 {
		return []Match{}, nil
	}

	embedding, err := b.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := col.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		if r.Similarity <= 0 {
			continue
		}
		matches = append(matches, Match{ID: r.ID, Document: r.Content, Metadata: r.Metadata, Similarity: r.Similarity})
		if err := b.provenance.Record(ctx, r.Metadata["source_id"], "query", map[string]any{
			"query":      text,
			"collection": collection,
		}); err != nil {
			slog.Warn("Failed to record provenance", "id", r.ID, "error", err)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	return matches, nil
}

func (b *Base) Count(collection string) (int, error) {
	col, err := b.collection(collection)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}
