package agents

import (
	"context"
	"log/slog"

	"github.com/harunnryd/warden/internal/audit"
	"github.com/harunnryd/warden/internal/knowledge"
	"github.com/harunnryd/warden/internal/security/signing"
	"github.com/harunnryd/warden/internal/store"
	"github.com/harunnryd/warden/internal/tool"
)

const DriveAgentName = "drive_agent"

// Indexer is satisfied by knowledge.Base.
type Indexer interface {
	Ingest(ctx context.Context, collection string, items []knowledge.Item) error
}

type DriveAgent struct {
	signedAgent
	docs    store.DocumentRepository
	indexer Indexer
}

// NewDriveAgent wires the drive. indexer may be nil; uploads are then not searchable in the knowledge base.
func NewDriveAgent(docs store.DocumentRepository, indexer Indexer, signer *signing.Service, auditLog audit.Logger) *DriveAgent {
	a := &DriveAgent{signedAgent: newSignedAgent(DriveAgentName, signer, auditLog), docs: docs, indexer: indexer}
	a.actions["upload"] = a.upload
	a.actions["retrieve"] = a.retrieve
	a.actions["search"] = a.search
	return a
}

func (a *DriveAgent) ToolMetadata() tool.Metadata {
	return tool.Metadata{
		Description: "Upload, retrieve and search drive documents",
		Actions:     []string{"upload", "retrieve", "search"},
		Risk:        tool.RiskLow,
	}
}

func (a *DriveAgent) upload(ctx context.Context, sessionID string, payload map[string]any) (map[string]any, error) {
	docID, err := requireString(payload, "doc_id")
	if err != nil {
		return nil, err
	}
	title, err := requireString(payload, "title")
	if err != nil {
		return nil, err
	}
	doc := store.Document{
		ID:      docID,
		Title:   title,
		Content: optionalString(payload, "content", ""),
		Tags:    stringList(payload["tags"]),
	}
	if err := a.docs.Put(ctx, doc); err != nil {
		return nil, err
	}
	a.audit.Audit(ctx, "document_uploaded", map[string]any{"doc_id": docID, "title": title})

	if a.indexer != nil && doc.Content != "" {
		err := a.indexer.Ingest(ctx, knowledge.CollectionDocuments, []knowledge.Item{{
			ID:       doc.ID,
			Document: doc.Title + "\n" + doc.Content,
			Metadata: map[string]string{"source_id": doc.ID, "uploaded_by_session": sessionID},
		}})
		if err != nil {
			slog.Warn("Failed to index uploaded document", "doc_id", doc.ID, "error", err)
		}
	}
	return map[string]any{"status": "uploaded", "doc_id": docID}, nil
}

func (a *DriveAgent) retrieve(ctx context.Context, _ string, payload map[string]any) (map[string]any, error) {
	docID, err := requireString(payload, "doc_id")
	if err != nil {
		return nil, err
	}
	doc, ok, err := a.docs.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]any{"status": "not_found"}, nil
	}
	return map[string]any{"status": StatusOK, "document": doc.Map()}, nil
}

func (a *DriveAgent) search(ctx context.Context, _ string, payload map[string]any) (map[string]any, error) {
	docs, err := a.docs.Search(ctx, optionalString(payload, "keyword", ""))
	if err != nil {
		return nil, err
	}
	results := make([]any, 0, len(docs))
	for _, d := range docs {
		m := d.Map()
		m["doc_id"] = d.ID
		results = append(results, m)
	}
	return map[string]any{"status": StatusOK, "results": results}, nil
}
