// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/caseforge-ai/caseforge/pkg/extensions"
	"github.com/caseforge-ai/caseforge/pkg/validation"
	"github.com/caseforge-ai/caseforge/services/llm"
	"github.com/caseforge-ai/caseforge/services/orchestrator/datatypes"
)

var (
	CHUNK_SIZE        = 1000
	CHUNK_OVERLAP     = int(float64(CHUNK_SIZE) * 0.10) // Chunk_overlap is 10% of the CHUNK_SIZE
	defaultSeparators = []string{"\n\n", "\n", " ", ""}
	pythonSeparators  = []string{"\nclass ", "\ndef ", "\n\t", "\n", " "}
	cStyleSeparators  = []string{
		"\nfunction ", "\nclass ", "\ninterface ",
		"\npublic ", "\nprivate ", "\nprotected ",
		"\nfunc", "\ntype",
		"\n\n", "\n", " ", "",
	}

	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}
)

// IngestEvidence chunks, embeds and stores one evidence document.
func IngestEvidence(client *weaviate.Client, embedder llm.Embedder) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.IngestEvidenceRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		docID, chunksCreated, err := RunEvidenceIngestion(c.Request.Context(), client, embedder, req)
		if err != nil {
			slog.Error("Evidence ingestion failed", "filename", req.Filename, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		slog.Info("Successfully ingested evidence via API",
			"doc_id", docID, "filename", req.Filename, "chunks_processed", chunksCreated)
		c.JSON(http.StatusCreated, datatypes.IngestEvidenceResponse{
			DocID:         docID,
			ChunksCreated: chunksCreated,
		})
	}
}

// DeleteEvidenceDoc removes every chunk of one evidence document.
func DeleteEvidenceDoc(client *weaviate.Client, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		docID := c.Query("doc_id")
		if err := validation.ValidateDocID(docID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		where := filters.Where().
			WithPath([]string{"doc_id"}).
			WithOperator(filters.Equal).
			WithValueString(docID)

		_, err := client.Batch().ObjectsBatchDeleter().
			WithClassName("EvidenceChunk").
			WithOutput("minimal").
			WithWhere(where).
			Do(c.Request.Context())
		if err != nil {
			slog.Error("Failed to delete evidence chunks", "doc_id", docID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete evidence"})
			return
		}

		recordAudit(c, audit, "evidence.delete", "delete", "evidence_doc", docID)
		slog.Info("Deleted evidence chunks", "doc_id", docID)
		c.JSON(http.StatusOK, gin.H{"status": "success", "doc_id": docID})
	}
}

// RunEvidenceIngestion is the reusable ingestion path: split, embed, batch
// import. Returns the doc id and the number of chunks written.
func RunEvidenceIngestion(ctx context.Context, client *weaviate.Client, embedder llm.Embedder,
	req datatypes.IngestEvidenceRequest) (string, int, error) {

	docID := req.DocID
	if docID == "" {
		hash := sha256.Sum256([]byte(req.ProjectID + "|" + req.Filename))
		docUUID, _ := uuid.FromBytes(hash[:16])
		docID = docUUID.String()
	}
	slog.Info("Evidence ingestion request received",
		"doc_id", docID, "filename", req.Filename, "category", req.Category)

	splitter := getSplitterForFile(req.Filename)
	chunks, err := splitter.SplitText(req.Content)
	if err != nil {
		return "", 0, fmt.Errorf("failed to split content: %w", err)
	}
	if len(chunks) == 0 {
		slog.Warn("No chunks produced after splitting", "filename", req.Filename)
		return docID, 0, nil
	}
	slog.Info("Split evidence into chunks", "filename", req.Filename, "chunk_count", len(chunks))

	now := time.Now().UnixMilli()
	objects := make([]*models.Object, len(chunks))
	for i, chunk := range chunks {
		vector, err := embedder.Embed(ctx, chunk)
		if err != nil {
			return "", 0, fmt.Errorf("embed chunk %d: %w", i, err)
		}

		hash := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", docID, i)))
		chunkUUID, _ := uuid.FromBytes(hash[:16])

		props := datatypes.EvidenceProperties{
			ProjectID:  req.ProjectID,
			DocID:      docID,
			ChunkIndex: i,
			Filename:   req.Filename,
			Category:   req.Category,
			Text:       chunk,
			PageURL:    req.PageURL,
			IngestedAt: now,
		}
		objects[i] = &models.Object{
			Class:      "EvidenceChunk",
			ID:         strfmt.UUID(chunkUUID.String()),
			Vector:     vector,
			Properties: props.ToMap(),
		}
	}

	resp, err := client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		slog.Error("Failed to perform batch import to Weaviate", "error", err)
		return "", 0, fmt.Errorf("failed to save chunks to Weaviate: %w", err)
	}

	chunksCreated := 0
	hasErrors := false
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			chunksCreated++
			continue
		}
		hasErrors = true
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Error in Weaviate batch item", "doc_id", docID, "error", errItem.Message)
			}
		} else {
			slog.Warn("Failed Weaviate batch item, no error provided", "doc_id", docID)
		}
	}
	if hasErrors {
		slog.Warn("Errors encountered during Weaviate batch import",
			"doc_id", docID, "successful_chunks", chunksCreated)
	}

	return docID, chunksCreated, nil
}

func getSplitterForFile(filename string) textsplitter.TextSplitter {
	ext := filepath.Ext(filename)
	switch ext {
	case ".md":
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(CHUNK_SIZE),
			textsplitter.WithChunkOverlap(CHUNK_OVERLAP),
			textsplitter.WithSeparators(markdownSeparators),
		)

	case ".py":
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(CHUNK_SIZE),
			textsplitter.WithChunkOverlap(CHUNK_OVERLAP),
			textsplitter.WithSeparators(pythonSeparators),
		)

	case ".js", ".ts", ".java", ".c", ".cpp", ".h", ".hpp", ".rs", ".go":
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(CHUNK_SIZE),
			textsplitter.WithChunkOverlap(CHUNK_OVERLAP),
			textsplitter.WithSeparators(cStyleSeparators),
		)

	default:
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(CHUNK_SIZE),
			textsplitter.WithChunkOverlap(CHUNK_OVERLAP),
			textsplitter.WithSeparators(defaultSeparators),
		)
	}
}
