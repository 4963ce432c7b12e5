// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

func GetEvidenceChunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "EvidenceChunk",
		Description: "A chunk of project evidence used as retrieval context for generation.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "project_id",
				DataType:        []string{"text"},
				Description:     "The project this evidence belongs to.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "doc_id",
				DataType:        []string{"text"},
				Description:     "Stable identifier of the source document.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "chunk_index",
				DataType:        []string{"int"},
				Description:     "Zero-based position of this chunk within the source document.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "filename",
				DataType:        []string{"text"},
				Description:     "Original file name or page title of the source.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "category",
				DataType:        []string{"text"},
				Description:     "Evidence category: spec_doc, knowledge, site_analysis, or source_code.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "text",
				DataType:     []string{"text"},
				Description:  "The chunk content.",
				Tokenization: "word",
			},
			{
				Name:            "page_url",
				DataType:        []string{"text"},
				Description:     "URL of the crawled page, for site_analysis evidence.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of when the chunk was ingested.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

func GetTestItemSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "TestItem",
		Description: "A generated test case. Items are soft-deleted, never removed.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "project_id",
				DataType:        []string{"text"},
				Description:     "The project this test case belongs to.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "test_id",
				DataType:        []string{"text"},
				Description:     "Human-readable id derived from the major category, e.g. 'Lo-001'.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "category_major",
				DataType:        []string{"text"},
				Description:     "Top-level functional category.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "category_minor",
				DataType:        []string{"text"},
				Description:     "Sub-category within the major category.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "perspective",
				DataType:        []string{"text"},
				Description:     "Test perspective: functional, boundary, error_handling, security, performance, usability.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "title",
				DataType:     []string{"text"},
				Description:  "One-line test title.",
				Tokenization: "word",
			},
			{
				Name:         "precondition",
				DataType:     []string{"text"},
				Description:  "State required before the test steps run.",
				Tokenization: "word",
			},
			{
				Name:        "steps_json",
				DataType:    []string{"text"},
				Description: "JSON-encoded array of test steps.",
			},
			{
				Name:         "expected_result",
				DataType:     []string{"text"},
				Description:  "The observable outcome that makes the test pass.",
				Tokenization: "word",
			},
			{
				Name:            "priority",
				DataType:        []string{"text"},
				Description:     "HIGH, MEDIUM, or LOW.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "automatable",
				DataType:        []string{"text"},
				Description:     "YES, NO, or CONSIDER.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "order_index",
				DataType:        []string{"int"},
				Description:     "Display order within the generation run.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "is_deleted",
				DataType:        []string{"boolean"},
				Description:     "Soft-delete flag. Deleted items are filtered from listings.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:        "source_refs_json",
				DataType:    []string{"text"},
				Description: "JSON-encoded evidence citations resolved from the reference map.",
			},
			{
				Name:            "created_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of when the item was persisted.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

func EnsureWeaviateSchema(client *weaviate.Client) {
	// A list of functions that return our schema definitions.
	schemaGetters := []func() *models.Class{
		GetEvidenceChunkSchema,
		GetTestItemSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		// Check if the class already exists.
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			// If it doesn't exist, the client returns an error. We can now create it.
			slog.Info("Schema not found, creating it...", "class", class.Class)
			err := client.Schema().ClassCreator().WithClass(class).Do(context.Background())
			if err != nil {
				// If we fail to create it, it's a fatal error.
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}
