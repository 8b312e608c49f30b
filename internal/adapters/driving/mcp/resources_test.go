package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/policyqa/internal/core/domain"
)

func TestExtractPolicyID(t *testing.T) {
	tests := []struct {
		name     string
		uri      string
		expected string
	}{
		{
			name:     "valid policy documents URI",
			uri:      "policyqa://policies/POL-AUTO-001/documents",
			expected: "POL-AUTO-001",
		},
		{
			name:     "invalid prefix",
			uri:      "file://policies/POL-AUTO-001/documents",
			expected: "",
		},
		{
			name:     "missing documents suffix",
			uri:      "policyqa://policies/POL-AUTO-001",
			expected: "",
		},
		{
			name:     "empty URI",
			uri:      "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractPolicyID(tt.uri)
			assert.Equal(t, tt.expected, result)
		})
	}
}

// Helper to create a ReadResourceRequest with the given URI.
func makeReadResourceRequest(uri string) *mcp.ReadResourceRequest {
	return &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func TestServer_handlePoliciesResource(t *testing.T) {
	ctx := context.Background()

	t.Run("nil catalog returns empty list", func(t *testing.T) {
		server, err := NewServer(&Ports{Query: &mockQueryService{}})
		require.NoError(t, err)

		result, err := server.handlePoliciesResource(ctx, makeReadResourceRequest("policyqa://policies"))

		require.NoError(t, err)
		require.Len(t, result.Contents, 1)
		assert.Equal(t, "[]", result.Contents[0].Text)
	})

	t.Run("returns policies", func(t *testing.T) {
		catalog := &mockCatalogService{
			policies: []domain.PolicySummary{
				{PolicyID: "POL-AUTO-001", Documents: 1, Chunks: 4, IndexedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
			},
		}
		server, err := NewServer(&Ports{Query: &mockQueryService{}, Catalog: catalog})
		require.NoError(t, err)

		result, err := server.handlePoliciesResource(ctx, makeReadResourceRequest("policyqa://policies"))

		require.NoError(t, err)
		require.Len(t, result.Contents, 1)
		assert.Equal(t, "application/json", result.Contents[0].MIMEType)
		assert.Contains(t, result.Contents[0].Text, `"policy_id": "POL-AUTO-001"`)
		assert.Contains(t, result.Contents[0].Text, `"chunks": 4`)
	})

	t.Run("returns error on list failure", func(t *testing.T) {
		catalog := &mockCatalogService{err: errors.New("database error")}
		server, err := NewServer(&Ports{Query: &mockQueryService{}, Catalog: catalog})
		require.NoError(t, err)

		_, err = server.handlePoliciesResource(ctx, makeReadResourceRequest("policyqa://policies"))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "listing policies")
	})
}

func TestServer_handleDocumentsResource(t *testing.T) {
	ctx := context.Background()
	catalog := &mockCatalogService{
		documents: map[string][]domain.IndexedDocument{
			"POL-AUTO-001": {
				{DocumentID: "d-1", PolicyID: "POL-AUTO-001", URI: "/docs/auto_policy.txt", Chunks: 4},
			},
		},
	}

	t.Run("nil catalog returns not found", func(t *testing.T) {
		server, err := NewServer(&Ports{Query: &mockQueryService{}})
		require.NoError(t, err)

		_, err = server.handleDocumentsResource(ctx,
			makeReadResourceRequest("policyqa://policies/POL-AUTO-001/documents"))
		require.Error(t, err)
	})

	t.Run("invalid URI returns not found", func(t *testing.T) {
		server, err := NewServer(&Ports{Query: &mockQueryService{}, Catalog: catalog})
		require.NoError(t, err)

		_, err = server.handleDocumentsResource(ctx, makeReadResourceRequest("policyqa://invalid/uri"))
		require.Error(t, err)
	})

	t.Run("unknown policy returns not found", func(t *testing.T) {
		server, err := NewServer(&Ports{Query: &mockQueryService{}, Catalog: catalog})
		require.NoError(t, err)

		_, err = server.handleDocumentsResource(ctx,
			makeReadResourceRequest("policyqa://policies/POL-BOAT-001/documents"))
		require.Error(t, err)
	})

	t.Run("returns documents", func(t *testing.T) {
		server, err := NewServer(&Ports{Query: &mockQueryService{}, Catalog: catalog})
		require.NoError(t, err)

		result, err := server.handleDocumentsResource(ctx,
			makeReadResourceRequest("policyqa://policies/POL-AUTO-001/documents"))

		require.NoError(t, err)
		require.Len(t, result.Contents, 1)
		assert.Contains(t, result.Contents[0].Text, "/docs/auto_policy.txt")
		assert.Contains(t, result.Contents[0].Text, `"document_id": "d-1"`)
	})
}
