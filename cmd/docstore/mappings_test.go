package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/deknijf/documentstore/internal/model"
	"github.com/deknijf/documentstore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseMappingFile(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr string
	}{
		{
			name: "valid",
			input: `mappings:
  - keyword: electrabel
    category: Utilities
    flow: expense
    priority: 10
  - keyword: salary
    category: Income
    visible_in_budget: false
`,
			want: 2,
		},
		{
			name:  "empty file",
			input: "",
			want:  0,
		},
		{
			name: "missing category",
			input: `mappings:
  - keyword: colruyt
`,
			wantErr: "category is required",
		},
		{
			name:    "invalid yaml",
			input:   "mappings: [",
			wantErr: "failed to parse mappings file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := parseMappingFile([]byte(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, entries, tt.want)
		})
	}
}

func TestMappingEntry_ToModel(t *testing.T) {
	hidden := false
	m := mappingEntry{Keyword: " Electrabel ", Category: "Utilities ", Flow: "EXPENSE", Priority: 5, Visible: &hidden}.toModel("t1")

	assert.Equal(t, "t1", m.TenantID)
	assert.Equal(t, "Electrabel", m.Keyword)
	assert.Equal(t, "Utilities", m.Category)
	assert.Equal(t, model.FlowExpense, m.Flow)
	assert.Equal(t, 5, m.Priority)
	assert.True(t, m.Active)
	assert.False(t, m.VisibleInBudget)

	m = mappingEntry{Keyword: "x", Category: "y", Inactive: true}.toModel("t1")
	assert.Equal(t, model.FlowAll, m.Flow)
	assert.False(t, m.Active)
	assert.True(t, m.VisibleInBudget)
}

func TestImportMappings_UpsertsByKeywordAndFlow(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	entries := []mappingEntry{
		{Keyword: "electrabel", Category: "Utilities", Flow: "expense", Priority: 10},
		{Keyword: "salary", Category: "Income", Flow: "income"},
	}
	added, updated, err := importMappings(ctx, db.Storage, db.Tenant, entries)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 0, updated)

	entries = []mappingEntry{
		{Keyword: "Electrabel", Category: "Energy", Flow: "expense", Priority: 10},
		{Keyword: "electrabel", Category: "Refunds", Flow: "income"},
	}
	added, updated, err = importMappings(ctx, db.Storage, db.Tenant, entries)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, updated)

	mappings, err := db.Storage.ListMappings(ctx, db.Tenant, false)
	require.NoError(t, err)
	require.Len(t, mappings, 3)

	byKey := make(map[string]string)
	for _, m := range mappings {
		byKey[mappingKey(m)] = m.Category
	}
	assert.Equal(t, "Energy", byKey["electrabel\x00expense"])
	assert.Equal(t, "Refunds", byKey["electrabel\x00income"])
	assert.Equal(t, "Income", byKey["salary\x00income"])
}

func TestExportMappings_RoundTripsThroughParser(t *testing.T) {
	mappings := []model.CategoryMapping{
		{Keyword: "electrabel", Category: "Utilities", Flow: model.FlowExpense, Priority: 3, Active: true, VisibleInBudget: true},
		{Keyword: "transfer", Category: "Internal", Flow: model.FlowAll, Active: false, VisibleInBudget: false},
	}

	var buf bytes.Buffer
	require.NoError(t, yaml.NewEncoder(&buf).Encode(exportMappings(mappings)))

	entries, err := parseMappingFile(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	first := entries[0].toModel("t1")
	assert.Equal(t, "electrabel", first.Keyword)
	assert.True(t, first.VisibleInBudget)
	assert.True(t, first.Active)

	second := entries[1].toModel("t1")
	assert.False(t, second.Active)
	assert.False(t, second.VisibleInBudget)
}
