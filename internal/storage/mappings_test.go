package storage

import (
	"context"
	"testing"

	"github.com/deknijf/documentstore/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMappings(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	maxPriority, err := store.MaxMappingPriority(ctx, testTenant)
	require.NoError(t, err)
	assert.Zero(t, maxPriority)

	active := &model.CategoryMapping{TenantID: testTenant, Keyword: " colruyt ", Category: "Groceries", Flow: model.FlowExpense, Priority: 2, Active: true, VisibleInBudget: true}
	inactive := &model.CategoryMapping{TenantID: testTenant, Keyword: "old", Category: "Legacy", Priority: 5}
	require.NoError(t, store.SaveMapping(ctx, active))
	require.NoError(t, store.SaveMapping(ctx, inactive))
	assert.NotZero(t, active.ID)
	assert.Equal(t, model.FlowAll, inactive.Flow)

	all, err := store.ListMappings(ctx, testTenant, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyActive, err := store.ListMappings(ctx, testTenant, true)
	require.NoError(t, err)
	require.Len(t, onlyActive, 1)
	assert.Equal(t, "colruyt", onlyActive[0].Keyword)
	assert.Equal(t, model.FlowExpense, onlyActive[0].Flow)

	maxPriority, err = store.MaxMappingPriority(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, 5, maxPriority)

	active.Category = "Food"
	require.NoError(t, store.SaveMapping(ctx, active))
	onlyActive, err = store.ListMappings(ctx, testTenant, true)
	require.NoError(t, err)
	assert.Equal(t, "Food", onlyActive[0].Category)
}

func TestSaveMapping_Validation(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	tests := []struct {
		mapping *model.CategoryMapping
		name    string
	}{
		{name: "nil", mapping: nil},
		{name: "missing category", mapping: &model.CategoryMapping{TenantID: testTenant, Keyword: "x"}},
		{name: "bad flow", mapping: &model.CategoryMapping{TenantID: testTenant, Category: "c", Flow: "sideways"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, store.SaveMapping(ctx, tt.mapping))
		})
	}
}
