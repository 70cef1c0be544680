package storage

import (
	"context"
	"testing"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRun(sourceHash, provider string) *model.AnalysisRun {
	return &model.AnalysisRun{
		TenantID:         testTenant,
		SourceHash:       sourceHash,
		Provider:         provider,
		Model:            "gpt-4o-mini",
		TransactionsHash: "tx-hash",
		Summary:          []string{"Spending is stable"},
	}
}

func TestCreateRun_RoundTrip(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	run := testRun("source-1", "openai")
	rows := []model.AnalysisTransaction{
		{ExternalTransactionID: "ext-1", Amount: -12.5, Category: "Groceries", Flow: model.FlowExpense, Source: model.SourceLLM},
		{ExternalTransactionID: "ext-2", Amount: 2000, Category: "Salary", Flow: model.FlowIncome, Source: model.SourceRule},
	}
	require.NoError(t, store.CreateRun(ctx, run, rows))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, 2, run.TxCount)

	got, err := store.GetRunBySourceHash(ctx, testTenant, "source-1")
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, []string{"Spending is stable"}, got.Summary)

	stored, err := store.ListRunTransactions(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "Groceries", stored[0].Category)
	assert.Equal(t, model.SourceRule, stored[1].Source)
}

func TestCreateRun_DuplicateSourceHash(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, testRun("source-1", "openai"), nil))
	err := store.CreateRun(ctx, testRun("source-1", "openai"), nil)
	require.ErrorIs(t, err, common.ErrDuplicateEntry)
}

func TestLatestRunForTransactions_ExcludesProvider(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	llmRun := testRun("source-1", "openai")
	require.NoError(t, store.CreateRun(ctx, llmRun, nil))
	require.NoError(t, store.CreateRun(ctx, testRun("source-2", model.ProviderMappingRefresh), nil))

	latest, err := store.LatestRun(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, model.ProviderMappingRefresh, latest.Provider)

	base, err := store.LatestRunForTransactions(ctx, testTenant, "tx-hash", model.ProviderMappingRefresh)
	require.NoError(t, err)
	assert.Equal(t, llmRun.ID, base.ID)

	_, err = store.LatestRunForTransactions(ctx, testTenant, "other-hash", "")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestDeleteRun(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	run := testRun("source-1", "openai")
	require.NoError(t, store.CreateRun(ctx, run, []model.AnalysisTransaction{
		{ExternalTransactionID: "ext-1", Category: "Other expenses", Flow: model.FlowExpense, Source: model.SourceRule},
	}))
	require.NoError(t, store.DeleteRun(ctx, testTenant, run.ID))

	_, err := store.GetRunBySourceHash(ctx, testTenant, "source-1")
	require.ErrorIs(t, err, common.ErrNotFound)
	rows, err := store.ListRunTransactions(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
