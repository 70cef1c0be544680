package storage

import (
	"context"
	"testing"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/deknijf/documentstore/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertTransactions_Idempotent(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	batch := []model.BankTransaction{
		testTransaction("acc-1", "ext-1", "hash-1", -10),
		testTransaction("acc-1", "ext-2", "hash-2", 25),
	}
	imp := &model.CSVImport{FileName: "jan.csv", FileSHA256: "sha-jan", Format: "csv", ParsedCount: 2}

	first, err := store.UpsertTransactions(ctx, testTenant, batch, imp)
	require.NoError(t, err)
	assert.Equal(t, service.UpsertResult{Inserted: 2}, first)
	assert.Equal(t, 2, imp.ImportedCount)

	again := []model.BankTransaction{
		testTransaction("acc-1", "ext-1", "hash-1", -10),
		testTransaction("acc-1", "ext-2", "hash-2", 25),
	}
	second, err := store.UpsertTransactions(ctx, testTenant, again, nil)
	require.NoError(t, err)
	assert.Equal(t, service.UpsertResult{Updated: 2}, second)

	txs, err := store.ListTransactions(ctx, testTenant, service.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	found, err := store.FindImportByHash(ctx, testTenant, "sha-jan")
	require.NoError(t, err)
	assert.Equal(t, 2, found.ImportedCount)
}

func TestUpsertTransactions_MatchesByDedupeHash(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	_, err := store.UpsertTransactions(ctx, testTenant, []model.BankTransaction{
		testTransaction("acc-1", "csv-row-7", "hash-1", -10),
	}, nil)
	require.NoError(t, err)

	// Same movement delivered by a sync with a different provider id.
	res, err := store.UpsertTransactions(ctx, testTenant, []model.BankTransaction{
		testTransaction("acc-1", "plaid-xyz", "hash-1", -10),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 1, res.Updated)

	// A different account is a different movement.
	res, err = store.UpsertTransactions(ctx, testTenant, []model.BankTransaction{
		testTransaction("acc-2", "csv-row-7", "hash-1", -10),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
}

func TestUpsertTransactions_KeepsCategorization(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	tx := testTransaction("acc-1", "ext-1", "hash-1", -10)
	tx.SetCategory("Groceries", model.SourceManual)
	_, err := store.UpsertTransactions(ctx, testTenant, []model.BankTransaction{tx}, nil)
	require.NoError(t, err)

	_, err = store.UpsertTransactions(ctx, testTenant, []model.BankTransaction{
		testTransaction("acc-1", "ext-1", "hash-1", -10),
	}, nil)
	require.NoError(t, err)

	got, err := store.GetTransactionByExternalID(ctx, testTenant, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "Groceries", got.Category)
	assert.Equal(t, model.SourceManual, got.Source)
	assert.True(t, got.ManualMapping)
}

func TestUpsertTransactions_Validation(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	tests := []struct {
		mutate func(*model.BankTransaction)
		name   string
	}{
		{name: "missing account", mutate: func(tx *model.BankTransaction) { tx.BankAccountID = "" }},
		{name: "missing dedupe hash", mutate: func(tx *model.BankTransaction) { tx.DedupeHash = "" }},
		{name: "missing external id", mutate: func(tx *model.BankTransaction) { tx.ExternalTransactionID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := testTransaction("acc-1", "ext-1", "hash-1", -10)
			tt.mutate(&tx)
			_, err := store.UpsertTransactions(ctx, testTenant, []model.BankTransaction{tx}, nil)
			require.ErrorIs(t, err, ErrInvalidTransaction)
		})
	}
}

func TestListTransactions_Filters(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	_, err := store.UpsertTransactions(ctx, testTenant, []model.BankTransaction{
		testTransaction("acc-1", "ext-1", "hash-1", -10),
		testTransaction("acc-1", "ext-2", "hash-2", 25),
		testTransaction("acc-2", "ext-3", "hash-3", -5),
	}, nil)
	require.NoError(t, err)
	_, err = store.UpsertTransactions(ctx, "other-tenant", []model.BankTransaction{
		testTransaction("acc-1", "ext-9", "hash-9", -1),
	}, nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter service.TransactionFilter
		want   int
	}{
		{name: "all", filter: service.TransactionFilter{}, want: 3},
		{name: "outflows", filter: service.TransactionFilter{OutflowsOnly: true}, want: 2},
		{name: "account", filter: service.TransactionFilter{AccountID: "acc-2"}, want: 1},
		{name: "limit", filter: service.TransactionFilter{Limit: 1}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs, err := store.ListTransactions(ctx, testTenant, tt.filter)
			require.NoError(t, err)
			assert.Len(t, txs, tt.want)
		})
	}
}

func TestUpdateTransactionCategories(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	batch := []model.BankTransaction{testTransaction("acc-1", "ext-1", "hash-1", -10)}
	_, err := store.UpsertTransactions(ctx, testTenant, batch, nil)
	require.NoError(t, err)

	batch[0].SetCategory("Bank fees", model.SourceRule)
	n, err := store.UpdateTransactionCategories(ctx, testTenant, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Unchanged rows are not rewritten.
	n, err = store.UpdateTransactionCategories(ctx, testTenant, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := store.GetTransactionByExternalID(ctx, testTenant, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "Bank fees", got.Category)
	assert.Equal(t, model.SourceRule, got.Source)
	assert.True(t, got.LLMMapping)
	assert.False(t, got.AutoMapping)
}

func TestPruneDuplicateTransactions(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	_, err := store.UpsertTransactions(ctx, testTenant, []model.BankTransaction{
		testTransaction("acc-1", "ext-1", "hash-1", -10),
	}, nil)
	require.NoError(t, err)

	// Databases from before the unique dedupe index can hold several rows per hash.
	dropDedupeIndex(t, store)
	insertLegacyTransaction(t, store, "legacy-1", "hash-1")
	insertLegacyTransaction(t, store, "legacy-2", "hash-1")

	removed, err := store.PruneDuplicateTransactions(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	txs, err := store.ListTransactions(ctx, testTenant, service.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "legacy-2", txs[0].ExternalTransactionID)

	removed, err = store.PruneDuplicateTransactions(ctx, testTenant)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func dropDedupeIndex(t *testing.T, store *SQLiteStorage) {
	t.Helper()
	_, err := store.db.ExecContext(context.Background(), `DROP INDEX idx_bank_transactions_dedupe_unique`)
	require.NoError(t, err)
}

func insertLegacyTransaction(t *testing.T, store *SQLiteStorage, extID, hash string) {
	t.Helper()
	_, err := store.db.ExecContext(context.Background(), `INSERT INTO bank_transactions (
		id, tenant_id, bank_account_id, external_transaction_id, dedupe_hash, amount, created_at, updated_at
	) VALUES (?, ?, 'acc-1', ?, ?, -10, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`, extID, testTenant, extID, hash)
	require.NoError(t, err)
}

func TestUpsertTransactions_DedupeConflictIsSkipped(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	_, err := store.UpsertTransactions(ctx, testTenant, []model.BankTransaction{
		testTransaction("acc-1", "ext-1", "hash-1", -10),
		testTransaction("acc-1", "ext-2", "hash-2", -20),
	}, nil)
	require.NoError(t, err)

	// ext-2 is found by external id, but its new fingerprint already belongs to ext-1.
	res, err := store.UpsertTransactions(ctx, testTenant, []model.BankTransaction{
		testTransaction("acc-1", "ext-2", "hash-1", -20),
		testTransaction("acc-1", "ext-3", "hash-3", -30),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, service.UpsertResult{Inserted: 1, Skipped: 1}, res)

	got, err := store.GetTransactionByExternalID(ctx, testTenant, "ext-2")
	require.NoError(t, err)
	assert.Equal(t, "hash-2", got.DedupeHash)

	txs, err := store.ListTransactions(ctx, testTenant, service.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, txs, 3)
}

func TestMigrate_PrunesDuplicatesBeforeUniqueIndex(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	dropDedupeIndex(t, store)
	insertLegacyTransaction(t, store, "legacy-1", "hash-1")
	insertLegacyTransaction(t, store, "legacy-2", "hash-1")
	insertLegacyTransaction(t, store, "legacy-3", "hash-2")
	_, err := store.db.ExecContext(ctx, `PRAGMA user_version = 5`)
	require.NoError(t, err)

	require.NoError(t, store.Migrate(ctx))

	txs, err := store.ListTransactions(ctx, testTenant, service.TransactionFilter{})
	require.NoError(t, err)
	ids := make([]string, 0, len(txs))
	for _, txn := range txs {
		ids = append(ids, txn.ExternalTransactionID)
	}
	assert.ElementsMatch(t, []string{"legacy-2", "legacy-3"}, ids)

	_, err = store.db.ExecContext(ctx, `INSERT INTO bank_transactions (
		id, tenant_id, bank_account_id, external_transaction_id, dedupe_hash, amount, created_at, updated_at
	) VALUES ('dup', ?, 'acc-1', 'legacy-4', 'hash-2', -10, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`, testTenant)
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
}

func TestGetTransactionByExternalID_NotFound(t *testing.T) {
	store := createTestStorage(t)
	_, err := store.GetTransactionByExternalID(context.Background(), testTenant, "missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}
