package importer

import (
	"context"
	"strings"
	"testing"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/deknijf/documentstore/internal/service"
	"github.com/deknijf/documentstore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportFile_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	im := New(db.Storage, nil)
	ctx := context.Background()

	first, err := im.ImportFile(ctx, db.Tenant, testutil.DefaultAccount, "maart.csv", []byte(vdkStatement))
	require.NoError(t, err)
	assert.Equal(t, StatusImported, first.Status)
	assert.Equal(t, FormatCSV, first.Format)
	assert.Equal(t, 2, first.Parsed)
	assert.Equal(t, 2, first.Inserted)
	assert.NotEmpty(t, first.ImportID)

	again, err := im.ImportFile(ctx, db.Tenant, testutil.DefaultAccount, "maart-copy.csv", []byte(vdkStatement))
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicateFile, again.Status)
	assert.Equal(t, "maart.csv", again.ExistingFileName)
	assert.Zero(t, again.Inserted)

	// Same rows, different bytes: matched by external id and fingerprint.
	reexport := strings.Replace(vdkStatement, "Naam;Jan Peeters", "Naam;J. Peeters", 1)
	overlap, err := im.ImportFile(ctx, db.Tenant, testutil.DefaultAccount, "maart-v2.csv", []byte(reexport))
	require.NoError(t, err)
	assert.Equal(t, StatusNoNewTransactions, overlap.Status)
	assert.Zero(t, overlap.Inserted)
	assert.Equal(t, 2, overlap.Updated)

	txs, err := db.Storage.ListTransactions(ctx, db.Tenant, service.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	imports, err := db.Storage.ListImports(ctx, db.Tenant)
	require.NoError(t, err)
	assert.Len(t, imports, 2)
}

func TestImportFile_AssignsFingerprintIDs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	im := New(db.Storage, nil)
	ctx := context.Background()

	content := "Date,Description,Debit,Credit\n2024-01-15,Coffee shop,3.50,\n"
	_, err := im.ImportFile(ctx, db.Tenant, testutil.DefaultAccount, "card.csv", []byte(content))
	require.NoError(t, err)

	txs, err := db.Storage.ListTransactions(ctx, db.Tenant, service.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, strings.HasPrefix(txs[0].ExternalTransactionID, "dedupe_"))
	assert.Len(t, txs[0].ExternalTransactionID, len("dedupe_")+16)
	assert.Equal(t, model.DefaultCurrency, txs[0].Currency)
	assert.Equal(t, testutil.DefaultAccount, txs[0].BankAccountID)
}

func TestImportFile_Errors(t *testing.T) {
	db := testutil.SetupTestDB(t)
	im := New(db.Storage, nil)
	ctx := context.Background()

	_, err := im.ImportFile(ctx, db.Tenant, testutil.DefaultAccount, "empty.csv", nil)
	require.ErrorIs(t, err, ErrEmptyFile)

	_, err = im.ImportFile(ctx, db.Tenant, testutil.DefaultAccount, "notes.csv", []byte("just some words\nand more words\n"))
	require.ErrorIs(t, err, common.ErrNoTransactions)
}

func TestImportFile_CODAAndOFX(t *testing.T) {
	db := testutil.SetupTestDB(t)
	im := New(db.Storage, nil)
	ctx := context.Background()

	coda, err := im.ImportFile(ctx, db.Tenant, "acct-coda", "maart.cod", []byte(sampleCODA()))
	require.NoError(t, err)
	assert.Equal(t, FormatCODA, coda.Format)
	assert.Equal(t, 2, coda.Inserted)

	ofx, err := im.ImportFile(ctx, db.Tenant, "acct-ofx", "jan.ofx", []byte(sampleOFX))
	require.NoError(t, err)
	assert.Equal(t, FormatOFX, ofx.Format)
	assert.Equal(t, 2, ofx.Inserted)

	outflows, err := db.Storage.ListTransactions(ctx, db.Tenant, service.TransactionFilter{OutflowsOnly: true})
	require.NoError(t, err)
	assert.Len(t, outflows, 2)
}

func TestImportTransactions(t *testing.T) {
	db := testutil.SetupTestDB(t)
	im := New(db.Storage, nil)
	ctx := context.Background()

	synced := []model.BankTransaction{
		{ExternalTransactionID: "plaid-1", BookingDate: testutil.Date("2024-02-01"), Amount: -12.5, CounterpartyName: "Spotify"},
		{BookingDate: testutil.Date("2024-02-02"), Amount: 40, CounterpartyName: "Tikkie"},
	}
	result, err := im.ImportTransactions(ctx, db.Tenant, "acct-plaid", "plaid", synced)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)

	resync := []model.BankTransaction{
		{ExternalTransactionID: "plaid-1", BookingDate: testutil.Date("2024-02-01"), Amount: -12.5, CounterpartyName: "Spotify AB"},
	}
	result, err = im.ImportTransactions(ctx, db.Tenant, "acct-plaid", "plaid", resync)
	require.NoError(t, err)
	assert.Zero(t, result.Inserted)
	assert.Equal(t, 1, result.Updated)

	empty, err := im.ImportTransactions(ctx, db.Tenant, "acct-plaid", "plaid", nil)
	require.NoError(t, err)
	assert.Zero(t, empty.Inserted)
}
