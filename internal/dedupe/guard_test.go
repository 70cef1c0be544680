package dedupe

import (
	"context"
	"testing"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/deknijf/documentstore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupGuard(t *testing.T, titles ...string) (*Guard, *testutil.TestDB, []model.Document) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	docs := make([]model.Document, 0, len(titles))
	for _, title := range titles {
		docs = append(docs, model.Document{Title: title, Category: "factuur", TotalAmount: testutil.Amount(42)})
	}
	return New(db.Storage, nil), db, db.MustSeedDocuments(docs...)
}

func TestCheckUpload(t *testing.T) {
	guard, db, docs := setupGuard(t, "original", "reupload", "other")
	ctx := context.Background()
	pdf := []byte("%PDF-1.7 invoice 2024-001")

	first, err := guard.CheckUpload(ctx, db.Tenant, docs[0].ID, pdf)
	require.NoError(t, err)
	assert.False(t, first.DeferProcessing)
	assert.Empty(t, first.DuplicateOf)
	assert.NotEmpty(t, first.Document.ContentSHA256)

	second, err := guard.CheckUpload(ctx, db.Tenant, docs[1].ID, pdf)
	require.NoError(t, err)
	assert.True(t, second.DeferProcessing)
	assert.Equal(t, docs[0].ID, second.DuplicateOf)
	assert.Equal(t, model.DuplicateReasonContent, second.Reason)

	stored, err := db.Storage.GetDocument(ctx, db.Tenant, docs[1].ID)
	require.NoError(t, err)
	assert.True(t, stored.IsFlaggedDuplicate())
	assert.Equal(t, first.Document.ContentSHA256, stored.ContentSHA256)

	third, err := guard.CheckUpload(ctx, db.Tenant, docs[2].ID, []byte("%PDF-1.7 something else"))
	require.NoError(t, err)
	assert.False(t, third.DeferProcessing)
}

func TestCheckUpload_IgnoresDeletedDocuments(t *testing.T) {
	guard, db, docs := setupGuard(t, "original", "reupload")
	ctx := context.Background()
	pdf := []byte("same bytes")

	_, err := guard.CheckUpload(ctx, db.Tenant, docs[0].ID, pdf)
	require.NoError(t, err)

	original, err := db.Storage.GetDocument(ctx, db.Tenant, docs[0].ID)
	require.NoError(t, err)
	original.Deleted = true
	require.NoError(t, db.Storage.SaveDocument(ctx, original))

	verdict, err := guard.CheckUpload(ctx, db.Tenant, docs[1].ID, pdf)
	require.NoError(t, err)
	assert.False(t, verdict.DeferProcessing)
}

func TestCheckExtractedText(t *testing.T) {
	guard, db, docs := setupGuard(t, "scan", "rescan")
	ctx := context.Background()

	_, err := guard.CheckUpload(ctx, db.Tenant, docs[0].ID, []byte("scan one"))
	require.NoError(t, err)
	_, err = guard.CheckUpload(ctx, db.Tenant, docs[1].ID, []byte("scan two"))
	require.NoError(t, err)

	_, err = guard.CheckExtractedText(ctx, db.Tenant, docs[0].ID, "Invoice 2024-001\nTotal 42,00 EUR")
	require.NoError(t, err)

	verdict, err := guard.CheckExtractedText(ctx, db.Tenant, docs[1].ID, "invoice   2024-001 total 42,00 eur")
	require.NoError(t, err)
	assert.True(t, verdict.DeferProcessing)
	assert.Equal(t, docs[0].ID, verdict.DuplicateOf)
	assert.Equal(t, model.DuplicateReasonOCRText, verdict.Reason)
}

func TestCheckExtractedText_EmptyText(t *testing.T) {
	guard, db, docs := setupGuard(t, "blank-a", "blank-b")
	ctx := context.Background()

	for _, doc := range docs {
		verdict, err := guard.CheckExtractedText(ctx, db.Tenant, doc.ID, "  \n ")
		require.NoError(t, err)
		assert.False(t, verdict.DeferProcessing)
		assert.Empty(t, verdict.Document.OCRTextHash)
	}
}

func TestResolveDuplicate(t *testing.T) {
	guard, db, docs := setupGuard(t, "original", "reupload")
	ctx := context.Background()
	pdf := []byte("identical")

	_, err := guard.CheckUpload(ctx, db.Tenant, docs[0].ID, pdf)
	require.NoError(t, err)
	_, err = guard.CheckUpload(ctx, db.Tenant, docs[1].ID, pdf)
	require.NoError(t, err)

	kept, err := guard.ResolveDuplicate(ctx, db.Tenant, docs[1].ID)
	require.NoError(t, err)
	assert.True(t, kept.DuplicateResolved)
	assert.False(t, kept.IsFlaggedDuplicate())

	// A later check against the same original keeps the decision.
	again, err := guard.CheckUpload(ctx, db.Tenant, docs[1].ID, pdf)
	require.NoError(t, err)
	assert.False(t, again.DeferProcessing)
	assert.Equal(t, docs[0].ID, again.DuplicateOf)

	_, err = guard.ResolveDuplicate(ctx, db.Tenant, docs[0].ID)
	require.ErrorIs(t, err, ErrNotDuplicate)

	_, err = guard.ResolveDuplicate(ctx, db.Tenant, "missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestPruneDuplicateTransactions_NothingToPrune(t *testing.T) {
	guard, db, _ := setupGuard(t)
	db.MustSeedTransactions(
		testutil.Transaction("t1", "2024-01-02", -10, "Colruyt", "groceries"),
		testutil.Transaction("t2", "2024-01-03", -20, "Delhaize", "groceries"),
	)

	removed, err := guard.PruneDuplicateTransactions(context.Background(), db.Tenant)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
