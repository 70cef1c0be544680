package storage

import (
	"context"
	"testing"
	"time"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amountPtr(v float64) *float64 { return &v }

func TestSaveDocument_RoundTrip(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	doc := &model.Document{
		TenantID:            testTenant,
		Title:               "Invoice 42",
		Category:            "factuur",
		Issuer:              "ACME NV",
		TotalAmount:         amountPtr(121.5),
		Currency:            "EUR",
		DocumentDate:        time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		DueDate:             time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		IBAN:                "BE68539007547034",
		StructuredReference: "123/4567/89012",
		BankMatchConfidence: model.ConfidenceHigh,
	}
	require.NoError(t, store.SaveDocument(ctx, doc))
	require.NotEmpty(t, doc.ID)

	got, err := store.GetDocument(ctx, testTenant, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Invoice 42", got.Title)
	require.NotNil(t, got.TotalAmount)
	assert.InDelta(t, 121.5, *got.TotalAmount, 1e-9)
	assert.Equal(t, "2024-03-01", model.FormatDate(got.DueDate))
	assert.True(t, got.PaidOn.IsZero())
	assert.Equal(t, model.ConfidenceHigh, got.BankMatchConfidence)

	got.Paid = true
	got.PaidOn = time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveDocument(ctx, got))

	updated, err := store.GetDocument(ctx, testTenant, doc.ID)
	require.NoError(t, err)
	assert.True(t, updated.Paid)
	assert.Equal(t, "2024-02-20", model.FormatDate(updated.PaidOn))

	_, err = store.GetDocument(ctx, "other-tenant", doc.ID)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestListPayableDocuments(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	docs := []*model.Document{
		{TenantID: testTenant, Title: "payable", Category: "Factuur", TotalAmount: amountPtr(10)},
		{TenantID: testTenant, Title: "no amount", Category: "factuur"},
		{TenantID: testTenant, Title: "wrong category", Category: "contract", TotalAmount: amountPtr(10)},
		{TenantID: testTenant, Title: "deleted", Category: "factuur", TotalAmount: amountPtr(10), Deleted: true},
		{TenantID: testTenant, Title: "flagged", Category: "factuur", TotalAmount: amountPtr(10), DuplicateOf: "x"},
		{TenantID: testTenant, Title: "kept duplicate", Category: "factuur", TotalAmount: amountPtr(10), DuplicateOf: "x", DuplicateResolved: true},
	}
	for _, d := range docs {
		require.NoError(t, store.SaveDocument(ctx, d))
	}

	got, err := store.ListPayableDocuments(ctx, testTenant, []string{"factuur", "rekening"})
	require.NoError(t, err)

	titles := make([]string, 0, len(got))
	for _, d := range got {
		titles = append(titles, d.Title)
	}
	assert.ElementsMatch(t, []string{"payable", "kept duplicate"}, titles)
}

func TestListPaidDocuments(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	paidOn := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	docs := []*model.Document{
		{TenantID: testTenant, Title: "paid", TotalAmount: amountPtr(10), Paid: true, PaidOn: paidOn},
		{TenantID: testTenant, Title: "unpaid", TotalAmount: amountPtr(10)},
		{TenantID: testTenant, Title: "paid no amount", Paid: true, PaidOn: paidOn},
		{TenantID: testTenant, Title: "deleted", TotalAmount: amountPtr(10), PaidOn: paidOn, Deleted: true},
	}
	for _, d := range docs {
		require.NoError(t, store.SaveDocument(ctx, d))
	}

	got, err := store.ListPaidDocuments(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "paid", got[0].Title)
	assert.Equal(t, "2024-03-10", model.FormatDate(got[0].PaidOn))
}

func TestFindDocumentByHash(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	first := &model.Document{TenantID: testTenant, ContentSHA256: "abc", OCRTextHash: "txt"}
	second := &model.Document{TenantID: testTenant, ContentSHA256: "abc"}
	require.NoError(t, store.SaveDocument(ctx, first))
	require.NoError(t, store.SaveDocument(ctx, second))

	found, err := store.FindDocumentByContentHash(ctx, testTenant, "abc", second.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	found, err = store.FindDocumentByTextHash(ctx, testTenant, "txt", second.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = store.FindDocumentByTextHash(ctx, testTenant, "txt", first.ID)
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = store.FindDocumentByContentHash(ctx, "other-tenant", "abc", "")
	require.ErrorIs(t, err, common.ErrNotFound)
}
