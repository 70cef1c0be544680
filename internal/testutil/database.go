// Package testutil provides a migrated in-memory database and fixture helpers
// for package tests.
package testutil

import (
	"context"
	"testing"

	"github.com/deknijf/documentstore/internal/model"
	"github.com/deknijf/documentstore/internal/storage"
)

// DefaultTenant is the tenant fixtures are written for.
const DefaultTenant = "tenant-test"

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
	Tenant  string
}

// TestDBOptions provides configuration options for test database setup.
type TestDBOptions struct {
	CustomSetup    func(context.Context, *storage.SQLiteStorage) error
	Tenant         string
	Mappings       []model.CategoryMapping
	Transactions   []model.BankTransaction
	Documents      []model.Document
	SkipMigrations bool
}

// SetupTestDB creates a new migrated in-memory database that is closed on cleanup.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{})
}

// SetupTestDBWithOptions creates a test database and seeds it.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	ctx := context.Background()
	if !opts.SkipMigrations {
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
	}

	tenant := opts.Tenant
	if tenant == "" {
		tenant = DefaultTenant
	}
	db := &TestDB{Storage: store, Tenant: tenant, t: t}

	db.MustSeedMappings(opts.Mappings...)
	db.MustSeedTransactions(opts.Transactions...)
	db.MustSeedDocuments(opts.Documents...)

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}
	return db
}

// MustSeedTransactions upserts txs into the tenant.
func (db *TestDB) MustSeedTransactions(txs ...model.BankTransaction) {
	db.t.Helper()
	if len(txs) == 0 {
		return
	}
	if _, err := db.Storage.UpsertTransactions(context.Background(), db.Tenant, txs, nil); err != nil {
		db.t.Fatalf("failed to seed transactions: %v", err)
	}
}

// MustSeedMappings stores mappings for the tenant.
func (db *TestDB) MustSeedMappings(mappings ...model.CategoryMapping) {
	db.t.Helper()
	for i := range mappings {
		m := mappings[i]
		m.TenantID = db.Tenant
		if err := db.Storage.SaveMapping(context.Background(), &m); err != nil {
			db.t.Fatalf("failed to seed mapping %q: %v", m.Keyword, err)
		}
	}
}

// MustSeedDocuments stores documents for the tenant and returns them with IDs.
func (db *TestDB) MustSeedDocuments(docs ...model.Document) []model.Document {
	db.t.Helper()
	out := make([]model.Document, 0, len(docs))
	for i := range docs {
		d := docs[i]
		d.TenantID = db.Tenant
		if err := db.Storage.SaveDocument(context.Background(), &d); err != nil {
			db.t.Fatalf("failed to seed document %q: %v", d.Title, err)
		}
		out = append(out, d)
	}
	return out
}

// MustGetTransaction loads a transaction by external id or fails the test.
func (db *TestDB) MustGetTransaction(externalID string) *model.BankTransaction {
	db.t.Helper()
	tx, err := db.Storage.GetTransactionByExternalID(context.Background(), db.Tenant, externalID)
	if err != nil {
		db.t.Fatalf("failed to load transaction %s: %v", externalID, err)
	}
	return tx
}
