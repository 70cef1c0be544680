// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/deknijf/documentstore/internal/model"
)

// TransactionFilter defines filtering options for transaction queries.
type TransactionFilter struct {
	AccountID    string
	OutflowsOnly bool
	Limit        int
}

// UpsertResult reports what an idempotent transaction import changed.
// Skipped counts rows dropped on a dedupe constraint conflict.
type UpsertResult struct {
	Inserted int
	Updated  int
	Skipped  int
}

// DocumentStore persists financial documents.
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, tenantID, id string) (*model.Document, error)
	ListPayableDocuments(ctx context.Context, tenantID string, categories []string) ([]model.Document, error)
	ListPaidDocuments(ctx context.Context, tenantID string) ([]model.Document, error)
	FindDocumentByContentHash(ctx context.Context, tenantID, hash, excludeID string) (*model.Document, error)
	FindDocumentByTextHash(ctx context.Context, tenantID, hash, excludeID string) (*model.Document, error)
}

// TransactionStore persists bank transactions and their categorization.
type TransactionStore interface {
	UpsertTransactions(ctx context.Context, tenantID string, txs []model.BankTransaction, imp *model.CSVImport) (UpsertResult, error)
	ListTransactions(ctx context.Context, tenantID string, filter TransactionFilter) ([]model.BankTransaction, error)
	GetTransactionByExternalID(ctx context.Context, tenantID, externalID string) (*model.BankTransaction, error)
	UpdateTransactionCategories(ctx context.Context, tenantID string, txs []model.BankTransaction) (int, error)
	PruneDuplicateTransactions(ctx context.Context, tenantID string) (int, error)
}

// ImportStore tracks imported statement files.
type ImportStore interface {
	FindImportByHash(ctx context.Context, tenantID, fileSHA256 string) (*model.CSVImport, error)
	ListImports(ctx context.Context, tenantID string) ([]model.CSVImport, error)
}

// MappingStore persists keyword category mappings.
type MappingStore interface {
	ListMappings(ctx context.Context, tenantID string, activeOnly bool) ([]model.CategoryMapping, error)
	SaveMapping(ctx context.Context, mapping *model.CategoryMapping) error
	MaxMappingPriority(ctx context.Context, tenantID string) (int, error)
}

// AnalysisStore persists immutable categorization runs.
type AnalysisStore interface {
	CreateRun(ctx context.Context, run *model.AnalysisRun, rows []model.AnalysisTransaction) error
	GetRunBySourceHash(ctx context.Context, tenantID, sourceHash string) (*model.AnalysisRun, error)
	LatestRun(ctx context.Context, tenantID string) (*model.AnalysisRun, error)
	LatestRunForTransactions(ctx context.Context, tenantID, transactionsHash, excludeProvider string) (*model.AnalysisRun, error)
	ListRunTransactions(ctx context.Context, runID string) ([]model.AnalysisTransaction, error)
	DeleteRun(ctx context.Context, tenantID, runID string) error
}

// JobStore persists async jobs. Every mutation enforces the job state machine.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.AsyncJob) error
	GetJob(ctx context.Context, tenantID, id string) (*model.AsyncJob, error)
	FindActiveJob(ctx context.Context, tenantID string, jobType model.JobType) (*model.AsyncJob, error)
	ListJobs(ctx context.Context, tenantID string, limit int) ([]model.AsyncJob, error)
	MarkJobRunning(ctx context.Context, id string) error
	UpdateJobProgress(ctx context.Context, id string, processed, total int) error
	CompleteJob(ctx context.Context, id string, result json.RawMessage, processed, total int) error
	FailJob(ctx context.Context, id, errMsg string, result json.RawMessage) error
	TouchJob(ctx context.Context, id string) error
	FailStaleJobs(ctx context.Context, owner string, staleBefore time.Time, errMsg string) (int, error)
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	DocumentStore
	TransactionStore
	ImportStore
	MappingStore
	AnalysisStore
	JobStore

	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	ShouldRetry  func(error) bool
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
