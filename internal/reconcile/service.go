// Package reconcile is the entry point for the batch operations: matching
// payable documents to bank outflows, categorizing transactions, and running
// either as a background job.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/deknijf/documentstore/internal/budget"
	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/jobs"
	"github.com/deknijf/documentstore/internal/matcher"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/deknijf/documentstore/internal/service"
)

// Store is the persistence reconciliation needs.
type Store interface {
	service.DocumentStore
	service.TransactionStore
}

// PassResult is the outcome of a reconciliation pass.
type PassResult struct {
	UpdatedDocumentIDs []string          `json:"updated_document_ids"`
	Matches            []model.BankMatch `json:"matches"`
	Checked            int               `json:"checked"`
	Matched            int               `json:"matched"`
}

// Options configures a Service.
type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// Service wires the matcher, the categorizer and the job supervisor.
type Service struct {
	store       Store
	matcher     *matcher.Matcher
	categorizer *budget.Categorizer
	jobs        *jobs.Supervisor
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a service. categorizer and supervisor may be nil when only
// synchronous reconciliation is used.
func New(store Store, m *matcher.Matcher, categorizer *budget.Categorizer, supervisor *jobs.Supervisor, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = common.ComponentLogger("reconcile")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:       store,
		matcher:     m,
		categorizer: categorizer,
		jobs:        supervisor,
		logger:      opts.Logger,
		now:         opts.Now,
	}
}

// RunReconciliationPass matches every payable document with an amount
// against the tenant's outflows and marks matched documents as paid.
func (s *Service) RunReconciliationPass(ctx context.Context, tenantID string, progress budget.ProgressFunc) (*PassResult, error) {
	if progress == nil {
		progress = func(int, int) {}
	}

	docs, err := s.store.ListPayableDocuments(ctx, tenantID, s.matcher.Policy().PayableCategories)
	if err != nil {
		return nil, fmt.Errorf("failed to list payable documents: %w", err)
	}
	txs, err := s.store.ListTransactions(ctx, tenantID, service.TransactionFilter{OutflowsOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	// Ties go to the earliest candidate, so scan oldest first.
	slices.Reverse(txs)
	slices.SortStableFunc(txs, func(a, b model.BankTransaction) int {
		return a.BookingDate.Compare(b.BookingDate)
	})

	result := &PassResult{
		Checked:            len(docs),
		UpdatedDocumentIDs: []string{},
		Matches:            []model.BankMatch{},
	}
	progress(0, len(docs))

	for i := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		doc := &docs[i]
		match, ok := s.matcher.Match(ctx, doc, txs)
		if ok {
			s.markPaid(doc, match)
			if err := s.store.SaveDocument(ctx, doc); err != nil {
				return nil, fmt.Errorf("failed to save document %s: %w", doc.ID, err)
			}
			result.UpdatedDocumentIDs = append(result.UpdatedDocumentIDs, doc.ID)
			result.Matches = append(result.Matches, match.BankMatch(doc.ID))

			s.logger.Debug("Document matched",
				"document_id", doc.ID,
				"external_transaction_id", match.Transaction.ExternalTransactionID,
				"score", match.Score,
				"confidence", match.Confidence)
		}
		progress(i+1, len(docs))
	}

	result.Matched = len(result.UpdatedDocumentIDs)
	s.logger.Info("Reconciliation pass finished",
		"tenant", tenantID,
		"checked", result.Checked,
		"matched", result.Matched)
	return result, nil
}

func (s *Service) markPaid(doc *model.Document, match matcher.Result) {
	tx := match.Transaction

	doc.Paid = true
	doc.BankPaidVerified = true
	switch {
	case !tx.BookingDate.IsZero():
		doc.PaidOn = tx.BookingDate
	case doc.PaidOn.IsZero():
		y, m, d := s.now().UTC().Date()
		doc.PaidOn = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	doc.BankMatchScore = match.Score
	doc.BankMatchConfidence = match.Confidence
	doc.BankMatchReason = match.Reason
	doc.BankMatchExternalTransactionID = tx.ExternalTransactionID

	// Only an explicit mapping may overwrite the document's budget category.
	if tx.Source == model.SourceMapping && strings.TrimSpace(tx.Category) != "" {
		doc.BudgetCategory = strings.TrimSpace(tx.Category)
	}

	doc.Remark = matcher.AppendRemark(doc.Remark, matcher.Remark(match))
}

// RunCategorizationPass categorizes the tenant's transactions.
func (s *Service) RunCategorizationPass(ctx context.Context, tenantID string, progress budget.ProgressFunc) (*budget.Report, error) {
	if s.categorizer == nil {
		return nil, fmt.Errorf("%w: categorizer", common.ErrMissingConfig)
	}
	return s.categorizer.Analyze(ctx, tenantID, progress)
}

// StartBatchJob starts jobType in the background, or returns the job of that
// type the tenant already has running.
func (s *Service) StartBatchJob(ctx context.Context, tenantID, userID string, jobType model.JobType) (*jobs.StartResult, error) {
	if s.jobs == nil {
		return nil, fmt.Errorf("%w: job supervisor", common.ErrMissingConfig)
	}

	var worker jobs.Worker
	switch jobType {
	case model.JobTypeCheckBank:
		worker = func(ctx context.Context, progress jobs.Progress) (any, error) {
			return s.RunReconciliationPass(ctx, tenantID, budget.ProgressFunc(progress))
		}
	case model.JobTypeBudgetAnalyze:
		worker = func(ctx context.Context, progress jobs.Progress) (any, error) {
			return s.RunCategorizationPass(ctx, tenantID, budget.ProgressFunc(progress))
		}
	default:
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownJobType, jobType)
	}

	return s.jobs.Start(ctx, tenantID, userID, jobType, worker)
}

// GetJobStatus returns a job of the tenant.
func (s *Service) GetJobStatus(ctx context.Context, tenantID, jobID string) (*model.AsyncJob, error) {
	if s.jobs == nil {
		return nil, fmt.Errorf("%w: job supervisor", common.ErrMissingConfig)
	}
	return s.jobs.Status(ctx, tenantID, jobID)
}
