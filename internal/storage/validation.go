// Package storage provides the SQLite persistence layer for documents,
// bank transactions, category mappings, analysis runs and async jobs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deknijf/documentstore/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidDocument    = errors.New("invalid document")
	ErrInvalidMapping     = errors.New("invalid category mapping")
	ErrInvalidRun         = errors.New("invalid analysis run")
	ErrInvalidJob         = errors.New("invalid job")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateTransaction validates a single bank transaction before it is written.
func validateTransaction(txn *model.BankTransaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.BankAccountID == "" {
		return fmt.Errorf("%w: missing bank account ID", ErrInvalidTransaction)
	}
	if txn.DedupeHash == "" {
		return fmt.Errorf("%w: missing dedupe hash", ErrInvalidTransaction)
	}
	if txn.ExternalTransactionID == "" {
		return fmt.Errorf("%w: missing external transaction ID", ErrInvalidTransaction)
	}
	return nil
}

func validateDocument(doc *model.Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document", ErrNilParameter)
	}
	if doc.TenantID == "" {
		return fmt.Errorf("%w: missing tenant ID", ErrInvalidDocument)
	}
	return nil
}

func validateMapping(m *model.CategoryMapping) error {
	if m == nil {
		return fmt.Errorf("%w: mapping", ErrNilParameter)
	}
	if m.TenantID == "" {
		return fmt.Errorf("%w: missing tenant ID", ErrInvalidMapping)
	}
	if strings.TrimSpace(m.Category) == "" {
		return fmt.Errorf("%w: missing category", ErrInvalidMapping)
	}
	switch m.Flow {
	case model.FlowIncome, model.FlowExpense, model.FlowAll:
	default:
		return fmt.Errorf("%w: flow %q", ErrInvalidMapping, m.Flow)
	}
	return nil
}

func validateRun(run *model.AnalysisRun) error {
	if run == nil {
		return fmt.Errorf("%w: run", ErrNilParameter)
	}
	if run.TenantID == "" {
		return fmt.Errorf("%w: missing tenant ID", ErrInvalidRun)
	}
	if run.SourceHash == "" {
		return fmt.Errorf("%w: missing source hash", ErrInvalidRun)
	}
	if run.Provider == "" {
		return fmt.Errorf("%w: missing provider", ErrInvalidRun)
	}
	return nil
}

func validateJob(job *model.AsyncJob) error {
	if job == nil {
		return fmt.Errorf("%w: job", ErrNilParameter)
	}
	if job.TenantID == "" {
		return fmt.Errorf("%w: missing tenant ID", ErrInvalidJob)
	}
	if job.JobType == "" {
		return fmt.Errorf("%w: missing job type", ErrInvalidJob)
	}
	return nil
}
