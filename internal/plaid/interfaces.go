package plaid

import (
	"context"
	"time"

	"github.com/deknijf/documentstore/internal/model"
	"github.com/deknijf/documentstore/internal/service"
)

// TransactionFetcher defines the contract for fetching transaction data.
type TransactionFetcher interface {
	GetTransactions(ctx context.Context, startDate, endDate time.Time) ([]model.BankTransaction, error)
	GetAccounts(ctx context.Context) ([]string, error)
}

// Importer stores synced transactions.
type Importer interface {
	ImportTransactions(ctx context.Context, tenantID, accountID, source string, txs []model.BankTransaction) (service.UpsertResult, error)
}
