package plaid

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/deknijf/documentstore/internal/model"
)

// Source is the import source name recorded for synced transactions.
const Source = "plaid"

// AccountSync is the outcome for one Plaid account.
type AccountSync struct {
	AccountID string `json:"account_id"`
	Fetched   int    `json:"fetched"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
}

// Sync fetches transactions in [start, end] and imports them per account.
// Accounts are stored as "plaid:<account id>".
func Sync(ctx context.Context, fetcher TransactionFetcher, importer Importer, tenantID string, start, end time.Time) ([]AccountSync, error) {
	txs, err := fetcher.GetTransactions(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}

	byAccount := make(map[string][]model.BankTransaction)
	for _, tx := range txs {
		byAccount[tx.BankAccountID] = append(byAccount[tx.BankAccountID], tx)
	}
	accounts := make([]string, 0, len(byAccount))
	for id := range byAccount {
		accounts = append(accounts, id)
	}
	sort.Strings(accounts)

	results := make([]AccountSync, 0, len(accounts))
	for _, id := range accounts {
		accountID := Source + ":" + id
		res, err := importer.ImportTransactions(ctx, tenantID, accountID, Source, byAccount[id])
		if err != nil {
			return results, err
		}
		results = append(results, AccountSync{
			AccountID: accountID,
			Fetched:   len(byAccount[id]),
			Inserted:  res.Inserted,
			Updated:   res.Updated,
		})
	}
	return results, nil
}
