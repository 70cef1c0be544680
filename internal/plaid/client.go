// Package plaid syncs bank transactions from the Plaid API.
package plaid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/config"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/deknijf/documentstore/internal/service"
	"github.com/plaid/plaid-go/v20/plaid"
)

// Config holds Plaid API configuration.
type Config struct {
	ClientID     string
	Secret       string
	Environment  string // sandbox or production
	AccessToken  string
	CountryCodes []string
}

// ConfigFromSettings converts the application configuration.
func ConfigFromSettings(cfg config.PlaidConfig) Config {
	return Config{
		ClientID:     cfg.ClientID,
		Secret:       cfg.Secret,
		Environment:  cfg.Environment,
		AccessToken:  cfg.AccessToken,
		CountryCodes: cfg.CountryCodes,
	}
}

// Validate ensures all required fields are present.
func (c *Config) Validate() error {
	if err := c.validateCredentials(); err != nil {
		return err
	}
	if c.AccessToken == "" {
		return fmt.Errorf("%w: plaid access token is required", common.ErrMissingConfig)
	}
	return nil
}

func (c *Config) validateCredentials() error {
	if c.ClientID == "" {
		return fmt.Errorf("%w: plaid client ID is required", common.ErrMissingConfig)
	}
	if c.Secret == "" {
		return fmt.Errorf("%w: plaid secret is required", common.ErrMissingConfig)
	}
	if c.Environment == "" {
		return fmt.Errorf("%w: plaid environment is required", common.ErrMissingConfig)
	}
	if c.Environment != "sandbox" && c.Environment != "production" {
		return fmt.Errorf("%w: invalid Plaid environment %q: must be sandbox or production", common.ErrInvalidConfig, c.Environment)
	}
	return nil
}

// Client implements the TransactionFetcher interface.
type Client struct {
	client       *plaid.APIClient
	logger       *slog.Logger
	retryOpts    *service.RetryOptions
	accessToken  string
	environment  string
	countryCodes []plaid.CountryCode
}

// NewClient creates a new Plaid client. The access token may be empty for
// the Link flow, which produces one.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.validateCredentials(); err != nil {
		return nil, err
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)

	switch cfg.Environment {
	case "sandbox":
		configuration.UseEnvironment(plaid.Sandbox)
	case "production":
		configuration.UseEnvironment(plaid.Production)
	}

	codes := cfg.CountryCodes
	if len(codes) == 0 {
		codes = []string{"BE", "NL"}
	}
	countryCodes := make([]plaid.CountryCode, 0, len(codes))
	for _, c := range codes {
		countryCodes = append(countryCodes, plaid.CountryCode(strings.ToUpper(strings.TrimSpace(c))))
	}

	return &Client{
		client:       plaid.NewAPIClient(configuration),
		accessToken:  cfg.AccessToken,
		environment:  cfg.Environment,
		countryCodes: countryCodes,
		logger:       common.ComponentLogger("plaid"),
		retryOpts: &service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			ShouldRetry:  common.IsRetryable,
		},
	}, nil
}

// GetTransactions fetches transactions booked between startDate and endDate.
// Plaid reports outflows as positive amounts; they are returned negative so
// that a positive amount is money coming in, like every other source.
func (c *Client) GetTransactions(ctx context.Context, startDate, endDate time.Time) ([]model.BankTransaction, error) {
	if ctx == nil {
		return nil, errors.New("context cannot be nil")
	}
	if startDate.After(endDate) {
		return nil, errors.New("start date must be before end date")
	}

	c.logger.Info("Fetching transactions from Plaid",
		"start_date", model.FormatDate(startDate),
		"end_date", model.FormatDate(endDate))

	var all []plaid.Transaction
	offset := int32(0)
	const pageSize = int32(500)

	for {
		var page []plaid.Transaction

		err := common.WithRetry(ctx, func() error {
			request := plaid.NewTransactionsGetRequest(
				c.accessToken,
				model.FormatDate(startDate),
				model.FormatDate(endDate),
			)
			request.SetOptions(plaid.TransactionsGetRequestOptions{
				Count:  plaid.PtrInt32(pageSize),
				Offset: plaid.PtrInt32(offset),
			})

			resp, _, err := c.client.PlaidApi.TransactionsGet(ctx).TransactionsGetRequest(*request).Execute()
			if err != nil {
				return c.apiError("fetch transactions", err)
			}

			page = resp.GetTransactions()
			c.logger.Debug("Fetched transaction batch",
				"count", len(page),
				"offset", offset,
				"total", resp.GetTotalTransactions())
			return nil
		}, *c.retryOpts)
		if err != nil {
			return nil, err
		}

		all = append(all, page...)
		if len(page) < int(pageSize) {
			break
		}
		offset += pageSize
	}

	c.logger.Info("Fetched all transactions", "count", len(all))

	txs := make([]model.BankTransaction, 0, len(all))
	for _, pt := range all {
		if pt.GetPending() {
			continue
		}
		txs = append(txs, c.mapPlaidTransaction(pt))
	}
	return txs, nil
}

// GetAccounts fetches the account IDs linked to the access token.
func (c *Client) GetAccounts(ctx context.Context) ([]string, error) {
	if ctx == nil {
		return nil, errors.New("context cannot be nil")
	}

	var accounts []plaid.AccountBase
	err := common.WithRetry(ctx, func() error {
		request := plaid.NewAccountsGetRequest(c.accessToken)
		resp, _, err := c.client.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*request).Execute()
		if err != nil {
			return c.apiError("fetch accounts", err)
		}
		accounts = resp.GetAccounts()
		return nil
	}, *c.retryOpts)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(accounts))
	for _, account := range accounts {
		ids = append(ids, account.GetAccountId())
	}
	c.logger.Info("Fetched accounts", "count", len(ids))
	return ids, nil
}

// apiError classifies a Plaid failure; rate limits are retried.
func (c *Client) apiError(op string, err error) error {
	plaidErr, convErr := plaid.ToPlaidError(err)
	if convErr != nil {
		return fmt.Errorf("%w: failed to %s: %w", common.ErrPlaidConnection, op, err)
	}
	if plaidErr.ErrorCode == "RATE_LIMIT_EXCEEDED" {
		c.logger.Warn("Rate limit hit, will retry", "error", plaidErr.ErrorMessage)
		return fmt.Errorf("%w: %s", common.ErrPlaidRateLimit, plaidErr.ErrorMessage)
	}
	if plaidErr.ErrorCode == "INVALID_ACCOUNT_ID" {
		return fmt.Errorf("%w: %s", common.ErrInvalidAccount, plaidErr.ErrorMessage)
	}
	return fmt.Errorf("plaid API error: %s - %s", plaidErr.ErrorCode, plaidErr.ErrorMessage)
}

// mapPlaidTransaction converts a Plaid transaction to a bank transaction.
func (c *Client) mapPlaidTransaction(pt plaid.Transaction) model.BankTransaction {
	booking, ok := model.ParseDate(pt.GetDate())
	if !ok {
		c.logger.Warn("Failed to parse transaction date", "date", pt.GetDate(), "transaction_id", pt.GetTransactionId())
	}
	valueDate, _ := model.ParseDate(pt.GetAuthorizedDate())

	counterparty := pt.GetMerchantName()
	if counterparty == "" {
		counterparty = pt.GetName()
	}

	movement := ""
	switch pt.GetPaymentChannel() {
	case "online":
		movement = "ONLINE"
	case "in store":
		movement = "POS"
	case "":
	default:
		movement = "OTHER"
	}
	if pt.GetCheckNumber() != "" && movement == "" {
		movement = "CHECK"
	}

	tx := model.BankTransaction{
		ExternalTransactionID: pt.GetTransactionId(),
		BankAccountID:         pt.GetAccountId(),
		BookingDate:           booking,
		ValueDate:             valueDate,
		Amount:                -pt.GetAmount(),
		Currency:              pt.GetIsoCurrencyCode(),
		CounterpartyName:      cleanMerchantName(counterparty),
		RemittanceInformation: pt.GetName(),
		MovementType:          movement,
	}
	if raw, err := json.Marshal(pt); err == nil {
		tx.RawJSON = string(raw)
	}
	return tx
}

// cleanMerchantName title-cases a merchant and strips trailing ids and company suffixes.
func cleanMerchantName(name string) string {
	words := strings.Fields(strings.ToLower(name))
	for i, word := range words {
		runes := []rune(word)
		for j := range runes {
			if j == 0 || !isLetter(runes[j-1]) {
				runes[j] = toUpper(runes[j])
			}
		}
		words[i] = string(runes)
	}

	// "MERCHANT 123456789": the trailing number is a transaction id.
	if len(words) > 1 {
		last := words[len(words)-1]
		if len(last) > 5 && isAllDigits(last) {
			words = words[:len(words)-1]
		}
	}
	name = strings.Join(words, " ")

	suffixes := []string{" Llc", " Inc", " Corp", " Corporation", " Company", " Co", " Ltd", " Limited", " Bv", " Nv", " Bvba"}
	for changed := true; changed; {
		changed = false
		for _, suffix := range suffixes {
			if strings.HasSuffix(name, suffix) {
				name = strings.TrimSuffix(name, suffix)
				changed = true
			}
		}
	}
	return strings.TrimSpace(name)
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func toUpper(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - 32
	}
	return r
}

// CreateLinkToken creates a Link token for connecting a bank.
func (c *Client) CreateLinkToken(ctx context.Context, tenantID string) (string, error) {
	user := plaid.LinkTokenCreateRequestUser{ClientUserId: "docstore-" + tenantID}
	request := plaid.NewLinkTokenCreateRequest("Documentstore", "en", c.countryCodes, user)
	request.SetProducts([]plaid.Products{plaid.PRODUCTS_TRANSACTIONS})

	resp, _, err := c.client.PlaidApi.LinkTokenCreate(ctx).LinkTokenCreateRequest(*request).Execute()
	if err != nil {
		return "", c.apiError("create link token", err)
	}
	return resp.GetLinkToken(), nil
}

// ExchangePublicToken exchanges a public token from Link for an access token and item ID.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (string, string, error) {
	request := plaid.NewItemPublicTokenExchangeRequest(publicToken)
	resp, _, err := c.client.PlaidApi.ItemPublicTokenExchange(ctx).ItemPublicTokenExchangeRequest(*request).Execute()
	if err != nil {
		return "", "", c.apiError("exchange public token", err)
	}
	return resp.GetAccessToken(), resp.GetItemId(), nil
}

var _ TransactionFetcher = (*Client)(nil)
