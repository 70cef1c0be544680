// Package budget assigns a budget category to every bank transaction:
// keyword mappings first, then the category a transaction already carries,
// then chunked model classification, then fixed keyword rules. Model results
// are cached as immutable analysis runs keyed by a hash of their inputs.
package budget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/fingerprint"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/deknijf/documentstore/internal/service"
)

// DefaultChunkSize is the number of transactions per model call.
const DefaultChunkSize = 80

// ProviderNone is recorded on runs produced without a model.
const ProviderNone = "none"

// Summary points written by the categorizer. Points containing
// "fallback active" mark a run that is recomputed on the next pass.
const (
	summaryAllResolved   = "All transactions matched explicit mappings or kept their category."
	summaryNoProvider    = "No LLM provider configured; categories assigned by fallback rules."
	summaryRefreshed     = "Categories refreshed based on current mappings"
	fallbackMarker       = "fallback active"
	reasonFallback       = "Fallback on pattern rules (no model classification)"
	reasonManual         = "Manual correction"
	reasonInheritedMatch = "Kept previous mapping"
)

// ErrInvalidCategory is returned for an empty manual category.
var ErrInvalidCategory = errors.New("invalid category")

// ProgressFunc receives (processed, total) updates.
type ProgressFunc func(processed, total int)

// Store is the persistence the categorizer needs.
type Store interface {
	service.TransactionStore
	service.MappingStore
	service.AnalysisStore
}

// LLM is the gateway surface the categorizer needs.
type LLM interface {
	Name() string
	Model() string
	CompleteJSON(ctx context.Context, prompt string) (json.RawMessage, error)
}

// DocumentLinker fills LinkedDocumentContext on transactions that paid a document.
type DocumentLinker interface {
	LinkDocuments(ctx context.Context, tenantID string, txs []model.BankTransaction) error
}

// Options configures a Categorizer.
type Options struct {
	Linker              DocumentLinker
	Logger              *slog.Logger
	Now                 func() time.Time
	PromptTemplate      string
	PreferredCategories []string
	ChunkSize           int
	LearnCategories     bool
}

// Categorizer runs categorization passes for a tenant.
type Categorizer struct {
	store     Store
	llm       LLM
	linker    DocumentLinker
	prompts   *PromptBuilder
	logger    *slog.Logger
	now       func() time.Time
	opts      Options
	chunkSize int
}

// New creates a categorizer. llm may be nil, in which case every row that is
// not mapped or inherited is classified by the fallback rules.
func New(store Store, llm LLM, opts Options) (*Categorizer, error) {
	prompts, err := NewPromptBuilder(opts.PromptTemplate)
	if err != nil {
		return nil, err
	}

	c := &Categorizer{
		store:     store,
		llm:       llm,
		linker:    opts.Linker,
		prompts:   prompts,
		logger:    opts.Logger,
		now:       opts.Now,
		opts:      opts,
		chunkSize: opts.ChunkSize,
	}
	if c.logger == nil {
		c.logger = common.ComponentLogger("budget")
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.chunkSize <= 0 {
		c.chunkSize = DefaultChunkSize
	}
	return c, nil
}

// snapshot is the categorizer input at the start of a pass.
type snapshot struct {
	txs          []model.BankTransaction
	mappings     []model.CategoryMapping
	categories   []string
	txHash       string
	mappingsHash string
}

type hashedTransaction struct {
	ExternalTransactionID string  `json:"external_transaction_id"`
	BookingDate           string  `json:"booking_date"`
	Currency              string  `json:"currency"`
	CounterpartyName      string  `json:"counterparty_name"`
	RemittanceInformation string  `json:"remittance_information"`
	MovementType          string  `json:"movement_type"`
	LinkedDocumentContext string  `json:"linked_document_context"`
	Amount                float64 `json:"amount"`
}

type hashedMapping struct {
	Keyword  string     `json:"keyword"`
	Category string     `json:"category"`
	Flow     model.Flow `json:"flow"`
	Priority int        `json:"priority"`
}

func (c *Categorizer) load(ctx context.Context, tenantID string) (*snapshot, error) {
	txs, err := c.store.ListTransactions(ctx, tenantID, service.TransactionFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	// Storage lists newest first; passes run oldest first.
	slices.Reverse(txs)
	slices.SortStableFunc(txs, func(a, b model.BankTransaction) int {
		return a.BookingDate.Compare(b.BookingDate)
	})

	if c.linker != nil && len(txs) > 0 {
		if err := c.linker.LinkDocuments(ctx, tenantID, txs); err != nil {
			c.logger.Warn("Failed to link documents", "tenant", tenantID, "error", err)
		}
	}

	mappings, err := c.store.ListMappings(ctx, tenantID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}

	hashed := make([]hashedTransaction, 0, len(txs))
	for i := range txs {
		tx := &txs[i]
		hashed = append(hashed, hashedTransaction{
			ExternalTransactionID: tx.ExternalTransactionID,
			BookingDate:           model.FormatDate(tx.BookingDate),
			Amount:                tx.Amount,
			Currency:              tx.CurrencyOrDefault(),
			CounterpartyName:      tx.CounterpartyName,
			RemittanceInformation: tx.RemittanceInformation,
			MovementType:          tx.MovementType,
			LinkedDocumentContext: tx.LinkedDocumentContext,
		})
	}
	txHash, err := fingerprint.HashJSON(hashed)
	if err != nil {
		return nil, err
	}

	// Keyword-less mappings only register categories, so they stay out of
	// the hash and learning new categories does not invalidate the cache.
	keyed := make([]hashedMapping, 0, len(mappings))
	for _, m := range mappings {
		if strings.TrimSpace(m.Keyword) == "" {
			continue
		}
		keyed = append(keyed, hashedMapping{Keyword: m.Keyword, Category: m.Category, Flow: m.Flow, Priority: m.Priority})
	}
	mappingsHash, err := fingerprint.HashJSON(keyed)
	if err != nil {
		return nil, err
	}

	return &snapshot{
		txs:          txs,
		mappings:     mappings,
		categories:   preferredCategories(c.opts.PreferredCategories, mappings),
		txHash:       txHash,
		mappingsHash: mappingsHash,
	}, nil
}

func preferredCategories(configured []string, mappings []model.CategoryMapping) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(c string) {
		c = strings.TrimSpace(c)
		key := strings.ToLower(c)
		if c == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	for _, c := range configured {
		add(c)
	}
	for _, m := range mappings {
		add(m.Category)
	}
	return out
}

func (c *Categorizer) providerModel() (string, string) {
	if c.llm == nil {
		return ProviderNone, model.ModelRulesOnly
	}
	return c.llm.Name(), c.llm.Model()
}

// inherited returns the category a transaction keeps from an earlier pass.
func inherited(tx *model.BankTransaction) (string, model.Source, bool) {
	category := strings.TrimSpace(tx.Category)
	if category == "" {
		return "", "", false
	}
	switch tx.Source {
	case model.SourceManual, model.SourceMapping:
		return category, tx.Source, true
	}
	return "", "", false
}

func decide(tx *model.BankTransaction, mappings []model.CategoryMapping, classified map[string]Classification) (string, model.Source, string) {
	if m, ok := MatchMapping(tx, mappings); ok {
		return strings.TrimSpace(m.Category), model.SourceMapping, "Keyword mapping: " + strings.TrimSpace(m.Keyword)
	}
	if category, source, ok := inherited(tx); ok {
		if source == model.SourceManual {
			return category, source, reasonManual
		}
		return category, source, reasonInheritedMatch
	}
	if cl, ok := classified[tx.ExternalTransactionID]; ok && cl.Category != "" {
		source := model.SourceLLM
		if cl.Source == model.SourceRule {
			source = model.SourceRule
		}
		return cl.Category, source, cl.Reason
	}
	return FallbackCategory(tx), model.SourceRule, reasonFallback
}

func analysisRow(tx *model.BankTransaction, reason string) model.AnalysisTransaction {
	return model.AnalysisTransaction{
		ExternalTransactionID: tx.ExternalTransactionID,
		BookingDate:           model.FormatDate(tx.BookingDate),
		Amount:                tx.Amount,
		Currency:              tx.CurrencyOrDefault(),
		CounterpartyName:      tx.CounterpartyName,
		RemittanceInformation: tx.RemittanceInformation,
		Flow:                  tx.Flow(),
		Category:              tx.Category,
		Source:                tx.Source,
		Reason:                reason,
	}
}

// assign settles the category of every transaction in place and returns the
// matching analysis rows.
func assign(txs []model.BankTransaction, mappings []model.CategoryMapping, classified map[string]Classification) []model.AnalysisTransaction {
	rows := make([]model.AnalysisTransaction, 0, len(txs))
	for i := range txs {
		tx := &txs[i]
		category, source, reason := decide(tx, mappings, classified)
		tx.SetCategory(category, source)
		rows = append(rows, analysisRow(tx, reason))
	}
	return rows
}

func classificationsFromRows(rows []model.AnalysisTransaction) map[string]Classification {
	out := make(map[string]Classification, len(rows))
	for _, r := range rows {
		out[r.ExternalTransactionID] = Classification{
			ExternalTransactionID: r.ExternalTransactionID,
			Category:              strings.TrimSpace(r.Category),
			Flow:                  string(r.Flow),
			Reason:                r.Reason,
			Source:                r.Source,
		}
	}
	return out
}

func hasFallbackMarker(points []string) bool {
	for _, p := range points {
		if strings.Contains(strings.ToLower(p), fallbackMarker) {
			return true
		}
	}
	return false
}

// cachedRun loads a usable cached run. Runs with no rows for a non-empty
// input, and optionally runs that recorded a fallback, are deleted so the
// caller recomputes them.
func (c *Categorizer) cachedRun(ctx context.Context, tenantID, sourceHash string, snap *snapshot, rejectFallback bool) (*model.AnalysisRun, []model.AnalysisTransaction, error) {
	run, err := c.store.GetRunBySourceHash(ctx, tenantID, sourceHash)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up cached run: %w", err)
	}

	rows, err := c.store.ListRunTransactions(ctx, run.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load cached run: %w", err)
	}

	stale := len(snap.txs) > 0 && len(rows) == 0
	if !stale && rejectFallback && hasFallbackMarker(run.Summary) {
		stale = true
	}
	if !stale {
		return run, rows, nil
	}

	c.logger.Info("Discarding cached analysis run", "tenant", tenantID, "run_id", run.ID, "rows", len(rows))
	if err := c.store.DeleteRun(ctx, tenantID, run.ID); err != nil {
		return nil, nil, fmt.Errorf("failed to discard cached run: %w", err)
	}
	return nil, nil, nil
}

// Analyze runs a full categorization pass and persists the result onto the
// transactions. An identical re-run is served from the cache without model calls.
func (c *Categorizer) Analyze(ctx context.Context, tenantID string, progress ProgressFunc) (*Report, error) {
	if progress == nil {
		progress = func(int, int) {}
	}

	snap, err := c.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	total := len(snap.txs)
	progress(0, total)

	provider, modelName := c.providerModel()
	promptHash, err := fingerprint.HashJSON(strings.TrimSpace(c.opts.PromptTemplate))
	if err != nil {
		return nil, err
	}
	sourceHash, err := fingerprint.HashJSON(map[string]string{
		"provider":      provider,
		"model":         modelName,
		"prompt_hash":   promptHash,
		"mappings_hash": snap.mappingsHash,
		"tx_hash":       snap.txHash,
	})
	if err != nil {
		return nil, err
	}

	run, cachedRows, err := c.cachedRun(ctx, tenantID, sourceHash, snap, true)
	if err != nil {
		return nil, err
	}
	if run != nil {
		rows := assign(snap.txs, snap.mappings, classificationsFromRows(cachedRows))
		report := c.newReport(run.Provider, run.Model, run.Summary, rows, snap)
		report.RunID = run.ID
		report.GeneratedAt = run.CreatedAt
		report.Cached = true
		if err := c.finish(ctx, tenantID, snap, report); err != nil {
			return nil, err
		}
		progress(total, total)
		c.logger.Info("Categorization served from cache", "tenant", tenantID, "run_id", run.ID, "transactions", total)
		return report, nil
	}

	var pending []*model.BankTransaction
	for i := range snap.txs {
		tx := &snap.txs[i]
		if _, ok := MatchMapping(tx, snap.mappings); ok {
			continue
		}
		if _, _, ok := inherited(tx); ok {
			continue
		}
		pending = append(pending, tx)
	}
	resolved := total - len(pending)
	progress(resolved, total)

	classified := make(map[string]Classification)
	var summary []string
	failedChunks := 0
	batchFailed := false

	switch {
	case len(pending) == 0:
		summary = []string{summaryAllResolved}
	case c.llm == nil:
		summary = []string{summaryNoProvider}
	default:
		outcomes := c.classifyChunks(ctx, pending, snap.mappings, snap.categories, func(done int) {
			progress(resolved+done, total)
		})
		var lastErr error
		for _, o := range outcomes {
			if o.Err != nil {
				failedChunks++
				lastErr = o.Err
				continue
			}
			for _, r := range o.Rows {
				classified[r.ExternalTransactionID] = r
			}
		}
		if failedChunks == len(outcomes) {
			batchFailed = true
			summary = []string{"LLM analysis fallback active: " + lastErr.Error()}
		}
	}

	rows := assign(snap.txs, snap.mappings, classified)
	report := c.newReport(provider, modelName, summary, rows, snap)
	report.FailedChunks = failedChunks

	if c.llm != nil && len(pending) > 0 && !batchFailed {
		points, err := c.summarize(ctx, report.CategoryTotals, snap.mappings)
		if err != nil {
			c.logger.Warn("Summary generation failed", "tenant", tenantID, "error", err)
			points = []string{"Summary temporarily unavailable: " + err.Error()}
		}
		if failedChunks > 0 {
			points = append([]string{fmt.Sprintf(
				"Chunk fallback active: %d chunk(s) failed; categories completed by fallback rules.", failedChunks)}, points...)
		}
		report.SummaryPoints = points
	}

	if !batchFailed {
		run := &model.AnalysisRun{
			TenantID:         tenantID,
			SourceHash:       sourceHash,
			Provider:         provider,
			Model:            modelName,
			PromptHash:       promptHash,
			MappingsHash:     snap.mappingsHash,
			TransactionsHash: snap.txHash,
			Summary:          report.SummaryPoints,
			CreatedAt:        c.now(),
		}
		switch err := c.store.CreateRun(ctx, run, rows); {
		case errors.Is(err, common.ErrDuplicateEntry):
			c.logger.Warn("Analysis run already cached by a concurrent pass", "tenant", tenantID)
		case err != nil:
			return nil, fmt.Errorf("failed to save analysis run: %w", err)
		default:
			report.RunID = run.ID
		}
	}

	if err := c.finish(ctx, tenantID, snap, report); err != nil {
		return nil, err
	}
	progress(total, total)

	c.logger.Info("Categorization completed",
		"tenant", tenantID,
		"transactions", total,
		"classified_by_model", len(classified),
		"failed_chunks", failedChunks)
	return report, nil
}

// Refresh re-applies the current mappings over the latest model run for the
// same transactions, without calling the model.
func (c *Categorizer) Refresh(ctx context.Context, tenantID string) (*Report, error) {
	snap, err := c.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	sourceHash, err := fingerprint.HashJSON(map[string]string{
		"mode":          model.ProviderMappingRefresh,
		"mappings_hash": snap.mappingsHash,
		"tx_hash":       snap.txHash,
	})
	if err != nil {
		return nil, err
	}

	run, cachedRows, err := c.cachedRun(ctx, tenantID, sourceHash, snap, false)
	if err != nil {
		return nil, err
	}
	if run != nil {
		rows := assign(snap.txs, snap.mappings, classificationsFromRows(cachedRows))
		report := c.newReport(run.Provider, run.Model, run.Summary, rows, snap)
		report.RunID = run.ID
		report.GeneratedAt = run.CreatedAt
		report.Cached = true
		return report, c.finish(ctx, tenantID, snap, report)
	}

	classified := map[string]Classification{}
	previous, err := c.store.LatestRunForTransactions(ctx, tenantID, snap.txHash, model.ProviderMappingRefresh)
	switch {
	case errors.Is(err, common.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to find previous run: %w", err)
	default:
		previousRows, err := c.store.ListRunTransactions(ctx, previous.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load previous run: %w", err)
		}
		classified = classificationsFromRows(previousRows)
	}

	rows := assign(snap.txs, snap.mappings, classified)
	report := c.newReport(model.ProviderMappingRefresh, model.ModelRulesOnly, []string{summaryRefreshed}, rows, snap)

	newRun := &model.AnalysisRun{
		TenantID:         tenantID,
		SourceHash:       sourceHash,
		Provider:         model.ProviderMappingRefresh,
		Model:            model.ModelRulesOnly,
		MappingsHash:     snap.mappingsHash,
		TransactionsHash: snap.txHash,
		Summary:          report.SummaryPoints,
		CreatedAt:        c.now(),
	}
	switch err := c.store.CreateRun(ctx, newRun, rows); {
	case errors.Is(err, common.ErrDuplicateEntry):
		c.logger.Warn("Refresh run already cached by a concurrent pass", "tenant", tenantID)
	case err != nil:
		return nil, fmt.Errorf("failed to save refresh run: %w", err)
	default:
		report.RunID = newRun.ID
	}

	return report, c.finish(ctx, tenantID, snap, report)
}

func (c *Categorizer) newReport(provider, modelName string, summary []string, rows []model.AnalysisTransaction, snap *snapshot) *Report {
	categoryTotals, years, months := totals(rows)
	if summary == nil {
		summary = []string{}
	}
	return &Report{
		GeneratedAt:    c.now(),
		Provider:       provider,
		Model:          modelName,
		SummaryPoints:  summary,
		Transactions:   rows,
		CategoryTotals: categoryTotals,
		YearTotals:     years,
		MonthTotals:    months,
		MappingsCount:  len(snap.mappings),
		PromptUsed:     strings.TrimSpace(c.opts.PromptTemplate) != "",
	}
}

// finish persists the settled categories and learns new ones.
func (c *Categorizer) finish(ctx context.Context, tenantID string, snap *snapshot, report *Report) error {
	updated, err := c.store.UpdateTransactionCategories(ctx, tenantID, snap.txs)
	if err != nil {
		return fmt.Errorf("failed to persist categories: %w", err)
	}
	report.Updated = updated

	if c.opts.LearnCategories {
		learned, err := c.LearnCategories(ctx, tenantID, report.Transactions)
		if err != nil {
			return err
		}
		report.LearnedCount = learned
	}
	return nil
}
