package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deknijf/documentstore/internal/budget"
	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/service"
	"google.golang.org/api/sheets/v4"
)

// Writer exports budget reports to Google Sheets.
type Writer struct {
	api    spreadsheetAPI
	logger *slog.Logger
	config Config
}

// NewWriter creates a new Google Sheets report writer.
func NewWriter(ctx context.Context, config Config, logger *slog.Logger) (*Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	api, err := newGoogleAPI(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return newWriter(api, config, logger), nil
}

func newWriter(api spreadsheetAPI, config Config, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = common.ComponentLogger("sheets")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	return &Writer{api: api, config: config, logger: logger}
}

func (w *Writer) retryOptions() service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  w.config.RetryAttempts,
		InitialDelay: w.config.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		ShouldRetry:  common.IsRetryable,
	}
}

// Write replaces the managed tabs with report and returns the spreadsheet ID.
func (w *Writer) Write(ctx context.Context, report *budget.Report) (string, error) {
	w.logger.Info("starting report export",
		"transactions", len(report.Transactions),
		"categories", len(report.CategoryTotals))

	spreadsheetID, ids, err := w.prepareSpreadsheet(ctx)
	if err != nil {
		return "", err
	}

	opts := w.retryOptions()
	tabs := BuildTabs(report)
	rows := 0
	for _, tab := range tabs {
		err := common.WithRetry(ctx, func() error {
			return w.writeTab(ctx, spreadsheetID, tab)
		}, opts)
		if err != nil {
			return "", fmt.Errorf("failed to write %s tab: %w", tab.Name, err)
		}
		rows += len(tab.Values)
	}

	if w.config.EnableFormatting {
		requests := formatRequests(tabs, ids, w.config.CurrencyPattern)
		err := common.WithRetry(ctx, func() error {
			return w.api.BatchUpdate(ctx, spreadsheetID, requests)
		}, opts)
		if err != nil {
			w.logger.Warn("failed to apply formatting", "error", err)
		}
	}

	w.logger.Info("report export completed",
		"spreadsheet_id", spreadsheetID,
		"rows_written", rows)
	return spreadsheetID, nil
}

// prepareSpreadsheet opens the configured spreadsheet, or creates one, and
// makes sure every managed tab exists.
func (w *Writer) prepareSpreadsheet(ctx context.Context) (string, map[string]int64, error) {
	if w.config.SpreadsheetID == "" {
		name := w.config.SpreadsheetName
		if name == "" {
			name = DefaultSpreadsheetName
		}
		id, ids, err := w.api.Create(ctx, name, w.config.TimeZone, Tabs)
		if err != nil {
			return "", nil, fmt.Errorf("unable to create spreadsheet: %w", err)
		}
		w.logger.Info("created new spreadsheet", "id", id)
		return id, ids, nil
	}

	id := w.config.SpreadsheetID
	ids, err := w.api.Tabs(ctx, id)
	if err != nil {
		return "", nil, fmt.Errorf("unable to access spreadsheet %s: %w", id, err)
	}

	var missing []string
	for _, name := range Tabs {
		if _, ok := ids[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		added, err := w.api.AddTabs(ctx, id, missing)
		if err != nil {
			return "", nil, fmt.Errorf("unable to add tabs: %w", err)
		}
		for name, sheetID := range added {
			ids[name] = sheetID
		}
	}
	return id, ids, nil
}

func (w *Writer) writeTab(ctx context.Context, spreadsheetID string, tab Tab) error {
	if err := w.api.Clear(ctx, spreadsheetID, fmt.Sprintf("'%s'!A:Z", tab.Name)); err != nil {
		return err
	}

	for i := 0; i < len(tab.Values); i += w.config.BatchSize {
		end := min(i+w.config.BatchSize, len(tab.Values))
		rng := fmt.Sprintf("'%s'!A%d", tab.Name, i+1)
		if err := w.api.Update(ctx, spreadsheetID, rng, tab.Values[i:end]); err != nil {
			return fmt.Errorf("failed to write batch starting at row %d: %w", i+1, err)
		}
		w.logger.Debug("wrote batch", "tab", tab.Name, "start_row", i+1, "rows", end-i)
	}
	return nil
}

// formatRequests bolds header rows, formats money columns and freezes the
// header of every tab with a known sheet ID.
func formatRequests(tabs []Tab, ids map[string]int64, currencyPattern string) []*sheets.Request {
	var requests []*sheets.Request
	for _, tab := range tabs {
		sheetID, ok := ids[tab.Name]
		if !ok || len(tab.Values) == 0 {
			continue
		}
		rows := int64(len(tab.Values))

		requests = append(requests,
			&sheets.Request{
				RepeatCell: &sheets.RepeatCellRequest{
					Range: &sheets.GridRange{SheetId: sheetID, StartRowIndex: 0, EndRowIndex: 1},
					Cell: &sheets.CellData{
						UserEnteredFormat: &sheets.CellFormat{TextFormat: &sheets.TextFormat{Bold: true}},
					},
					Fields: "userEnteredFormat.textFormat",
				},
			},
			&sheets.Request{
				UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
					Properties: &sheets.SheetProperties{
						SheetId:        sheetID,
						GridProperties: &sheets.GridProperties{FrozenRowCount: 1},
					},
					Fields: "gridProperties.frozenRowCount",
				},
			},
		)

		for _, col := range tab.MoneyColumns {
			requests = append(requests, &sheets.Request{
				RepeatCell: &sheets.RepeatCellRequest{
					Range: &sheets.GridRange{
						SheetId:          sheetID,
						StartRowIndex:    1,
						EndRowIndex:      rows,
						StartColumnIndex: int64(col),
						EndColumnIndex:   int64(col + 1),
					},
					Cell: &sheets.CellData{
						UserEnteredFormat: &sheets.CellFormat{
							NumberFormat: &sheets.NumberFormat{Type: "CURRENCY", Pattern: currencyPattern},
						},
					},
					Fields: "userEnteredFormat.numberFormat",
				},
			})
		}

		requests = append(requests, &sheets.Request{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   int64(len(tab.Values[0])),
				},
			},
		})
	}
	return requests
}
