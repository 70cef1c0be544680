package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

// SheetsConfig holds Google Sheets export settings.
type SheetsConfig struct {
	ClientID           string
	ClientSecret       string
	RefreshToken       string
	TokenFile          string
	ServiceAccountPath string
	SpreadsheetID      string
	SpreadsheetName    string
	TimeZone           string
	BatchSize          int
	RetryAttempts      int
	RetryDelay         time.Duration
	EnableFormatting   bool
}

func setSheetsDefaults(v *viper.Viper) {
	v.SetDefault("sheets.spreadsheet_name", "Budget Report")
	v.SetDefault("sheets.token_file", "$HOME/.config/docstore/sheets-token.json")
	v.SetDefault("sheets.time_zone", "Europe/Brussels")
	v.SetDefault("sheets.batch_size", 1000)
	v.SetDefault("sheets.retry_attempts", 3)
	v.SetDefault("sheets.retry_delay", time.Second)
	v.SetDefault("sheets.enable_formatting", true)
}

// loadSheets reads the sheets section. Values missing from viper fall back to
// the GOOGLE_SHEETS_* environment variables.
func loadSheets(v *viper.Viper) SheetsConfig {
	c := SheetsConfig{
		ClientID:           v.GetString("sheets.client_id"),
		ClientSecret:       v.GetString("sheets.client_secret"),
		RefreshToken:       v.GetString("sheets.refresh_token"),
		TokenFile:          ExpandPath(v.GetString("sheets.token_file")),
		ServiceAccountPath: ExpandPath(v.GetString("sheets.service_account_path")),
		SpreadsheetID:      v.GetString("sheets.spreadsheet_id"),
		SpreadsheetName:    v.GetString("sheets.spreadsheet_name"),
		TimeZone:           v.GetString("sheets.time_zone"),
		BatchSize:          v.GetInt("sheets.batch_size"),
		RetryAttempts:      v.GetInt("sheets.retry_attempts"),
		RetryDelay:         v.GetDuration("sheets.retry_delay"),
		EnableFormatting:   v.GetBool("sheets.enable_formatting"),
	}

	fallback := func(dst *string, env string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
	}
	fallback(&c.ClientID, "GOOGLE_SHEETS_CLIENT_ID")
	fallback(&c.ClientSecret, "GOOGLE_SHEETS_CLIENT_SECRET")
	fallback(&c.RefreshToken, "GOOGLE_SHEETS_REFRESH_TOKEN")
	fallback(&c.SpreadsheetID, "GOOGLE_SHEETS_SPREADSHEET_ID")
	if c.ServiceAccountPath == "" {
		c.ServiceAccountPath = ExpandPath(os.Getenv("GOOGLE_SHEETS_SERVICE_ACCOUNT_PATH"))
	}
	return c
}
