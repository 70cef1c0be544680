package model

// CategoryMapping is a flow-scoped keyword rule. An empty keyword only
// registers the category as known; it never matches a transaction.
type CategoryMapping struct {
	TenantID        string
	Keyword         string
	Category        string
	Flow            Flow
	ID              int64
	Priority        int
	Active          bool
	VisibleInBudget bool
}
