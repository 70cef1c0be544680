// Package llm is the gateway to the language model providers used for
// categorization and reconciliation fallbacks. One Provider is selected per
// process; the Gateway adds rate limiting, bounded retry on transient
// failures, response caching and JSON extraction on top of it.
package llm
