package transform

import "github.com/queryvault/queryvault/internal/query"

// ExtractPlan pulls the execution plan document out of a result payload.
// The second return is false when no plan was captured, which callers
// surface as "not found" rather than an empty document.
func ExtractPlan(results *query.QueryResults) (string, bool) {
	if results == nil || results.ExecutionPlan == "" {
		return "", false
	}
	return results.ExecutionPlan, true
}
