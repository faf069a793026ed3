package protocol

import (
	"encoding/json"
	"fmt"
)

// Result is returned by each docrelay entry point to its invoking host.
type Result struct {
	StatusCode  int    `json:"statusCode"`
	Description string `json:"description"`
	Detail      string `json:"detail"`
}

// Status codes of a Result.
const (
	// StatusRecords reports that one or more records were processed.
	StatusRecords = 200
	// StatusNoRecords reports that no records were available.
	StatusNoRecords = 201
	// StatusCanaryOnly reports that a bootstrap canary was applied, and no
	// further records were available.
	StatusCanaryOnly = 202
	// StatusFailure is returned by the re-invocation pump on invocation error.
	StatusFailure = 0
)

// RecordsResult returns the Result of a run which processed |n| records.
func RecordsResult(n int) Result {
	return Result{
		StatusCode:  StatusRecords,
		Description: "Success",
		Detail:      quote(fmt.Sprintf("%d records processed successfully.", n)),
	}
}

// NoRecordsResult returns the Result of a run which found nothing to process.
func NoRecordsResult() Result {
	return Result{
		StatusCode:  StatusNoRecords,
		Description: "Success",
		Detail:      quote("No records to process."),
	}
}

// CanaryOnlyResult returns the Result of a run which bootstrapped its
// checkpoint and found nothing further to process.
func CanaryOnlyResult() Result {
	return Result{
		StatusCode:  StatusCanaryOnly,
		Description: "Success",
		Detail:      quote("Canary applied. No records to process."),
	}
}

// quote encodes |s| as a JSON string, matching the detail encoding that
// existing consumers of Results expect.
func quote(s string) string {
	var b, _ = json.Marshal(s)
	return string(b)
}
