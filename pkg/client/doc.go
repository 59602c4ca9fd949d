// Package client talks to a paginated JSON listing endpoint.
//
// Each page is requested with a form-encoded POST carrying the configured
// query parameters plus the page number and page size. Responses carry
// "rows" and "total" either at the top level or under a "data" envelope.
//
// The HTTP transport retries configured status codes (500, 502, 503, 504
// and optionally 429) and network errors with exponential backoff before
// the response reaches the caller. Whatever survives is classified:
//
//   - transient: network failures, timeouts, retryable statuses
//   - schema: the body parsed but rows or total is missing
//   - fatal: the body is not JSON, or a non-retryable 4xx
package client
