// Package ratelimit paces outgoing requests.
//
// RandomDelay is the politeness pause between consecutive pages: a
// uniformly random duration drawn from a configured range. TokenBucket caps
// the request rate of the transport when requests_per_minute is set.
//
// Both take a context so a pending wait ends as soon as the crawl is
// cancelled.
//
//	delay := ratelimit.NewRandomDelay(7*time.Second, 10*time.Second)
//	if _, err := delay.Wait(ctx); err != nil {
//	    return err
//	}
package ratelimit
