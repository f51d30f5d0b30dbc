// Package ratelimit classifies catalog responses and throttles request pacing.
// Only a RateLimited classification aborts a source's acquisition cycle.
package ratelimit

import (
	"net/http"
	"slices"
	"strconv"
)

// Class is the guard's reading of a single HTTP status.
type Class int

const (
	Success Class = iota
	NotFound
	RateLimited
	OtherError
)

func (c Class) String() string {
	switch c {
	case Success:
		return "success"
	case NotFound:
		return "not_found"
	case RateLimited:
		return "rate_limited"
	default:
		return "other_error"
	}
}

// DefaultCodes are the "too many requests / forbidden" statuses most catalogs use.
var DefaultCodes = []int{http.StatusForbidden, http.StatusTooManyRequests}

// Guard holds a source's rate-limit status codes.
type Guard struct {
	codes []int
}

// NewGuard builds a guard for codes; an empty list uses DefaultCodes.
func NewGuard(codes ...int) Guard {
	if len(codes) == 0 {
		codes = DefaultCodes
	}
	return Guard{codes: slices.Clone(codes)}
}

// Classify maps a status code to a Class.
func (g Guard) Classify(status int) Class {
	switch {
	case status >= 200 && status < 300:
		return Success
	case slices.Contains(g.codes, status):
		return RateLimited
	case status == http.StatusNotFound:
		return NotFound
	default:
		return OtherError
	}
}

// ClassifyResponse also treats an exhausted X-RateLimit-Remaining header
// on a non-2xx response as rate limited.
func (g Guard) ClassifyResponse(resp *http.Response) Class {
	if resp == nil {
		return OtherError
	}
	class := g.Classify(resp.StatusCode)
	if class == OtherError && exhausted(resp.Header) {
		return RateLimited
	}
	return class
}

func exhausted(h http.Header) bool {
	remaining := h.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return false
	}
	n, err := strconv.Atoi(remaining)
	return err == nil && n == 0
}
