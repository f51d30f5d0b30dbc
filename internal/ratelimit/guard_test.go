package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_Classify(t *testing.T) {
	t.Parallel()

	g := NewGuard()
	tests := []struct {
		status int
		want   Class
	}{
		{http.StatusOK, Success},
		{http.StatusNoContent, Success},
		{http.StatusNotFound, NotFound},
		{http.StatusForbidden, RateLimited},
		{http.StatusTooManyRequests, RateLimited},
		{http.StatusInternalServerError, OtherError},
		{http.StatusBadRequest, OtherError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, g.Classify(tt.status), "status %d", tt.status)
	}
}

func TestGuard_SourceSpecificCodes(t *testing.T) {
	t.Parallel()

	g := NewGuard(http.StatusTooManyRequests, http.StatusServiceUnavailable)
	assert.Equal(t, OtherError, g.Classify(http.StatusForbidden))
	assert.Equal(t, RateLimited, g.Classify(http.StatusServiceUnavailable))
}

func TestGuard_ClassifyResponseHeader(t *testing.T) {
	t.Parallel()

	g := NewGuard(http.StatusTooManyRequests)
	resp := &http.Response{StatusCode: http.StatusForbidden, Header: http.Header{}}
	assert.Equal(t, OtherError, g.ClassifyResponse(resp))

	resp.Header.Set("X-RateLimit-Remaining", "0")
	assert.Equal(t, RateLimited, g.ClassifyResponse(resp))

	ok := &http.Response{StatusCode: http.StatusOK, Header: http.Header{"X-Ratelimit-Remaining": {"0"}}}
	assert.Equal(t, Success, g.ClassifyResponse(ok))
	assert.Equal(t, OtherError, g.ClassifyResponse(nil))
}

func TestThrottle_SpacesRequests(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	th := NewThrottle(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, th.Wait(ctx))
	require.NoError(t, th.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestThrottle_Disabled(t *testing.T) {
	t.Parallel()

	th := NewThrottle(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, th.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), time.Second)
}
