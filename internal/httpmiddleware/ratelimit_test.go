package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_Allow(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := NewTokenBucket(2, 60)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"), "bucket drained")
	assert.True(t, l.Allow("b"), "keys are independent")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"), "one token refilled per second at 60/min")
	assert.False(t, l.Allow("a"))

	now = now.Add(time.Hour)
	assert.Equal(t, 2, l.Prune(time.Minute))
}

func TestTokenBucket_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewTokenBucket(1, 1)
	r := gin.New()
	r.Use(l.Middleware(BySubject(func(c *gin.Context) string { return c.GetHeader("X-Subject") })))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(subject string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if subject != "" {
			req.Header.Set("X-Subject", subject)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do("alice").Code)
	w := do("alice")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, do("bob").Code)
	assert.Equal(t, http.StatusOK, do("").Code, "anonymous callers fall back to their address")
	assert.Equal(t, http.StatusTooManyRequests, do("").Code)
}

func TestTokenBucket_Disabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewTokenBucket(0, 0).Middleware(ByClientIP))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestTokenBucket_Schedule(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := NewTokenBucket(2, 60)
	l.now = func() time.Time { return now }
	c := cron.New()

	_, err := l.Schedule(c, 0, nil)
	assert.Error(t, err)

	var pruned []int
	id, err := l.Schedule(c, time.Minute, func(n int) { pruned = append(pruned, n) })
	require.NoError(t, err)

	assert.True(t, l.Allow("a"))
	now = now.Add(time.Second)
	assert.True(t, l.Allow("b"))

	// a's bucket is full again after two seconds at 60/min, b's is not yet
	now = now.Add(1500 * time.Millisecond)
	c.Entry(id).Job.Run()
	now = now.Add(time.Second)
	c.Entry(id).Job.Run()
	assert.Equal(t, []int{1, 1}, pruned)

	id, err = NewTokenBucket(0, 0).Schedule(c, time.Minute, nil)
	require.NoError(t, err)
	assert.Zero(t, id, "disabled limiters are not swept")
	assert.Len(t, c.Entries(), 1)
}
