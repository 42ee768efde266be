package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newLimiter(clock *fakeClock) *TriggerLimiter {
	l := NewTriggerLimiter()
	l.now = clock.Now
	return l
}

func TestTriggerLimiter_Check(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	l := newLimiter(clock)
	key := SiteTriggerKey(1, TriggerSync)

	assert.True(t, l.Check(key, time.Minute).Allowed)

	clock.t = clock.t.Add(20 * time.Second)
	res := l.Check(key, time.Minute)
	assert.False(t, res.Allowed)
	assert.Equal(t, 40*time.Second, res.RetryAfter)
	assert.True(t, l.Check(SiteTriggerKey(2, TriggerSync), time.Minute).Allowed, "站点之间独立")

	clock.t = clock.t.Add(40 * time.Second)
	assert.True(t, l.Check(key, time.Minute).Allowed)

	l.Reset(key)
	assert.True(t, l.CheckOnly(key, time.Minute).Allowed)
}

func TestTriggerCooldown_Middleware(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	l := newLimiter(clock)
	status := http.StatusAccepted

	r := gin.New()
	r.POST("/sites/:id/sync", TriggerCooldown(l, TriggerSync, 90*time.Second), func(c *gin.Context) {
		c.JSON(status, gin.H{"code": 0})
	})
	call := func(id string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sites/"+id+"/sync", nil))
		return w
	}

	// 失败的触发不计时
	status = http.StatusConflict
	assert.Equal(t, http.StatusConflict, call("1").Code)
	status = http.StatusAccepted
	assert.Equal(t, http.StatusAccepted, call("1").Code)

	clock.t = clock.t.Add(10 * time.Second)
	w := call("1")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			RetryAfter int `json:"retry_after"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 429, body.Code)
	assert.Equal(t, 80, body.Data.RetryAfter)
	assert.Contains(t, body.Message, "1 分 20 秒")

	assert.Equal(t, http.StatusAccepted, call("2").Code)
	assert.Equal(t, http.StatusBadRequest, call("abc").Code)
}

func TestTriggerCooldown_ZeroIntervalDisabled(t *testing.T) {
	l := NewTriggerLimiter()
	r := gin.New()
	r.POST("/sites/:id/push", TriggerCooldown(l, TriggerPush, 0), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sites/1/push", nil))
		assert.Equal(t, http.StatusAccepted, w.Code)
	}
}

func TestFormatRetryMessage(t *testing.T) {
	assert.Contains(t, formatRetryMessage(1500*time.Millisecond), "2 秒")
	assert.Contains(t, formatRetryMessage(2*time.Minute), "2 分钟")
}
