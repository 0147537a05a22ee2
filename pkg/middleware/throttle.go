package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"rewardcore/pkg/errutil"
	"rewardcore/pkg/rediskey"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Throttle struct {
	rdb redis.Cmdable
}

func NewThrottle(rdb redis.Cmdable) *Throttle {
	return &Throttle{rdb: rdb}
}

// Limit allows at most limit requests per window for each caller of route.
// The caller is the uid/subid query parameter when present, else the client
// IP. Redis failures let the request through.
func (t *Throttle) Limit(route string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if t == nil || t.rdb == nil || limit <= 0 {
			c.Next()
			return
		}

		key := rediskey.BuildThrottleKey(route, caller(c))

		count, err := t.rdb.Incr(c.Request.Context(), key).Result()
		if err != nil {
			zap.L().Warn("throttle unavailable", zap.String("route", route), zap.Error(err))
			c.Next()
			return
		}

		if count == 1 {
			t.rdb.Expire(c.Request.Context(), key, window)
		}

		if count > int64(limit) {
			ttl, _ := t.rdb.TTL(c.Request.Context(), key).Result()
			if ttl > 0 {
				c.Header("Retry-After", strconv.Itoa(int(ttl.Seconds())))
			}
			err := errutil.TooManyRequest("too many requests", nil,
				errutil.WithDetails(errutil.Detail{Field: "retry_after", Message: fmt.Sprintf("%.0fs", ttl.Seconds())}))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, err.(errutil.BaseError).JSON())
			return
		}
		c.Next()
	}
}

func caller(c *gin.Context) string {
	for _, k := range []string{"uid", "subid"} {
		if v := c.Query(k); v != "" {
			return "user:" + v
		}
	}
	return "ip:" + c.ClientIP()
}
