package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimit caps requests per authenticated user (or client IP) in a fixed
// one-minute window kept in Redis. Without Redis, or on cache errors, it lets
// requests through.
func RateLimit(cache *redis.Client, scope string, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 30
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		subject := UserID(c)
		if subject == "" {
			subject = c.IP()
		}
		window := time.Now().UTC().Unix() / 60
		key := fmt.Sprintf("rl:%s:%s:%d", scope, subject, window)

		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			logger.Warn("rate limit lookup failed", slog.String("scope", scope), slog.Any("error", err))
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many requests, try again later")
		}
		return c.Next()
	}
}
