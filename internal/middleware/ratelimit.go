package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// Policy is a fixed-window request budget per user
type Policy struct {
	Name   string
	Max    int
	Window time.Duration
}

var (
	// alerts fan out a notification to every known user
	AlertPolicy = Policy{Name: "alert", Max: 5, Window: 15 * time.Minute}
	// posting text messages to any conversation
	PostPolicy = Policy{Name: "post", Max: 30, Window: time.Minute}
	// media uploads, each up to the media size cap
	UploadPolicy = Policy{Name: "upload", Max: 10, Window: 5 * time.Minute}
	// cursor advances, read receipts and notification acks fire on every view
	ReadStatePolicy = Policy{Name: "read_state", Max: 120, Window: time.Minute}
	// history, directory and counter reads
	QueryPolicy = Policy{Name: "query", Max: 100, Window: time.Minute}
)

// rateLimitKey scopes the counter to the policy and the caller
func rateLimitKey(p Policy, c *fiber.Ctx) string {
	if userID := GetUserID(c); userID != "" {
		return p.Name + ":user:" + userID
	}
	return p.Name + ":ip:" + c.IP()
}

// RateLimiter creates a rate limiting middleware for p
func RateLimiter(p Policy) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        p.Max,
		Expiration: p.Window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return rateLimitKey(p, c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "Too many requests, please try again later",
				"code":    "rate_limited",
			})
		},
	})
}

// AlertRateLimiter for operator alerts
func AlertRateLimiter() fiber.Handler { return RateLimiter(AlertPolicy) }

// ModerateRateLimiter for message posting
func ModerateRateLimiter() fiber.Handler { return RateLimiter(PostPolicy) }

// RelaxedRateLimiter for read-only endpoints
func RelaxedRateLimiter() fiber.Handler { return RateLimiter(QueryPolicy) }

// UploadRateLimiter for file uploads
func UploadRateLimiter() fiber.Handler { return RateLimiter(UploadPolicy) }

// ReadStateRateLimiter for cursor and read-receipt writes
func ReadStateRateLimiter() fiber.Handler { return RateLimiter(ReadStatePolicy) }
