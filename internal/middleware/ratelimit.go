package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"lumen/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// anonymousClient identifies requests with no resolvable transport address.
const anonymousClient = "anonymous"

// RateLimiter is a fixed-window request counter backed by Redis. Each window
// has an independent counter keyed by (prefix, client, window index); the
// counter expires after one window length so stale windows self-clean.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRateLimiter returns a limiter allowing `limit` requests per `window`.
// A zero limit or window disables limiting unconditionally.
func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration, prefix string) *RateLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &RateLimiter{rdb: rdb, limit: limit, window: window, prefix: prefix}
}

// Allow increments the counter for the current window and reports whether the
// post-increment count is within the limit. The increment is a single atomic
// INCR; the first increment in a window also sets the counter's expiry.
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.limit <= 0 || l.window <= 0 {
		return true, nil
	}
	if l.rdb == nil {
		return false, fmt.Errorf("rate limit store unavailable")
	}

	// Nanosecond arithmetic keeps sub-second windows from dividing by zero.
	bucket := time.Now().UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, bucket)

	cnt, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, err
	}
	if cnt == 1 {
		l.rdb.Expire(ctx, redisKey, l.window)
	}
	return cnt <= int64(l.limit), nil
}

// ClientIdentifier resolves a stable client identity for rate limiting.
// Forwarding headers are only honored when the direct peer address is inside
// a trusted proxy network.
type ClientIdentifier struct {
	trustedProxies []netip.Prefix
	headers        []string
}

// NewClientIdentifier parses the trusted proxy CIDRs and stores the
// forwarded-IP header names in lookup order.
func NewClientIdentifier(cidrs, headers []string) (*ClientIdentifier, error) {
	ci := &ClientIdentifier{headers: headers}
	for _, cidr := range cidrs {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy CIDR %q: %w", cidr, err)
		}
		ci.trustedProxies = append(ci.trustedProxies, prefix)
	}
	return ci, nil
}

// ClientID returns the identity used as the limiter key for this request.
func (ci *ClientIdentifier) ClientID(c *fiber.Ctx) string {
	remote := c.IP()
	if remote == "" {
		return anonymousClient
	}

	if addr, err := netip.ParseAddr(remote); err == nil && ci.isTrustedProxy(addr) {
		if forwarded := ci.forwardedIP(c); forwarded != "" {
			return forwarded
		}
	}
	return remote
}

func (ci *ClientIdentifier) isTrustedProxy(addr netip.Addr) bool {
	for _, prefix := range ci.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// forwardedIP returns the first syntactically valid IP found in the
// configured headers, checked in order.
func (ci *ClientIdentifier) forwardedIP(c *fiber.Ctx) string {
	for _, header := range ci.headers {
		value := c.Get(header)
		if value == "" {
			continue
		}
		for _, candidate := range strings.Split(value, ",") {
			candidate = strings.TrimSpace(candidate)
			if candidate == "" {
				continue
			}
			if _, err := netip.ParseAddr(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}

// RateLimit returns a Fiber middleware enforcing the given limiter. The
// limiter is constructed at the composition root and injected here; tests
// pass their own instance instead of patching process state.
// Exempt paths and CORS preflight requests pass through untouched. Store
// failures fail open: traffic is never blocked by an unavailable counter store.
func RateLimit(limiter *RateLimiter, ident *ClientIdentifier, exemptPaths ...string) fiber.Handler {
	exempt := make(map[string]struct{}, len(exemptPaths))
	for _, p := range exemptPaths {
		exempt[p] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}
		if _, ok := exempt[c.Path()]; ok {
			return c.Next()
		}
		if limiter == nil {
			return c.Next()
		}

		key := anonymousClient
		if ident != nil {
			key = ident.ClientID(c)
		}

		allowed, err := limiter.Allow(c.Context(), key)
		if err != nil {
			RateLimitDecisions.WithLabelValues("error").Inc()
			Logger.WarnContext(c.UserContext(), "rate limiter unavailable, allowing request",
				slog.String("path", c.Path()), slog.String("error", err.Error()))
			return c.Next()
		}
		if !allowed {
			RateLimitDecisions.WithLabelValues("limited").Inc()
			return models.RespondWithError(c, fiber.StatusTooManyRequests, models.NewRateLimitedError())
		}
		RateLimitDecisions.WithLabelValues("allowed").Inc()
		return c.Next()
	}
}

// RouteRateLimit returns a per-route limiter middleware with its own prefix,
// for endpoints that need tighter limits than the global window (login,
// register, uploads). It shares the global client identification rules.
func RouteRateLimit(rdb *redis.Client, ident *ClientIdentifier, limit int, window time.Duration, name string) fiber.Handler {
	limiter := NewRateLimiter(rdb, limit, window, "rl:"+name)

	return func(c *fiber.Ctx) error {
		key := anonymousClient
		if uid, ok := c.Locals("userID").(uint); ok {
			key = fmt.Sprintf("user:%d", uid)
		} else if ident != nil {
			key = ident.ClientID(c)
		}

		allowed, err := limiter.Allow(c.Context(), key)
		if err != nil {
			RateLimitDecisions.WithLabelValues("error").Inc()
			return c.Next()
		}
		if !allowed {
			RateLimitDecisions.WithLabelValues("limited").Inc()
			return models.RespondWithError(c, fiber.StatusTooManyRequests, models.NewRateLimitedError())
		}
		return c.Next()
	}
}
