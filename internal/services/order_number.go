package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopforge/api/internal/repositories"
)

const (
	defaultOrderNumberPrefix   = "ORD"
	defaultOrderNumberAttempts = 5
	orderNumberSuffixLength    = 4
	orderNumberCharset         = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	orderNumberRetryDelay      = 2 * time.Millisecond
)

// OrderNumberGeneratorDeps bundles the collaborators for the generator.
type OrderNumberGeneratorDeps struct {
	Orders      repositories.OrderRepository
	Prefix      string
	MaxAttempts int
	Clock       func() time.Time
	// Suffix overrides random-suffix production, used by tests.
	Suffix func(length int) string
	// Sleep overrides the inter-attempt delay, used by tests.
	Sleep func(d time.Duration)
}

type orderNumberGenerator struct {
	orders      repositories.OrderRepository
	prefix      string
	maxAttempts int
	clock       func() time.Time
	suffix      func(length int) string
	sleep       func(d time.Duration)
}

// NewOrderNumberGenerator wires dependencies into a concrete generator.
// Collisions are retried after a minimal delay so the timestamp tail moves;
// the attempt budget is bounded and exhaustion fails loudly rather than
// looping forever.
func NewOrderNumberGenerator(deps OrderNumberGeneratorDeps) (OrderNumberGenerator, error) {
	if deps.Orders == nil {
		return nil, errors.New("order number generator: order repository is required")
	}
	prefix := strings.ToUpper(strings.TrimSpace(deps.Prefix))
	if prefix == "" {
		prefix = defaultOrderNumberPrefix
	}
	attempts := deps.MaxAttempts
	if attempts <= 0 {
		attempts = defaultOrderNumberAttempts
	}
	suffix := deps.Suffix
	if suffix == nil {
		suffix = randomSuffix
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	return &orderNumberGenerator{
		orders:      deps.Orders,
		prefix:      prefix,
		maxAttempts: attempts,
		clock:       sharedClock(deps.Clock),
		suffix:      suffix,
		sleep:       sleep,
	}, nil
}

// Generate produces PREFIX-XXXXXXXX-YYYY: the last 8 digits of the
// millisecond timestamp plus a 4-character random tail, uppercased. The
// number is checked against existing claims; the caller's transaction still
// enforces uniqueness authoritatively when the claim is created.
func (g *orderNumberGenerator) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		millis := g.clock().UnixMilli()
		tail := fmt.Sprintf("%08d", millis%100000000)
		candidate := fmt.Sprintf("%s-%s-%s", g.prefix, tail, g.suffix(orderNumberSuffixLength))

		exists, err := g.orders.NumberExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		g.sleep(orderNumberRetryDelay)
	}
	return "", fmt.Errorf("%w: gave up after %d attempts", ErrOrderNumberExhausted, g.maxAttempts)
}

func randomSuffix(length int) string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		// Timestamp-derived fallback; uniqueness is still enforced by the
		// claim lookup.
		nanos := time.Now().UnixNano()
		for i := range buf {
			buf[i] = orderNumberCharset[int(nanos>>uint(i*5))%len(orderNumberCharset)]
		}
		return string(buf)
	}
	for i, b := range buf {
		buf[i] = orderNumberCharset[int(b)%len(orderNumberCharset)]
	}
	return string(buf)
}
