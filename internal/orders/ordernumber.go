package orders

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const orderNumberPrefix = "MF"

// counterStore is the daily sequence backing order numbers.
type counterStore interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	CounterKey(name string) string
}

// numberGenerator produces human-readable order numbers of the form
// MF-YYYYMMDD-XXXXXX. The sequence comes from a per-day redis counter; when
// redis is down a random six-digit suffix keeps checkout alive, with the
// unique index on order_number as the final guard.
type numberGenerator struct {
	counters counterStore
}

func newNumberGenerator(counters counterStore) *numberGenerator {
	return &numberGenerator{counters: counters}
}

func (g *numberGenerator) Next(ctx context.Context, now time.Time) (string, error) {
	day := now.Format("20060102")

	if g.counters != nil {
		key := g.counters.CounterKey("order_number:" + day)
		seq, err := g.counters.IncrWithTTL(ctx, key, 48*time.Hour)
		if err == nil {
			return fmt.Sprintf("%s-%s-%06d", orderNumberPrefix, day, seq%1_000_000), nil
		}
	}

	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate order number suffix: %w", err)
	}
	return fmt.Sprintf("%s-%s-%06d", orderNumberPrefix, day, n.Int64()), nil
}
