package deliveryfee

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/bkouassi/marchefrais-backend/pkg/config"
	"github.com/bkouassi/marchefrais-backend/pkg/logger"
)

// QuoteCache is the TTL'd cache port for external quotes. Injected so tests
// control time instead of sleeping.
type QuoteCache interface {
	GetFee(ctx context.Context, key string) (int64, bool)
	SetFee(ctx context.Context, key string, fee int64)
}

// PricingClient fetches a quote from the optional external pricing API.
type PricingClient interface {
	QuoteFee(ctx context.Context, address string, orderAmount int64) (int64, error)
}

// Calculator turns an address and order amount into a delivery fee. Quote
// never fails: every error path degrades to a computed fee, because checkout
// must not block on a third party being down.
type Calculator struct {
	zones              []config.Zone
	defaultFee         int64
	surchargeThreshold int64
	surchargeAmount    int64

	pricing PricingClient
	cache   QuoteCache
	logg    *logger.Logger
}

// Option configures optional calculator collaborators.
type Option func(*Calculator)

// WithPricingClient wires the external pricing API.
func WithPricingClient(client PricingClient) Option {
	return func(c *Calculator) {
		c.pricing = client
	}
}

// WithCache wires the quote cache.
func WithCache(cache QuoteCache) Option {
	return func(c *Calculator) {
		c.cache = cache
	}
}

// WithLogger wires the structured logger.
func WithLogger(logg *logger.Logger) Option {
	return func(c *Calculator) {
		c.logg = logg
	}
}

// NewCalculator builds a calculator over the ordered zone table.
func NewCalculator(cfg config.DeliveryConfig, opts ...Option) *Calculator {
	calc := &Calculator{
		zones:              cfg.ZoneTable,
		defaultFee:         cfg.DefaultFee,
		surchargeThreshold: cfg.SurchargeThreshold,
		surchargeAmount:    cfg.SurchargeAmount,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(calc)
		}
	}
	return calc
}

// Quote returns the delivery fee for the address and order amount.
func (c *Calculator) Quote(ctx context.Context, address string, orderAmount int64) int64 {
	zone, matched := c.matchZone(address)
	if !matched {
		return c.defaultFee
	}

	base := zone.BaseFee
	if c.pricing != nil {
		if external, err := c.externalQuote(ctx, address, orderAmount); err == nil {
			base = external
		} else if c.logg != nil {
			c.logg.Warn(c.logg.WithField(ctx, "address_zone", zone.Name), "fee quote provider unavailable, using zone fee")
		}
	}

	fee := base
	if orderAmount > c.surchargeThreshold {
		fee += c.surchargeAmount
	}
	return fee
}

// matchZone does a first-substring-match linear scan over the ordered table.
// The scan is intentionally naive; callers depend on its determinism.
func (c *Calculator) matchZone(address string) (config.Zone, bool) {
	lowered := strings.ToLower(address)
	for _, zone := range c.zones {
		if zone.Name != "" && strings.Contains(lowered, zone.Name) {
			return zone, true
		}
	}
	return config.Zone{}, false
}

var errBadQuote = badQuoteError{}

type badQuoteError struct{}

func (badQuoteError) Error() string { return "provider returned an unusable quote" }

// externalQuote consults the cache then the provider. The error return exists
// so the fallback mapping happens in exactly one place, in Quote.
func (c *Calculator) externalQuote(ctx context.Context, address string, orderAmount int64) (int64, error) {
	key := addressKey(address)
	if c.cache != nil {
		if fee, ok := c.cache.GetFee(ctx, key); ok {
			return fee, nil
		}
	}

	fee, err := c.pricing.QuoteFee(ctx, address, orderAmount)
	if err != nil {
		return 0, err
	}
	if fee < 0 {
		return 0, errBadQuote
	}
	if c.cache != nil {
		c.cache.SetFee(ctx, key, fee)
	}
	return fee, nil
}

func addressKey(address string) string {
	sum := sha1.Sum([]byte(strings.ToLower(strings.TrimSpace(address))))
	return hex.EncodeToString(sum[:])
}
