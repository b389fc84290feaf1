package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "development"
	AppEnvProd = "production"
)

type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Delivery DeliveryConfig
	FeeQuote FeeQuoteConfig
	Weights  WeightsConfig
	Stock    StockConfig
	Payment  PaymentConfig
	Dispatch DispatchConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Delivery.ParseZones(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MARCHEFRAIS_APP_ENV" required:"true"`
	Port         string `envconfig:"MARCHEFRAIS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MARCHEFRAIS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MARCHEFRAIS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"MARCHEFRAIS_DB_DSN"`
	Driver string `envconfig:"MARCHEFRAIS_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"MARCHEFRAIS_DB_HOST"`
	Port     int    `envconfig:"MARCHEFRAIS_DB_PORT" default:"5432"`
	User     string `envconfig:"MARCHEFRAIS_DB_USER"`
	Password string `envconfig:"MARCHEFRAIS_DB_PASSWORD"`
	Name     string `envconfig:"MARCHEFRAIS_DB_NAME"`
	SSLMode  string `envconfig:"MARCHEFRAIS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARCHEFRAIS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARCHEFRAIS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARCHEFRAIS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARCHEFRAIS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARCHEFRAIS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MARCHEFRAIS_REDIS_ADDR"`
	Password     string        `envconfig:"MARCHEFRAIS_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARCHEFRAIS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARCHEFRAIS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARCHEFRAIS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARCHEFRAIS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARCHEFRAIS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARCHEFRAIS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// DeliveryConfig drives the zone-based fee computation. Zones is an ordered
// "name:fee" list; order matters because the calculator returns the first
// substring match.
type DeliveryConfig struct {
	Zones              string `envconfig:"MARCHEFRAIS_DELIVERY_ZONES" default:"cocody:1000,plateau:1500,marcory:1500,yopougon:2000,abobo:2000"`
	DefaultFee         int64  `envconfig:"MARCHEFRAIS_DELIVERY_DEFAULT_FEE" default:"1500"`
	SurchargeThreshold int64  `envconfig:"MARCHEFRAIS_DELIVERY_SURCHARGE_THRESHOLD" default:"50000"`
	SurchargeAmount    int64  `envconfig:"MARCHEFRAIS_DELIVERY_SURCHARGE_AMOUNT" default:"500"`

	ZoneTable []Zone `ignored:"true"`
}

// Zone is a single entry of the ordered fee table.
type Zone struct {
	Name    string
	BaseFee int64
}

// ParseZones materializes ZoneTable from the raw Zones string. Load calls it;
// callers constructing a DeliveryConfig by hand must call it themselves.
func (d *DeliveryConfig) ParseZones() error {
	raw := strings.TrimSpace(d.Zones)
	if raw == "" {
		d.ZoneTable = nil
		return nil
	}
	entries := strings.Split(raw, ",")
	table := make([]Zone, 0, len(entries))
	for _, entry := range entries {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid delivery zone entry %q", entry)
		}
		fee, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid fee in delivery zone entry %q: %w", entry, err)
		}
		table = append(table, Zone{
			Name:    strings.ToLower(strings.TrimSpace(parts[0])),
			BaseFee: fee,
		})
	}
	d.ZoneTable = table
	return nil
}

type FeeQuoteConfig struct {
	BaseURL  string        `envconfig:"MARCHEFRAIS_FEE_QUOTE_BASE_URL"`
	APIKey   string        `envconfig:"MARCHEFRAIS_FEE_QUOTE_API_KEY"`
	Timeout  time.Duration `envconfig:"MARCHEFRAIS_FEE_QUOTE_TIMEOUT" default:"3s"`
	CacheTTL time.Duration `envconfig:"MARCHEFRAIS_FEE_QUOTE_CACHE_TTL" default:"300s"`
}

// Enabled reports whether the external pricing API should be consulted.
func (f FeeQuoteConfig) Enabled() bool {
	return strings.TrimSpace(f.BaseURL) != "" && strings.TrimSpace(f.APIKey) != ""
}

type WeightsConfig struct {
	EstimationMargin float64 `envconfig:"MARCHEFRAIS_WEIGHT_ESTIMATION_MARGIN" default:"1.2"`
	TolerancePercent float64 `envconfig:"MARCHEFRAIS_WEIGHT_TOLERANCE_PERCENT" default:"20"`
}

type StockConfig struct {
	ReserveDuration time.Duration `envconfig:"MARCHEFRAIS_STOCK_RESERVE_DURATION" default:"30m"`
	MaxRetries      int           `envconfig:"MARCHEFRAIS_STOCK_MAX_RETRIES" default:"3"`
	RetryBackoff    time.Duration `envconfig:"MARCHEFRAIS_STOCK_RETRY_BACKOFF" default:"25ms"`
	RowLocking      bool          `envconfig:"MARCHEFRAIS_STOCK_LOCKING" default:"true"`
}

type PaymentConfig struct {
	BaseURL       string        `envconfig:"MARCHEFRAIS_PAYMENT_BASE_URL"`
	APIKey        string        `envconfig:"MARCHEFRAIS_PAYMENT_API_KEY"`
	WebhookSecret string        `envconfig:"MARCHEFRAIS_PAYMENT_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"MARCHEFRAIS_PAYMENT_TIMEOUT" default:"15s"`
}

type DispatchConfig struct {
	BaseURL       string        `envconfig:"MARCHEFRAIS_DISPATCH_BASE_URL"`
	APIKey        string        `envconfig:"MARCHEFRAIS_DISPATCH_API_KEY"`
	WebhookSecret string        `envconfig:"MARCHEFRAIS_DISPATCH_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"MARCHEFRAIS_DISPATCH_TIMEOUT" default:"10s"`

	PickupName    string `envconfig:"MARCHEFRAIS_DISPATCH_PICKUP_NAME" default:"MarcheFrais Depot"`
	PickupAddress string `envconfig:"MARCHEFRAIS_DISPATCH_PICKUP_ADDRESS" default:"Rue des Jardins, Cocody, Abidjan"`
	PickupPhone   string `envconfig:"MARCHEFRAIS_DISPATCH_PICKUP_PHONE" default:"+2250102030405"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	required := map[string]string{
		"MARCHEFRAIS_DB_HOST": db.Host,
		"MARCHEFRAIS_DB_USER": db.User,
		"MARCHEFRAIS_DB_NAME": db.Name,
	}
	for _, key := range []string{"MARCHEFRAIS_DB_HOST", "MARCHEFRAIS_DB_USER", "MARCHEFRAIS_DB_NAME"} {
		if required[key] == "" {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either MARCHEFRAIS_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
