package app

import (
	"strings"
	"time"

	"cbtengine/internal/db"
	"cbtengine/internal/exam"

	"github.com/spf13/viper"
)

// Config stores runtime configuration resolved from flags, CBT_* environment
// variables and an optional cbtengine config file.
type Config struct {
	AppEnv   string
	HTTPAddr string

	DBDriver          string
	DBDSN             string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifeMins int

	CSRFEnforced         bool
	StartRateLimitPerMin int
	CORSOrigins          []string

	CreateWait      time.Duration
	SubmitWait      time.Duration
	WriteTimeout    time.Duration
	MonitorInterval time.Duration
	DeadlineGrace   time.Duration
}

func LoadConfig(v *viper.Viper) Config {
	engine := exam.DefaultConfig()
	origins := make([]string, 0)
	for _, o := range v.GetStringSlice("cors-origins") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return Config{
		AppEnv:               stringOrDefault(v, "app-env", "development"),
		HTTPAddr:             stringOrDefault(v, "addr", ":8080"),
		DBDriver:             stringOrDefault(v, "db-driver", db.DriverSQLite),
		DBDSN:                stringOrDefault(v, "db-dsn", "cbtengine.db"),
		DBMaxOpenConns:       intOrDefault(v, "db-max-open-conns", 25),
		DBMaxIdleConns:       intOrDefault(v, "db-max-idle-conns", 25),
		DBConnMaxLifeMins:    intOrDefault(v, "db-conn-max-lifetime-minutes", 30),
		CSRFEnforced:         v.GetBool("csrf-enforced"),
		StartRateLimitPerMin: intOrDefault(v, "start-rate-limit-per-minute", 30),
		CORSOrigins:          origins,
		CreateWait:           durationOrDefault(v, "create-wait", engine.CreateWait),
		SubmitWait:           durationOrDefault(v, "submit-wait", engine.SubmitWait),
		WriteTimeout:         durationOrDefault(v, "write-timeout", engine.WriteTimeout),
		MonitorInterval:      durationOrDefault(v, "monitor-interval", time.Second),
		DeadlineGrace:        durationOrDefault(v, "deadline-grace", engine.DeadlineGrace),
	}
}

func (c Config) DB() db.Config {
	return db.Config{
		Driver:          c.DBDriver,
		DSN:             c.DBDSN,
		MaxOpenConns:    c.DBMaxOpenConns,
		MaxIdleConns:    c.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(c.DBConnMaxLifeMins) * time.Minute,
	}
}

func (c Config) Engine() exam.Config {
	return exam.Config{
		CreateWait:    c.CreateWait,
		SubmitWait:    c.SubmitWait,
		WriteTimeout:  c.WriteTimeout,
		DeadlineGrace: c.DeadlineGrace,
	}
}

func stringOrDefault(v *viper.Viper, key, fallback string) string {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return fallback
	}
	return s
}

func intOrDefault(v *viper.Viper, key string, fallback int) int {
	n := v.GetInt(key)
	if n <= 0 {
		return fallback
	}
	return n
}

// durationOrDefault keeps an explicit zero: it switches the bounded waits off.
func durationOrDefault(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	if !v.IsSet(key) {
		return fallback
	}
	d := v.GetDuration(key)
	if d < 0 {
		return fallback
	}
	return d
}
