package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/spf13/viper"
)

// MarketplaceConfig настройки транспорта и лимитов одного адаптера
type MarketplaceConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BaseURL     string        `mapstructure:"baseURL"`
	TokenURL    string        `mapstructure:"tokenURL"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RPS         float64       `mapstructure:"rps"`
	Burst       int           `mapstructure:"burst"`
	BulkSize    int           `mapstructure:"bulkSize"`
	PageSize    int           `mapstructure:"pageSize"`
	MaxAttempts int           `mapstructure:"maxAttempts"`
	MinSpacing  time.Duration `mapstructure:"minSpacing"`
	BackoffBase time.Duration `mapstructure:"backoffBase"`
	BackoffMax  time.Duration `mapstructure:"backoffMax"`
	// MarketplaceID идентификатор площадки (Amazon marketplaceId, Etsy shop id)
	MarketplaceID string `mapstructure:"marketplaceID"`
}

// Config содержит все настройки сервиса
type Config struct {
	AppName  string `mapstructure:"appName"`
	Version  string `mapstructure:"version"`
	LogLevel string `mapstructure:"logLevel"`
	ENV      string `mapstructure:"env"`

	Run struct {
		WallClock time.Duration `mapstructure:"wallClock"`
		DryRun    bool          `mapstructure:"dryRun"`
		LockKey   string        `mapstructure:"lockKey"`
	} `mapstructure:"run"`

	Tracker struct {
		InitialDelay time.Duration `mapstructure:"initialDelay"`
		MaxDelay     time.Duration `mapstructure:"maxDelay"`
		Budget       time.Duration `mapstructure:"budget"`
	} `mapstructure:"tracker"`

	Dispatcher struct {
		QueueSize int `mapstructure:"queueSize"`
	} `mapstructure:"dispatcher"`

	Marketplaces map[string]MarketplaceConfig `mapstructure:"marketplaces"`

	// Categories правила перевода категорий для создания копированием
	Categories CategoriesConfig `mapstructure:"categories"`

	Server struct {
		Host            string        `mapstructure:"host"`
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"readTimeout"`
		WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
		BodyLimit       int           `mapstructure:"bodyLimit"` // максимальный размер запроса в МБ
	} `mapstructure:"server"`

	Postgres struct {
		Enabled  bool          `mapstructure:"enabled"`
		Host     string        `mapstructure:"host"`
		Port     int           `mapstructure:"port"`
		User     string        `mapstructure:"user"`
		Password string        `mapstructure:"password"`
		DBName   string        `mapstructure:"dbname"`
		SSLMode  string        `mapstructure:"sslmode"`
		Timeout  time.Duration `mapstructure:"timeout"`
		PoolSize int           `mapstructure:"poolSize"`
	} `mapstructure:"postgres"`

	Redis struct {
		Enabled           bool          `mapstructure:"enabled"`
		Host              string        `mapstructure:"host"`
		Port              int           `mapstructure:"port"`
		Password          string        `mapstructure:"password"`
		DB                int           `mapstructure:"db"`
		Prefix            string        `mapstructure:"prefix"`
		DefaultExpiration time.Duration `mapstructure:"defaultExpiration"`
	} `mapstructure:"redis"`

	Kafka struct {
		Enabled       bool     `mapstructure:"enabled"`
		Brokers       []string `mapstructure:"brokers"`
		GroupID       string   `mapstructure:"groupID"`
		EventsTopic   string   `mapstructure:"eventsTopic"`
		CommandsTopic string   `mapstructure:"commandsTopic"`
	} `mapstructure:"kafka"`

	Metrics struct {
		Enabled  bool   `mapstructure:"enabled"`
		Endpoint string `mapstructure:"endpoint"`
		Port     int    `mapstructure:"port"`
	} `mapstructure:"metrics"`

	Security struct {
		JWTSecret        string        `mapstructure:"jwtSecret"`
		JWTExpirationMin time.Duration `mapstructure:"jwtExpirationMin"`
		CORSAllowOrigins []string      `mapstructure:"corsAllowOrigins"`
	} `mapstructure:"security"`
}

// Marketplace возвращает настройки адаптера с подставленными общими значениями
func (c *Config) Marketplace(m models.Marketplace) MarketplaceConfig {
	mc, ok := c.Marketplaces[string(m)]
	if !ok {
		def := defaultMarketplaces[m]
		mc = withDefaults(def, def)
	}
	return mc
}

// Validate проверяет значения, без которых прогон не имеет смысла
func (c *Config) Validate() error {
	var errs []error
	if c.Tracker.InitialDelay <= 0 || c.Tracker.MaxDelay < c.Tracker.InitialDelay {
		errs = append(errs, fmt.Errorf("tracker delays are invalid: initial=%s max=%s", c.Tracker.InitialDelay, c.Tracker.MaxDelay))
	}
	if c.Tracker.Budget <= 0 {
		errs = append(errs, errors.New("tracker budget must be positive"))
	}
	for name, mc := range c.Marketplaces {
		if _, err := models.ParseMarketplace(name); err != nil {
			errs = append(errs, err)
			continue
		}
		if mc.RPS <= 0 {
			errs = append(errs, fmt.Errorf("marketplaces.%s.rps must be positive", name))
		}
		if mc.BulkSize <= 0 {
			errs = append(errs, fmt.Errorf("marketplaces.%s.bulkSize must be positive", name))
		}
	}
	for i, r := range c.Categories.Rules {
		if _, err := models.ParseMarketplace(string(r.Source)); err != nil {
			errs = append(errs, fmt.Errorf("categories.mappings[%d].source: %w", i, err))
		}
		if _, err := models.ParseMarketplace(string(r.Target)); err != nil {
			errs = append(errs, fmt.Errorf("categories.mappings[%d].target: %w", i, err))
		}
		if r.SourceCategory == "" || r.TargetID == "" {
			errs = append(errs, fmt.Errorf("categories.mappings[%d]: sourceCategory and targetId are required", i))
		}
	}
	return errors.Join(errs...)
}

// Load загружает конфигурацию из файла и переменных окружения
func Load(configPath string) (*Config, error) {
	return LoadWith(viper.GetViper(), configPath)
}

// LoadWith как Load, но использует переданный экземпляр viper (для привязки флагов CLI)
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" && strings.ContainsAny(configPath, "/.") {
		v.SetConfigFile(configPath)
	} else {
		configFile := "config"
		if configPath != "" {
			configFile = configPath
		}
		v.SetConfigName(configFile)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
		// Файл не найден: используем значения по умолчанию и окружение
	}

	setDefaults(v)
	bindEnvVariables(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка десериализации конфигурации: %w", err)
	}

	if cfg.Marketplaces == nil {
		cfg.Marketplaces = make(map[string]MarketplaceConfig)
	}
	for _, m := range models.AllMarketplaces() {
		mc := cfg.Marketplaces[string(m)]
		cfg.Marketplaces[string(m)] = withDefaults(mc, defaultMarketplaces[m])
	}

	if cfg.ENV == "" {
		cfg.ENV = "development"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("некорректная конфигурация: %w", err)
	}

	return &cfg, nil
}

var defaultMarketplaces = map[models.Marketplace]MarketplaceConfig{
	models.Trendyol: {
		Enabled: true, BaseURL: "https://apigw.trendyol.com/integration",
		Timeout: 30 * time.Second, RPS: 5, Burst: 5, BulkSize: 1000, PageSize: 200,
	},
	models.Hepsiburada: {
		Enabled: true, BaseURL: "https://listing-external.hepsiburada.com",
		Timeout: 30 * time.Second, RPS: 3, Burst: 3, BulkSize: 1000, PageSize: 100,
	},
	models.Ciceksepeti: {
		Enabled: true, BaseURL: "https://apis.ciceksepeti.com/api/v1",
		Timeout: 30 * time.Second, RPS: 2, Burst: 1, BulkSize: 200, PageSize: 60,
	},
	models.N11: {
		Enabled: true, BaseURL: "https://api.n11.com/ws",
		Timeout: 60 * time.Second, RPS: 1, Burst: 1, BulkSize: 100, PageSize: 100,
	},
	models.PttAVM: {
		Enabled: true, BaseURL: "https://ws.pttavm.com:93/service.svc",
		Timeout: 60 * time.Second, RPS: 1, Burst: 1, BulkSize: 100,
	},
	models.Etsy: {
		Enabled: true, BaseURL: "https://openapi.etsy.com/v3",
		Timeout: 30 * time.Second, RPS: 10, Burst: 10, BulkSize: 1, PageSize: 100,
	},
	models.Amazon: {
		Enabled: true, BaseURL: "https://sellingpartnerapi-eu.amazon.com", TokenURL: "https://api.amazon.com/auth/o2/token",
		Timeout: 30 * time.Second, RPS: 2, Burst: 2, BulkSize: 1000, MarketplaceID: "A33AVAJ2PDY3EV",
	},
}

// withDefaults подставляет значения по умолчанию в незаданные поля
func withDefaults(mc, def MarketplaceConfig) MarketplaceConfig {
	if mc.BaseURL == "" {
		mc.BaseURL = def.BaseURL
	}
	if mc.TokenURL == "" {
		mc.TokenURL = def.TokenURL
	}
	if mc.Timeout <= 0 {
		mc.Timeout = def.Timeout
	}
	if mc.RPS <= 0 {
		mc.RPS = def.RPS
	}
	if mc.Burst <= 0 {
		mc.Burst = max(def.Burst, 1)
	}
	if mc.BulkSize <= 0 {
		mc.BulkSize = def.BulkSize
	}
	if mc.PageSize <= 0 {
		mc.PageSize = def.PageSize
	}
	if mc.MaxAttempts <= 0 {
		mc.MaxAttempts = 4
	}
	if mc.MinSpacing <= 0 && mc.RPS > 0 {
		mc.MinSpacing = time.Duration(float64(time.Second) / mc.RPS)
	}
	if mc.BackoffBase <= 0 {
		mc.BackoffBase = 500 * time.Millisecond
	}
	if mc.BackoffMax <= 0 {
		mc.BackoffMax = 10 * time.Second
	}
	if mc.MarketplaceID == "" {
		mc.MarketplaceID = def.MarketplaceID
	}
	return mc
}

// setDefaults устанавливает значения по умолчанию
func setDefaults(v *viper.Viper) {
	// Основные настройки
	v.SetDefault("appName", "catalog-sync")
	v.SetDefault("version", "1.0.0")
	v.SetDefault("logLevel", "info")
	v.SetDefault("env", "development")

	// Прогон
	v.SetDefault("run.wallClock", "30m")
	v.SetDefault("run.dryRun", false)
	v.SetDefault("run.lockKey", "catalog-sync:run-lock")

	// Опрос асинхронных заданий
	v.SetDefault("tracker.initialDelay", "1s")
	v.SetDefault("tracker.maxDelay", "15s")
	v.SetDefault("tracker.budget", "5m")

	v.SetDefault("dispatcher.queueSize", 256)

	v.SetDefault("categories.cacheTTL", "1h")

	// Адаптеры маркетплейсов
	for m, def := range defaultMarketplaces {
		prefix := "marketplaces." + string(m) + "."
		v.SetDefault(prefix+"enabled", def.Enabled)
		v.SetDefault(prefix+"baseURL", def.BaseURL)
		v.SetDefault(prefix+"timeout", def.Timeout.String())
		v.SetDefault(prefix+"rps", def.RPS)
		v.SetDefault(prefix+"bulkSize", def.BulkSize)
	}

	// Настройки сервера
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", "10s")
	v.SetDefault("server.writeTimeout", "10s")
	v.SetDefault("server.shutdownTimeout", "5s")
	v.SetDefault("server.bodyLimit", 1)

	// Настройки Postgres
	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "postgres")
	v.SetDefault("postgres.dbname", "catalog_sync")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.timeout", "5s")
	v.SetDefault("postgres.poolSize", 10)

	// Настройки Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "catalog-sync")
	v.SetDefault("redis.defaultExpiration", "10m")

	// Настройки Kafka
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.groupID", "catalog-sync")
	v.SetDefault("kafka.eventsTopic", "catalog-sync-events")
	v.SetDefault("kafka.commandsTopic", "catalog-sync-commands")

	// Настройки метрик
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.endpoint", "/metrics")
	v.SetDefault("metrics.port", 9100)

	// Настройки безопасности
	v.SetDefault("security.jwtSecret", "")
	v.SetDefault("security.jwtExpirationMin", "60m")
	v.SetDefault("security.corsAllowOrigins", []string{"*"})
}

// bindEnvVariables привязывает переменные окружения к конфигурации
func bindEnvVariables(v *viper.Viper) {
	// Основные настройки
	v.BindEnv("appName", "APP_NAME")
	v.BindEnv("version", "APP_VERSION")
	v.BindEnv("logLevel", "LOG_LEVEL")
	v.BindEnv("env", "APP_ENV")

	// Прогон
	v.BindEnv("run.wallClock", "RUN_WALL_CLOCK")
	v.BindEnv("run.dryRun", "RUN_DRY_RUN")

	v.BindEnv("tracker.initialDelay", "TRACKER_INITIAL_DELAY")
	v.BindEnv("tracker.maxDelay", "TRACKER_MAX_DELAY")
	v.BindEnv("tracker.budget", "TRACKER_BUDGET")

	for _, m := range models.AllMarketplaces() {
		up := strings.ToUpper(string(m))
		v.BindEnv("marketplaces."+string(m)+".enabled", up+"_ENABLED")
		v.BindEnv("marketplaces."+string(m)+".baseURL", up+"_BASE_URL")
	}

	// Настройки сервера
	v.BindEnv("server.host", "SERVER_HOST")
	v.BindEnv("server.port", "SERVER_PORT")

	// Настройки Postgres
	v.BindEnv("postgres.enabled", "POSTGRES_ENABLED")
	v.BindEnv("postgres.host", "POSTGRES_HOST")
	v.BindEnv("postgres.port", "POSTGRES_PORT")
	v.BindEnv("postgres.user", "POSTGRES_USER")
	v.BindEnv("postgres.password", "POSTGRES_PASSWORD")
	v.BindEnv("postgres.dbname", "POSTGRES_DBNAME")
	v.BindEnv("postgres.sslmode", "POSTGRES_SSLMODE")

	// Настройки Redis
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// Настройки Kafka
	v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.groupID", "KAFKA_GROUP_ID")

	// Настройки безопасности
	v.BindEnv("security.jwtSecret", "JWT_SECRET")
	v.BindEnv("security.corsAllowOrigins", "CORS_ALLOW_ORIGINS")
}

// CategoriesConfig правила перевода категорий из файла конфигурации.
// Имена атрибутов задаются списками: viper приводит ключи словарей к нижнему регистру.
type CategoriesConfig struct {
	CacheTTL time.Duration  `mapstructure:"cacheTTL"`
	Rules    []CategoryRule `mapstructure:"mappings"`
}

// CategoryRule одно правило перевода категории
type CategoryRule struct {
	Source         models.Marketplace `mapstructure:"source"`
	Target         models.Marketplace `mapstructure:"target"`
	SourceCategory string             `mapstructure:"sourceCategory"`
	TargetID       string             `mapstructure:"targetId"`
	TargetPath     string             `mapstructure:"targetPath"`
	Attributes     []AttributeRename  `mapstructure:"attributes"`
	Defaults       []AttributeValue   `mapstructure:"defaults"`
}

// AttributeRename переименование атрибута источника
type AttributeRename struct {
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`
}

// AttributeValue значение обязательного атрибута цели
type AttributeValue struct {
	Name  string `mapstructure:"name"`
	Value string `mapstructure:"value"`
}

// Mappings правила в виде доменных сопоставлений
func (c CategoriesConfig) Mappings() []models.CategoryMapping {
	out := make([]models.CategoryMapping, 0, len(c.Rules))
	for _, r := range c.Rules {
		m := models.CategoryMapping{
			Source:         r.Source,
			Target:         r.Target,
			SourceCategory: r.SourceCategory,
			TargetID:       r.TargetID,
			TargetPath:     r.TargetPath,
		}
		if len(r.Attributes) > 0 {
			m.AttributeNames = make(map[string]string, len(r.Attributes))
			for _, a := range r.Attributes {
				m.AttributeNames[a.From] = a.To
			}
		}
		if len(r.Defaults) > 0 {
			m.Defaults = make(map[string]string, len(r.Defaults))
			for _, d := range r.Defaults {
				m.Defaults[d.Name] = d.Value
			}
		}
		out = append(out, m)
	}
	return out
}
