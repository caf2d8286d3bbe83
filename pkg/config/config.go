// Package config 提供 TOML 配置加载、环境变量覆盖与校验
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 基础配置结构
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 服务版本
	Version string `mapstructure:"version"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`
	// HTTP 服务配置
	HTTP HTTPConfig `mapstructure:"http"`
	// gRPC 服务配置
	GRPC GRPCConfig `mapstructure:"grpc"`
	// 数据库配置
	Database DatabaseConfig `mapstructure:"database"`
	// Redis 配置
	Redis RedisConfig `mapstructure:"redis"`
	// Kafka 配置
	Kafka KafkaConfig `mapstructure:"kafka"`
	// 日志配置
	Logger LoggerConfig `mapstructure:"logger"`
	// 指标配置
	Metrics MetricsConfig `mapstructure:"metrics"`
	// 事件总线配置
	EventBus EventBusConfig `mapstructure:"event_bus"`
	// 下游依赖健康探测
	Dependencies DependenciesConfig `mapstructure:"dependencies"`
	// 风控配置
	Risk RiskConfig `mapstructure:"risk"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	// 监听地址
	Host string `mapstructure:"host" default:"0.0.0.0"`
	// 监听端口
	Port int `mapstructure:"port" default:"8080"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout" default:"30"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout" default:"30"`
	// 最大连接数
	MaxConnections int `mapstructure:"max_connections" default:"1000"`
	// 运维接口按客户端 IP 限流：每秒请求数与突发量
	RateLimit      float64 `mapstructure:"rate_limit" default:"50"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" default:"100"`
}

// GRPCConfig gRPC 服务配置
type GRPCConfig struct {
	// 监听地址
	Host string `mapstructure:"host" default:"0.0.0.0"`
	// 监听端口
	Port int `mapstructure:"port" default:"50051"`
	// 最大并发流数
	MaxConcurrentStreams int `mapstructure:"max_concurrent_streams" default:"1000"`
	// 连接空闲超时（秒）
	IdleTimeout int `mapstructure:"idle_timeout" default:"300"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：mysql, sqlite
	Driver string `mapstructure:"driver" default:"mysql"`
	// 数据源名称
	DSN string `mapstructure:"dsn"`
	// 最大连接数
	MaxOpenConns int `mapstructure:"max_open_conns" default:"25"`
	// 最大空闲连接数
	MaxIdleConns int `mapstructure:"max_idle_conns" default:"5"`
	// 连接最大生命周期（秒）
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime" default:"300"`
	// 是否启用日志
	LogEnabled bool `mapstructure:"log_enabled" default:"false"`
	// 慢查询阈值（毫秒）
	SlowQueryThreshold int `mapstructure:"slow_query_threshold" default:"1000"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 主机地址
	Host string `mapstructure:"host" default:"localhost"`
	// 端口
	Port int `mapstructure:"port" default:"6379"`
	// 密码
	Password string `mapstructure:"password"`
	// 数据库编号
	DB int `mapstructure:"db" default:"0"`
	// 最大连接数
	MaxPoolSize int `mapstructure:"max_pool_size" default:"10"`
	// 连接超时（秒）
	ConnTimeout int `mapstructure:"conn_timeout" default:"5"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout" default:"3"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout" default:"3"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	// Broker 地址列表
	Brokers []string `mapstructure:"brokers"`
	// Consumer Group ID
	GroupID string `mapstructure:"group_id"`
	// 分区数
	Partitions int `mapstructure:"partitions" default:"3"`
	// 副本数
	Replication int `mapstructure:"replication" default:"1"`
	// 消费者超时（秒）
	SessionTimeout int `mapstructure:"session_timeout" default:"10"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	// 日志级别
	Level string `mapstructure:"level" default:"info"`
	// 输出格式
	Format string `mapstructure:"format" default:"json"`
	// 输出目标
	Output string `mapstructure:"output" default:"stdout"`
	// 文件路径
	FilePath string `mapstructure:"file_path" default:"logs/app.log"`
	// 最大文件大小（MB）
	MaxSize int `mapstructure:"max_size" default:"100"`
	// 最大备份文件数
	MaxBackups int `mapstructure:"max_backups" default:"10"`
	// 最大保留天数
	MaxAge int `mapstructure:"max_age" default:"30"`
	// 是否压缩
	Compress bool `mapstructure:"compress" default:"true"`
	// 是否输出调用者信息
	WithCaller bool `mapstructure:"with_caller" default:"true"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `mapstructure:"enabled" default:"true"`
	// Prometheus 监听端口
	Port int `mapstructure:"port" default:"9090"`
	// 指标路径
	Path string `mapstructure:"path" default:"/metrics"`
}

// EventBusConfig 事件总线配置
type EventBusConfig struct {
	// 传输方式：kafka 或 memory
	Transport string `mapstructure:"transport" default:"kafka"`
	// 主题名前缀，例如 "trading."
	TopicPrefix string `mapstructure:"topic_prefix"`
	// 处理失败消息的死信主题，为空时只记录日志
	DeadLetterTopic string `mapstructure:"dead_letter_topic"`
	// 单条消息处理重试次数（含首次）
	MaxAttempts uint `mapstructure:"max_attempts" default:"3"`
}

// DependenciesConfig 下游依赖
type DependenciesConfig struct {
	// gRPC 健康检查目标，name -> host:port
	HealthTargets map[string]string `mapstructure:"health_targets"`
	// 单次探测超时
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" default:"500ms"`
}

// RiskConfig 风控配置
type RiskConfig struct {
	Limits     RiskLimitsConfig `mapstructure:"limits"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Timeouts   TimeoutConfig    `mapstructure:"timeouts"`
	Alerts     AlertConfig      `mapstructure:"alerts"`
	Calculator CalculatorConfig `mapstructure:"calculator"`
	Compliance ComplianceConfig `mapstructure:"compliance"`
	Portfolio  PortfolioConfig  `mapstructure:"portfolio"`
}

// PortfolioConfig 进程内组合账本的初始状态，之后由 portfolio_update 事件整体替换
type PortfolioConfig struct {
	AccountID   string `mapstructure:"account_id"`
	InitialCash string `mapstructure:"initial_cash" default:"0"`
}

// RiskLimitsConfig 风控限额，数值以字符串保存，由应用层解析为定点小数
type RiskLimitsConfig struct {
	MaxVaR                       string            `mapstructure:"max_var"`
	MaxLeverage                  string            `mapstructure:"max_leverage"`
	DefaultMaxAssetConcentration string            `mapstructure:"max_asset_concentration"`
	AssetConcentration           map[string]string `mapstructure:"asset_concentration"`
	MaxCorrelation               string            `mapstructure:"max_correlation"`
	MaxDailyLoss                 string            `mapstructure:"max_daily_loss"`
	DefaultMinPositionSize       string            `mapstructure:"min_position_size"`
	AssetMinPositionSize         map[string]string `mapstructure:"asset_min_position_size"`
	WorstCaseMove                string            `mapstructure:"worst_case_move" default:"0.05"`
	ReductionFactor              string            `mapstructure:"reduction_factor" default:"0.5"`
}

// MonitoringConfig 监控循环配置
type MonitoringConfig struct {
	// 正常计算间隔
	Interval time.Duration `mapstructure:"interval" default:"5s"`
	// 出现 MEDIUM 违规后的加速间隔
	FastInterval time.Duration `mapstructure:"fast_interval" default:"1s"`
	// 加速持续的周期数
	FastTicks int `mapstructure:"fast_ticks" default:"10"`
	// 出错后的退避初始值与上限
	ErrorBackoffInitial time.Duration `mapstructure:"error_backoff_initial" default:"10s"`
	ErrorBackoffMax     time.Duration `mapstructure:"error_backoff_max" default:"2m"`
	// 连续计算失败多少次后触发熔断，0 表示不触发
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures" default:"5"`
	// 内存中保留的违规历史条数
	HistorySize int `mapstructure:"history_size" default:"500"`
}

// TimeoutConfig 交易路径超时
type TimeoutConfig struct {
	// 信号评估总预算
	Assessment time.Duration `mapstructure:"assessment" default:"100ms"`
	// 单个外部计算器调用超时
	Calculator time.Duration `mapstructure:"calculator" default:"80ms"`
	// 合规校验超时
	Compliance time.Duration `mapstructure:"compliance" default:"80ms"`
}

// AlertConfig 告警投递配置
type AlertConfig struct {
	// WARNING 告警每秒允许条数（按违规类型+资产限流）
	WarningRate  float64 `mapstructure:"warning_rate" default:"0.2"`
	WarningBurst int     `mapstructure:"warning_burst" default:"3"`
	// 异步队列长度
	QueueSize int `mapstructure:"queue_size" default:"1024"`
}

// CalculatorConfig 内置参考计算器参数
type CalculatorConfig struct {
	Simulations     int     `mapstructure:"simulations" default:"10000"`
	ConfidenceLevel float64 `mapstructure:"confidence_level" default:"0.95"`
	HistoryWindow   int     `mapstructure:"history_window" default:"250"`
	DefaultVol      float64 `mapstructure:"default_volatility" default:"0.02"`
	Benchmark       string  `mapstructure:"benchmark"`
	HighVol         float64 `mapstructure:"high_volatility" default:"0.05"`
	// 熔断保护：连续失败次数与打开时长
	BreakerFailures uint32        `mapstructure:"breaker_failures" default:"5"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout" default:"30s"`
}

// ComplianceConfig 规则合规引擎参数
type ComplianceConfig struct {
	RestrictedSymbols []string      `mapstructure:"restricted_symbols"`
	MaxOrderNotional  string        `mapstructure:"max_order_notional"`
	MinConfidence     string        `mapstructure:"min_confidence"`
	MaxSignalAge      time.Duration `mapstructure:"max_signal_age" default:"30s"`
}

// Load 从 TOML 文件加载配置，APP_ 前缀的环境变量可覆盖任意项，例如 APP_RISK_LIMITS_MAX_VAR
func Load(configPath string) (*Config, error) {
	return load(configPath, true)
}

// LoadWithDefaults 与 Load 相同，但配置文件不存在时只使用默认值与环境变量
func LoadWithDefaults(configPath string) (*Config, error) {
	return load(configPath, false)
}

func load(configPath string, requireFile bool) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil && requireFile {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}
	if c.Database.DSN == "" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("database DSN is required for %s driver", c.Database.Driver)
	}
	switch c.EventBus.Transport {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required for kafka event bus")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown event bus transport: %q", c.EventBus.Transport)
	}
	m := c.Risk.Monitoring
	if m.Interval <= 0 || m.FastInterval <= 0 {
		return fmt.Errorf("risk monitoring intervals must be positive")
	}
	if m.ErrorBackoffInitial <= 0 || m.ErrorBackoffMax < m.ErrorBackoffInitial {
		return fmt.Errorf("invalid risk monitoring backoff: initial=%s max=%s", m.ErrorBackoffInitial, m.ErrorBackoffMax)
	}
	if c.Risk.Timeouts.Assessment <= 0 {
		return fmt.Errorf("risk assessment timeout must be positive")
	}
	if c.Risk.Portfolio.AccountID == "" {
		return fmt.Errorf("risk.portfolio.account_id is required")
	}
	return nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)
	v.SetDefault("http.max_connections", 1000)
	v.SetDefault("http.rate_limit", 50)
	v.SetDefault("http.rate_limit_burst", 100)

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)
	v.SetDefault("grpc.max_concurrent_streams", 1000)
	v.SetDefault("grpc.idle_timeout", 300)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", 1000)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_pool_size", 10)
	v.SetDefault("redis.conn_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/app.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("event_bus.transport", "kafka")
	v.SetDefault("event_bus.max_attempts", 3)
	v.SetDefault("dependencies.probe_timeout", "500ms")

	v.SetDefault("risk.limits.worst_case_move", "0.05")
	v.SetDefault("risk.limits.reduction_factor", "0.5")

	v.SetDefault("risk.monitoring.interval", "5s")
	v.SetDefault("risk.monitoring.fast_interval", "1s")
	v.SetDefault("risk.monitoring.fast_ticks", 10)
	v.SetDefault("risk.monitoring.error_backoff_initial", "10s")
	v.SetDefault("risk.monitoring.error_backoff_max", "2m")
	v.SetDefault("risk.monitoring.max_consecutive_failures", 5)
	v.SetDefault("risk.monitoring.history_size", 500)

	v.SetDefault("risk.timeouts.assessment", "100ms")
	v.SetDefault("risk.timeouts.calculator", "80ms")
	v.SetDefault("risk.timeouts.compliance", "80ms")

	v.SetDefault("risk.alerts.warning_rate", 0.2)
	v.SetDefault("risk.alerts.warning_burst", 3)
	v.SetDefault("risk.alerts.queue_size", 1024)

	v.SetDefault("risk.calculator.simulations", 10000)
	v.SetDefault("risk.calculator.confidence_level", 0.95)
	v.SetDefault("risk.calculator.history_window", 250)
	v.SetDefault("risk.calculator.default_volatility", 0.02)
	v.SetDefault("risk.calculator.high_volatility", 0.05)
	v.SetDefault("risk.calculator.breaker_failures", 5)
	v.SetDefault("risk.calculator.breaker_timeout", "30s")

	v.SetDefault("risk.compliance.max_signal_age", "30s")

	v.SetDefault("risk.portfolio.initial_cash", "0")
}

// GetEnv 获取环境变量，支持默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
