package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Log        LogConfig        `mapstructure:"log"`
	Staking    StakingConfig    `mapstructure:"staking"`
	Governance GovernanceConfig `mapstructure:"governance"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Business   BusinessConfig   `mapstructure:"business"`
	Job        JobConfig        `mapstructure:"job"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Mode     string `mapstructure:"mode"`
	WorkerID int64  `mapstructure:"worker_id"`
}

// DatabaseConfig Driver 为 mysql 或 sqlite，sqlite 仅用于本地开发
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	StakingEvent    string `mapstructure:"staking_event"`
	GovernanceEvent string `mapstructure:"governance_event"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// StakingConfig 质押参数
type StakingConfig struct {
	DefaultAPY       decimal.Decimal `mapstructure:"default_apy"`
	MinProposalStake decimal.Decimal `mapstructure:"min_proposal_stake"`
	RewardInterval   time.Duration   `mapstructure:"reward_interval"`
}

// GovernanceConfig 治理参数，Policies 按提案类型配置法定票数和通过比例
type GovernanceConfig struct {
	VotingPeriod time.Duration           `mapstructure:"voting_period"`
	Policies     map[string]PolicyConfig `mapstructure:"policies"`
}

type PolicyConfig struct {
	QuorumVotes       int64           `mapstructure:"quorum_votes"`
	ApprovalThreshold decimal.Decimal `mapstructure:"approval_threshold"`
}

// RetryConfig 存储层瞬时错误（死锁、锁等待超时、连接断开）的重试参数
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type BusinessConfig struct {
	OpTimeout     time.Duration `mapstructure:"op_timeout"`
	MaxRetryCount int           `mapstructure:"max_retry_count"`
	StatsCacheTTL time.Duration `mapstructure:"stats_cache_ttl"`
}

// JobConfig LockTTL 是任务锁的过期时间，任务本身的超时略短于它
type JobConfig struct {
	ResolveSpec      string        `mapstructure:"resolve_spec"`
	RewardSettleSpec string        `mapstructure:"reward_settle_spec"`
	BatchSize        int           `mapstructure:"batch_size"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
	Burst             int `mapstructure:"burst"`
}

var GlobalConfig *Config

// Default 返回带完整默认值的配置，测试直接使用，LoadConfig 用它作为 viper 默认值
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, Mode: "release", WorkerID: 1},
		Database: DatabaseConfig{
			Driver:       "mysql",
			Host:         "127.0.0.1",
			Port:         3306,
			User:         "root",
			Database:     "stakedao",
			SQLitePath:   "stakedao.db",
			MaxOpenConns: 50,
			MaxIdleConns: 10,
		},
		Redis: RedisConfig{Host: "127.0.0.1", Port: 6379},
		Kafka: KafkaConfig{
			Brokers: []string{"127.0.0.1:9092"},
			Topic: KafkaTopicConfig{
				StakingEvent:    "staking_event",
				GovernanceEvent: "governance_event",
			},
		},
		Auth: AuthConfig{Issuer: "stakedao"},
		Log:  LogConfig{Level: "info"},
		Staking: StakingConfig{
			DefaultAPY:       decimal.RequireFromString("12.5"),
			MinProposalStake: decimal.NewFromInt(1000),
			RewardInterval:   24 * time.Hour,
		},
		Governance: GovernanceConfig{
			VotingPeriod: 7 * 24 * time.Hour,
			Policies: map[string]PolicyConfig{
				"TREASURY":   {QuorumVotes: 10, ApprovalThreshold: decimal.RequireFromString("0.6")},
				"GOVERNANCE": {QuorumVotes: 5, ApprovalThreshold: decimal.RequireFromString("0.5")},
				"PROTOCOL":   {QuorumVotes: 5, ApprovalThreshold: decimal.RequireFromString("0.5")},
				"EMERGENCY":  {QuorumVotes: 3, ApprovalThreshold: decimal.RequireFromString("0.75")},
			},
		},
		Retry: RetryConfig{
			MaxAttempts:     5,
			InitialInterval: 20 * time.Millisecond,
			MaxInterval:     500 * time.Millisecond,
		},
		Business: BusinessConfig{
			OpTimeout:     5 * time.Second,
			MaxRetryCount: 5,
			StatsCacheTTL: 30 * time.Second,
		},
		Job: JobConfig{
			ResolveSpec:      "@every 1m",
			RewardSettleSpec: "@every 1h",
			BatchSize:        100,
			LockTTL:          10 * time.Minute,
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 10, Burst: 20},
	}
}

// LoadConfig 加载配置文件，环境变量 STAKEDAO_XXX_YYY 覆盖 xxx.yyy
func LoadConfig(configPath string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, Default())

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("STAKEDAO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := &Config{}
	if err := v.Unmarshal(config, viper.DecodeHook(decimalHook())); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	GlobalConfig = config
	return config, nil
}

// Validate 校验关键参数
func (c *Config) Validate() error {
	if c.Database.Driver != "mysql" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("不支持的数据库驱动: %s", c.Database.Driver)
	}
	if !c.Staking.MinProposalStake.IsPositive() {
		return fmt.Errorf("staking.min_proposal_stake 必须大于0")
	}
	if c.Staking.DefaultAPY.IsNegative() {
		return fmt.Errorf("staking.default_apy 不能为负数")
	}
	if c.Staking.RewardInterval <= 0 {
		return fmt.Errorf("staking.reward_interval 必须大于0")
	}
	if c.Governance.VotingPeriod <= 0 {
		return fmt.Errorf("governance.voting_period 必须大于0")
	}
	if c.Job.LockTTL <= 0 {
		return fmt.Errorf("job.lock_ttl 必须大于0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts 必须大于0")
	}
	return nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.worker_id", d.Server.WorkerID)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.database", d.Database.Database)
	v.SetDefault("database.sqlite_path", d.Database.SQLitePath)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("redis.host", d.Redis.Host)
	v.SetDefault("redis.port", d.Redis.Port)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic.staking_event", d.Kafka.Topic.StakingEvent)
	v.SetDefault("kafka.topic.governance_event", d.Kafka.Topic.GovernanceEvent)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("staking.default_apy", d.Staking.DefaultAPY.String())
	v.SetDefault("staking.min_proposal_stake", d.Staking.MinProposalStake.String())
	v.SetDefault("staking.reward_interval", d.Staking.RewardInterval)
	v.SetDefault("governance.voting_period", d.Governance.VotingPeriod)
	for name, p := range d.Governance.Policies {
		key := "governance.policies." + strings.ToLower(name)
		v.SetDefault(key+".quorum_votes", p.QuorumVotes)
		v.SetDefault(key+".approval_threshold", p.ApprovalThreshold.String())
	}
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_interval", d.Retry.InitialInterval)
	v.SetDefault("retry.max_interval", d.Retry.MaxInterval)
	v.SetDefault("business.op_timeout", d.Business.OpTimeout)
	v.SetDefault("business.max_retry_count", d.Business.MaxRetryCount)
	v.SetDefault("business.stats_cache_ttl", d.Business.StatsCacheTTL)
	v.SetDefault("job.resolve_spec", d.Job.ResolveSpec)
	v.SetDefault("job.reward_settle_spec", d.Job.RewardSettleSpec)
	v.SetDefault("job.batch_size", d.Job.BatchSize)
	v.SetDefault("job.lock_ttl", d.Job.LockTTL)
	v.SetDefault("ratelimit.requests_per_second", d.RateLimit.RequestsPerSecond)
	v.SetDefault("ratelimit.burst", d.RateLimit.Burst)
}
