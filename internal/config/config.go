// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	NER           NERConfig           `mapstructure:"ner"`
	Retention     RetentionConfig     `mapstructure:"retention"`
	Export        ExportConfig        `mapstructure:"export"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。Enabled 为 false 时不连接 Redis，
// 保留配置直接读库，扫描重试不跨重启计数，保留审计不加分布式锁。
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
// Enabled 为 false 时，PII 扫描在请求路径上同步执行。
type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置，用于归档合规导出包。
type MinIOConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	URLExpiryHours  int    `mapstructure:"url_expiry_hours"`
}

// NERConfig 存储外部命名实体识别服务的配置。
// APIToken 为空表示 NER 被显式禁用，检测仅依赖正则。
type NERConfig struct {
	APIURL         string  `mapstructure:"api_url"`
	APIToken       string  `mapstructure:"api_token"`
	ModelName      string  `mapstructure:"model_name"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MinTextLength  int     `mapstructure:"min_text_length"`
	MaxInputChars  int     `mapstructure:"max_input_chars"`
	ScoreThreshold float64 `mapstructure:"score_threshold"`
}

// Timeout 返回单次 NER 调用的超时时间。
func (c NERConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetentionConfig 存储保留策略审计任务的配置。
type RetentionConfig struct {
	DefaultDays   int  `mapstructure:"default_days"`
	IntervalHours int  `mapstructure:"interval_hours"`
	RunOnStart    bool `mapstructure:"run_on_start"`
}

// Interval 返回审计任务的执行间隔。
func (c RetentionConfig) Interval() time.Duration {
	return time.Duration(c.IntervalHours) * time.Hour
}

// ExportConfig 存储合规导出相关的配置。
type ExportConfig struct {
	PreviewLength int `mapstructure:"preview_length"`
}

// setDefaults 为所有核心常量设置默认值，配置文件中缺省时生效。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.redis.enabled", true)
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("kafka.topic", "pii-scan-tasks")
	v.SetDefault("kafka.group_id", "pii-audit-go-consumer")
	v.SetDefault("elasticsearch.index_name", "pii_detections")
	v.SetDefault("minio.bucket_name", "compliance-exports")
	v.SetDefault("minio.url_expiry_hours", 24)
	v.SetDefault("ner.api_url", "https://router.huggingface.co/hf-inference/models/dslim/bert-base-NER")
	v.SetDefault("ner.api_token", "")
	v.SetDefault("ner.model_name", "dslim/bert-base-NER")
	v.SetDefault("ner.timeout_seconds", 10)
	v.SetDefault("ner.min_text_length", 5)
	v.SetDefault("ner.max_input_chars", 512)
	v.SetDefault("ner.score_threshold", 0.7)
	v.SetDefault("retention.default_days", 90)
	v.SetDefault("retention.interval_hours", 24)
	v.SetDefault("retention.run_on_start", true)
	v.SetDefault("export.preview_length", 100)
}

// Load 从指定路径读取 YAML 文件并返回解析后的配置，环境变量可覆盖同名键（ner.api_token -> NER_API_TOKEN）。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 初始化配置加载，解析结果写入全局 Conf 变量。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
