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
// 服务端和 uploader 共用同一结构，各自只读取自己关心的部分。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Records       RecordsConfig       `mapstructure:"records"`
	Uploader      UploaderConfig      `mapstructure:"uploader"`
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

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
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
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// StorageConfig 选择对象存储驱动（minio 或 s3）。
type StorageConfig struct {
	Driver string      `mapstructure:"driver"`
	MinIO  MinIOConfig `mapstructure:"minio"`
	S3     S3Config    `mapstructure:"s3"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// S3Config 存储 S3 兼容存储的配置。
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
}

// RecordsConfig 控制代码记录的服务端校验与幂等策略。
type RecordsConfig struct {
	MaxContentBytes int           `mapstructure:"max_content_bytes"`
	IdempotencyTTL  time.Duration `mapstructure:"idempotency_ttl"`
}

// UploaderConfig 是 uploader 命令行客户端的配置。
type UploaderConfig struct {
	ServerURL      string        `mapstructure:"server_url"`
	Author         string        `mapstructure:"author"`
	Token          string        `mapstructure:"token"`
	QueuePath      string        `mapstructure:"queue_path"`
	BatchSize      int           `mapstructure:"batch_size"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	LogFile        string        `mapstructure:"log_file"`
}

// setDefaults 为可选配置项设置默认值。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("jwt.access_token_expire_hours", 24*30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "code-records")
	v.SetDefault("kafka.group_id", "kazakh-hub-indexer")
	v.SetDefault("elasticsearch.index_name", "code_records")
	v.SetDefault("storage.driver", "minio")
	v.SetDefault("records.max_content_bytes", 100*1024*1024)
	v.SetDefault("records.idempotency_ttl", 24*time.Hour)
	v.SetDefault("uploader.server_url", "http://127.0.0.1:3000")
	v.SetDefault("uploader.author", "guest")
	v.SetDefault("uploader.queue_path", "./data/uploads.db")
	v.SetDefault("uploader.batch_size", 10)
	v.SetDefault("uploader.max_retries", 3)
	v.SetDefault("uploader.base_delay", time.Second)
	v.SetDefault("uploader.request_timeout", 30*time.Second)
	v.SetDefault("uploader.poll_interval", 5*time.Second)
	v.SetDefault("uploader.log_file", "./data/uploader.log")
}

// Load 从指定路径读取 YAML 配置，返回解析后的 Config。
// 传入的 viper 实例允许调用方预先绑定命令行参数，为 nil 时新建一个。
func Load(v *viper.Viper, configPath string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)
	v.SetEnvPrefix("KHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	// configPath 为空时只使用默认值、环境变量和已绑定的命令行参数
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(viper.GetViper(), configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
