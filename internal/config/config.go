// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
// 所有键均可通过 ZHIWEN_ 前缀的环境变量覆盖（例如 ZHIWEN_EMBEDDING_MODEL）。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Docling       DoclingConfig       `mapstructure:"docling"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Rerank        RerankConfig        `mapstructure:"rerank"`
	RAG           RAGConfig           `mapstructure:"rag"`
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

// AuthConfig 存储身份认证相关的配置。
// Token 由外部身份服务签发，本服务只负责验证签名与有效期。
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
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

// DoclingConfig 存储版式感知文档转换服务的配置。
type DoclingConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	Model        string `mapstructure:"model"`
	SupportTools bool   `mapstructure:"support_tools"`
}

// RerankConfig 存储重排序服务的配置。APIKey 为空时表示未启用重排。
type RerankConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// Enabled 报告是否配置了重排序服务。
func (c RerankConfig) Enabled() bool {
	return c.APIKey != ""
}

// RAGConfig 集中存放检索增强生成的调优常量。
type RAGConfig struct {
	ChunkSize         int     `mapstructure:"chunk_size"`          // 滑动窗口大小（字符）
	ChunkOverlap      int     `mapstructure:"chunk_overlap"`       // 相邻窗口重叠（字符）
	EmbeddingBatch    int     `mapstructure:"embedding_batch"`     // 每次 Embedding 调用的文本数
	InsertBatch       int     `mapstructure:"insert_batch"`        // 分块入库的批大小
	KeyTermsBatch     int     `mapstructure:"key_terms_batch"`     // 每次关键词提取的分块数
	RerankTopN        int     `mapstructure:"rerank_top_n"`        // 重排后保留的候选数
	MatchCount        int     `mapstructure:"match_count"`         // 配置重排时的初始召回数
	SourceThreshold   float64 `mapstructure:"source_threshold"`    // 引用来源的最低得分
	SourceLimit       int     `mapstructure:"source_limit"`        // 引用来源的数量上限
	ExcerptLength     int     `mapstructure:"excerpt_length"`      // 引用摘录的最大字符数
	MaxToolRounds     int     `mapstructure:"max_tool_rounds"`     // 工具调用循环的轮次上限
	MetadataSampleLen int     `mapstructure:"metadata_sample_len"` // 文档元数据提取的采样长度
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// 环境变量优先于文件中的同名配置。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("ZHIWEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	applyRAGDefaults(&Conf.RAG)
}

// applyRAGDefaults 为未配置的 RAG 调优常量填充默认值。
func applyRAGDefaults(c *RAGConfig) {
	if c.ChunkSize == 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 200
	}
	if c.EmbeddingBatch == 0 {
		c.EmbeddingBatch = 100
	}
	if c.InsertBatch == 0 {
		c.InsertBatch = 50
	}
	if c.KeyTermsBatch == 0 {
		c.KeyTermsBatch = 5
	}
	if c.RerankTopN == 0 {
		c.RerankTopN = 5
	}
	if c.MatchCount == 0 {
		c.MatchCount = 20
	}
	if c.SourceThreshold == 0 {
		c.SourceThreshold = 0.3
	}
	if c.SourceLimit == 0 {
		c.SourceLimit = 3
	}
	if c.ExcerptLength == 0 {
		c.ExcerptLength = 200
	}
	if c.MaxToolRounds == 0 {
		c.MaxToolRounds = 3
	}
	if c.MetadataSampleLen == 0 {
		c.MetadataSampleLen = 2000
	}
}
