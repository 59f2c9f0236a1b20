// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Features  FeaturesConfig  `mapstructure:"features"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// RedisConfig 存储 Redis 的配置。Addr 为空时会话存储使用进程内内存实现。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空时禁用对话事件上报。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// 缺失凭证时的启动策略。
const (
	MissingKeyFatal = "fatal" // 拒绝启动
	MissingKeyDemo  = "demo"  // 进入演示模式，永不调用远端 API
)

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey           string              `mapstructure:"api_key"`
	BaseURL          string              `mapstructure:"base_url"`
	Model            string              `mapstructure:"model"`
	MissingKeyPolicy string              `mapstructure:"missing_key_policy"`
	Generation       LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（零值表示使用默认值）。
type LLMGenerationConfig struct {
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	TopK        int     `mapstructure:"top_k"`
}

// ChatConfig 配置会话生命周期与流式分发行为。
type ChatConfig struct {
	SessionTimeoutMinutes int    `mapstructure:"session_timeout_minutes"`
	SweepIntervalMinutes  int    `mapstructure:"sweep_interval_minutes"`
	HistoryLimit          int    `mapstructure:"history_limit"`
	StreamIntervalMs      int    `mapstructure:"stream_interval_ms"`
	FallbackMessage       string `mapstructure:"fallback_message"`
}

// KnowledgeConfig 配置静态知识库文件路径，为空时使用内置条目。
type KnowledgeConfig struct {
	Path string `mapstructure:"path"`
}

// FeaturesConfig 前后端共享的功能开关。
type FeaturesConfig struct {
	Streaming  bool `mapstructure:"streaming"`
	RAG        bool `mapstructure:"rag"`
	Markdown   bool `mapstructure:"markdown"`
	FileUpload bool `mapstructure:"file_upload"`
	Debug      bool `mapstructure:"debug"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// 环境变量 ZEROTRACE_LLM_API_KEY 优先于配置文件中的凭证。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("llm.missing_key_policy", MissingKeyFatal)
	viper.SetDefault("chat.session_timeout_minutes", 30)
	viper.SetDefault("chat.sweep_interval_minutes", 5)
	viper.SetDefault("chat.history_limit", 20)
	viper.SetDefault("chat.stream_interval_ms", 100)

	_ = viper.BindEnv("llm.api_key", "ZEROTRACE_LLM_API_KEY")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}
