package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// 助手传输模式。
const (
	AssistantModeHTTP  = "http"
	AssistantModeModel = "model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	API       APIConfig
	Assistant AssistantConfig
	Resolver  ResolverConfig
	Log       LogConfig
}

// Load 从环境变量加载配置；CONFIG_FILE 指向的 TOML 文件只补充环境变量未设置的值。
func Load() (*Config, error) {
	file, err := loadFile(strings.TrimSpace(os.Getenv("CONFIG_FILE")))
	if err != nil {
		return nil, err
	}

	server, err := loadServerConfig(file.Server)
	if err != nil {
		return nil, err
	}

	api, err := loadAPIConfig(file.API)
	if err != nil {
		return nil, err
	}

	assistant, err := loadAssistantConfig(file.Assistant)
	if err != nil {
		return nil, err
	}

	resolver, err := loadResolverConfig(file.Resolver)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		API:       api,
		Assistant: assistant,
		Resolver:  resolver,
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", orDefault(file.Log.Level, "info")),
			Format: getEnvOrDefault("LOG_FORMAT", orDefault(file.Log.Format, "text")),
		},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig(file fileServer) (ServerConfig, error) {
	port := getEnvOrDefault("PORT", orDefault(file.Port, "8080"))

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// APIConfig 描述商城后端与助手后端地址。
type APIConfig struct {
	StorefrontURL string
	AssistantURL  string
	Token         string
}

func loadAPIConfig(file fileAPI) (APIConfig, error) {
	storefront := strings.TrimRight(getEnvOrDefault("STOREFRONT_API_URL", orDefault(file.StorefrontURL, "http://localhost:5000/api")), "/")
	if !strings.HasPrefix(storefront, "http://") && !strings.HasPrefix(storefront, "https://") {
		return APIConfig{}, fmt.Errorf("invalid STOREFRONT_API_URL value: %q", storefront)
	}

	// 助手接口默认与商城 API 同源。
	assistant := strings.TrimRight(getEnvOrDefault("ASSISTANT_API_URL", orDefault(file.AssistantURL, storefront)), "/")

	return APIConfig{
		StorefrontURL: storefront,
		AssistantURL:  assistant,
		Token:         getEnvOrDefault("API_TOKEN", file.Token),
	}, nil
}

// AssistantConfig 选择助手传输方式。
type AssistantConfig struct {
	Mode string
	AI   AIConfig
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAssistantConfig(file fileAssistant) (AssistantConfig, error) {
	mode := strings.ToLower(getEnvOrDefault("ASSISTANT_MODE", orDefault(file.Mode, AssistantModeHTTP)))
	if mode != AssistantModeHTTP && mode != AssistantModeModel {
		return AssistantConfig{}, fmt.Errorf("invalid ASSISTANT_MODE value %q", mode)
	}

	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AssistantConfig{}, err
	}
	if temperature == nil {
		temperature = file.Temperature
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AssistantConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AssistantConfig{}, err
	}
	if maxTokens == nil {
		maxTokens = file.MaxTokens
	}

	ai := AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       getEnvOrDefault("Model", file.Model),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}
	if mode == AssistantModeModel && !ai.Enabled() {
		return AssistantConfig{}, fmt.Errorf("ASSISTANT_MODE=model requires ARK_API_KEY (or ARK_ACCESS_KEY/ARK_SECRET_KEY) and Model")
	}

	return AssistantConfig{Mode: mode, AI: ai}, nil
}

// ResolverConfig 控制商品解析的并发与缓存。
type ResolverConfig struct {
	Concurrency int
	MemoSize    int
}

func loadResolverConfig(file fileResolver) (ResolverConfig, error) {
	concurrency, err := parsePositiveIntEnv("RESOLVER_CONCURRENCY", orDefaultInt(file.Concurrency, 8))
	if err != nil {
		return ResolverConfig{}, err
	}
	memo, err := parsePositiveIntEnv("RESOLVER_MEMO_SIZE", orDefaultInt(file.MemoSize, 256))
	if err != nil {
		return ResolverConfig{}, err
	}
	return ResolverConfig{Concurrency: concurrency, MemoSize: memo}, nil
}

// LogConfig 描述日志级别与格式（text 或 json）。
type LogConfig struct {
	Level  string
	Format string
}

// fileConfig 对应 CONFIG_FILE 的 TOML 结构。密钥只从环境变量读取。
type fileConfig struct {
	Server    fileServer    `toml:"server"`
	API       fileAPI       `toml:"api"`
	Assistant fileAssistant `toml:"assistant"`
	Resolver  fileResolver  `toml:"resolver"`
	Log       fileLog       `toml:"log"`
}

type fileServer struct {
	Port string `toml:"port"`
}

type fileAPI struct {
	StorefrontURL string `toml:"storefront_url"`
	AssistantURL  string `toml:"assistant_url"`
	Token         string `toml:"token"`
}

type fileAssistant struct {
	Mode        string   `toml:"mode"`
	Model       string   `toml:"model"`
	Temperature *float64 `toml:"temperature"`
	MaxTokens   *int     `toml:"max_tokens"`
}

type fileResolver struct {
	Concurrency int `toml:"concurrency"`
	MemoSize    int `toml:"memo_size"`
}

type fileLog struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

func loadFile(path string) (fileConfig, error) {
	var file fileConfig
	if path == "" {
		return file, nil
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return fileConfig{}, fmt.Errorf("read CONFIG_FILE %s: %w", path, err)
	}
	return file, nil
}

func orDefault(value, defaultValue string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return defaultValue
}

func orDefaultInt(value, defaultValue int) int {
	if value > 0 {
		return value
	}
	return defaultValue
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parsePositiveIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	if *val < 1 {
		return 0, fmt.Errorf("invalid %s value %d: must be positive", key, *val)
	}
	return *val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
