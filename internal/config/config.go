package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every runtime setting of the chat backend.
type Config struct {
	Server     ServerConfig
	AI         AIConfig
	Redis      RedisConfig
	Database   DatabaseConfig
	Chat       ChatConfig
	Escalation EscalationConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	chatCfg, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:     server,
		AI:         ai,
		Redis:      loadRedisConfig(),
		Database:   loadDatabaseConfig(),
		Chat:       chatCfg,
		Escalation: loadEscalationConfig(),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the completion backend.
type AIConfig struct {
	APIKey        string
	AccessKey     string
	SecretKey     string
	Model         string
	BaseURL       string
	Region        string
	Temperature   *float64
	TopP          *float64
	MaxTokens     *int
	Timeout       time.Duration
	SystemPrompt  string
	FallbackReply string
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds a model instance from this configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("model credentials missing: set ARK_API_KEY + Model or the AK/SK pair")
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

const defaultSystemPrompt = "Você é o assistente virtual do JobFinder. Ajude " +
	"candidatos e empresas com dúvidas sobre vagas, candidaturas, planos e uso " +
	"da plataforma. Responda em português, de forma curta e objetiva. Quando " +
	"não souber a resposta, sugira falar com o suporte."

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseDurationEnv("AI_TIMEOUT", 30*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:        strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:     strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:     strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:         strings.TrimSpace(os.Getenv("Model")),
		BaseURL:       getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:        getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:   temperature,
		TopP:          topP,
		MaxTokens:     maxTokens,
		Timeout:       timeout,
		SystemPrompt:  getEnvOrDefault("AI_SYSTEM_PROMPT", defaultSystemPrompt),
		FallbackReply: strings.TrimSpace(os.Getenv("AI_FALLBACK_REPLY")),
	}, nil
}

// RedisConfig describes the shared low-latency store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func loadRedisConfig() RedisConfig {
	db := 0
	if parsed, err := parseOptionalIntEnv("REDIS_DB"); err == nil && parsed != nil {
		db = *parsed
	}
	return RedisConfig{
		Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		Password: strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
		DB:       db,
	}
}

// DatabaseConfig describes the durable store. An empty DSN keeps the server
// on the in-memory store, which is only meant for local development.
type DatabaseConfig struct {
	DSN string
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{DSN: strings.TrimSpace(os.Getenv("DATABASE_DSN"))}
}

// ChatConfig bounds the realtime pipeline.
type ChatConfig struct {
	AllowedOrigins    []string
	MaxFrameBytes     int64
	MinContentLen     int
	MaxContentLen     int
	MaxContextBytes   int
	MaxFeedbackLen    int
	MaxContextDepth   int
	RateWindow        time.Duration
	RateMessages      int
	RateBurst         int
	MaxConnsPerUser   int
	MaxConnsPerOrigin int
	SessionIdleWindow time.Duration
	SessionCacheTTL   time.Duration
	ResponseCacheTTL  time.Duration
	HistoryLimit      int
	ConnIdleTimeout   time.Duration
	PingInterval      time.Duration
}

func loadChatConfig() (ChatConfig, error) {
	cfg := ChatConfig{
		AllowedOrigins:    splitCSVEnv("CHAT_ALLOWED_ORIGINS"),
		MaxFrameBytes:     64 * 1024,
		MinContentLen:     1,
		MaxContentLen:     2000,
		MaxContextBytes:   10 * 1024,
		MaxFeedbackLen:    1000,
		MaxContextDepth:   5,
		RateWindow:        time.Minute,
		RateMessages:      10,
		RateBurst:         3,
		MaxConnsPerUser:   5,
		MaxConnsPerOrigin: 10,
		SessionIdleWindow: 24 * time.Hour,
		SessionCacheTTL:   5 * time.Minute,
		ResponseCacheTTL:  time.Hour,
		HistoryLimit:      50,
		ConnIdleTimeout:   10 * time.Minute,
		PingInterval:      30 * time.Second,
	}

	overrides := []struct {
		env    string
		target *int
	}{
		{"CHAT_MAX_CONTENT_LEN", &cfg.MaxContentLen},
		{"CHAT_MAX_FEEDBACK_LEN", &cfg.MaxFeedbackLen},
		{"CHAT_RATE_MESSAGES", &cfg.RateMessages},
		{"CHAT_RATE_BURST", &cfg.RateBurst},
		{"CHAT_MAX_CONNS_PER_USER", &cfg.MaxConnsPerUser},
		{"CHAT_MAX_CONNS_PER_ORIGIN", &cfg.MaxConnsPerOrigin},
		{"CHAT_HISTORY_LIMIT", &cfg.HistoryLimit},
	}
	for _, o := range overrides {
		parsed, err := parseOptionalIntEnv(o.env)
		if err != nil {
			return ChatConfig{}, err
		}
		if parsed != nil {
			*o.target = *parsed
		}
	}

	durations := []struct {
		env    string
		target *time.Duration
	}{
		{"CHAT_RATE_WINDOW", &cfg.RateWindow},
		{"CHAT_SESSION_IDLE_WINDOW", &cfg.SessionIdleWindow},
		{"CHAT_SESSION_CACHE_TTL", &cfg.SessionCacheTTL},
		{"CHAT_RESPONSE_CACHE_TTL", &cfg.ResponseCacheTTL},
		{"CHAT_CONN_IDLE_TIMEOUT", &cfg.ConnIdleTimeout},
		{"CHAT_PING_INTERVAL", &cfg.PingInterval},
	}
	for _, d := range durations {
		parsed, err := parseDurationEnv(d.env, *d.target)
		if err != nil {
			return ChatConfig{}, err
		}
		*d.target = parsed
	}

	if frame, err := parseOptionalIntEnv("CHAT_MAX_FRAME_BYTES"); err != nil {
		return ChatConfig{}, err
	} else if frame != nil {
		cfg.MaxFrameBytes = int64(*frame)
	}

	return cfg, nil
}

// EscalationConfig is the canned payload shown when a conversation is
// handed off to human support. Wording is policy, therefore configuration.
type EscalationConfig struct {
	Message     string
	Actions     []string
	ContactInfo map[string]string
}

func loadEscalationConfig() EscalationConfig {
	message := getEnvOrDefault("ESCALATION_MESSAGE",
		"Entendi que você prefere falar com uma pessoa. Nossa equipe de "+
			"suporte está pronta para ajudar pelos canais abaixo.")

	actions := splitCSVEnv("ESCALATION_ACTIONS")
	if len(actions) == 0 {
		actions = []string{
			"Enviar e-mail para o suporte",
			"Abrir chamado na central de ajuda",
			"Continuar conversando com o assistente",
		}
	}

	return EscalationConfig{
		Message: message,
		Actions: actions,
		ContactInfo: map[string]string{
			"email":    getEnvOrDefault("ESCALATION_CONTACT_EMAIL", "suporte@jobfinder.com.br"),
			"whatsapp": getEnvOrDefault("ESCALATION_CONTACT_WHATSAPP", "+55 11 99999-0000"),
			"horario":  getEnvOrDefault("ESCALATION_CONTACT_HOURS", "seg-sex, 9h às 18h"),
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitCSVEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
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
