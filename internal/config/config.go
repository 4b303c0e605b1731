package config

// Config is the main retain configuration.
type Config struct {
	// DataDir is the base directory for databases and logs.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Anthropic AnthropicConfig `json:"anthropic" mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `json:"openai" mapstructure:"openai"`
	Sessions  SessionsConfig  `json:"sessions" mapstructure:"sessions"`
	Skills    SkillsConfig    `json:"skills" mapstructure:"skills"`
	Nudges    NudgesConfig    `json:"nudges" mapstructure:"nudges"`
	Gateway   GatewayConfig   `json:"gateway" mapstructure:"gateway"`
	Webhook   WebhookConfig   `json:"webhook" mapstructure:"webhook"`
	Tools     ToolsConfig     `json:"tools" mapstructure:"tools"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`

	// BaseContext is the first system prompt layer for every session.
	BaseContext string `json:"base_context" mapstructure:"base_context"`
}

// AnthropicConfig holds reasoning backend settings.
type AnthropicConfig struct {
	APIKey string `json:"api_key" mapstructure:"api_key"`
	Model  string `json:"model" mapstructure:"model"`
}

// OpenAIConfig holds embedding backend settings.
type OpenAIConfig struct {
	APIKey         string `json:"api_key" mapstructure:"api_key"`
	EmbeddingModel string `json:"embedding_model" mapstructure:"embedding_model"`
}

// SessionsConfig holds session runtime defaults.
type SessionsConfig struct {
	DBPath string `json:"db_path" mapstructure:"db_path"`
	// Mode is the default autonomy mode: full_auto, semi_auto, turn_based.
	Mode        string `json:"mode" mapstructure:"mode"`
	MaxTurns    int    `json:"max_turns" mapstructure:"max_turns"`
	BudgetCents int64  `json:"budget_cents" mapstructure:"budget_cents"`
}

// SkillsConfig holds skill library settings.
type SkillsConfig struct {
	Dir    string `json:"dir" mapstructure:"dir"`
	DBPath string `json:"db_path" mapstructure:"db_path"`
	Watch  bool   `json:"watch" mapstructure:"watch"`
	Max    int    `json:"max" mapstructure:"max"`
}

// NudgesConfig holds reminder dispatcher settings.
type NudgesConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Schedule string `json:"schedule" mapstructure:"schedule"`
	// BackoffHours is the reminder delay sequence; its length bounds the
	// number of reminders per wait.
	BackoffHours []int `json:"backoff_hours" mapstructure:"backoff_hours"`
}

// GatewayConfig holds websocket gateway settings.
type GatewayConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
	Token   string `json:"token" mapstructure:"token"`
}

// WebhookConfig holds inbound reply endpoint settings.
type WebhookConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
	// Secret enables HMAC verification of provider callbacks.
	Secret             string `json:"secret" mapstructure:"secret"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
}

// ToolsConfig holds tool behavior settings.
type ToolsConfig struct {
	// AutoDiscountLimitCents is the largest discount that runs without
	// owner approval.
	AutoDiscountLimitCents int64 `json:"auto_discount_limit_cents" mapstructure:"auto_discount_limit_cents"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-20250514",
		},
		OpenAI: OpenAIConfig{
			EmbeddingModel: "text-embedding-3-small",
		},
		Sessions: SessionsConfig{
			Mode:        "semi_auto",
			MaxTurns:    20,
			BudgetCents: 500,
		},
		Skills: SkillsConfig{
			Watch: true,
			Max:   3,
		},
		Nudges: NudgesConfig{
			Enabled:      true,
			Schedule:     "@every 1m",
			BackoffHours: []int{24, 72, 168},
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8787,
		},
		Webhook: WebhookConfig{
			Host:               "127.0.0.1",
			Port:               8788,
			RateLimitPerMinute: 60,
		},
		Tools: ToolsConfig{
			AutoDiscountLimitCents: 2000,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
		BaseContext: "You are a retention assistant for a gym. You work on behalf of the " +
			"gym owner to keep members engaged and win back those about to leave.",
	}
}
