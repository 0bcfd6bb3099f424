package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/osvaldoandrade/felanmalan/internal/tracing"
)

type RateLimitWindowConfig struct {
	Limit         int `yaml:"limit"`
	WindowSeconds int `yaml:"windowSeconds"`
}

type RateLimitConfig struct {
	Errands RateLimitWindowConfig `yaml:"errands"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

type Config struct {
	Port           int      `yaml:"port"`
	Env            string   `yaml:"env"`
	LogLevel       string   `yaml:"logLevel"`
	LogFormat      string   `yaml:"logFormat"`
	BasePath       string   `yaml:"basePath"`
	AllowedOrigins []string `yaml:"allowedOrigins"`

	APIBaseURL             string `yaml:"apiBaseUrl"`
	TokenURL               string `yaml:"tokenUrl"`
	ClientKey              string `yaml:"clientKey"`
	ClientSecret           string `yaml:"clientSecret"`
	MunicipalityID         string `yaml:"municipalityId"`
	Namespace              string `yaml:"namespace"`
	SupportManagementAPI   string `yaml:"supportManagementApi"`
	AssistantAPI           string `yaml:"assistantApi"`
	AssistantID            string `yaml:"assistantId"`
	AssistantAPIKey        string `yaml:"assistantApiKey"`
	UpstreamTimeoutSeconds int    `yaml:"upstreamTimeoutSeconds"`
	SentBy                 string `yaml:"sentBy"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// LoadConfig reads filePath, then applies environment overrides and defaults.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

// LoadConfigOptional is LoadConfig for deployments configured only through the
// environment: an empty path or a missing file yields env + defaults.
func LoadConfigOptional(filePath string) (*Config, error) {
	if strings.TrimSpace(filePath) == "" {
		return fromEnv(), nil
	}
	c, err := LoadConfig(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return fromEnv(), nil
	}
	return c, err
}

func fromEnv() *Config {
	var c Config
	c.applyEnv()
	c.applyDefaults()
	return &c
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := firstEnv("ENV", "NODE_ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("BASE_URL_PREFIX"); v != "" {
		c.BasePath = v
	}
	if v := os.Getenv("ORIGIN"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("API_BASE_URL"); v != "" {
		c.APIBaseURL = v
	}
	if v := os.Getenv("TOKEN_URL"); v != "" {
		c.TokenURL = v
	}
	if v := os.Getenv("CLIENT_KEY"); v != "" {
		c.ClientKey = v
	}
	if v := os.Getenv("CLIENT_SECRET"); v != "" {
		c.ClientSecret = v
	}
	if v := os.Getenv("MUNICIPALITY_ID"); v != "" {
		c.MunicipalityID = v
	}
	if v := os.Getenv("NAMESPACE"); v != "" {
		c.Namespace = v
	}
	if v := os.Getenv("SUPPORT_MANAGEMENT_API"); v != "" {
		c.SupportManagementAPI = v
	}
	if v := os.Getenv("ASSISTANT_API"); v != "" {
		c.AssistantAPI = v
	}
	if v := os.Getenv("ENEO_ASSISTANT_ID"); v != "" {
		c.AssistantID = v
	}
	if v := os.Getenv("ENEO_API_KEY"); v != "" {
		c.AssistantAPIKey = v
	}
	if v := os.Getenv("UPSTREAM_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.UpstreamTimeoutSeconds = n
		}
	}
	if v := os.Getenv("SENT_BY"); v != "" {
		c.SentBy = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("OTEL_TRACES_ENABLED"); v != "" {
		c.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		c.Tracing.ServiceName = v
	}
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		c.Tracing.SampleRatio = tracing.ParseSampleRatio(v)
	}
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 3000
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.BasePath == "" {
		c.BasePath = "/api"
	}
	c.BasePath = "/" + strings.Trim(c.BasePath, "/")
	if c.TokenURL == "" && c.APIBaseURL != "" {
		c.TokenURL = strings.TrimRight(c.APIBaseURL, "/") + "/token"
	}
	if c.SupportManagementAPI == "" {
		c.SupportManagementAPI = "supportmanagement/12.4"
	}
	if c.AssistantAPI == "" {
		c.AssistantAPI = "eneo-sundsvall/1.1"
	}
	if c.UpstreamTimeoutSeconds <= 0 {
		c.UpstreamTimeoutSeconds = 30
	}
	if c.SentBy == "" {
		c.SentBy = "felanmalan-app"
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.RateLimit.Errands.Limit <= 0 {
		c.RateLimit.Errands.Limit = 10
	}
	if c.RateLimit.Errands.WindowSeconds <= 0 {
		c.RateLimit.Errands.WindowSeconds = 15 * 60
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "felanmalan"
	}
	if c.AssistantID == "" || c.AssistantAPIKey == "" {
		log.Println("Warning: ENEO_ASSISTANT_ID or ENEO_API_KEY not set, AI classification disabled")
	}
}

// ClassificationEnabled reports whether the assistant is configured.
func (c *Config) ClassificationEnabled() bool {
	return strings.TrimSpace(c.AssistantID) != "" && strings.TrimSpace(c.AssistantAPIKey) != ""
}

// ErrandBasePath is the upstream path of the errand collection.
func (c *Config) ErrandBasePath() string {
	return c.MunicipalityID + "/" + c.Namespace + "/errands"
}

func (c *Config) Validate() error {
	var errs []string
	env := strings.ToLower(strings.TrimSpace(c.Env))
	dev := env == "dev" || env == "development"

	if c.APIBaseURL == "" {
		if !dev {
			errs = append(errs, "apiBaseUrl is required in non-dev")
		}
	} else if !validHTTPURL(c.APIBaseURL) {
		errs = append(errs, "apiBaseUrl must be a valid http(s) URL")
	}
	if c.TokenURL != "" && !validHTTPURL(c.TokenURL) {
		errs = append(errs, "tokenUrl must be a valid http(s) URL")
	}
	if strings.TrimSpace(c.MunicipalityID) == "" {
		errs = append(errs, "municipalityId is required")
	}
	if strings.TrimSpace(c.Namespace) == "" {
		errs = append(errs, "namespace is required")
	}
	if !dev && (strings.TrimSpace(c.ClientKey) == "" || strings.TrimSpace(c.ClientSecret) == "") {
		errs = append(errs, "clientKey and clientSecret are required in non-dev")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, "logFormat must be json or text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IsDev reports whether the service runs in a development environment.
func (c *Config) IsDev() bool {
	env := strings.ToLower(strings.TrimSpace(c.Env))
	return env == "dev" || env == "development"
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	return v == "true" || v == "1" || v == "yes" || v == "y" || v == "on"
}
