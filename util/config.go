package util

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/deemkeen/socialdistro/domain"
	"gopkg.in/yaml.v3"
)

const Name = "socialdistro"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host          string
		HttpPort      int    `yaml:"httpPort"`
		NodeUrl       string `yaml:"nodeUrl"`
		Database      string `yaml:"database"`
		LogLevel      string `yaml:"logLevel"`
		RedisAddr     string `yaml:"redisAddr"`
		RedisPassword string `yaml:"redisPassword"`
	}
	Federation struct {
		Workers        int `yaml:"workers"`
		TimeoutSeconds int `yaml:"timeoutSeconds"`
		MaxAttempts    int `yaml:"maxAttempts"`
		BackoffSeconds int `yaml:"backoffSeconds"`
		PollSeconds    int `yaml:"pollSeconds"`
	}
	Github struct {
		ApiUrl      string `yaml:"apiUrl"`
		PollMinutes int    `yaml:"pollMinutes"`
	}
}

// ReadConf layers the embedded defaults, an optional config.yaml and
// SOCIALDISTRO_* environment variables, in that order.
func ReadConf() (*AppConfig, error) {
	c := &AppConfig{}
	if err := yaml.Unmarshal(embeddedConfig, c); err != nil {
		return nil, fmt.Errorf("in embedded config: %w", err)
	}

	configPath := ResolveFilePath(ConfigFileName)
	buf, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(buf, c); err != nil {
			return nil, fmt.Errorf("in config file %s: %w", configPath, err)
		}
	case os.IsNotExist(err):
		writeDefaultConfig(configPath)
	default:
		return nil, err
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.Conf.NodeUrl = domain.NormalizeHost(c.Conf.NodeUrl)
	return c, nil
}

func writeDefaultConfig(path string) {
	if err := os.WriteFile(path, embeddedConfig, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "could not write default config to %s: %v\n", path, err)
	}
}

func (c *AppConfig) applyEnv() error {
	strs := map[string]*string{
		"SOCIALDISTRO_HOST":           &c.Conf.Host,
		"SOCIALDISTRO_NODE_URL":       &c.Conf.NodeUrl,
		"SOCIALDISTRO_DATABASE":       &c.Conf.Database,
		"SOCIALDISTRO_LOG_LEVEL":      &c.Conf.LogLevel,
		"SOCIALDISTRO_REDIS_ADDR":     &c.Conf.RedisAddr,
		"SOCIALDISTRO_REDIS_PASSWORD": &c.Conf.RedisPassword,
		"SOCIALDISTRO_GITHUB_API_URL": &c.Github.ApiUrl,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SOCIALDISTRO_HTTPPORT":            &c.Conf.HttpPort,
		"SOCIALDISTRO_WORKERS":             &c.Federation.Workers,
		"SOCIALDISTRO_TIMEOUT_SECONDS":     &c.Federation.TimeoutSeconds,
		"SOCIALDISTRO_MAX_ATTEMPTS":        &c.Federation.MaxAttempts,
		"SOCIALDISTRO_BACKOFF_SECONDS":     &c.Federation.BackoffSeconds,
		"SOCIALDISTRO_POLL_SECONDS":        &c.Federation.PollSeconds,
		"SOCIALDISTRO_GITHUB_POLL_MINUTES": &c.Github.PollMinutes,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

func (c *AppConfig) Timeout() time.Duration {
	return time.Duration(c.Federation.TimeoutSeconds) * time.Second
}

func (c *AppConfig) Backoff() time.Duration {
	return time.Duration(c.Federation.BackoffSeconds) * time.Second
}

func (c *AppConfig) Poll() time.Duration {
	return time.Duration(c.Federation.PollSeconds) * time.Second
}

// GithubPoll is zero when the GitHub activity import is off.
func (c *AppConfig) GithubPoll() time.Duration {
	return time.Duration(c.Github.PollMinutes) * time.Minute
}
