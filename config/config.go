package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	RabbitMQ   RabbitMQConfig   `json:"rabbitmq"`
	JWT        JWTConfig        `json:"jwt"`
	Controller ControllerConfig `json:"controller"`
	Sessions   SessionConfig    `json:"sessions"`
	Location   LocationConfig   `json:"location"`
	Outbox     OutboxConfig     `json:"outbox"`
}

type ServerConfig struct {
	Port string `json:"port"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Password, d.DBName)
}

type RabbitMQConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type JWTConfig struct {
	Secret string `json:"secret"`
}

type ControllerConfig struct {
	CountdownTicks  int      `json:"countdown_ticks"`
	TickInterval    Duration `json:"tick_interval"`
	SubmitTimeout   Duration `json:"submit_timeout"`
	LocationTimeout Duration `json:"location_timeout"`
	SOSActiveWindow Duration `json:"sos_active_window"`
}

type SessionConfig struct {
	IdleTTL       Duration `json:"idle_ttl"`
	EvictInterval Duration `json:"evict_interval"`
}

type LocationConfig struct {
	MaxFixAge Duration `json:"max_fix_age"`
}

type OutboxConfig struct {
	Interval  Duration `json:"interval"`
	BatchSize int      `json:"batch_size"`
	Retention Duration `json:"retention"`
}

// Duration reads either a Go duration string ("1500ms") or a number of seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{Host: "localhost", Port: "5432", User: "sos", Password: "sos", DBName: "sos"},
		RabbitMQ: RabbitMQConfig{Host: "localhost", Port: "5672", User: "guest", Password: "guest"},
		Controller: ControllerConfig{
			CountdownTicks:  5,
			TickInterval:    Duration{time.Second},
			SubmitTimeout:   Duration{15 * time.Second},
			LocationTimeout: Duration{5 * time.Second},
			SOSActiveWindow: Duration{30 * time.Second},
		},
		Sessions: SessionConfig{
			IdleTTL:       Duration{30 * time.Minute},
			EvictInterval: Duration{5 * time.Minute},
		},
		Location: LocationConfig{MaxFixAge: Duration{2 * time.Minute}},
		Outbox: OutboxConfig{
			Interval:  Duration{time.Second},
			BatchSize: 50,
			Retention: Duration{24 * time.Hour},
		},
	}
}

// LoadConfig reads the JSON file at path on top of the defaults, then applies
// environment overrides. A .env file next to the binary is loaded if present.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, err
	}

	// .env is optional
	_ = godotenv.Load()
	config.applyEnv()

	return config, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnv("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("DB_NAME", c.Database.DBName)

	c.RabbitMQ.Host = getEnv("RABBITMQ_HOST", c.RabbitMQ.Host)
	c.RabbitMQ.Port = getEnv("RABBITMQ_PORT", c.RabbitMQ.Port)
	c.RabbitMQ.User = getEnv("RABBITMQ_USER", c.RabbitMQ.User)
	c.RabbitMQ.Password = getEnv("RABBITMQ_PASSWORD", c.RabbitMQ.Password)

	c.JWT.Secret = getEnv("JWT_SECRET", c.JWT.Secret)

	c.Controller.CountdownTicks = getEnvInt("SOS_COUNTDOWN_TICKS", c.Controller.CountdownTicks)
	c.Controller.SubmitTimeout.Duration = getEnvDuration("SOS_SUBMIT_TIMEOUT", c.Controller.SubmitTimeout.Duration)
}

func getEnv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return def
}
