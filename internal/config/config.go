package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete control-plane configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	MongoDB   MongoDBConfig   `yaml:"mongodb"`
	Log       LogConfig       `yaml:"log"`
	System    SystemConfig    `yaml:"system"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Dedup     DedupConfig     `yaml:"dedup"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `yaml:"address" env:"SS_SERVER_ADDRESS"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SS_SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SS_SERVER_WRITE_TIMEOUT"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host     string `yaml:"host" env:"SS_REDIS_HOST"`
	Port     int    `yaml:"port" env:"SS_REDIS_PORT"`
	Password string `yaml:"password" env:"SS_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"SS_REDIS_DB"`
}

// MongoDBConfig MongoDB 配置
type MongoDBConfig struct {
	URI      string        `yaml:"uri" env:"SS_MONGODB_URI"`
	Database string        `yaml:"database" env:"SS_MONGODB_DATABASE"`
	Timeout  time.Duration `yaml:"timeout" env:"SS_MONGODB_TIMEOUT"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" env:"SS_LOG_LEVEL"`
	Format     string `yaml:"format" env:"SS_LOG_FORMAT"`
	Output     string `yaml:"output" env:"SS_LOG_OUTPUT"`
	FilePath   string `yaml:"file_path" env:"SS_LOG_FILE_PATH"`
	MaxSize    int    `yaml:"max_size" env:"SS_LOG_MAX_SIZE"`
	MaxBackups int    `yaml:"max_backups" env:"SS_LOG_MAX_BACKUPS"`
	MaxAge     int    `yaml:"max_age" env:"SS_LOG_MAX_AGE"`
}

// SystemConfig holds node liveness and time formatting settings.
type SystemConfig struct {
	Timezone    string        `yaml:"timezone" env:"SS_TIMEZONE"`
	NodeTimeout time.Duration `yaml:"node_timeout" env:"SS_NODE_TIMEOUT"`
	TotalLogs   int64         `yaml:"total_logs" env:"SS_TOTAL_LOGS"`
}

// SchedulerConfig holds background job settings.
type SchedulerConfig struct {
	ProgressInterval time.Duration `yaml:"progress_interval" env:"SS_SCHEDULER_PROGRESS_INTERVAL"`
}

// DedupConfig holds deduplication engine settings.
type DedupConfig struct {
	Workers int `yaml:"workers" env:"SS_DEDUP_WORKERS"`
}

// Location resolves the configured timezone, falling back to UTC.
func (c SystemConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8082",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			Host: "127.0.0.1",
			Port: 6379,
		},
		MongoDB: MongoDBConfig{
			URI:      "mongodb://127.0.0.1:27017",
			Database: "ScopeSentry",
			Timeout:  10 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     30,
		},
		System: SystemConfig{
			Timezone:    "Asia/Shanghai",
			NodeTimeout: 50 * time.Second,
			TotalLogs:   1000,
		},
		Scheduler: SchedulerConfig{
			ProgressInterval: 5 * time.Second,
		},
		Dedup: DedupConfig{
			Workers: 4,
		},
	}
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
	cmdArgs    map[string]string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "SS_",
		cmdArgs:   make(map[string]string),
	}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the prefix for environment variables. Only tags that
// start with the prefix are honoured.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithCmdArgs sets dot-notation overrides, e.g. "system.node_timeout" -> "60s".
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// Load loads configuration with precedence
// defaults < YAML file < environment variables < command-line flags.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("从文件加载配置失败: %w", err)
		}
	}

	if err := l.applyEnvToStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("应用环境变量覆盖失败: %w", err)
	}

	for key, value := range l.cmdArgs {
		if err := setConfigValue(cfg, key, value); err != nil {
			return nil, fmt.Errorf("设置配置值 %s 失败: %w", key, err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}
	return nil
}

func (l *Loader) applyEnvToStruct(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || !strings.HasPrefix(envTag, l.envPrefix) {
			continue
		}
		envValue, ok := os.LookupEnv(envTag)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("从环境变量 %s 设置字段 %s 失败: %w", envTag, fieldType.Name, err)
		}
	}
	return nil
}

// setConfigValue sets a value by its yaml dot path.
func setConfigValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		field, ok := fieldByYAMLName(v, part)
		if !ok {
			return fmt.Errorf("未知的配置路径: %s", path)
		}
		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}
		if field.Kind() != reflect.Struct {
			return fmt.Errorf("期望 %s 是结构体，实际是 %s", part, field.Kind())
		}
		v = field
	}
	return nil
}

func fieldByYAMLName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if tag == name || strings.EqualFold(t.Field(i).Name, name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("无法设置字段")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("无效的时间格式: %w", err)
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("无效的整数: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("无效的布尔值: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("不支持的字段类型: %s", field.Kind())
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file path.
func LoadFromFile(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}
