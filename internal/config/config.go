package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации fogd.
// Все значения фиксируются при старте; менять их на лету нельзя.
type Config struct {
	Fog        FogConfig        `yaml:"fog"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	EventBus   EventBusConfig   `yaml:"eventbus"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	Terrain    TerrainConfig    `yaml:"terrain"`
	Simulation SimulationConfig `yaml:"simulation"`
}

// FogConfig параметры сетки видимости
type FogConfig struct {
	WorldSize           float64 `yaml:"world_size"`
	GridSize            float64 `yaml:"grid_size"`
	MaxUnitsPerCycle    int     `yaml:"max_units_per_cycle"`
	Workers             int     `yaml:"workers"`
	TextureRowsPerBatch int     `yaml:"texture_rows_per_batch"`
	TickMillis          int     `yaml:"tick_ms"`
	// StrictInvariants превращает уход счётчика ниже нуля в фатальную ошибку.
	// В релизе false: счётчик зажимается в ноль, событие считается в метриках.
	StrictInvariants bool `yaml:"strict_invariants"`
}

// Bounds возвращает сторону квадратной сетки в ячейках
func (f FogConfig) Bounds() int {
	if f.GridSize <= 0 {
		return 0
	}
	return int(f.WorldSize / f.GridSize)
}

type ServerConfig struct {
	RESTPort       int    `yaml:"rest_port"`
	MetricsPort    int    `yaml:"metrics_port"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	ServiceName    string `yaml:"service_name"`
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "FOG_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "FOG_METRICS_PORT", 2112)
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

type EventBusConfig struct {
	// При пустом URL используется in-memory шина
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Buffer    int    `yaml:"buffer"`
}

type StorageConfig struct {
	// При пустом DataPath маска не кэшируется в BadgerDB
	DataPath string `yaml:"data_path"`
	MaskKey  string `yaml:"mask_key"`
}

type RedisConfig struct {
	// При пустом Addr публикация кадров в Redis отключена
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	KeyPrefix  string `yaml:"key_prefix"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type TerrainConfig struct {
	Seed      int64   `yaml:"seed"`
	Alpha     float64 `yaml:"alpha"`
	Beta      float64 `yaml:"beta"`
	Octaves   int32   `yaml:"octaves"`
	Scale     float64 `yaml:"scale"`
	Threshold float64 `yaml:"threshold"`
}

type SimulationConfig struct {
	Units     int     `yaml:"units"`
	MinRadius int     `yaml:"min_radius"`
	MaxRadius int     `yaml:"max_radius"`
	Speed     float64 `yaml:"speed"`
	Seed      int64   `yaml:"seed"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults заполняет незаданные поля значениями по умолчанию
func (c *Config) ApplyDefaults() {
	if c.Fog.WorldSize <= 0 {
		c.Fog.WorldSize = 1024
	}
	if c.Fog.GridSize <= 0 {
		c.Fog.GridSize = 4
	}
	if c.Fog.MaxUnitsPerCycle <= 0 {
		c.Fog.MaxUnitsPerCycle = 512
	}
	if c.Fog.Workers <= 0 {
		c.Fog.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Fog.TextureRowsPerBatch <= 0 {
		c.Fog.TextureRowsPerBatch = 16
	}
	if c.Fog.TickMillis <= 0 {
		c.Fog.TickMillis = 100
	}
	if c.Server.ServiceName == "" {
		c.Server.ServiceName = "fogd"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.EventBus.Stream == "" {
		c.EventBus.Stream = "FOG"
	}
	if c.EventBus.Retention <= 0 {
		c.EventBus.Retention = 1
	}
	if c.EventBus.Buffer <= 0 {
		c.EventBus.Buffer = 64
	}
	if c.Storage.MaskKey == "" {
		c.Storage.MaskKey = "default"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "fog:"
	}
	if c.Redis.TTLSeconds <= 0 {
		c.Redis.TTLSeconds = 60
	}
	if c.Terrain.Alpha == 0 {
		c.Terrain.Alpha = 2.0
	}
	if c.Terrain.Beta == 0 {
		c.Terrain.Beta = 2.0
	}
	if c.Terrain.Octaves == 0 {
		c.Terrain.Octaves = 3
	}
	if c.Terrain.Scale == 0 {
		c.Terrain.Scale = 0.05
	}
	if c.Terrain.Threshold == 0 {
		c.Terrain.Threshold = 0.62
	}
	if c.Simulation.Units <= 0 {
		c.Simulation.Units = 200
	}
	if c.Simulation.MinRadius <= 0 {
		c.Simulation.MinRadius = 5
	}
	if c.Simulation.MaxRadius < c.Simulation.MinRadius {
		c.Simulation.MaxRadius = 20
	}
	if c.Simulation.Speed <= 0 {
		c.Simulation.Speed = 6
	}
}

// Validate проверяет согласованность параметров
func (c *Config) Validate() error {
	var errs []error
	if c.Fog.GridSize <= 0 {
		errs = append(errs, fmt.Errorf("fog.grid_size должен быть > 0, получено %v", c.Fog.GridSize))
	}
	if c.Fog.Bounds() <= 0 {
		errs = append(errs, fmt.Errorf("fog.world_size (%v) меньше fog.grid_size (%v)", c.Fog.WorldSize, c.Fog.GridSize))
	}
	if c.Fog.MaxUnitsPerCycle <= 0 {
		errs = append(errs, errors.New("fog.max_units_per_cycle должен быть > 0"))
	}
	if c.Fog.Workers <= 0 {
		errs = append(errs, errors.New("fog.workers должен быть > 0"))
	}
	if c.Terrain.Threshold < 0 || c.Terrain.Threshold > 1 {
		errs = append(errs, fmt.Errorf("terrain.threshold вне диапазона [0,1]: %v", c.Terrain.Threshold))
	}
	if c.Simulation.MinRadius > c.Simulation.MaxRadius {
		errs = append(errs, fmt.Errorf("simulation.min_radius (%d) > max_radius (%d)", c.Simulation.MinRadius, c.Simulation.MaxRadius))
	}
	return errors.Join(errs...)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV FOG_CONFIG; если и он пуст —
// возвращает конфигурацию по умолчанию.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("FOG_CONFIG")
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
