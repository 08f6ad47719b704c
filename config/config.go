package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	mu sync.RWMutex `yaml:"-"`

	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Web       WebConfig       `yaml:"web"`
	Messaging MessagingConfig `yaml:"messaging"`
	Forecast  ForecastConfig  `yaml:"forecast"`
	Routing   RoutingConfig   `yaml:"routing"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Zones     []ZoneConfig    `yaml:"zones"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type WebConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

type MessagingConfig struct {
	Backend      string        `yaml:"backend"` // mqtt or kafka
	MQTT         MQTTConfig    `yaml:"mqtt"`
	Kafka        KafkaConfig   `yaml:"kafka"`
	TopicPrefix  string        `yaml:"topic_prefix"`
	QoS          byte          `yaml:"qos"`
	OfflineSweep time.Duration `yaml:"offline_sweep"`
	OfflineAfter time.Duration `yaml:"offline_after"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
	TLSPort  int    `yaml:"tls_port"`
	CACert   string `yaml:"ca_cert"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

type ForecastConfig struct {
	Alpha         float64 `yaml:"alpha"`
	MinDataPoints int     `yaml:"min_data_points"`
	HistoryDays   int     `yaml:"history_days"`
	MaxRatePerHr  float64 `yaml:"max_rate_per_hr"`
	VarianceBound float64 `yaml:"variance_bound"`
	Threshold     float64 `yaml:"threshold"`
}

type RoutingConfig struct {
	AverageSpeedKmh    float64 `yaml:"average_speed_kmh"`
	ServiceTimeMinutes float64 `yaml:"service_time_minutes"`
}

type LifecycleConfig struct {
	AckTimeout       time.Duration `yaml:"ack_timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	CollectionHours  int           `yaml:"collection_hours"`
	CollectedBelow   float64       `yaml:"collected_below"`
}

type ZoneConfig struct {
	ID     string      `yaml:"id"`
	Name   string      `yaml:"name"`
	Color  string      `yaml:"color"`
	Bounds BoundsConfig `yaml:"bounds"`
	Depot  DepotConfig  `yaml:"depot"`
}

type BoundsConfig struct {
	South float64 `yaml:"south"`
	North float64 `yaml:"north"`
	West  float64 `yaml:"west"`
	East  float64 `yaml:"east"`
}

type DepotConfig struct {
	Lat  float64 `yaml:"lat"`
	Lon  float64 `yaml:"lon"`
	Name string  `yaml:"name"`
}

func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "cleanroute.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "cleanroute",
				User:     "cleanroute",
				Password: "",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{
			Address:  "localhost:6379",
			Password: "",
			DB:       0,
		},
		Web: WebConfig{
			Host:      "0.0.0.0",
			Port:      8080,
			JWTSecret: "change-me-in-production",
		},
		Messaging: MessagingConfig{
			Backend: "mqtt",
			MQTT: MQTTConfig{
				Broker:   "localhost",
				Port:     1883,
				ClientID: "cleanroute-core",
				TLSPort:  8883,
			},
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				GroupID: "cleanroute",
			},
			TopicPrefix:  "cleanroute",
			QoS:          1,
			OfflineSweep: 60 * time.Second,
			OfflineAfter: 5 * time.Minute,
		},
		Forecast: ForecastConfig{
			Alpha:         0.3,
			MinDataPoints: 5,
			HistoryDays:   30,
			MaxRatePerHr:  10,
			VarianceBound: 1.0,
			Threshold:     80,
		},
		Routing: RoutingConfig{
			AverageSpeedKmh:    30,
			ServiceTimeMinutes: 5,
		},
		Lifecycle: LifecycleConfig{
			AckTimeout:      30 * time.Second,
			MaxRetries:      3,
			CollectionHours: 12,
			CollectedBelow:  40,
		},
		Zones: []ZoneConfig{
			{
				ID:    "colombo_zone1",
				Name:  "Fort & Pettah",
				Color: "#e74c3c",
				Bounds: BoundsConfig{South: 6.9275, North: 6.9460, West: 79.8380, East: 79.8650},
				Depot:  DepotConfig{Lat: 6.9355, Lon: 79.8500, Name: "Fort Depot"},
			},
			{
				ID:    "colombo_zone2",
				Name:  "Kollupitiya",
				Color: "#3498db",
				Bounds: BoundsConfig{South: 6.9000, North: 6.9275, West: 79.8400, East: 79.8700},
				Depot:  DepotConfig{Lat: 6.9120, Lon: 79.8520, Name: "Kollupitiya Depot"},
			},
			{
				ID:    "colombo_zone3",
				Name:  "Wellawatta & Dehiwala",
				Color: "#2ecc71",
				Bounds: BoundsConfig{South: 6.8500, North: 6.9000, West: 79.8500, East: 79.8800},
				Depot:  DepotConfig{Lat: 6.8730, Lon: 79.8610, Name: "Wellawatta Depot"},
			},
			{
				ID:    "colombo_zone4",
				Name:  "Nugegoda & Kotte",
				Color: "#f39c12",
				Bounds: BoundsConfig{South: 6.8500, North: 6.9100, West: 79.8800, East: 79.9300},
				Depot:  DepotConfig{Lat: 6.8850, Lon: 79.8990, Name: "Nugegoda Depot"},
			},
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Zones))
	for _, z := range c.Zones {
		if z.ID == "" {
			return fmt.Errorf("zone with empty id")
		}
		if _, dup := seen[z.ID]; dup {
			return fmt.Errorf("duplicate zone id %q", z.ID)
		}
		seen[z.ID] = struct{}{}
		if z.Bounds.South > z.Bounds.North {
			return fmt.Errorf("zone %s: south bound above north bound", z.ID)
		}
		if z.Bounds.West > z.Bounds.East {
			return fmt.Errorf("zone %s: west bound beyond east bound", z.ID)
		}
	}
	if c.Forecast.Alpha <= 0 || c.Forecast.Alpha > 1 {
		return fmt.Errorf("forecast alpha must be in (0, 1], got %v", c.Forecast.Alpha)
	}
	return nil
}

func (c *Config) Lock()   { c.mu.Lock() }
func (c *Config) Unlock() { c.mu.Unlock() }
