package kcouch

import (
	"fmt"
	"log"
	"os"
	"time"
)

const (
	defaultProtocol = "http"
	defaultHost     = "localhost"
	defaultPort     = 5984
	defaultTimeout  = 30 * time.Second
)

// ServerConfig describes how to reach one store.
type ServerConfig struct {
	Protocol       string        `mapstructure:"protocol" json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Host           string        `mapstructure:"host" json:"host,omitempty" yaml:"host,omitempty"`
	Port           int           `mapstructure:"port" json:"port,omitempty" yaml:"port,omitempty"`
	Username       string        `mapstructure:"username" json:"username,omitempty" yaml:"username,omitempty"`
	Password       string        `mapstructure:"password" json:"password,omitempty" yaml:"password,omitempty"`
	DatabasePrefix string        `mapstructure:"database_prefix" json:"database_prefix,omitempty" yaml:"database_prefix,omitempty"`
	JWTSecret      string        `mapstructure:"jwt_secret" json:"jwt_secret,omitempty" yaml:"jwt_secret,omitempty"`
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Config maps a server alias to its settings. It is passed explicitly to
// whatever needs to reach a store; there is no package level registry.
type Config struct {
	Servers map[string]ServerConfig `mapstructure:"servers" json:"servers" yaml:"servers"`
}

func (cfg ServerConfig) withDefaults() ServerConfig {
	if cfg.Protocol == "" {
		cfg.Protocol = defaultProtocol
	}
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return cfg
}

// URL returns the base address of the store.
func (cfg ServerConfig) URL() string {
	cfg = cfg.withDefaults()
	return fmt.Sprintf("%s://%s:%d", cfg.Protocol, cfg.Host, cfg.Port)
}

// Server builds a client for alias.
func (c Config) Server(alias string, logger *log.Logger) (*Server, error) {
	sc, ok := c.Servers[alias]
	if !ok {
		return nil, invalidArgument("unknown server alias %q", alias)
	}
	return NewServer(alias, sc, logger), nil
}

func defaultLogger(logger *log.Logger) *log.Logger {
	if logger == nil {
		logger = log.New(os.Stderr, "[kcouch] ", log.LstdFlags)
	}
	return logger
}
