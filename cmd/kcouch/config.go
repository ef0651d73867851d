package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/kirubasankars/kcouch"
)

const envPrefix = "KCOUCH"

var serverKeys = []string{"protocol", "host", "port", "username", "password", "database_prefix", "jwt_secret", "timeout"}

func loadConfig() (kcouch.Config, error) {
	return readConfig(configFile)
}

// readConfig reads the server table from path, or from kcouch.{yaml,toml,json}
// in the working directory when path is empty. Every server setting can be
// overridden with KCOUCH_SERVERS_<ALIAS>_<KEY>, which also declares servers
// the file does not mention.
func readConfig(path string) (kcouch.Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kcouch")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/kcouch")
	}

	var cfg kcouch.Config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	aliases := map[string]bool{}
	for alias := range v.GetStringMap("servers") {
		aliases[alias] = true
	}
	for _, alias := range envAliases(os.Environ()) {
		aliases[alias] = true
	}
	for alias := range aliases {
		for _, key := range serverKeys {
			if err := v.BindEnv("servers."+alias+"."+key, envName(alias, key)); err != nil {
				return cfg, err
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Servers) == 0 {
		cfg.Servers = map[string]kcouch.ServerConfig{"default": {}}
	}
	return cfg, nil
}

func envName(alias, key string) string {
	return strings.ToUpper(envPrefix + "_SERVERS_" + alias + "_" + key)
}

// envAliases returns the aliases named by KCOUCH_SERVERS_<ALIAS>_<KEY>
// variables in environ.
func envAliases(environ []string) []string {
	prefix := envPrefix + "_SERVERS_"
	var aliases []string
	for _, kv := range environ {
		name, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		for _, key := range serverKeys {
			suffix := "_" + strings.ToUpper(key)
			if strings.HasSuffix(rest, suffix) && len(rest) > len(suffix) {
				aliases = append(aliases, strings.ToLower(strings.TrimSuffix(rest, suffix)))
				break
			}
		}
	}
	return aliases
}
