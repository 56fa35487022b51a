// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order. The
// first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/perch/config.yaml",
	"/etc/perch/config.yml",
}

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are paths whose env values arrive as comma-separated
// strings but unmarshal into slices.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated strings into slices for the
// known slice paths. YAML-sourced values are already slices and are left
// alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to config paths.
// Unmapped variables return "" and are skipped, so arbitrary environment
// noise cannot leak into the configuration.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - PLACES_API_KEY -> sources.places.api_key
//   - STORE_PATH -> store.path
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server
		"http_host":           "server.host",
		"http_port":           "server.port",
		"http_read_timeout":   "server.read_timeout",
		"http_write_timeout":  "server.write_timeout",
		"shutdown_timeout":    "server.shutdown_timeout",
		"sweep_interval":      "server.sweep_interval",
		"cors_origins":        "server.cors_origins",
		"rate_limit_requests": "server.rate_limit_requests",
		"rate_limit_window":   "server.rate_limit_window",
		"disable_rate_limit":  "server.rate_limit_disabled",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// Source adapters
		"places_enabled":        "sources.places.enabled",
		"places_base_url":       "sources.places.base_url",
		"places_api_key":        "sources.places.api_key",
		"places_timeout":        "sources.places.timeout",
		"places_rate_limit":     "sources.places.rate_limit",
		"events_enabled":        "sources.events.enabled",
		"events_base_url":       "sources.events.base_url",
		"events_api_key":        "sources.events.api_key",
		"events_timeout":        "sources.events.timeout",
		"events_rate_limit":     "sources.events.rate_limit",
		"directory_enabled":     "sources.directory.enabled",
		"directory_base_url":    "sources.directory.base_url",
		"directory_api_key":     "sources.directory.api_key",
		"directory_timeout":     "sources.directory.timeout",
		"directory_rate_limit":  "sources.directory.rate_limit",

		// Aggregation
		"aggregate_target_candidates": "aggregate.target_candidates",
		"aggregate_max_radius":        "aggregate.max_radius_meters",
		"aggregate_radius_multiplier": "aggregate.radius_multiplier",
		"aggregate_adapter_timeout":   "aggregate.adapter_timeout",

		// Geocoding
		"geocode_workers":   "geocode.workers",
		"geocode_cache_ttl": "geocode.cache_ttl",

		// Store
		"store_path":              "store.path",
		"store_record_ttl":        "store.record_ttl",
		"store_declined_cooldown": "store.cooldowns.declined_cooldown",
		"store_reshow_cooldown":   "store.cooldowns.reshow_cooldown",
		"store_freshness":         "store.cooldowns.freshness",

		// Engine
		"engine_response_ttl":         "engine.response_ttl",
		"engine_premium_response_ttl": "engine.premium_response_ttl",
		"engine_default_radius":       "engine.default_radius_meters",
		"engine_default_count":        "engine.default_count",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
