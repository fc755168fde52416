// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/blinklabs-io/tally/database/plugin"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "tally.config"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

const (
	DefaultJournalPlugin     = "badger"
	DefaultMetadataPlugin    = "sqlite"
	DefaultShutdownTimeout   = "30s"
	DefaultReconcileInterval = "1h"
)

type tempConfig struct {
	Config   *Config                   `yaml:"config,omitempty"`
	Database *databaseConfig           `yaml:"database,omitempty"`
	Journal  map[string]map[string]any `yaml:"journal,omitempty"`
	Metadata map[string]map[string]any `yaml:"metadata,omitempty"`
}

type databaseConfig struct {
	Journal  map[string]any `yaml:"journal,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

type Config struct {
	MetadataPlugin    string `yaml:"metadataPlugin"    envconfig:"TALLY_DATABASE_METADATA_PLUGIN"`
	JournalPlugin     string `yaml:"journalPlugin"     envconfig:"TALLY_DATABASE_JOURNAL_PLUGIN"`
	DatabasePath      string `yaml:"databasePath"                                                 split_words:"true"`
	BindAddr          string `yaml:"bindAddr"                                                     split_words:"true"`
	ShutdownTimeout   string `yaml:"shutdownTimeout"                                              split_words:"true"`
	ReconcileInterval string `yaml:"reconcileInterval"                                            split_words:"true"`
	MaxMachineAgeDays int    `yaml:"maxMachineAgeDays"                                            split_words:"true"`
	MetricsPort       uint   `yaml:"metricsPort"                                                  split_words:"true"`
	Tracing           bool   `yaml:"tracing"`
	TracingStdout     bool   `yaml:"tracingStdout"                                                split_words:"true"`
}

// ParseShutdownTimeout returns the graceful shutdown timeout as a duration
func (c *Config) ParseShutdownTimeout() (time.Duration, error) {
	timeout, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid shutdownTimeout: %w", err)
	}
	return timeout, nil
}

// ParseReconcileInterval returns the rule reconciliation interval as a
// duration. An empty value disables the periodic sweep
func (c *Config) ParseReconcileInterval() (time.Duration, error) {
	if c.ReconcileInterval == "" {
		return 0, nil
	}
	interval, err := time.ParseDuration(c.ReconcileInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid reconcileInterval: %w", err)
	}
	return interval, nil
}

// MaxMachineAge returns the enrolled machine age cutoff as a duration. Zero
// means machines count regardless of when they were last seen
func (c *Config) MaxMachineAge() time.Duration {
	return time.Duration(c.MaxMachineAgeDays) * 24 * time.Hour
}

var globalConfig = &Config{
	BindAddr:          "0.0.0.0",
	DatabasePath:      ".tally",
	MetricsPort:       2112,
	MetadataPlugin:    DefaultMetadataPlugin,
	JournalPlugin:     DefaultJournalPlugin,
	ShutdownTimeout:   DefaultShutdownTimeout,
	ReconcileInterval: DefaultReconcileInterval,
}

// sectionPluginConfig extracts the optional plugin name and the per plugin
// option maps from a database config section
func sectionPluginConfig(
	sectionName string,
	section map[string]any,
) (string, map[string]map[string]any) {
	pluginName := ""
	if pluginVal, exists := section["plugin"]; exists {
		if name, ok := pluginVal.(string); ok {
			pluginName = name
			// Remove plugin from config map
			delete(section, "plugin")
		}
	}
	sectionConfig := make(map[string]map[string]any)
	for k, v := range section {
		switch val := v.(type) {
		case map[string]any:
			sectionConfig[k] = val
		case map[any]any:
			// Convert map[any]any to map[string]any
			stringAnyMap := make(map[string]any)
			for vk, vv := range val {
				if keyStr, ok := vk.(string); ok {
					stringAnyMap[keyStr] = vv
				}
			}
			sectionConfig[k] = stringAnyMap
		default:
			// Log skipped non-map config entries
			fmt.Fprintf(
				os.Stderr,
				"warning: skipping %s config entry %q: expected map, got %T\n",
				sectionName,
				k,
				v,
			)
		}
	}
	return pluginName, sectionConfig
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.tally/tally.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".tally", "tally.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/tally/tally.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/tally/tally.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}

		// First unmarshal into temp config to handle plugin sections
		var tempCfg tempConfig
		err = yaml.Unmarshal(buf, &tempCfg)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}

		// If config section exists, use it for main config
		if tempCfg.Config != nil {
			// Overlay config values onto existing defaults
			configBytes, err := yaml.Marshal(tempCfg.Config)
			if err != nil {
				return nil, fmt.Errorf("error re-marshalling config: %w", err)
			}
			err = yaml.Unmarshal(configBytes, globalConfig)
			if err != nil {
				return nil, fmt.Errorf("error parsing config section: %w", err)
			}
		} else {
			// Otherwise unmarshal the whole file as main config (backward compatibility)
			err = yaml.Unmarshal(buf, globalConfig)
			if err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		}

		// Process plugin configurations
		pluginConfig := make(map[string]map[string]map[string]any)
		if tempCfg.Journal != nil {
			pluginConfig["journal"] = tempCfg.Journal
		}
		if tempCfg.Metadata != nil {
			pluginConfig["metadata"] = tempCfg.Metadata
		}
		// Handle database section if present
		if tempCfg.Database != nil {
			if tempCfg.Database.Journal != nil {
				pluginName, journalConfig := sectionPluginConfig(
					"journal",
					tempCfg.Database.Journal,
				)
				if pluginName != "" {
					globalConfig.JournalPlugin = pluginName
				}
				// Merge with existing journal config instead of overwriting
				if pluginConfig["journal"] == nil {
					pluginConfig["journal"] = journalConfig
				} else {
					maps.Copy(pluginConfig["journal"], journalConfig)
				}
			}
			if tempCfg.Database.Metadata != nil {
				pluginName, metadataConfig := sectionPluginConfig(
					"metadata",
					tempCfg.Database.Metadata,
				)
				if pluginName != "" {
					globalConfig.MetadataPlugin = pluginName
				}
				// Merge with existing metadata config instead of overwriting
				if pluginConfig["metadata"] == nil {
					pluginConfig["metadata"] = metadataConfig
				} else {
					maps.Copy(pluginConfig["metadata"], metadataConfig)
				}
			}
		}
		if len(pluginConfig) > 0 {
			err = plugin.ProcessConfig(pluginConfig)
			if err != nil {
				return nil, fmt.Errorf(
					"error processing plugin config: %w",
					err,
				)
			}
		}
	}
	// Process environment variables
	err := envconfig.Process("tally", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}

	// Process plugin environment variables
	err = plugin.ProcessEnvVars()
	if err != nil {
		return nil, fmt.Errorf(
			"error processing plugin environment variables: %w",
			err,
		)
	}

	// Validate durations and voting settings
	if globalConfig.MaxMachineAgeDays < 0 {
		return nil, fmt.Errorf(
			"negative maxMachineAgeDays: %d",
			globalConfig.MaxMachineAgeDays,
		)
	}
	if _, err := globalConfig.ParseShutdownTimeout(); err != nil {
		return nil, err
	}
	if _, err := globalConfig.ParseReconcileInterval(); err != nil {
		return nil, err
	}

	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}
