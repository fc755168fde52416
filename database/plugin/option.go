// Copyright 2026 Blink Labs Software
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

package plugin

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"
)

// EnvPrefix is the prefix for plugin option environment variables
const EnvPrefix = "TALLY"

func pluginTypeByName(name string) (PluginType, bool) {
	switch name {
	case "metadata":
		return PluginTypeMetadata, true
	case "journal":
		return PluginTypeJournal, true
	default:
		return 0, false
	}
}

// PopulateCmdlineOptions adds a flag for every registered plugin option to
// the given flagset. Flags are named <type>-<plugin>-<option>
func PopulateCmdlineOptions(fs *flag.FlagSet) error {
	for i := range pluginEntries {
		entry := &pluginEntries[i]
		for _, option := range entry.Options {
			optName := fmt.Sprintf(
				"%s-%s-%s",
				PluginTypeName(entry.Type),
				entry.Name,
				option.Name,
			)
			switch option.Type {
			case PluginOptionTypeString:
				dest, ok := option.Dest.(*string)
				if !ok {
					return fmt.Errorf(
						"invalid destination type for option %s: expected *string",
						optName,
					)
				}
				defaultValue, _ := option.DefaultValue.(string)
				fs.StringVar(dest, optName, defaultValue, option.Description)
			case PluginOptionTypeBool:
				dest, ok := option.Dest.(*bool)
				if !ok {
					return fmt.Errorf(
						"invalid destination type for option %s: expected *bool",
						optName,
					)
				}
				defaultValue, _ := option.DefaultValue.(bool)
				fs.BoolVar(dest, optName, defaultValue, option.Description)
			case PluginOptionTypeInt:
				dest, ok := option.Dest.(*int)
				if !ok {
					return fmt.Errorf(
						"invalid destination type for option %s: expected *int",
						optName,
					)
				}
				defaultValue, _ := option.DefaultValue.(int)
				fs.IntVar(dest, optName, defaultValue, option.Description)
			case PluginOptionTypeUint:
				dest, ok := option.Dest.(*uint64)
				if !ok {
					return fmt.Errorf(
						"invalid destination type for option %s: expected *uint64",
						optName,
					)
				}
				defaultValue, _ := option.DefaultValue.(uint64)
				fs.Uint64Var(dest, optName, defaultValue, option.Description)
			default:
				return fmt.Errorf(
					"unknown plugin option type %d for option %s",
					option.Type,
					optName,
				)
			}
		}
	}
	return nil
}

// ProcessConfig applies plugin options from a config file. The outer map is
// keyed by plugin type name, then plugin name, then option name
func ProcessConfig(pluginConfig map[string]map[string]map[string]any) error {
	for typeName, pluginOptions := range pluginConfig {
		pluginType, ok := pluginTypeByName(typeName)
		if !ok {
			return fmt.Errorf("unknown plugin type: %s", typeName)
		}
		for pluginName, options := range pluginOptions {
			for optionName, value := range options {
				err := SetPluginOption(
					pluginType,
					pluginName,
					optionName,
					value,
				)
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ProcessEnvVars applies plugin options from environment variables named
// <prefix>_<type>_<plugin>_<option>, upper-cased with dashes replaced by
// underscores
func ProcessEnvVars() error {
	for i := range pluginEntries {
		entry := &pluginEntries[i]
		for _, option := range entry.Options {
			envName := strings.ToUpper(strings.ReplaceAll(
				fmt.Sprintf(
					"%s_%s_%s_%s",
					EnvPrefix,
					PluginTypeName(entry.Type),
					entry.Name,
					option.Name,
				),
				"-",
				"_",
			))
			envValue, ok := os.LookupEnv(envName)
			if !ok {
				continue
			}
			var value any
			switch option.Type {
			case PluginOptionTypeString:
				value = envValue
			case PluginOptionTypeBool:
				v, err := strconv.ParseBool(envValue)
				if err != nil {
					return fmt.Errorf(
						"invalid value for %s: %w",
						envName,
						err,
					)
				}
				value = v
			case PluginOptionTypeInt:
				v, err := strconv.Atoi(envValue)
				if err != nil {
					return fmt.Errorf(
						"invalid value for %s: %w",
						envName,
						err,
					)
				}
				value = v
			case PluginOptionTypeUint:
				v, err := strconv.ParseUint(envValue, 10, 64)
				if err != nil {
					return fmt.Errorf(
						"invalid value for %s: %w",
						envName,
						err,
					)
				}
				value = v
			default:
				return fmt.Errorf(
					"unknown plugin option type %d for option %s",
					option.Type,
					option.Name,
				)
			}
			err := SetPluginOption(
				entry.Type,
				entry.Name,
				option.Name,
				value,
			)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
