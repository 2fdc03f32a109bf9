// Copyright 2025 Kadir Pekel
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

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/agentdial/pkg/config"
)

// defaultStorePath returns the saved roster location, ~/.agentdial/agents.yaml.
func defaultStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot locate home directory: %w", err)
	}
	return filepath.Join(home, ".agentdial", "agents.yaml"), nil
}

// loadRoster reads the agent roster from the given path, or from the
// default store when path is empty. A missing default store is an empty
// roster, not an error.
func loadRoster(path string) (*config.Config, string, error) {
	usingDefault := path == ""
	if usingDefault {
		var err error
		path, err = defaultStorePath()
		if err != nil {
			return nil, "", err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		if usingDefault && os.IsNotExist(underlying(err)) {
			return &config.Config{}, path, nil
		}
		return nil, "", err
	}
	return cfg, path, nil
}

func underlying(err error) error {
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}

// saveRoster writes the roster back to the store, creating the directory
// on first use.
func saveRoster(cfg *config.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("cannot create store directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot encode roster: %w", err)
	}
	// 0600: the roster may hold credentials.
	return os.WriteFile(path, data, 0600)
}
