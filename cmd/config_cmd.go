// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/eventrunner/config"
)

func init() {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "inspect the configuration document",
	}
	rootCmd.AddCommand(cmd)

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "print the effective configuration with secrets redacted",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := loadUnvalidated()
			if err != nil {
				return err
			}
			return writeConfig(c.OutOrStdout(), cfg)
		},
	}
	cmd.AddCommand(showCmd)

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "check the configuration document and exit",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if _, err := buildBinaries(cfg.Processors); err != nil {
				return fmt.Errorf("invalid processor table: %w", err)
			}
			c.Printf("configuration is valid (profile %s)\n", cfg.Profile)
			return nil
		},
	}
	cmd.AddCommand(validateCmd)
}

func loadUnvalidated() (*config.Config, error) {
	if profile != "" {
		if err := setProfileEnv(profile); err != nil {
			return nil, err
		}
	}
	return config.Load(configPath)
}

func writeConfig(w io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg.Redacted()); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	return enc.Close()
}
