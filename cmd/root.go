// Copyright 2024 Google Inc. All Rights Reserved.
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

// Package cmd implements tinyfsctl, the command-line surface over the
// filesystem core: mkfs formats an image, fsck replays its journal and
// checks bitmap consistency, shell drives the syscall layer interactively,
// and stress fans out concurrent clients against one mounted image. Flag
// binding follows the teacher's cmd/root.go + cfg/config.go pattern:
// cobra.Command persistent flags bound to viper keys via cfg.BindFlags,
// unmarshaled into one cfg.Config before each subcommand runs.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tinykernel/tinyfs/cfg"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error

	// MountConfig holds the configuration unmarshaled from flags (and an
	// optional config file) before any subcommand runs.
	MountConfig cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "tinyfsctl",
	Short: "Format, check, and drive a tinyfs image",
	Long: `tinyfsctl is the userspace control surface for a tinyfs image: mkfs
lays one out fresh, fsck replays its journal and verifies the block
bitmap, shell drives the syscall layer against a mounted image with a
tiny line-oriented command set, and stress fans out several concurrent
clients against one image to exercise group commit under real goroutine
concurrency.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		return cfg.ValidateConfig(&MountConfig)
	},
}

// Execute runs the tinyfsctl command tree, exiting the process with a
// non-zero status on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file overriding flag defaults.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&MountConfig)
		return
	}

	resolved, err := filepath.Abs(cfgFile)
	if err != nil {
		configFileErr = fmt.Errorf("resolving config file path: %w", err)
		return
	}
	viper.SetConfigFile(resolved)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&MountConfig)
}
