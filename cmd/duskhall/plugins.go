// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/duskhall/duskhall/internal/config"
	"github.com/duskhall/duskhall/internal/plugin"
)

// NewPluginsCmd creates the plugins subcommand with list/validate.
func NewPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect plugin manifests",
	}

	cmd.AddCommand(newPluginsListCmd())
	cmd.AddCommand(newPluginsValidateCmd())

	return cmd
}

func newPluginsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plugins found in the configured directories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return listPlugins(cmd, cfg.PluginDirs)
		},
	}
	cmd.Flags().StringSlice("plugin-dirs", nil, "directories scanned for plugin manifests")
	return cmd
}

func newPluginsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <manifest>...",
		Short: "Validate plugin.yaml files against the manifest schema",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed bool
			for _, path := range args {
				if err := validateManifest(path); err != nil {
					cmd.PrintErrf("%s: %v\n", path, err)
					failed = true
					continue
				}
				cmd.Printf("%s: ok\n", path)
			}
			if failed {
				return fmt.Errorf("validation failed")
			}
			return nil
		},
	}
}

func listPlugins(cmd *cobra.Command, dirs []string) error {
	type row struct {
		manifest *plugin.Manifest
		err      error
		path     string
	}

	var rows []row
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to read plugin directory %s: %w", dir, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name(), plugin.ManifestFileName)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			m, err := plugin.LoadManifest(path)
			rows = append(rows, row{manifest: m, err: err, path: path})
		}
	}

	if len(rows) == 0 {
		cmd.Println("no plugins found")
		return nil
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].path < rows[j].path })

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tSTRATEGY\tPROFILES\tSTATUS")
	for _, r := range rows {
		if r.err != nil {
			fmt.Fprintf(w, "?\t?\t?\t?\tinvalid: %v (%s)\n", r.err, r.path)
			continue
		}
		profiles := "all"
		if len(r.manifest.SupportedProfiles) > 0 {
			profiles = strings.Join(r.manifest.SupportedProfiles, ",")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\tok\n",
			r.manifest.ID, r.manifest.Version, r.manifest.Strategy, profiles)
	}
	return w.Flush()
}

// validateManifest checks a manifest file against both the JSON schema
// and the parser's semantic rules.
func validateManifest(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	if err := plugin.ValidateSchema(data); err != nil {
		return err
	}
	_, err = plugin.ParseManifest(data)
	return err
}
