package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/campaignsync/internal/config"
	apperrors "github.com/kimhsiao/campaignsync/internal/errors"
)

func configCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or print the configuration",
	}
	cmd.AddCommand(configInitCmd(gf))
	cmd.AddCommand(configShowCmd(gf))
	return cmd
}

func configInitCmd(gf *globalFlags) *cobra.Command {
	var (
		baseURL string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := gf.configPath
			if path == "" {
				path = config.Path()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return apperrors.New(apperrors.ErrInvalid, path+" already exists, pass --force to overwrite")
			}

			cfg := config.Default()
			if baseURL != "" {
				cfg.Remote.BaseURL = baseURL
			}
			if gf.dataDir != "" {
				cfg.Store.Path = gf.dataDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Backend base URL")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func configShowCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(gf)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
