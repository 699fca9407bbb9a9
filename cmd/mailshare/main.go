package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mailshare/internal/config"
)

func main() {
	var (
		configPath string
		userID     string
		ttlHours   int
	)

	rootCmd := &cobra.Command{
		Use:   "mailshare",
		Short: "mailshare share-link gateway",
	}

	loadConfig := func() (*config.Config, error) {
		if configPath == "" {
			return nil, errors.New("--config is required")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger.Init(
			cfg.LogConfig.File,
			cfg.LogConfig.Level,
			int(cfg.LogConfig.FileCount),
			int(cfg.LogConfig.FileSize),
			int(cfg.LogConfig.KeepDays),
			cfg.LogConfig.Console,
		)
		return cfg, nil
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the mailshare server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
			return runServer(cmd.Context(), cfg)
		},
	}
	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "issue an owner token for the management api",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := issueToken(cfg, userID, ttlHours)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	tokenCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	tokenCmd.Flags().StringVar(&userID, "user", "", "owner id placed in the token")
	tokenCmd.Flags().IntVar(&ttlHours, "ttl-hours", 24*30, "token lifetime in hours")

	rootCmd.AddCommand(runCmd, tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}
