// Package cli next-crm 命令行入口
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ashwinyue/next-crm/internal/config"
	"github.com/ashwinyue/next-crm/internal/pkg/logger"
)

var (
	configPath string
	version    = "dev" // 构建时通过 ldflags 设置
)

var rootCmd = &cobra.Command{
	Use:           "next-crm",
	Short:         "CRM chat server and terminal client",
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute 运行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "config file (yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(employeeCmd)
	rootCmd.AddCommand(chatCmd)
}

// defaultConfigPath CONFIG_PATH 优先，文件不存在时只用默认值和环境变量
func defaultConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	if _, err := os.Stat("./configs/config.yaml"); err == nil {
		return "./configs/config.yaml"
	}
	return ""
}

// loadConfig 加载配置与日志
func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, log, nil
}
