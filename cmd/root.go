package cmd

import (
	"fmt"
	"os"

	"Melodex/config"
	"Melodex/logger"

	"github.com/spf13/cobra"
)

// cfg 由 PersistentPreRunE 加载，所有子命令共享
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "melodex",
	Short: "Melodex 歌曲入库与推荐服务",
	Long:  `Melodex 接收上传的音频文件，解析元数据和封面后入库，并基于元数据相似度推荐歌曲。`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger.InitLogger(logger.Config{
			Level:      logger.LogLevel(cfg.LogLevel),
			OutputPath: cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// 不带子命令时直接启动服务
		return runServer(cmd, args)
	},
	SilenceUsage: true,
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
