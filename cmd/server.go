package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"Melodex/core/watch"
	"Melodex/logger"
	"Melodex/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 HTTP 服务",
	Long:  `启动 Melodex 的 HTTP 服务，提供上传、查询、标签、推荐接口以及入库事件推送；配置了 WATCH_DIR 时同时监听投递目录。`,
	RunE:  runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.WatchDir != "" {
		w := watch.New(cfg.WatchDir, cfg.TempDir, a.songs)
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("投递目录监听退出", logger.ErrorField(err))
			}
		}()
	}

	return server.Run(ctx, server.Deps{
		Songs:       a.songs,
		Recommender: a.engine,
		Repo:        a.repo,
		Hub:         a.hub,
		Assets:      a.store,
		Cfg:         cfg,
	})
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
