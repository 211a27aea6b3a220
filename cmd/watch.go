package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Melodex/core/watch"

	"github.com/spf13/cobra"
)

var (
	watchDir    string
	watchSettle time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "只运行投递目录监听，不启动 HTTP 服务",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := watchDir
		if dir == "" {
			dir = cfg.WatchDir
		}
		if dir == "" {
			return errors.New("需要通过 --dir 或 WATCH_DIR 指定投递目录")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		return watch.New(dir, cfg.TempDir, a.songs).WithSettle(watchSettle).Run(ctx)
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchDir, "dir", "d", "", "投递目录，默认使用 WATCH_DIR")
	watchCmd.Flags().DurationVar(&watchSettle, "settle", 2*time.Second, "文件多久没有变化后开始入库")
	rootCmd.AddCommand(watchCmd)
}
