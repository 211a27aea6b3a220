package cmd

import (
	"context"
	"fmt"
	"time"

	"Melodex/cache"
	"Melodex/db"

	"github.com/spf13/cobra"
)

var redisInvalidate bool

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接是否成功，并进行基本读写操作；加上 --invalidate 时使所有推荐缓存失效。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Redis配置: %s, DB: %d\n", cfg.RedisAddr(), cfg.RedisDB)

		client, err := db.ConnectRedis(cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		fmt.Println("Redis连接成功！")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := db.TestRedis(ctx, client); err != nil {
			return fmt.Errorf("Redis操作测试失败: %w", err)
		}
		fmt.Println("Redis基本操作测试成功！")

		rc := cache.NewRecommendCache(client, cfg.RecommendCacheTTL)
		if redisInvalidate {
			if err := rc.Invalidate(ctx); err != nil {
				return err
			}
		}
		v, err := rc.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("推荐缓存语料版本: %d\n", v)
		return nil
	},
}

func init() {
	redisCmd.Flags().BoolVar(&redisInvalidate, "invalidate", false, "递增语料版本，使所有推荐缓存失效")
	rootCmd.AddCommand(redisCmd)
}
