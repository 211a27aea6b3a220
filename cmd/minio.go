package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"Melodex/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioStats  bool
	minioDelete bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `查看和管理存储桶中的歌曲与封面对象，支持列出文件、查看统计信息、按前缀删除等功能。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		client, err := storage.NewMinioClient(cfg)
		if err != nil {
			return err
		}
		admin := storage.NewBucketAdmin(client, cfg.MinioBucket)
		ctx := context.Background()

		if minioDelete {
			if minioPrefix == "" {
				return errors.New("删除操作需要指定前缀，例如 -p covers/")
			}
			n, err := admin.DeletePrefix(ctx, minioPrefix)
			if err != nil {
				return err
			}
			fmt.Printf("已删除 %d 个对象 (前缀: %s)\n", n, minioPrefix)
			return nil
		}

		return admin.PrintStatus(ctx, os.Stdout, minioPrefix, !minioStats)
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤文件或指定要删除的目录")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "只显示统计信息，不列出对象")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除指定前缀下的所有对象")

	minioCmd.Example = `  # 列出所有对象
  melodex minio

  # 只看歌曲
  melodex minio -p "songs/"

  # 显示存储桶统计信息
  melodex minio -s

  # 删除所有封面
  melodex minio -d -p "covers/"`
}
