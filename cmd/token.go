package cmd

import (
	"errors"
	"fmt"
	"time"

	"Melodex/core/auth"

	"github.com/spf13/cobra"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <userId>",
	Short: "用 JWT_SECRET 签发一个调试用的访问令牌",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JWTSecret == "" {
			return errors.New("JWT_SECRET 未配置，服务端不会解析令牌")
		}
		token, err := auth.GenerateToken([]byte(cfg.JWTSecret), args[0], tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "令牌有效期")
	rootCmd.AddCommand(tokenCmd)
}
