// Package auth 调用方身份：解析 Bearer JWT，把用户ID放进 context
// 本服务不做权限控制，只把身份透传给入库流程
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrNoSubject    = errors.New("token carries no user id")
)

type ctxKey struct{}

// Claims 令牌声明，userId 兼容数字和字符串两种写法
type Claims struct {
	UserID   interface{} `json:"userId,omitempty"`
	Username string      `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken 签发 HS256 令牌，主要给命令行和测试使用
func GenerateToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken 校验签名和有效期，返回调用方ID（优先 userId，其次 sub）
func ParseToken(secret []byte, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}

	if id := claimString(claims.UserID); id != "" {
		return id, nil
	}
	if claims.Subject != "" {
		return claims.Subject, nil
	}
	return "", ErrNoSubject
}

// BearerToken 从 Authorization 头中取出令牌
func BearerToken(header string) (string, error) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMissingToken
	}
	return parts[1], nil
}

// WithCallerID 把调用方ID放进 context
func WithCallerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// CallerID 取出调用方ID，匿名请求返回 nil
func CallerID(ctx context.Context) *string {
	id, ok := ctx.Value(ctxKey{}).(string)
	if !ok || id == "" {
		return nil
	}
	return &id
}

func claimString(v interface{}) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case float64:
		return strconv.FormatInt(int64(id), 10)
	default:
		return ""
	}
}
