package model

import (
	"errors"
	"fmt"
)

// ErrorKind 错误分类
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindParse       ErrorKind = "parse"
	KindStorage     ErrorKind = "storage"
	KindPersistence ErrorKind = "persistence"
	KindNotFound    ErrorKind = "not_found"
)

// Error 带分类、操作名和歌曲ID的错误，调用方可以据此安全重试
type Error struct {
	Kind   ErrorKind
	Op     string
	SongID string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.SongID != "" {
		msg += fmt.Sprintf(" (song %s)", e.SongID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError 构造分类错误
func NewError(kind ErrorKind, op, songID string, err error) *Error {
	return &Error{Kind: kind, Op: op, SongID: songID, Err: err}
}

// KindOf 返回错误分类，非分类错误返回空字符串
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind 判断错误链中是否存在指定分类
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// ErrTooLarge 上传文件超过大小限制
var ErrTooLarge = errors.New("file too large")
