package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"Melodex/core/ingest"
	"Melodex/logger"
	"Melodex/model"
)

const (
	multipartOverhead = 1 << 20
	maxMultiFiles     = 20
)

// spoolUploads 流式读取 multipart 请求，把字段名为 field 的文件逐个落到临时目录
// 出错时已经写出的临时文件会被清理
func spoolUploads(r *http.Request, field, tempDir string, maxSize int64, maxFiles int) ([]ingest.Upload, error) {
	const op = "upload"

	reader, err := r.MultipartReader()
	if err != nil {
		return nil, model.NewError(model.KindValidation, op, "", fmt.Errorf("expected multipart form: %w", err))
	}
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	var uploads []ingest.Upload
	fail := func(err error) ([]ingest.Upload, error) {
		for _, up := range uploads {
			os.Remove(up.TempPath)
		}
		return nil, err
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(bodyError(op, err))
		}
		if part.FormName() != field || part.FileName() == "" {
			part.Close()
			continue
		}
		if len(uploads) >= maxFiles {
			part.Close()
			return fail(model.NewError(model.KindValidation, op, "", fmt.Errorf("at most %d files per request", maxFiles)))
		}

		up, err := spoolPart(part, tempDir, maxSize)
		part.Close()
		if err != nil {
			return fail(err)
		}
		uploads = append(uploads, up)
	}

	if len(uploads) == 0 {
		return nil, model.NewError(model.KindValidation, op, "", fmt.Errorf("no file uploaded in field %q", field))
	}
	return uploads, nil
}

func spoolPart(part *multipart.Part, tempDir string, maxSize int64) (ingest.Upload, error) {
	const op = "upload"
	filename := filepath.Base(part.FileName())

	f, err := os.CreateTemp(tempDir, "upload-*"+strings.ToLower(filepath.Ext(filename)))
	if err != nil {
		return ingest.Upload{}, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(part, maxSize+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(f.Name())
		return ingest.Upload{}, bodyError(op, err)
	}
	if n > maxSize {
		os.Remove(f.Name())
		return ingest.Upload{}, model.NewError(model.KindValidation, op, "",
			fmt.Errorf("%w: %s exceeds limit of %d bytes", model.ErrTooLarge, filename, maxSize))
	}

	logger.Debug("上传文件已落盘",
		logger.String("filename", filename),
		logger.String("tempPath", f.Name()),
		logger.Int64("size", n))

	return ingest.Upload{
		TempPath:         f.Name(),
		OriginalFilename: filename,
		ContentType:      part.Header.Get("Content-Type"),
		Size:             n,
	}, nil
}

// bodyError 请求体读取失败，超出 MaxBytesReader 限制时归为文件过大
func bodyError(op string, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return model.NewError(model.KindValidation, op, "", fmt.Errorf("%w: request body exceeds %d bytes", model.ErrTooLarge, tooLarge.Limit))
	}
	return model.NewError(model.KindValidation, op, "", fmt.Errorf("read upload: %w", err))
}
