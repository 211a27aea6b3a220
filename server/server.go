package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"Melodex/config"
	"Melodex/core/auth"
	"Melodex/core/ingest"
	"Melodex/core/recommend"
	"Melodex/logger"
	"Melodex/metrics"
	"Melodex/repository"
	"Melodex/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps HTTP 层依赖，Assets 为 nil 时不挂载 /static/
type Deps struct {
	Songs       *ingest.Service
	Recommender *recommend.Engine
	Repo        repository.SongRepository
	Hub         *ingest.Hub
	Assets      storage.ObjectReader
	Cfg         *config.Config
}

// NewRouter 注册所有路由
func NewRouter(d Deps) *mux.Router {
	h := NewSongHandler(d)

	router := mux.NewRouter()
	router.Use(corsMiddleware)
	router.Use(metricsMiddleware)
	router.Use(identityMiddleware([]byte(d.Cfg.JWTSecret)))

	// 预检请求统一在这里返回，CORS 头由中间件设置
	router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// 上传
	router.HandleFunc("/api/songs/upload", h.UploadSong).Methods(http.MethodPost)
	router.HandleFunc("/api/songs/upload-multiple", h.UploadMultiple).Methods(http.MethodPost)

	// 列表类接口，需要注册在 {id} 之前
	router.HandleFunc("/api/songs", h.ListSongs).Methods(http.MethodGet)
	router.HandleFunc("/api/songs/search", h.SearchSongs).Methods(http.MethodGet)
	router.HandleFunc("/api/songs/trending", h.TrendingSongs).Methods(http.MethodGet)
	router.HandleFunc("/api/songs/albums", h.Albums).Methods(http.MethodGet)

	// 单曲
	router.HandleFunc("/api/songs/{id}", h.GetSong).Methods(http.MethodGet)
	router.HandleFunc("/api/songs/{id}", h.DeleteSong).Methods(http.MethodDelete)
	router.HandleFunc("/api/songs/{id}/play", h.PlaySong).Methods(http.MethodPost)
	router.HandleFunc("/api/songs/{id}/cover", h.Cover).Methods(http.MethodGet)
	router.HandleFunc("/api/songs/{id}/retry", h.RetryAsset).Methods(http.MethodPost)
	router.HandleFunc("/api/songs/{id}/tags", h.AddTags).Methods(http.MethodPost)
	router.HandleFunc("/api/songs/{id}/tags", h.RemoveTags).Methods(http.MethodDelete)
	router.HandleFunc("/api/songs/{id}/recommendations", h.Recommendations).Methods(http.MethodGet)

	// 入库事件推送
	if d.Hub != nil {
		router.Handle("/ws/ingest", NewIngestSocket(d.Hub)).Methods(http.MethodGet)
	}

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// 对象存储回源，默认封面也走这里
	if d.Assets != nil {
		router.PathPrefix("/static/").Handler(NewStaticHandler(d.Assets)).Methods(http.MethodGet, http.MethodHead)
	}

	return router
}

// Run 启动 HTTP 服务，ctx 结束后优雅关闭
func Run(ctx context.Context, d Deps) error {
	server := &http.Server{
		Addr:         ":" + d.Cfg.Port,
		Handler:      NewRouter(d),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP 服务启动",
			logger.String("addr", server.Addr),
			logger.Int64("maxUploadBytes", d.Cfg.MaxUploadSize))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("正在关闭 HTTP 服务")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("HTTP 服务已停止")
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")
		next.ServeHTTP(w, r)
	})
}

// identityMiddleware 解析可选的 Bearer 令牌，失败时按匿名处理
func identityMiddleware(secret []byte) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, err := auth.BearerToken(header)
			if err == nil {
				var id string
				if id, err = auth.ParseToken(secret, token); err == nil {
					r = r.WithContext(auth.WithCallerID(r.Context(), id))
				}
			}
			if err != nil {
				logger.Debug("令牌无效，按匿名请求处理", logger.ErrorField(err))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
	})
}

// statusRecorder 记录响应码，保留 Hijack 以便 WebSocket 升级
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
