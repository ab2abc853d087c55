package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/haoyun/renmai/internal/auth"
	"github.com/haoyun/renmai/internal/metrics"
	"github.com/haoyun/renmai/internal/pkg/config"
	"github.com/haoyun/renmai/internal/pkg/ratelimit"
	"github.com/haoyun/renmai/internal/service"
)

// Server HTTP+JSON API 服务
type Server struct {
	cfg      config.ServerConfig
	sessions *auth.SessionStore
	profiles *service.ProfileService
	conns    *service.ConnectionService
	msgs     *service.MessageService
	facts    *service.FactService
	posts    *service.PostService
	pages    *service.PageService
	metrics  *metrics.Metrics
	limiter  *ratelimit.Limiter
	srv      *http.Server
}

// Deps 装配服务端所需的依赖
type Deps struct {
	Sessions *auth.SessionStore
	Profiles *service.ProfileService
	Conns    *service.ConnectionService
	Msgs     *service.MessageService
	Facts    *service.FactService
	Posts    *service.PostService
	Pages    *service.PageService
	Metrics  *metrics.Metrics
	Limiter  *ratelimit.Limiter
}

// New 创建服务端
func New(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: deps.Sessions,
		profiles: deps.Profiles,
		conns:    deps.Conns,
		msgs:     deps.Msgs,
		facts:    deps.Facts,
		posts:    deps.Posts,
		pages:    deps.Pages,
		metrics:  deps.Metrics,
		limiter:  deps.Limiter,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.middleware(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Run 阻塞运行直到 ctx 取消，然后优雅停机
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP 服务已启动", "addr", s.cfg.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server 异常退出: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("停机失败: %w", err)
	}
	slog.Info("HTTP 服务已停止")
	return nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// 连接图
	mux.HandleFunc("POST /api/connections", s.requireAuth(s.createClaim))
	mux.HandleFunc("GET /api/connections", s.requireAuth(s.listConnections))
	mux.HandleFunc("GET /api/connections/pending", s.requireAuth(s.listPending))
	mux.HandleFunc("GET /api/connections/ignored", s.requireAuth(s.listIgnored))
	mux.HandleFunc("GET /api/connections/sent", s.requireAuth(s.listSent))
	mux.HandleFunc("GET /api/connections/status/{handle}", s.requireAuth(s.connectionStatus))
	mux.HandleFunc("GET /api/connections/u/{handle}", s.optionalAuth(s.userConnections))
	mux.HandleFunc("POST /api/connections/{id}/confirm", s.requireAuth(s.confirmConnection))
	mux.HandleFunc("POST /api/connections/{id}/ignore", s.requireAuth(s.ignoreConnection))
	mux.HandleFunc("DELETE /api/connections/{id}", s.requireAuth(s.deleteConnection))
	mux.HandleFunc("POST /api/connections/{id}/vote", s.requireAuth(s.voteConnection))
	mux.HandleFunc("DELETE /api/connections/{id}/vote", s.requireAuth(s.unvoteConnection))
	mux.HandleFunc("POST /api/connections/{id}/report", s.requireAuth(s.reportConnection))

	// 私信
	mux.HandleFunc("GET /api/messages", s.requireAuth(s.listConversations))
	mux.HandleFunc("GET /api/messages/unread-count", s.requireAuth(s.unreadCount))
	mux.HandleFunc("GET /api/messages/pending-connections-count", s.requireAuth(s.pendingConnectionsCount))
	mux.HandleFunc("GET /api/messages/with/{handle}", s.requireAuth(s.conversationWith))
	mux.HandleFunc("GET /api/messages/{id}", s.requireAuth(s.getMessages))
	mux.HandleFunc("POST /api/messages/{id}", s.requireAuth(s.sendToConversation))
	mux.HandleFunc("POST /api/messages/to/{handle}", s.requireAuth(s.sendToHandle))

	// 事实
	mux.HandleFunc("GET /api/facts/templates", s.listTemplates)
	mux.HandleFunc("POST /api/facts", s.requireAuth(s.createFact))
	mux.HandleFunc("GET /api/facts/pending-veto", s.requireAuth(s.pendingVeto))
	mux.HandleFunc("GET /api/facts/pending-veto/count", s.requireAuth(s.pendingVetoCount))
	mux.HandleFunc("GET /api/facts/user/{handle}", s.optionalAuth(s.listFactsByAuthor))
	mux.HandleFunc("GET /api/facts/about/{handle}", s.optionalAuth(s.listFactsAboutUser))
	mux.HandleFunc("DELETE /api/facts/{id}", s.requireAuth(s.deleteOrVetoFact))
	mux.HandleFunc("POST /api/facts/{id}/approve", s.requireAuth(s.approveFact))
	mux.HandleFunc("POST /api/facts/{id}/vote", s.requireAuth(s.voteFact))
	mux.HandleFunc("DELETE /api/facts/{id}/vote", s.requireAuth(s.unvoteFact))

	// 信息流
	mux.HandleFunc("GET /api/posts", s.optionalAuth(s.listPosts))
	mux.HandleFunc("POST /api/posts", s.requireAuth(s.createPost))
	mux.HandleFunc("GET /api/posts/{id}", s.optionalAuth(s.getPost))
	mux.HandleFunc("DELETE /api/posts/{id}", s.requireAuth(s.deletePost))
	mux.HandleFunc("POST /api/posts/{id}/reply", s.requireAuth(s.replyPost))
	mux.HandleFunc("POST /api/posts/{id}/vote", s.requireAuth(s.votePost))
	mux.HandleFunc("DELETE /api/posts/{id}/vote", s.requireAuth(s.unvotePost))
	mux.HandleFunc("PUT /api/posts/{id}/visibility", s.requireAuth(s.changePostVisibility))
	mux.HandleFunc("POST /api/posts/{id}/report", s.requireAuth(s.reportPost))

	// 页面
	mux.HandleFunc("POST /api/pages", s.requireAuth(s.createPage))
	mux.HandleFunc("GET /api/pages/{handle}", s.optionalAuth(s.getPage))
	mux.HandleFunc("PATCH /api/pages/{handle}", s.requireAuth(s.renamePage))
	mux.HandleFunc("GET /api/pages/{handle}/facts", s.optionalAuth(s.listPageFacts))
	mux.HandleFunc("POST /api/pages/{handle}/follow", s.requireAuth(s.followPage))
	mux.HandleFunc("DELETE /api/pages/{handle}/follow", s.requireAuth(s.unfollowPage))
	mux.HandleFunc("POST /api/pages/{handle}/editors", s.requireAuth(s.invitePageEditor))
	mux.HandleFunc("POST /api/pages/{handle}/editors/accept", s.requireAuth(s.acceptPageEditorInvite))

	// 档案
	mux.HandleFunc("GET /api/me", s.requireAuth(s.me))
	mux.HandleFunc("PATCH /api/me", s.requireAuth(s.updateProfile))
	mux.HandleFunc("DELETE /api/me", s.requireAuth(s.deleteMe))
	mux.HandleFunc("GET /api/me/export", s.requireAuth(s.exportMe))
	mux.HandleFunc("GET /api/handle/check", s.requireAuth(s.checkHandle))
	mux.HandleFunc("PUT /api/me/avatar", s.requireAuth(s.setAvatar))
	mux.HandleFunc("DELETE /api/me/avatar", s.requireAuth(s.deleteAvatar))
	mux.HandleFunc("PUT /api/me/cover", s.requireAuth(s.setCover))
	mux.HandleFunc("GET /api/users/{handle}", s.optionalAuth(s.getUser))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ========== 中间件 ==========

type ctxKey int

const userIDKey ctxKey = iota

// middleware 外层：recovery -> 限流 -> 日志/指标
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("handler panic", "path", r.URL.Path, "panic", rec)
				writeError(w, http.StatusInternalServerError, "internal error", service.KindInternal)
			}
		}()

		if s.limiter != nil && !s.limiter.Allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "请求过于频繁", service.KindRateLimited)
			return
		}

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, routePattern(r), rw.status, elapsed)
		}
		slog.Debug("http 请求", "method", r.Method, "path", r.URL.Path, "status", rw.status, "elapsed", elapsed)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// routePattern 指标标签用路由模板而不是原始路径，避免高基数
func routePattern(r *http.Request) string {
	if p := r.Pattern; p != "" {
		if _, after, ok := strings.Cut(p, " "); ok {
			return after
		}
		return p
	}
	return "unmatched"
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if ip, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(ip)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requireAuth 解析 bearer token，未认证直接 401
func (s *Server) requireAuth(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "未认证", service.KindUnauthorized)
			return
		}
		fn(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

// optionalAuth 读接口允许匿名访问，带合法 token 时附上用户身份
func (s *Server) optionalAuth(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.authenticate(r)
		if err == nil {
			r = r.WithContext(context.WithValue(r.Context(), userIDKey, userID))
		}
		fn(w, r)
	}
}

func (s *Server) authenticate(r *http.Request) (int64, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return 0, auth.ErrInvalidToken
	}
	return s.sessions.Authenticate(r.Context(), strings.TrimSpace(token))
}

// currentUser 从请求上下文取用户 ID，匿名时为 0
func currentUser(r *http.Request) int64 {
	if id, ok := r.Context().Value(userIDKey).(int64); ok {
		return id
	}
	return 0
}

// ========== JSON 辅助 ==========

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, code service.Kind) {
	writeJSON(w, status, map[string]any{"error": msg, "code": code})
}

// writeServiceError 把业务错误类别映射为 HTTP 状态码
func writeServiceError(w http.ResponseWriter, err error) {
	kind := service.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case service.KindInvalid:
		status = http.StatusBadRequest
	case service.KindUnauthorized:
		status = http.StatusUnauthorized
	case service.KindForbidden:
		status = http.StatusForbidden
	case service.KindNotFound:
		status = http.StatusNotFound
	case service.KindConflict:
		status = http.StatusConflict
	case service.KindRateLimited:
		status = http.StatusTooManyRequests
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("请求处理失败", "error", err)
		msg = "internal error"
	}
	writeError(w, status, msg, kind)
}

func readJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func queryInt64(r *http.Request, key string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return v
}

func queryInt(r *http.Request, key string) int {
	v, _ := strconv.Atoi(r.URL.Query().Get(key))
	return v
}
