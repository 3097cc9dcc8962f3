package transport

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lk2023060901/pairchat-go/internal/chat"
	"github.com/lk2023060901/pairchat-go/internal/collab"
	"github.com/lk2023060901/pairchat-go/internal/json"
	"github.com/lk2023060901/pairchat-go/pkg/log"
	"github.com/lk2023060901/pairchat-go/pkg/util/merr"
)

// Deps 为接入层依赖的核心组件。
type Deps struct {
	Identity collab.IdentityProvider
	Gate     *chat.Gate
	Registry *chat.Registry
	Router   *chat.Router
	Presence *chat.Presence
}

// Server 为 WebSocket 聊天接入服务。
//
// 接入顺序固定为：凭证解析 → 成员校验 → 配对授权 → 注册表接入，
// 任何一步失败都不会在注册表中留下状态。
type Server struct {
	cfg  Config
	deps Deps

	httpSrv *http.Server
}

// NewServer 创建接入服务。
func NewServer(cfg Config, deps Deps) *Server {
	cfg.fillDefaults()
	s := &Server{
		cfg:  cfg,
		deps: deps,
	}
	s.httpSrv = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.Handler(),
	}
	return s
}

// Handler 返回完整的路由处理器，测试可直接挂到 httptest 上。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /chat/{userA}/{userB}", s.handleChat)
	mux.HandleFunc("GET /chat/{userA}/{userB}/history", s.handleHistory)
	mux.HandleFunc("GET /presence/{userID}", s.handlePresence)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Serve 启动监听并阻塞直到服务关闭。
func (s *Server) Serve() error {
	log.Info("transport server listening", zap.String("addr", s.cfg.Addr))
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown 优雅关闭：停止接受新连接并关闭全部会话。
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	s.deps.Registry.CloseAll()
	return err
}

// credential 从 Authorization 头或 token 查询参数中提取凭证。
func credential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
		return auth
	}
	return r.URL.Query().Get("token")
}

// authorize 执行身份解析、成员校验与配对授权，返回调用方身份与配对键。
func (s *Server) authorize(r *http.Request) (chat.UserID, chat.PairKey, error) {
	userA, errA := strconv.ParseInt(r.PathValue("userA"), 10, 64)
	userB, errB := strconv.ParseInt(r.PathValue("userB"), 10, 64)
	if errA != nil || errB != nil {
		return 0, chat.PairKey{}, merr.WrapErrPairKeyInvalid(userA, userB, "path segments must be integers")
	}
	key, err := chat.NewPairKey(userA, userB)
	if err != nil {
		return 0, chat.PairKey{}, err
	}

	caller, err := s.deps.Identity.Resolve(r.Context(), credential(r))
	if err != nil {
		return 0, chat.PairKey{}, err
	}
	if !key.Contains(caller) {
		return 0, chat.PairKey{}, merr.WrapErrIdentityMismatch(caller, key)
	}

	if err := s.deps.Gate.Authorized(r.Context(), key); err != nil {
		return 0, chat.PairKey{}, err
	}
	return caller, key, nil
}

// httpStatusOf 将领域错误映射为 HTTP 状态码。
func httpStatusOf(err error) int {
	switch merr.Code(err) {
	case merr.Code(merr.ErrPairKeyInvalid), merr.Code(merr.ErrParameterInvalid), merr.Code(merr.ErrParameterMissing):
		return http.StatusBadRequest
	case merr.Code(merr.ErrIdentityInvalid):
		return http.StatusUnauthorized
	case merr.Code(merr.ErrIdentityMismatch), merr.Code(merr.ErrPairNotMatched):
		return http.StatusForbidden
	case merr.Code(merr.ErrHandleAlreadyConnected):
		return http.StatusConflict
	case merr.Code(merr.ErrMatchLookupFailed), merr.Code(merr.ErrHistoryUnavailable), merr.Code(merr.ErrServiceNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatusOf(err), merr.StatusOf(err))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type historyResponse struct {
	Pair     string       `json:"pair"`
	Messages []chat.Frame `json:"messages"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	caller, key, err := s.authorize(r)
	if err != nil {
		writeError(w, err)
		return
	}

	limit := s.cfg.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, merr.WrapErrParameterInvalidMsg("limit must be a positive integer, got %q", raw))
			return
		}
		if n < limit {
			limit = n
		}
	}

	recs, err := s.deps.Router.History(r.Context(), key, limit)
	if err != nil {
		log.Ctx(r.Context()).Warn("history fetch failed",
			zap.String("pair", key.String()),
			zap.Int64("caller", caller),
			zap.Error(err))
		writeError(w, err)
		return
	}

	frames := make([]chat.Frame, 0, len(recs))
	for _, rec := range recs {
		frames = append(frames, rec.Frame())
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Pair:     key.String(),
		Messages: frames,
	})
}

type presenceResponse struct {
	UserID   int64    `json:"user_id"`
	Present  bool     `json:"present"`
	Sessions []string `json:"sessions"`
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Identity.Resolve(r.Context(), credential(r)); err != nil {
		writeError(w, err)
		return
	}

	userID, err := strconv.ParseInt(r.PathValue("userID"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, merr.WrapErrParameterInvalidMsg("user id must be a positive integer"))
		return
	}

	sessions := s.deps.Presence.ActiveSessionsOf(userID)
	keys := make([]string, 0, sessions.Len())
	sessions.Range(func(key chat.PairKey) bool {
		keys = append(keys, key.String())
		return true
	})
	writeJSON(w, http.StatusOK, presenceResponse{
		UserID:   userID,
		Present:  len(keys) > 0,
		Sessions: keys,
	})
}
