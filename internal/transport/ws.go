package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lk2023060901/pairchat-go/internal/chat"
	"github.com/lk2023060901/pairchat-go/internal/json"
	"github.com/lk2023060901/pairchat-go/pkg/log"
	"github.com/lk2023060901/pairchat-go/pkg/metrics"
	"github.com/lk2023060901/pairchat-go/pkg/util/merr"
)

// outbound 为写往客户端的统一帧结构。
// type 取值 message、ack、error 三种。
type outbound struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id,omitempty"`
	SenderID  int64  `json:"sender_id,omitempty"`
	Body      string `json:"body,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	Timestamp int64  `json:"ts,omitempty"`
	Code      int32  `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// inbound 为客户端上行的消息结构。
type inbound struct {
	Body string `json:"body"`
}

// wsConn 将 gorilla 连接适配为 chat.Conn。
// 消息帧与 ack/error 帧可能来自不同协程，写操作用互斥锁串行化。
type wsConn struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

var _ chat.Conn = (*wsConn)(nil)

func (c *wsConn) WriteFrame(f chat.Frame) error {
	return c.writeOutbound(outbound{
		Type:      "message",
		MessageID: f.MessageID,
		SenderID:  f.SenderID,
		Body:      f.Body,
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
	})
}

func (c *wsConn) writeOutbound(o outbound) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.cfg.AllowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range s.cfg.AllowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
}

// handleChat 处理 WebSocket 聊天接入。
//
// 行为：
//   - 授权失败发生在协议升级之前，以 HTTP 状态码返回；
//   - 接入成功后先补投离线期间缓存的帧，再进入读循环；
//   - 读循环退出路径统一经由 defer 的 DisconnectHandle，保证状态释放。
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	caller, key, err := s.authorize(r)
	if err != nil {
		metrics.ConnectsRejected.WithLabelValues("unauthorized").Inc()
		writeError(w, err)
		return
	}

	raw, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		log.Ctx(r.Context()).Warn("websocket upgrade failed",
			zap.String("pair", key.String()),
			zap.Int64("caller", caller),
			zap.Error(err))
		return
	}

	conn := &wsConn{
		conn:         raw,
		writeTimeout: s.cfg.WriteTimeout,
	}

	sess, err := s.deps.Registry.Connect(r.Context(), key, caller, conn)
	if err != nil {
		conn.writeOutbound(outbound{
			Type:  "error",
			Code:  merr.Code(err),
			Error: merr.StatusOf(err).Msg,
		})
		raw.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connect refused"),
			time.Now().Add(s.cfg.WriteTimeout))
		raw.Close()
		return
	}
	handle, ok := sess.Handle(caller)
	if !ok {
		return
	}
	// 按句柄身份断开：本连接被更新的连接顶替后，延迟清理不会驱逐替代者。
	defer s.deps.Registry.DisconnectHandle(key, caller, handle)

	s.replayPending(sess, handle, caller)
	s.readLoop(raw, conn, handle, key, caller)
}

// replayPending 将对端离线期间缓存的帧补投给刚接入的一方。
func (s *Server) replayPending(sess *chat.Session, handle *chat.Handle, caller chat.UserID) {
	pending := sess.TakePending(caller)
	for _, f := range pending {
		if err := handle.Deliver(f); err != nil {
			log.Warn("replay delivery failed",
				zap.String("pair", sess.Key().String()),
				zap.Int64("user", caller),
				zap.Error(err))
			return
		}
		metrics.ReplayedFrames.Inc()
	}
}

func (s *Server) readLoop(raw *websocket.Conn, conn *wsConn, handle *chat.Handle, key chat.PairKey, caller chat.UserID) {
	pongWait := 2 * s.cfg.HeartbeatInterval
	raw.SetReadLimit(s.cfg.MaxMessageSize)
	raw.SetReadDeadline(time.Now().Add(pongWait))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// 心跳协程：WriteControl 允许与数据写并发调用。
	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(s.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-handle.Context().Done():
				return
			case <-ticker.C:
				raw.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout))
			}
		}
	}()

	for {
		_, payload, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read ended",
					zap.String("pair", key.String()),
					zap.Int64("user", caller),
					zap.Error(err))
			}
			return
		}

		var in inbound
		if err := json.Unmarshal(payload, &in); err != nil || in.Body == "" {
			// 兼容纯文本客户端。
			in.Body = string(payload)
		}

		frame, err := s.deps.Router.Route(handle.Context(), key, caller, in.Body)
		if err != nil {
			conn.writeOutbound(outbound{
				Type:  "error",
				Code:  merr.Code(err),
				Error: merr.StatusOf(err).Msg,
			})
			continue
		}
		conn.writeOutbound(outbound{
			Type:      "ack",
			MessageID: frame.MessageID,
			Seq:       frame.Seq,
			Timestamp: frame.Timestamp,
		})
	}
}
