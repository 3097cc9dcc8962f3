package chat

import (
	"context"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/pairchat-go/pkg/log"
	"github.com/lk2023060901/pairchat-go/pkg/util/merr"
)

// Conn 抽象一条底层传输连接。
// 实现方负责具体的帧编码（如 WebSocket 文本帧）。
type Conn interface {
	// WriteFrame 将一帧消息写入底层连接。
	WriteFrame(f Frame) error
	// Close 关闭底层连接，可重复调用。
	Close() error
}

// Handle 表示某个用户在某个配对会话中的一条活跃连接。
//
// 行为：
//   - 出站帧先进入 sendQueue，由独立的 sendLoop 协程按序写出，
//     保证单个句柄上的投递顺序；
//   - 写出失败视为连接不可用，句柄立即转为关闭状态；
//   - Close 幂等，关闭后 Deliver 直接报错。
type Handle struct {
	key  PairKey
	user UserID
	conn Conn

	ctx    context.Context
	cancel context.CancelFunc

	sendQueue chan Frame
	alive     *atomic.Bool
	seq       *atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

func newHandle(ctx context.Context, key PairKey, user UserID, conn Conn, queueSize int) *Handle {
	if queueSize <= 0 {
		queueSize = 64
	}
	hctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		key:       key,
		user:      user,
		conn:      conn,
		ctx:       hctx,
		cancel:    cancel,
		sendQueue: make(chan Frame, queueSize),
		alive:     atomic.NewBool(true),
		seq:       atomic.NewUint64(0),
		done:      make(chan struct{}),
	}
	go h.sendLoop()
	return h
}

// Key 返回句柄所属的配对键。
func (h *Handle) Key() PairKey {
	return h.key
}

// User 返回句柄所属的用户。
func (h *Handle) User() UserID {
	return h.user
}

// Alive 返回句柄是否仍可投递。
func (h *Handle) Alive() bool {
	return h.alive.Load()
}

// Context 返回与句柄生命周期绑定的上下文。
func (h *Handle) Context() context.Context {
	return h.ctx
}

// NextSeq 分配下一个发送序号。
func (h *Handle) NextSeq() uint64 {
	return h.seq.Inc()
}

// Deliver 将一帧消息排入出站队列。
// 队列满时阻塞等待，句柄关闭后返回 ErrTransportClosed。
func (h *Handle) Deliver(f Frame) error {
	if !h.alive.Load() {
		return merr.WrapErrTransportClosed(h.key, h.user)
	}
	select {
	case h.sendQueue <- f:
		return nil
	case <-h.ctx.Done():
		return merr.WrapErrTransportClosed(h.key, h.user)
	}
}

// Close 关闭句柄与底层连接，幂等。
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.alive.Store(false)
		h.cancel()
		if err := h.conn.Close(); err != nil {
			log.Debug("close handle conn",
				zap.String("pair", h.key.String()),
				zap.Int64("user", h.user),
				zap.Error(err))
		}
	})
	<-h.done
}

// sendLoop 消费出站队列并写入底层连接。
func (h *Handle) sendLoop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			return
		case f := <-h.sendQueue:
			if err := h.conn.WriteFrame(f); err != nil {
				log.Warn("handle write frame failed, closing",
					zap.String("pair", h.key.String()),
					zap.Int64("user", h.user),
					zap.Uint64("seq", f.Seq),
					zap.Error(err))
				h.alive.Store(false)
				h.cancel()
				h.conn.Close()
				return
			}
		}
	}
}
