package chat

import (
	"time"

	"github.com/lk2023060901/pairchat-go/pkg/util/typeutil"
)

// UserID 为聊天用户的唯一标识。
type UserID = typeutil.UniqueID

// Frame 为承载在传输层文本帧之上的应用层消息帧。
//
// 说明：
//   - MessageID 在消息生成时分配一次，重试投递与重试落盘共用同一值，
//     是持久化去重的唯一依据；
//   - Seq 为发送方在当前连接内的单调序号，连接重建后从头计数，
//     仅用于客户端侧排序展示；
//   - Timestamp 为路由时刻的 Unix 毫秒时间戳。
type Frame struct {
	MessageID string `json:"message_id"`
	SenderID  UserID `json:"sender_id"`
	Body      string `json:"body"`
	Seq       uint64 `json:"seq"`
	Timestamp int64  `json:"ts"`
}

// MessageRecord 为写入消息存储的持久化记录。
type MessageRecord struct {
	Key       PairKey   `json:"-"`
	MessageID string    `json:"message_id"`
	SenderID  UserID    `json:"sender_id"`
	Body      string    `json:"body"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
}

// Frame 将持久化记录还原为可投递的消息帧。
func (rec MessageRecord) Frame() Frame {
	return Frame{
		MessageID: rec.MessageID,
		SenderID:  rec.SenderID,
		Body:      rec.Body,
		Seq:       rec.Seq,
		Timestamp: rec.Timestamp.UnixMilli(),
	}
}
