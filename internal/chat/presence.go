package chat

import (
	"github.com/lk2023060901/pairchat-go/pkg/util/typeutil"
)

// Presence 基于注册表提供派生的在线状态视图。
// 不维护独立状态，结果完全由注册表当前内容推导。
type Presence struct {
	reg *Registry
}

// NewPresence 创建在线状态视图。
func NewPresence(reg *Registry) *Presence {
	return &Presence{reg: reg}
}

// IsPresent 判断用户当前是否持有任一存活句柄。
func (p *Presence) IsPresent(user UserID) bool {
	present := false
	p.reg.Range(func(sess *Session) bool {
		if h, ok := sess.Handle(user); ok && h.Alive() {
			present = true
			return false
		}
		return true
	})
	return present
}

// ActiveSessionsOf 返回用户当前活跃的全部配对键。
func (p *Presence) ActiveSessionsOf(user UserID) typeutil.Set[PairKey] {
	keys := typeutil.NewSet[PairKey]()
	p.reg.Range(func(sess *Session) bool {
		if h, ok := sess.Handle(user); ok && h.Alive() {
			keys.Insert(sess.Key())
		}
		return true
	})
	return keys
}

// OnlineUsers 返回当前持有存活句柄的全部用户。
func (p *Presence) OnlineUsers() typeutil.Set[UserID] {
	users := typeutil.NewSet[UserID]()
	p.reg.Range(func(sess *Session) bool {
		for _, h := range sess.Handles() {
			if h.Alive() {
				users.Insert(h.User())
			}
		}
		return true
	})
	return users
}
