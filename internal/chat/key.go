package chat

import (
	"fmt"

	"github.com/lk2023060901/pairchat-go/pkg/util/merr"
)

// PairKey 唯一标识两位已配对用户之间的聊天关系。
//
// 说明：
//   - 键与方向无关，构造时统一规范化为 (Low, High)，Low < High；
//   - 自配对与非正数用户 ID 均为非法键。
type PairKey struct {
	Low  UserID
	High UserID
}

// NewPairKey 由任意顺序的两个用户 ID 构造规范化的 PairKey。
func NewPairKey(a, b UserID) (PairKey, error) {
	if a <= 0 || b <= 0 {
		return PairKey{}, merr.WrapErrPairKeyInvalid(a, b, "user id must be positive")
	}
	if a == b {
		return PairKey{}, merr.WrapErrPairKeyInvalid(a, b, "self pair is not allowed")
	}
	if a > b {
		a, b = b, a
	}
	return PairKey{Low: a, High: b}, nil
}

// Contains 判断用户是否属于该配对。
func (k PairKey) Contains(id UserID) bool {
	return id == k.Low || id == k.High
}

// Peer 返回 id 在该配对中的对端用户。
// 当 id 不属于该配对时，第二个返回值为 false。
func (k PairKey) Peer(id UserID) (UserID, bool) {
	switch id {
	case k.Low:
		return k.High, true
	case k.High:
		return k.Low, true
	default:
		return 0, false
	}
}

func (k PairKey) String() string {
	return fmt.Sprintf("%d:%d", k.Low, k.High)
}
