package chat

import (
	"context"

	"go.uber.org/zap"

	"github.com/lk2023060901/pairchat-go/pkg/log"
	"github.com/lk2023060901/pairchat-go/pkg/util/merr"
)

// MatchStore 查询两位用户是否互为已确认的配对。
type MatchStore interface {
	IsMatched(ctx context.Context, a, b UserID) (bool, error)
}

// Gate 在连接进入注册表之前执行配对授权检查。
//
// 行为：
//   - 不缓存查询结果，授权以配对存储当前状态为准；
//   - 存储查询失败时拒绝接入（fail closed）。
type Gate struct {
	matches MatchStore
}

// NewGate 创建授权检查器。
func NewGate(matches MatchStore) *Gate {
	return &Gate{matches: matches}
}

// Authorized 校验 key 对应的两位用户是否互为配对。
// 未配对返回 ErrPairNotMatched，存储故障返回 ErrMatchLookupFailed。
func (g *Gate) Authorized(ctx context.Context, key PairKey) error {
	ok, err := g.matches.IsMatched(ctx, key.Low, key.High)
	if err != nil {
		log.Ctx(ctx).Warn("match lookup failed, refusing connect",
			zap.String("pair", key.String()),
			zap.Error(err))
		return merr.WrapErrMatchLookupFailed(err)
	}
	if !ok {
		return merr.WrapErrPairNotMatched(key.Low, key.High)
	}
	return nil
}
