package cluster

import (
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/blang/semver/v4"
	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.etcd.io/etcd/api/v3/mvccpb"
	v3rpc "go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/pairchat-go/internal/json"
	"github.com/lk2023060901/pairchat-go/pkg/log"
	"github.com/lk2023060901/pairchat-go/pkg/metrics"
	"github.com/lk2023060901/pairchat-go/pkg/util/retry"
)

const (
	// DefaultServiceRoot 为节点信息在 etcd 中使用的根路径。
	DefaultServiceRoot = "nodes/"
	// DefaultIDKey 为分配节点 ID 的自增计数器键名。
	DefaultIDKey = "id"

	nodeIDForTestingEnv    = "PAIRCHAT_NODE_ID_FOR_TESTING"
	exitCodeLeaseExpired   = 1
	defaultLeaseTTL        = int64(30)
	defaultRegisterRetries = int64(10)
)

var defaultNodeVersion = semver.MustParse("0.0.0")

// Membership 负责单个节点在 etcd 中的注册与保活，
// 并提供对其他节点上下线的发现能力。
//
// 数据布局：
//   key:   {metaRoot}/nodes/{Role}-{NodeID}
//   value: JSON 序列化后的 NodeInfo，绑定租约。
type Membership struct {
	log.Binder

	NodeInfo

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	etcdCli  *clientv3.Client
	metaRoot string

	registered atomic.Bool

	leaseTTL    int64
	retryTimes  int64
	nodeVersion semver.Version
}

// Option 配置 Membership。
type Option func(*Membership)

// WithTTL 设置租约的 TTL 秒数。
func WithTTL(ttl int64) Option {
	return func(m *Membership) { m.leaseTTL = ttl }
}

// WithRetryTimes 设置注册失败时的重试次数。
func WithRetryTimes(n int64) Option {
	return func(m *Membership) { m.retryTimes = n }
}

// WithVersion 设置节点上报的版本号。
func WithVersion(v semver.Version) Option {
	return func(m *Membership) { m.nodeVersion = v }
}

// NewMembership 创建成员管理对象。metaRoot 为 etcd 中的路径前缀。
func NewMembership(ctx context.Context, metaRoot string, client *clientv3.Client, opts ...Option) *Membership {
	hostName, err := os.Hostname()
	if err != nil {
		log.Ctx(ctx).Error("get host name fail", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(ctx)
	m := &Membership{
		ctx:    ctx,
		cancel: cancel,

		etcdCli:  client,
		metaRoot: metaRoot,

		leaseTTL:    defaultLeaseTTL,
		retryTimes:  defaultRegisterRetries,
		nodeVersion: defaultNodeVersion,
	}
	m.HostName = hostName
	for _, opt := range opts {
		opt(m)
	}
	m.Version = m.nodeVersion
	return m
}

// Init 填充节点的基础信息并分配 NodeID。
func (m *Membership) Init(role, address string) error {
	m.Role = role
	m.Address = address
	m.ensureIDCounter()

	nodeID, err := m.allocNodeID()
	if err != nil {
		return err
	}
	m.NodeID = nodeID

	m.SetLogger(log.With(
		log.FieldComponent("membership"),
		zap.String("role", role),
		zap.Int64("nodeID", nodeID),
		zap.String("address", address),
	))
	return nil
}

// Register 写入节点信息并启动保活循环。
func (m *Membership) Register() error {
	if err := m.registerNode(); err != nil {
		m.Logger().Error("register failed", zap.Error(err))
		return err
	}
	m.registered.Store(true)
	metrics.NumNodes.WithLabelValues(strconv.FormatInt(m.NodeID, 10), m.Role).Inc()
	m.wg.Add(1)
	go m.keepAliveLoop()
	return nil
}

// Registered 返回节点是否已注册。
func (m *Membership) Registered() bool {
	return m.registered.Load()
}

func (m *Membership) nodeKey() string {
	return path.Join(m.metaRoot, DefaultServiceRoot, fmt.Sprintf("%s-%d", m.Role, m.NodeID))
}

// ensureIDCounter 确保 ID 计数器存在，不存在时初始化为 1。
func (m *Membership) ensureIDCounter() {
	key := path.Join(m.metaRoot, DefaultServiceRoot, DefaultIDKey)
	m.etcdCli.Txn(m.ctx).If(
		clientv3.Compare(clientv3.Version(key), "=", 0)).
		Then(clientv3.OpPut(key, "1")).Commit()
}

var allocIDMu sync.Mutex

// allocNodeID 通过 CAS 自增计数器分配全局唯一的节点 ID。
func (m *Membership) allocNodeID() (int64, error) {
	allocIDMu.Lock()
	defer allocIDMu.Unlock()

	if v := os.Getenv(nodeIDForTestingEnv); v != "" {
		log.Info("use node id for testing", zap.String("nodeID", v))
		return strconv.ParseInt(v, 10, 64)
	}

	logger := log.Ctx(m.ctx)
	key := path.Join(m.metaRoot, DefaultServiceRoot, DefaultIDKey)
	for {
		getResp, err := m.etcdCli.Get(m.ctx, key)
		if err != nil {
			logger.Warn("membership get id counter error", zap.String("key", key), zap.Error(err))
			return -1, err
		}
		if getResp.Count <= 0 {
			logger.Warn("membership id counter missing", zap.String("key", key))
			continue
		}
		value := string(getResp.Kvs[0].Value)
		valueInt, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			logger.Warn("membership id counter malformed", zap.String("value", value), zap.Error(err))
			continue
		}
		txnResp, err := m.etcdCli.Txn(m.ctx).If(
			clientv3.Compare(clientv3.Value(key), "=", value)).
			Then(clientv3.OpPut(key, strconv.FormatInt(valueInt+1, 10))).Commit()
		if err != nil {
			logger.Warn("membership id alloc txn failed", zap.String("key", key), zap.Error(err))
			return -1, err
		}
		if !txnResp.Succeeded {
			continue
		}
		logger.Debug("membership allocated node id", zap.Int64("nodeID", valueInt))
		return valueInt, nil
	}
}

// registerNode 以 CAS 形式写入节点信息，失败时按配置重试。
// 发现地址相同但 ID 更小的旧记录时视为节点重启，清理旧记录后重试。
func (m *Membership) registerNode() error {
	completeKey := m.nodeKey()
	m.Logger().Info("node begin to register to etcd")

	registerFn := func() error {
		resp, err := m.etcdCli.Grant(m.ctx, m.leaseTTL)
		if err != nil {
			m.Logger().Error("register node: failed to grant lease from etcd", zap.Error(err))
			return err
		}
		m.LeaseID = &resp.ID

		nodeJSON, err := json.Marshal(&m.NodeInfo)
		if err != nil {
			m.Logger().Error("register node: failed to marshal node info", zap.Error(err))
			return err
		}

		txnResp, err := m.etcdCli.Txn(m.ctx).If(
			clientv3.Compare(clientv3.Version(completeKey), "=", 0)).
			Then(clientv3.OpPut(completeKey, string(nodeJSON), clientv3.WithLease(resp.ID))).Commit()
		if err != nil {
			m.Logger().Warn("register on etcd error, check the availability of etcd", zap.Error(err))
			return err
		}
		if txnResp != nil && !txnResp.Succeeded {
			m.purgeRestartedNode(completeKey)
			return fmt.Errorf("compare-and-swap failed, key already occupied: %s", completeKey)
		}
		m.Logger().Info("node registered successfully", zap.String("key", completeKey))
		return nil
	}
	return retry.Do(m.ctx, registerFn, retry.Attempts(uint(m.retryTimes)))
}

// purgeRestartedNode 清理与当前节点地址相同的旧注册记录。
func (m *Membership) purgeRestartedNode(key string) {
	resp, err := m.etcdCli.Get(m.ctx, key)
	logger := m.Logger().With(zap.String("key", key))
	if err != nil {
		logger.Warn("failed to read old node from etcd, ignore", zap.Error(err))
		return
	}
	for _, kv := range resp.Kvs {
		old := &NodeInfo{}
		if err := json.Unmarshal(kv.Value, old); err != nil {
			logger.Warn("failed to unmarshal old node from etcd, ignore", zap.Error(err))
			return
		}
		if old.Address == m.Address && old.NodeID < m.NodeID {
			logger.Warn("old node record matches current address, assume restart, purge it",
				zap.String("address", old.Address))
			if _, err := m.etcdCli.Delete(m.ctx, key); err != nil {
				logger.Warn("failed to purge old node record, ignore", zap.Error(err))
				return
			}
		}
	}
}

// keepAliveLoop 维持租约存活。KeepAlive 通道断开后按指数退避重建，
// 确认租约已过期时直接退出进程，由进程管理器负责重启。
func (m *Membership) keepAliveLoop() {
	defer func() {
		m.Logger().Info("keep alive loop exited, revoking lease")
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if _, err := m.etcdCli.Revoke(ctx, *m.LeaseID); err != nil {
			m.Logger().Error("failed to revoke lease", zap.Error(err), zap.Int64("leaseID", int64(*m.LeaseID)))
		}
		metrics.NumNodes.WithLabelValues(strconv.FormatInt(m.NodeID, 10), m.Role).Dec()
		m.wg.Done()
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 100 * time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()

	var ch <-chan *clientv3.LeaseKeepAliveResponse
	var lastErr error
	nextKeepaliveInstant := time.Now().Add(time.Duration(m.leaseTTL) * time.Second)

	for {
		if m.ctx.Err() != nil {
			return
		}
		if lastErr != nil {
			wait := bo.NextBackOff()
			m.Logger().Warn("failed to start keep alive, wait for retry",
				zap.Error(lastErr), zap.Duration("backoff", wait))
			select {
			case <-time.After(wait):
			case <-m.ctx.Done():
				return
			}
		}

		if ch == nil {
			if err := m.checkLeaseTTL(nextKeepaliveInstant); err != nil {
				lastErr = err
				continue
			}
			newCh, err := m.etcdCli.KeepAlive(m.ctx, *m.LeaseID)
			if err != nil {
				m.Logger().Error("failed to keep alive with etcd", zap.Error(err))
				lastErr = errors.Wrap(err, "failed to keep alive")
				continue
			}
			m.Logger().Info("keep alive...", zap.Int64("leaseID", int64(*m.LeaseID)))
			ch = newCh
		}

		// 阻塞直到 KeepAlive 通道关闭。
		for range ch {
		}

		ch = nil
		nextKeepaliveInstant = time.Now().Add(time.Duration(m.leaseTTL) * time.Second)
		lastErr = nil
		bo.Reset()
	}
}

// checkLeaseTTL 在重建 KeepAlive 前确认租约仍然有效。
// 租约确认过期意味着节点键已被其他节点观察为下线，此时进程状态不再可信。
func (m *Membership) checkLeaseTTL(nextKeepaliveInstant time.Time) error {
	errExpiredAtClientSide := errors.New("lease expired at client side")
	ctx, cancel := context.WithDeadlineCause(m.ctx, nextKeepaliveInstant, errExpiredAtClientSide)
	defer cancel()

	ttlResp, err := m.etcdCli.TimeToLive(ctx, *m.LeaseID)
	if err != nil {
		if errors.Is(err, v3rpc.ErrLeaseNotFound) {
			m.Logger().Error("lease not found, node expired without active closing", zap.Error(err))
			os.Exit(exitCodeLeaseExpired)
		}
		if ctx.Err() != nil && errors.Is(context.Cause(ctx), errExpiredAtClientSide) {
			m.Logger().Error("lease expired at client side", zap.Error(err))
			os.Exit(exitCodeLeaseExpired)
		}
		return errors.Wrap(err, "failed to check TTL")
	}
	if ttlResp.TTL <= 0 {
		m.Logger().Error("lease confirmed expired, node expired without active closing")
		os.Exit(exitCodeLeaseExpired)
	}
	return nil
}

// GoingStop 将节点标记为即将停止，其他节点可据此停止向其迁移会话。
func (m *Membership) GoingStop() error {
	if m == nil || m.etcdCli == nil || m.LeaseID == nil {
		return errors.New("membership has not been initialized")
	}

	completeKey := m.nodeKey()
	resp, err := m.etcdCli.Get(m.ctx, completeKey, clientv3.WithCountOnly())
	if err != nil {
		m.Logger().Error("fail to get node record", zap.String("key", completeKey), zap.Error(err))
		return err
	}
	if resp.Count == 0 {
		return nil
	}
	m.Stopping = true
	nodeJSON, err := json.Marshal(&m.NodeInfo)
	if err != nil {
		m.Logger().Error("fail to marshal node info", zap.String("key", completeKey))
		return err
	}
	if _, err = m.etcdCli.Put(m.ctx, completeKey, string(nodeJSON), clientv3.WithLease(*m.LeaseID)); err != nil {
		m.Logger().Error("fail to update node to stopping state", zap.String("key", completeKey))
		return err
	}
	return nil
}

// ListNodes 列出指定角色前缀下已注册的全部节点。
// 返回的 Revision 可传给 Watch 以避免遗漏事件。
func (m *Membership) ListNodes(ctx context.Context, role string) (map[string]*NodeInfo, int64, error) {
	return m.listNodes(ctx, role, nil)
}

// ListNodesWithVersionRange 与 ListNodes 类似，但只返回版本落在 r 内的节点。
func (m *Membership) ListNodesWithVersionRange(ctx context.Context, role string, r semver.Range) (map[string]*NodeInfo, int64, error) {
	return m.listNodes(ctx, role, r)
}

func (m *Membership) listNodes(ctx context.Context, role string, r semver.Range) (map[string]*NodeInfo, int64, error) {
	logger := log.Ctx(ctx)
	res := make(map[string]*NodeInfo)
	key := path.Join(m.metaRoot, DefaultServiceRoot, role)
	resp, err := m.etcdCli.Get(ctx, key, clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, 0, err
	}
	for _, kv := range resp.Kvs {
		node := &NodeInfo{}
		if err := json.Unmarshal(kv.Value, node); err != nil {
			return nil, 0, err
		}
		if r != nil && !r(node.Version) {
			logger.Debug("node version out of range",
				zap.String("version", node.Version.String()), zap.Int64("nodeID", node.NodeID))
			continue
		}
		_, mapKey := path.Split(string(kv.Key))
		res[mapKey] = node
	}
	return res, resp.Header.Revision, nil
}

// Watcher 对外暴露节点变更事件流。
type Watcher interface {
	// EventChannel 返回接收节点事件的通道。
	EventChannel() <-chan *Event
	// Stop 停止监听并释放资源。
	Stop()
}

type nodeWatcher struct {
	m         *Membership
	cancel    context.CancelFunc
	rch       clientv3.WatchChan
	eventCh   chan *Event
	role      string
	rewatch   Rewatch
	validate  func(*NodeInfo) bool
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Watch 监听指定角色前缀下节点的上下线变化。
// revision 通常来自 ListNodes 的返回值，用于衔接快照与增量。
func (m *Membership) Watch(role string, revision int64, rewatch Rewatch) Watcher {
	return m.watch(role, revision, rewatch, func(*NodeInfo) bool { return true })
}

// WatchWithVersionRange 与 Watch 类似，仅投递版本落在 r 内的节点事件。
func (m *Membership) WatchWithVersionRange(role string, r semver.Range, revision int64, rewatch Rewatch) Watcher {
	return m.watch(role, revision, rewatch, func(n *NodeInfo) bool { return r(n.Version) })
}

func (m *Membership) watch(role string, revision int64, rewatch Rewatch, validate func(*NodeInfo) bool) Watcher {
	ctx, cancel := context.WithCancel(m.ctx)
	w := &nodeWatcher{
		m:       m,
		cancel:  cancel,
		eventCh: make(chan *Event, 100),
		rch: m.etcdCli.Watch(m.ctx, path.Join(m.metaRoot, DefaultServiceRoot, role),
			clientv3.WithPrefix(), clientv3.WithPrevKV(), clientv3.WithRev(revision)),
		role:     role,
		rewatch:  rewatch,
		validate: validate,
	}
	w.start(ctx)
	return w
}

func (w *nodeWatcher) start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case wresp, ok := <-w.rch:
				if !ok {
					w.closeEventCh()
					log.Warn("node watch channel closed")
					return
				}
				w.handleWatchResponse(wresp)
			}
		}
	}()
}

func (w *nodeWatcher) handleWatchResponse(wresp clientv3.WatchResponse) {
	logger := log.Ctx(context.TODO())
	if wresp.Err() != nil {
		if err := w.handleWatchErr(wresp.Err()); err != nil {
			logger.Error("failed to handle node watch response", zap.Error(err))
			panic(err)
		}
		return
	}
	for _, ev := range wresp.Events {
		node := &NodeInfo{}
		var eventType EventType
		switch ev.Type {
		case mvccpb.PUT:
			if err := json.Unmarshal(ev.Kv.Value, node); err != nil {
				logger.Error("watch nodes: bad put payload", zap.Error(err))
				continue
			}
			if !w.validate(node) {
				continue
			}
			if node.Stopping {
				eventType = UpdateEvent
			} else {
				eventType = AddEvent
			}
		case mvccpb.DELETE:
			if err := json.Unmarshal(ev.PrevKv.Value, node); err != nil {
				logger.Error("watch nodes: bad delete payload", zap.Error(err))
				continue
			}
			if !w.validate(node) {
				continue
			}
			eventType = DelEvent
		}
		logger.Debug("node watch event", zap.Stringer("eventType", eventType), zap.Int64("nodeID", node.NodeID))
		w.eventCh <- &Event{
			EventType: eventType,
			Node:      node,
		}
	}
}

// handleWatchErr 处理 watch 错误。ErrCompacted 时重放当前列表并重建 watch，
// 其余错误直接关闭事件通道，交由上层决定重连策略。
func (w *nodeWatcher) handleWatchErr(err error) error {
	if err != v3rpc.ErrCompacted {
		log.Warn("node watch found error", zap.Error(err))
		w.closeEventCh()
		return err
	}

	nodes, revision, err := w.m.ListNodes(w.m.ctx, w.role)
	if err != nil {
		log.Warn("list nodes before rewatch failed", zap.String("role", w.role), zap.Error(err))
		w.closeEventCh()
		return err
	}
	if w.rewatch == nil {
		log.Warn("node watch compacted but no rewatch logic provided")
	} else {
		err = w.rewatch(nodes)
	}
	if err != nil {
		log.Warn("node rewatch failed", zap.String("role", w.role), zap.Error(err))
		w.closeEventCh()
		return err
	}

	w.rch = w.m.etcdCli.Watch(w.m.ctx, path.Join(w.m.metaRoot, DefaultServiceRoot, w.role),
		clientv3.WithPrefix(), clientv3.WithPrevKV(), clientv3.WithRev(revision))
	return nil
}

func (w *nodeWatcher) closeEventCh() {
	w.closeOnce.Do(func() {
		close(w.eventCh)
	})
}

func (w *nodeWatcher) EventChannel() <-chan *Event {
	return w.eventCh
}

func (w *nodeWatcher) Stop() {
	w.cancel()
	w.wg.Wait()
}

// Stop 注销节点：取消上下文并等待保活循环回收租约。
func (m *Membership) Stop() {
	log.Info("membership stopping", zap.String("role", m.Role), zap.Int64("nodeID", m.NodeID))
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.registered.Store(false)
}
