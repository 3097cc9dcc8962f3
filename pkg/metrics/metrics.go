// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	// #nosec
	_ "net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// pairchatNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	pairchatNamespace = "pairchat"

	// 以下为当前使用的通用标签名。
	nodeIDLabelName   = "node_id"
	roleNameLabelName = "role_name"

	resultLabelName   = "result"
	reasonLabelName   = "reason"
	deliveryLabelName = "delivery"
)

var (
	// buckets 为请求耗时直方图的桶划分，单位为秒。
	// 实际桶分布为：
	// [0.001 0.002 0.004 0.008 0.016 0.032 0.064 0.128 0.256 0.512 1.024 2.048 4.096 8.192 16.384 32.768 65.536 131.072]
	buckets = prometheus.ExponentialBuckets(0.001, 2, 18)

	NumNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: pairchatNamespace,
			Name:      "num_node",
			Help:      "number of registered chat nodes",
		}, []string{nodeIDLabelName, roleNameLabelName})

	// ActiveConnections 为当前注册表中存活的连接句柄数。
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: pairchatNamespace,
			Name:      "active_connections",
			Help:      "number of live connection handles in the registry",
		})

	// ActiveSessions 为当前注册表中的会话数。
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: pairchatNamespace,
			Name:      "active_sessions",
			Help:      "number of pair sessions in the registry",
		})

	// ConnectsTotal 按结果统计连接接入次数。
	ConnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: pairchatNamespace,
			Name:      "connects_total",
			Help:      "number of connect attempts by result",
		}, []string{resultLabelName})

	// ConnectsRejected 按原因统计被拒绝的连接接入次数。
	ConnectsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: pairchatNamespace,
			Name:      "connects_rejected_total",
			Help:      "number of rejected connect attempts by reason",
		}, []string{reasonLabelName})

	// HandlesReplaced 为因重复接入而被替换下线的旧句柄数量。
	HandlesReplaced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: pairchatNamespace,
			Name:      "handles_replaced_total",
			Help:      "number of old handles evicted by a newer connection",
		})

	// MessagesRouted 按投递形态统计路由过的消息数量。
	MessagesRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: pairchatNamespace,
			Name:      "messages_routed_total",
			Help:      "number of routed messages by delivery kind (live/offline)",
		}, []string{deliveryLabelName})

	// MessagesPersisted 为成功写入消息存储的消息数量。
	MessagesPersisted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: pairchatNamespace,
			Name:      "messages_persisted_total",
			Help:      "number of messages persisted to the message store",
		})

	// MessagesRejected 为被内容审核拒绝的消息数量。
	MessagesRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: pairchatNamespace,
			Name:      "messages_rejected_total",
			Help:      "number of messages rejected by moderation",
		})

	// PersistFailures 为消息持久化重试耗尽后仍失败的次数。
	PersistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: pairchatNamespace,
			Name:      "persist_failures_total",
			Help:      "number of message persist operations that failed after retries",
		})

	// PersistRetries 为消息持久化触发重试的次数。
	PersistRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: pairchatNamespace,
			Name:      "persist_retries_total",
			Help:      "number of message persist retries",
		})

	// ReplayedFrames 为接入时从回放缓冲补投的帧数量。
	ReplayedFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: pairchatNamespace,
			Name:      "replayed_frames_total",
			Help:      "number of frames replayed to a reconnecting party",
		})

	// RouteLatency 为 Route 调用耗时直方图，单位秒。
	RouteLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: pairchatNamespace,
			Name:      "route_latency_seconds",
			Help:      "latency of message routing in seconds",
			Buckets:   buckets,
		})

	metricRegisterer prometheus.Registerer
)

// GetRegisterer 返回全局 Prometheus Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 注册当前定义的所有指标。
// 通常应在 init 函数中调用。
func Register(r prometheus.Registerer) {
	r.MustRegister(NumNodes)
	r.MustRegister(ActiveConnections)
	r.MustRegister(ActiveSessions)
	r.MustRegister(ConnectsTotal)
	r.MustRegister(ConnectsRejected)
	r.MustRegister(HandlesReplaced)
	r.MustRegister(MessagesRouted)
	r.MustRegister(MessagesPersisted)
	r.MustRegister(MessagesRejected)
	r.MustRegister(PersistFailures)
	r.MustRegister(PersistRetries)
	r.MustRegister(ReplayedFrames)
	r.MustRegister(RouteLatency)
	metricRegisterer = r
}
