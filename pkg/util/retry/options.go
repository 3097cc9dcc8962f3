// Copyright (C) 2019-2020 Zilliz. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package retry

import "time"

type config struct {
	attempts     uint
	sleep        time.Duration
	maxSleepTime time.Duration
	isRetryErr   func(err error) bool
}

func newDefaultConfig() *config {
	return &config{
		attempts:     uint(10),
		sleep:        200 * time.Millisecond,
		maxSleepTime: 3 * time.Second,
	}
}

// Option 用于配置重试行为的选项函数。
type Option func(*config)

// Attempts 设置最大尝试次数（含首次调用）。
func Attempts(attempts uint) Option {
	return func(c *config) {
		c.attempts = attempts
	}
}

// AttemptAlways 表示不限次数地重试，直到成功或上下文结束。
func AttemptAlways() Option {
	return func(c *config) {
		c.attempts = 0
	}
}

// Sleep 设置初始休眠时间，后续按指数退避增长。
func Sleep(sleep time.Duration) Option {
	return func(c *config) {
		c.sleep = sleep
		// 保证最大休眠时间不小于初始值的三倍。
		if c.sleep*3 > c.maxSleepTime {
			c.maxSleepTime = 3 * c.sleep
		}
	}
}

// MaxSleepTime 设置单次休眠的上限。
func MaxSleepTime(maxSleepTime time.Duration) Option {
	return func(c *config) {
		if c.sleep*3 > maxSleepTime {
			c.maxSleepTime = 3 * c.sleep
		} else {
			c.maxSleepTime = maxSleepTime
		}
	}
}

// RetryErr 设置自定义的可重试错误判定函数。
func RetryErr(isRetryErr func(err error) bool) Option {
	return func(c *config) {
		c.isRetryErr = isRetryErr
	}
}
