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

package conc

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestPoolSubmit(t *testing.T) {
	pool := NewPool[int](4)
	defer pool.Release()

	var sum atomic.Int64
	futures := make([]*Future[int], 0, 16)
	for i := 1; i <= 16; i++ {
		i := i
		futures = append(futures, pool.Submit(func() (int, error) {
			sum.Add(int64(i))
			return i, nil
		}))
	}
	assert.NoError(t, AwaitAll(futures...))
	assert.Equal(t, int64(136), sum.Load())
	for i, f := range futures {
		assert.Equal(t, i+1, f.Value())
	}
}

func TestPoolSubmitError(t *testing.T) {
	pool := NewPool[struct{}](1)
	defer pool.Release()

	expected := errors.New("task failed")
	f := pool.Submit(func() (struct{}, error) {
		return struct{}{}, expected
	})
	_, err := f.Await()
	assert.ErrorIs(t, err, expected)
	assert.False(t, f.OK())
}

func TestPoolCapAndRunning(t *testing.T) {
	pool := NewPool[struct{}](3)
	defer pool.Release()

	assert.Equal(t, 3, pool.Cap())

	block := make(chan struct{})
	f := pool.Submit(func() (struct{}, error) {
		<-block
		return struct{}{}, nil
	})
	assert.Eventually(t, func() bool { return pool.Running() == 1 },
		time.Second, 10*time.Millisecond)
	close(block)
	_, err := f.Await()
	assert.NoError(t, err)
}
