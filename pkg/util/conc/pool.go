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
	"fmt"
	"sync"

	ants "github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-netser/pkg/log"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

// Pool 是对 ants.Pool 的泛型封装，Submit 返回可等待结果的 Future。
type Pool[T any] struct {
	inner *ants.Pool
	opt   *poolOption
}

// NewPool 创建容量为 cap 的协程池，cap <= 0 时返回错误。
func NewPool[T any](cap int, opts ...PoolOption) (*Pool[T], error) {
	if cap <= 0 {
		return nil, merr.WrapErrInvalidArgument(fmt.Sprintf("pool cap %d", cap))
	}
	opt := &poolOption{}
	for _, o := range opts {
		o(opt)
	}
	pool, err := ants.NewPool(cap, opt.antsOptions()...)
	if err != nil {
		return nil, err
	}
	return &Pool[T]{
		inner: pool,
		opt:   opt,
	}, nil
}

// Submit 提交一个任务。
// 提交失败（例如非阻塞模式下池已满）时，返回的 Future 会直接携带错误；
// 任务 panic 时 Future 携带 merr.ErrTaskPanicked。
func (pool *Pool[T]) Submit(method func() (T, error)) *Future[T] {
	future := newFuture[T]()
	err := pool.inner.Submit(func() {
		defer close(future.ch)
		defer func() {
			if v := recover(); v != nil {
				log.Error("conc pool task panicked", zap.Any("panic", v), zap.Stack("stack"))
				future.err = merr.WrapErrTaskPanicked(v)
			}
		}()
		if pool.opt.preHandler != nil {
			pool.opt.preHandler()
		}
		res, err := method()
		if err != nil {
			future.err = err
		} else {
			future.value = res
		}
	})
	if err != nil {
		future.err = err
		close(future.ch)
	}
	return future
}

func (pool *Pool[T]) Cap() int {
	return pool.inner.Cap()
}

func (pool *Pool[T]) Running() int {
	return pool.inner.Running()
}

func (pool *Pool[T]) Release() {
	pool.inner.Release()
}

// Future 表示一个异步任务的结果。
type Future[T any] struct {
	ch    chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{
		ch: make(chan struct{}),
	}
}

// Completed 返回一个已经结束的 Future，用于同步路径与异步路径共用同一个等待点。
func Completed[T any](value T, err error) *Future[T] {
	future := newFuture[T]()
	future.value = value
	future.err = err
	close(future.ch)
	return future
}

// Await 阻塞等待任务结束；可重复调用，结束后立即返回相同结果。
func (future *Future[T]) Await() (T, error) {
	<-future.ch
	return future.value, future.err
}

// Done 判断任务是否已经结束，不会阻塞。
func (future *Future[T]) Done() bool {
	select {
	case <-future.ch:
		return true
	default:
		return false
	}
}

// Inner 返回任务结束时关闭的通道。
func (future *Future[T]) Inner() <-chan struct{} {
	return future.ch
}

var (
	defaultPoolOnce sync.Once
	defaultPool     *Pool[any]
)

// DefaultPool 返回进程级共享的小容量协程池，用于一次性的后台任务。
func DefaultPool() *Pool[any] {
	defaultPoolOnce.Do(func() {
		pool, err := NewPool[any](4)
		if err != nil {
			panic(err)
		}
		defaultPool = pool
	})
	return defaultPool
}
