// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package voting

import (
	"context"
	"sync"
)

// LockManager serializes ballot box operations per target. Each key maps to
// a single slot channel acting as a mutex, so waiters can give up when their
// context is cancelled.
type LockManager struct {
	mutex sync.Mutex
	locks map[string]*targetLock
}

type targetLock struct {
	ch   chan struct{}
	refs int
}

func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*targetLock),
	}
}

// Acquire blocks until the lock for key is held or the context is done. The
// returned function releases the lock and is safe to call more than once.
func (l *LockManager) Acquire(
	ctx context.Context,
	key string,
) (func(), error) {
	l.mutex.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &targetLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lock
	}
	lock.refs++
	l.mutex.Unlock()
	select {
	case lock.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-lock.ch
				l.release(key, lock)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, lock)
		return nil, ctx.Err()
	}
}

func (l *LockManager) release(key string, lock *targetLock) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, key)
	}
}

// defaultLockManager covers ballot boxes that are not handed a manager of
// their own.
var defaultLockManager = NewLockManager()
