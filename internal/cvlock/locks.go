// Package cvlock 提供按简历 ID 划分的互斥锁，编辑与读取路径上的补齐、修复共用同一组锁。
package cvlock

import "sync"

// Locks 为每个简历 ID 提供一把互斥锁，不再使用的锁会被回收。
type Locks struct {
	mu    sync.Mutex
	locks map[uint]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

// New 创建空的锁表。
func New() *Locks {
	return &Locks{locks: make(map[uint]*refLock)}
}

// Lock 获取 id 对应的锁，返回释放函数。
func (k *Locks) Lock(id uint) func() {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &refLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

// Size 返回当前被持有或等待中的锁数量。
func (k *Locks) Size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
