package metric

import (
	"errors"
	"sync"
)

var (
	ErrMetricLabelExist = errors.New("metric label already exist")
)

func NewSet() *Set {
	return &Set{
		metrics: make(map[string]Item),
	}
}

type Set struct {
	mtx     sync.RWMutex
	metrics map[string]Item
}

// Register - 按label注册一个Item，label已存在时返回error
func (ms *Set) Register(label string, item Item) error {
	if ms.Has(label) {
		return ErrMetricLabelExist
	}

	ms.mtx.Lock()
	ms.metrics[label] = item
	ms.mtx.Unlock()
	return nil
}

func (ms *Set) Has(label string) bool {
	ms.mtx.RLock()
	_, existed := ms.metrics[label]
	ms.mtx.RUnlock()
	return existed
}

func (ms *Set) Get(label string) Item {
	ms.mtx.RLock()
	defer ms.mtx.RUnlock()

	return ms.metrics[label]
}

func (ms *Set) Labels() []string {
	ms.mtx.RLock()
	defer ms.mtx.RUnlock()

	keys := make([]string, 0, len(ms.metrics))
	for k := range ms.metrics {
		keys = append(keys, k)
	}
	return keys
}

// JSONStrings label到对应metric JSON串的快照
func (ms *Set) JSONStrings() map[string]string {
	ms.mtx.RLock()
	defer ms.mtx.RUnlock()

	out := make(map[string]string, len(ms.metrics))
	for label, item := range ms.metrics {
		out[label] = item.JSONString()
	}
	return out
}
