package payload

import (
	"errors"
	"sync"

	"github.com/tendermint/tendermint/crypto/tmhash"
	"github.com/tendermint/tendermint/libs/log"
)

var (
	ErrPayloadInPool = errors.New("payload already in pool")
	ErrPoolFull      = errors.New("payload pool is full")
	ErrEmptyPayload  = errors.New("payload is empty")
)

const defaultMaxPayloads = 1024

// Pool 候选结论的队列，给指定proposer供料
//
// 宿主往里塞候选payload，engine出提案时取最早进场的那个。一轮决议
// 只会用掉一个payload，所以Best不出队：同一个实例反复读到同一个
// 候选，重提案时结论保持稳定。
type Pool struct {
	mtx sync.Mutex

	// 按到达顺序
	payloads [][]byte
	seen     map[string]bool

	maxPayloads int

	logger log.Logger
}

type PoolOption func(*Pool)

func WithMaxPayloads(max int) PoolOption {
	return func(p *Pool) {
		p.maxPayloads = max
	}
}

func NewPool(options ...PoolOption) *Pool {
	p := &Pool{
		seen:        make(map[string]bool),
		maxPayloads: defaultMaxPayloads,
		logger:      log.NewNopLogger(),
	}
	for _, option := range options {
		option(p)
	}
	return p
}

func (p *Pool) SetLogger(logger log.Logger) {
	p.logger = logger
}

// Push 按hash去重地入队一个候选payload
func (p *Pool) Push(payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()

	key := string(tmhash.Sum(payload))
	if p.seen[key] {
		return ErrPayloadInPool
	}
	if len(p.payloads) >= p.maxPayloads {
		return ErrPoolFull
	}

	p.seen[key] = true
	cp := make([]byte, len(payload))
	copy(cp, payload)
	p.payloads = append(p.payloads, cp)
	p.logger.Debug("payload queued", "size", len(cp), "pool", len(p.payloads))
	return nil
}

// Best 最早到达的候选，队列为空返回nil；不出队
func (p *Pool) Best() []byte {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if len(p.payloads) == 0 {
		return nil
	}
	return p.payloads[0]
}

func (p *Pool) Size() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return len(p.payloads)
}

// Flush 清空队列和去重cache
func (p *Pool) Flush() {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.payloads = nil
	p.seen = make(map[string]bool)
}
