package consensus

import (
	"sync"

	jsoniter "github.com/json-iterator/go"

	"oneshotbft/types"
)

func newEngineMetric() *engineMetric {
	return &engineMetric{
		Tick:            types.LtimeUnset.Int64(),
		State:           StateRunning.String(),
		ProposerAddress: "",
	}
}

// engineMetric 引擎侧的观测数据，写端在tick循环里，读端在rpc
type engineMetric struct {
	mtx sync.RWMutex

	Tick  int64  `json:"current_tick"`
	State string `json:"state"`

	IsProposer      bool   `json:"is_proposer"`
	ProposerAddress string `json:"proposer_address"`

	TreeSize        int `json:"tree_size"`
	AppliedLastSync int `json:"applied_last_sync"`
}

func (em *engineMetric) JSONString() string {
	em.mtx.RLock()
	defer em.mtx.RUnlock()
	s, _ := jsoniter.MarshalToString(em)
	return s
}

func (em *engineMetric) MarkTick(tick types.LTime) {
	em.mtx.Lock()
	em.Tick = tick.Int64()
	em.mtx.Unlock()
}

func (em *engineMetric) MarkState(state State) {
	em.mtx.Lock()
	em.State = state.String()
	em.mtx.Unlock()
}

func (em *engineMetric) MarkProposer(isProposer bool, addr string) {
	em.mtx.Lock()
	em.IsProposer = isProposer
	em.ProposerAddress = addr
	em.mtx.Unlock()
}

func (em *engineMetric) MarkTreeSize(n int) {
	em.mtx.Lock()
	em.TreeSize = n
	em.mtx.Unlock()
}

func (em *engineMetric) MarkAppliedLastSync(n int) {
	em.mtx.Lock()
	em.AppliedLastSync = n
	em.mtx.Unlock()
}
