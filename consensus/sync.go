package consensus

import (
	"github.com/tendermint/tendermint/libs/log"

	"oneshotbft/store"
	"oneshotbft/types"
)

const (
	// 单次diff的字节预算
	MaxDiffBytes = int64(1048576) // 1MB
)

// PeerID 一个可交换diff的对端，具体含义由Network实现决定
type PeerID string

// DiffRequest 携带请求方的tips，应答方据此算出增量
type DiffRequest struct {
	Tips     []types.MessageHash `json:"tips"`
	MaxBytes int64               `json:"max_bytes"`
}

// DiffResponse ancestor-complete的消息序列
type DiffResponse struct {
	Messages []types.Message `json:"messages"`
}

// Network 同步用的最小网络能力
//
// 实现必须保证两个方法都在有限时间内返回：超时用error表达，
// 语义上等同于丢包，绝不会升级成致命错误。协议不假设任何一次
// 交换可靠送达，只要求跨tick的反复尝试最终足够频繁地成功。
type Network interface {
	// Peers 当前可见的对端
	Peers() []PeerID

	// GetDiffFromPeer 把req发给对端并等它的diff，超时返回error
	GetDiffFromPeer(peer PeerID, req *DiffRequest) (*DiffResponse, error)
}

// Pusher 支持对称交换的Network额外实现这个接口：
// NextDiffReq取对端上一次报来的请求，sync轮会把对应的diff推回去
type Pusher interface {
	NextDiffReq(peer PeerID) (*DiffRequest, bool)
	PushDiffToPeer(peer PeerID, resp *DiffResponse) error
}

// SyncProtocol 建立在store的tips/diff/apply之上的反熵过程
// 每个tick跑一轮：对每个对端拉一次diff，能推则把对端要的diff推回去
type SyncProtocol struct {
	store    *store.MessageStore
	network  Network
	maxBytes int64

	logger log.Logger
}

func NewSyncProtocol(s *store.MessageStore, network Network) *SyncProtocol {
	return &SyncProtocol{
		store:    s,
		network:  network,
		maxBytes: MaxDiffBytes,
		logger:   log.NewNopLogger(),
	}
}

func (sp *SyncProtocol) SetLogger(logger log.Logger) {
	sp.logger = logger
}

// Round 跟每个对端交换一轮diff，返回本轮接受的消息总数
// 超时的对端直接跳过，只影响传播速度，不影响正确性
func (sp *SyncProtocol) Round() int {
	applied := 0
	for _, peer := range sp.network.Peers() {
		req := &DiffRequest{
			Tips:     sp.store.Tips(),
			MaxBytes: sp.maxBytes,
		}
		resp, err := sp.network.GetDiffFromPeer(peer, req)
		if err != nil {
			sp.logger.Debug("diff exchange skipped", "peer", peer, "err", err)
		} else if resp != nil {
			applied += sp.store.ApplyDiff(resp.Messages)
		}

		sp.pushBack(peer)
	}
	return applied
}

// pushBack 对称交换：对端之前要过diff就算一份推回去
func (sp *SyncProtocol) pushBack(peer PeerID) {
	pusher, ok := sp.network.(Pusher)
	if !ok {
		return
	}
	req, ok := pusher.NextDiffReq(peer)
	if !ok {
		return
	}
	maxBytes := req.MaxBytes
	if maxBytes <= 0 || maxBytes > sp.maxBytes {
		maxBytes = sp.maxBytes
	}
	diff := sp.store.ComputeDiff(req.Tips, maxBytes)
	if len(diff) == 0 {
		return
	}
	if err := pusher.PushDiffToPeer(peer, &DiffResponse{Messages: diff}); err != nil {
		sp.logger.Debug("diff push skipped", "peer", peer, "err", err)
	}
}
