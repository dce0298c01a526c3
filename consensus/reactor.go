package consensus

import (
	"errors"
	"time"

	"github.com/tendermint/tendermint/libs/cmap"
	tmjson "github.com/tendermint/tendermint/libs/json"
	"github.com/tendermint/tendermint/p2p"

	"oneshotbft/store"
)

const (
	DiffRequestChannel  = byte(0x40)
	DiffResponseChannel = byte(0x41)

	maxMsgSize = 1048576 // 1MB，和MaxDiffBytes保持一致

	// 单次diff交换等待对端应答的上限，超过按丢包处理
	diffExchangeTimeout = 1500 * time.Millisecond
)

var (
	ErrPeerGone    = errors.New("peer is no longer connected")
	ErrDiffTimeout = errors.New("timed out waiting for diff response")
	ErrSendFailed  = errors.New("peer send buffer is full")
)

// Reactor 把SyncProtocol要求的Network能力落到tendermint p2p上
//
// 两条channel：请求channel带着本地tips问对端要diff，应答channel
// 回运ancestor-complete的消息序列。收到的请求立刻用本地树应答，
// 同时记下对端的tips供对称推送。没有对应等待方的应答直接进树——
// 反正插入是幂等的。
type Reactor struct {
	p2p.BaseReactor

	store *store.MessageStore

	peers *cmap.CMap
	// peerID -> 对端最近一次请求，对称推送用
	lastReqs *cmap.CMap
	// peerID -> chan *DiffResponse，正在等应答的本地请求
	waiting *cmap.CMap
}

func NewReactor(s *store.MessageStore) *Reactor {
	r := &Reactor{
		store:    s,
		peers:    cmap.NewCMap(),
		lastReqs: cmap.NewCMap(),
		waiting:  cmap.NewCMap(),
	}
	r.BaseReactor = *p2p.NewBaseReactor("DecideReactor", r)
	return r
}

func (r *Reactor) GetChannels() []*p2p.ChannelDescriptor {
	return []*p2p.ChannelDescriptor{
		{
			ID:                 DiffRequestChannel,
			Priority:           5,
			SendQueueCapacity:  100,
			RecvBufferCapacity: maxMsgSize,
		},
		{
			ID:                 DiffResponseChannel,
			Priority:           10,
			SendQueueCapacity:  100,
			RecvBufferCapacity: maxMsgSize,
		},
	}
}

func (r *Reactor) AddPeer(peer p2p.Peer) {
	r.peers.Set(string(peer.ID()), peer)
	r.Logger.Info("peer joined diff exchange", "peer", peer.ID())
}

func (r *Reactor) RemovePeer(peer p2p.Peer, reason interface{}) {
	r.peers.Delete(string(peer.ID()))
	r.lastReqs.Delete(string(peer.ID()))
	r.Logger.Info("peer left diff exchange", "peer", peer.ID(), "reason", reason)
}

func (r *Reactor) Receive(chID byte, src p2p.Peer, msgBytes []byte) {
	if !r.IsRunning() {
		return
	}

	switch chID {
	case DiffRequestChannel:
		var req DiffRequest
		if err := tmjson.Unmarshal(msgBytes, &req); err != nil {
			r.Logger.Error("bad diff request", "peer", src.ID(), "err", err)
			return
		}
		r.lastReqs.Set(string(src.ID()), &req)

		maxBytes := req.MaxBytes
		if maxBytes <= 0 || maxBytes > MaxDiffBytes {
			maxBytes = MaxDiffBytes
		}
		resp := &DiffResponse{Messages: r.store.ComputeDiff(req.Tips, maxBytes)}
		bz, err := tmjson.Marshal(resp)
		if err != nil {
			r.Logger.Error("failed to marshal diff response", "err", err)
			return
		}
		src.Send(DiffResponseChannel, bz)

	case DiffResponseChannel:
		var resp DiffResponse
		if err := tmjson.Unmarshal(msgBytes, &resp); err != nil {
			r.Logger.Error("bad diff response", "peer", src.ID(), "err", err)
			return
		}
		if ch, ok := r.waiting.Get(string(src.ID())).(chan *DiffResponse); ok {
			select {
			case ch <- &resp:
				return
			default:
			}
		}
		// 没人在等就直接进树，幂等插入吃掉重复
		r.store.ApplyDiff(resp.Messages)

	default:
		r.Logger.Error("unknown channel", "chID", chID)
	}
}

//------------------------------------------------------------
// engine-facing Network + Pusher

var (
	_ Network = (*Reactor)(nil)
	_ Pusher  = (*Reactor)(nil)
)

func (r *Reactor) Peers() []PeerID {
	keys := r.peers.Keys()
	ids := make([]PeerID, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, PeerID(k))
	}
	return ids
}

func (r *Reactor) GetDiffFromPeer(peerID PeerID, req *DiffRequest) (*DiffResponse, error) {
	peer, ok := r.peers.Get(string(peerID)).(p2p.Peer)
	if !ok {
		return nil, ErrPeerGone
	}
	bz, err := tmjson.Marshal(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan *DiffResponse, 1)
	r.waiting.Set(string(peerID), ch)
	defer r.waiting.Delete(string(peerID))

	if !peer.Send(DiffRequestChannel, bz) {
		return nil, ErrSendFailed
	}

	timer := time.NewTimer(diffExchangeTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return nil, ErrDiffTimeout
	}
}

func (r *Reactor) NextDiffReq(peerID PeerID) (*DiffRequest, bool) {
	req, ok := r.lastReqs.Get(string(peerID)).(*DiffRequest)
	if !ok {
		return nil, false
	}
	r.lastReqs.Delete(string(peerID))
	return req, true
}

func (r *Reactor) PushDiffToPeer(peerID PeerID, resp *DiffResponse) error {
	peer, ok := r.peers.Get(string(peerID)).(p2p.Peer)
	if !ok {
		return ErrPeerGone
	}
	bz, err := tmjson.Marshal(resp)
	if err != nil {
		return err
	}
	if !peer.Send(DiffResponseChannel, bz) {
		return ErrSendFailed
	}
	return nil
}
