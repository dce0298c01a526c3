package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oneshotbft/store"
	"oneshotbft/types"
)

// scriptedNetwork 按剧本应答的Network，带可选的对称推送记录
type scriptedNetwork struct {
	peers     []PeerID
	responses map[PeerID]*DiffResponse
	errs      map[PeerID]error

	reqs   map[PeerID]*DiffRequest
	pushed map[PeerID]*DiffResponse
}

var (
	_ Network = (*scriptedNetwork)(nil)
	_ Pusher  = (*scriptedNetwork)(nil)
)

func (sn *scriptedNetwork) Peers() []PeerID { return sn.peers }

func (sn *scriptedNetwork) GetDiffFromPeer(peer PeerID, req *DiffRequest) (*DiffResponse, error) {
	if err := sn.errs[peer]; err != nil {
		return nil, err
	}
	return sn.responses[peer], nil
}

func (sn *scriptedNetwork) NextDiffReq(peer PeerID) (*DiffRequest, bool) {
	req, ok := sn.reqs[peer]
	delete(sn.reqs, peer)
	return req, ok
}

func (sn *scriptedNetwork) PushDiffToPeer(peer PeerID, resp *DiffResponse) error {
	sn.pushed[peer] = resp
	return nil
}

func newScriptedNetwork(peers ...PeerID) *scriptedNetwork {
	return &scriptedNetwork{
		peers:     peers,
		responses: make(map[PeerID]*DiffResponse),
		errs:      make(map[PeerID]error),
		reqs:      make(map[PeerID]*DiffRequest),
		pushed:    make(map[PeerID]*DiffResponse),
	}
}

func buildSourceStore(t *testing.T) (*store.MessageStore, []types.Message) {
	t.Helper()
	vals, privs := types.DeterministicValidatorSet(4, 1)
	src := store.NewMessageStore(testChainID, vals, testSeed, nil)

	proposer := vals.Proposer(testSeed, types.LtimeZero)
	var pv types.PrivValidator
	for _, p := range privs {
		if types.AddressEqual(p.GetAddress(), proposer.Address) {
			pv = p
		}
	}
	require.NotNil(t, pv)

	prop := &types.Proposal{
		Tick:             types.LtimeZero,
		Parent:           src.GenesisRef(),
		Payload:          []byte("x"),
		ValidatorAddress: pv.GetAddress(),
	}
	require.NoError(t, pv.SignProposal(testChainID, prop))
	require.NoError(t, src.AddMessage(prop))

	sol := &types.Solicit{
		Tick:             types.LTime(1),
		Previous:         prop.Hash(),
		ValidatorAddress: privs[0].GetAddress(),
	}
	require.NoError(t, privs[0].SignSolicit(testChainID, sol))
	require.NoError(t, src.AddMessage(sol))

	return src, src.Messages()
}

func TestSyncRoundAppliesDiffs(t *testing.T) {
	_, msgs := buildSourceStore(t)

	vals, _ := types.DeterministicValidatorSet(4, 1)
	local := store.NewMessageStore(testChainID, vals, testSeed, nil)

	net := newScriptedNetwork("p1", "p2")
	net.responses["p1"] = &DiffResponse{Messages: msgs}
	net.errs["p2"] = errFakeTimeout

	sp := NewSyncProtocol(local, net)
	applied := sp.Round()

	// p2超时只是丢包，p1的diff照常生效
	assert.Equal(t, len(msgs), applied)
	assert.Equal(t, len(msgs), local.Size())
}

func TestSyncRoundTimeoutIsHarmless(t *testing.T) {
	vals, _ := types.DeterministicValidatorSet(4, 1)
	local := store.NewMessageStore(testChainID, vals, testSeed, nil)

	net := newScriptedNetwork("p1")
	net.errs["p1"] = errFakeTimeout

	sp := NewSyncProtocol(local, net)
	assert.Equal(t, 0, sp.Round())
	assert.Equal(t, 0, local.Size())
}

func TestSyncRoundPushesBack(t *testing.T) {
	srcStore, msgs := buildSourceStore(t)

	net := newScriptedNetwork("p1")
	// p1之前请求过diff，而且什么都没有
	net.reqs["p1"] = &DiffRequest{Tips: nil, MaxBytes: MaxDiffBytes}

	sp := NewSyncProtocol(srcStore, net)
	sp.Round()

	pushed := net.pushed["p1"]
	require.NotNil(t, pushed)
	require.Len(t, pushed.Messages, len(msgs))
	for i := range msgs {
		assert.Equal(t, msgs[i].Hash(), pushed.Messages[i].Hash())
	}

	// 请求已被消费，下一轮不再重复推送
	sp.Round()
	assert.NotContains(t, net.reqs, PeerID("p1"))
}
