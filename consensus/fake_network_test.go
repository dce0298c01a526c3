package consensus

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"
	tmrand "github.com/tendermint/tendermint/libs/rand"

	"oneshotbft/store"
	"oneshotbft/types"
)

const (
	testChainID = "decide-test"
	testSeed    = uint64(42)
)

var errFakeTimeout = errors.New("fake network timeout")

func makeTestGenDoc(vals *types.ValidatorSet) *types.GenesisDoc {
	genVals := make([]types.GenesisValidator, vals.Size())
	vals.Iterate(func(i int, val *types.Validator) bool {
		genVals[i] = types.GenesisValidator{
			Address: val.Address,
			PubKey:  val.PubKey,
			Power:   val.VotingPower,
			Name:    fmt.Sprintf("node%d", i),
		}
		return false
	})
	return &types.GenesisDoc{
		ChainID:    testChainID,
		Seed:       testSeed,
		Validators: genVals,
	}
}

// fakeNode 一个参与者：自己的store、engine和网络视图
type fakeNode struct {
	id     PeerID
	store  *store.MessageStore
	engine *Engine
}

// fakeCluster 确定性的内存集群
//
// 网络是直接从对端store的当前状态拉diff，丢包和宕机由种子化的
// rng决定，所以同样的种子和同样的tick调度产生完全一样的执行
type fakeCluster struct {
	nodes []*fakeNode
	privs []types.PrivValidator

	rng      *tmrand.Rand
	dropRate float64
	down     map[PeerID]bool
}

// fakeNetwork 某个节点看到的网络
type fakeNetwork struct {
	cluster *fakeCluster
	self    PeerID
}

var _ Network = (*fakeNetwork)(nil)

func (fn *fakeNetwork) Peers() []PeerID {
	peers := make([]PeerID, 0, len(fn.cluster.nodes)-1)
	for _, node := range fn.cluster.nodes {
		if node.id != fn.self {
			peers = append(peers, node.id)
		}
	}
	return peers
}

func (fn *fakeNetwork) GetDiffFromPeer(peer PeerID, req *DiffRequest) (*DiffResponse, error) {
	c := fn.cluster
	if c.down[fn.self] || c.down[peer] {
		return nil, errFakeTimeout
	}
	if c.dropRate > 0 && c.rng.Float64() < c.dropRate {
		return nil, errFakeTimeout
	}
	for _, node := range c.nodes {
		if node.id == peer {
			return &DiffResponse{Messages: node.store.ComputeDiff(req.Tips, req.MaxBytes)}, nil
		}
	}
	return nil, errFakeTimeout
}

type clusterOption func(*fakeCluster)

func withDropRate(rate float64) clusterOption {
	return func(c *fakeCluster) { c.dropRate = rate }
}

func newFakeCluster(t *testing.T, numNodes int, rngSeed int64, storeOpts []store.StoreOption, opts ...clusterOption) *fakeCluster {
	t.Helper()

	vals, privs := types.DeterministicValidatorSet(numNodes, 1)
	genDoc := makeTestGenDoc(vals)

	rng := tmrand.NewRand()
	rng.Seed(rngSeed)

	c := &fakeCluster{
		privs: privs,
		rng:   rng,
		down:  make(map[PeerID]bool),
	}
	for _, opt := range opts {
		opt(c)
	}

	for i := 0; i < numNodes; i++ {
		i := i
		id := PeerID(fmt.Sprintf("node%d", i))
		s := store.NewMessageStore(testChainID, vals, testSeed, nil, storeOpts...)
		cfg := NewLocalConfig(genDoc, privs[i], func() []byte {
			return []byte(fmt.Sprintf("payload-from-%d", i))
		}, nil)
		eng := NewEngine(cfg, s, &fakeNetwork{cluster: c, self: id})
		eng.SetLogger(log.NewFilter(log.TestingLogger(), log.AllowError()))
		c.nodes = append(c.nodes, &fakeNode{id: id, store: s, engine: eng})
	}
	return c
}

// tickRound 按固定顺序给每个节点一个tick
func (c *fakeCluster) tickRound() []Outcome {
	outs := make([]Outcome, len(c.nodes))
	for i, node := range c.nodes {
		if c.down[node.id] {
			outs[i] = node.engine.Outcome()
			continue
		}
		outs[i] = node.engine.Tick()
	}
	return outs
}

// settle tick之间的后台gossip：每个有序节点对做一次store级的拉取，
// 服从同样的丢包/宕机规则
func (c *fakeCluster) settle() {
	for _, dst := range c.nodes {
		if c.down[dst.id] {
			continue
		}
		for _, src := range c.nodes {
			if src.id == dst.id || c.down[src.id] {
				continue
			}
			if c.dropRate > 0 && c.rng.Float64() < c.dropRate {
				continue
			}
			diff := src.store.ComputeDiff(dst.store.Tips(), MaxDiffBytes)
			dst.store.ApplyDiff(diff)
		}
	}
}

// run tick+settle直到所有在线节点到达终态或用完回合数
// 返回实际用掉的回合数
func (c *fakeCluster) run(t *testing.T, maxRounds int) int {
	t.Helper()
	for round := 1; round <= maxRounds; round++ {
		c.tickRound()
		c.settle()
		if c.allTerminal() {
			return round
		}
	}
	return maxRounds
}

func (c *fakeCluster) allTerminal() bool {
	for _, node := range c.nodes {
		if c.down[node.id] {
			continue
		}
		if node.engine.Outcome().State == StateRunning {
			return false
		}
	}
	return true
}

// requireSameDecision 所有在线节点都Decided且结论一致
func (c *fakeCluster) requireSameDecision(t *testing.T) []byte {
	t.Helper()
	var decision []byte
	for _, node := range c.nodes {
		if c.down[node.id] {
			continue
		}
		out := node.engine.Outcome()
		require.Equal(t, StateDecided, out.State, "node %v state %v", node.id, out.State)
		require.NotEmpty(t, out.Decision)
		if decision == nil {
			decision = out.Decision
		} else {
			require.Equal(t, decision, out.Decision, "node %v decided differently", node.id)
		}
	}
	return decision
}
