package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tmrand "github.com/tendermint/tendermint/libs/rand"

	"oneshotbft/types"
)

const testMaxDiffBytes = int64(1 << 20)

func sameMessageSets(t *testing.T, a, b *MessageStore) {
	t.Helper()
	require.Equal(t, a.Size(), b.Size())
	for _, msg := range a.Messages() {
		assert.True(t, b.Has(msg.Hash()), "missing %v", msg)
	}
}

func TestComputeDiffAgainstEmptyPeer(t *testing.T) {
	a, vals, privs := newTestStore(t, 4)
	_, msgs := buildFinalizedScenario(t, a, vals, privs)

	diff := a.ComputeDiff(nil, testMaxDiffBytes)
	require.Len(t, diff, len(msgs))
	// diff按本地插入顺序给出
	for i := range msgs {
		assert.Equal(t, msgs[i].Hash(), diff[i].Hash())
	}
}

func TestComputeDiffSkipsKnownAncestors(t *testing.T) {
	a, vals, privs := newTestStore(t, 4)
	b, _, _ := newTestStore(t, 4)
	buildFinalizedScenario(t, a, vals, privs)

	// b先同步到一半
	half := a.Messages()[:a.Size()/2]
	require.Equal(t, len(half), b.ApplyDiff(half))

	diff := a.ComputeDiff(b.Tips(), testMaxDiffBytes)
	assert.Equal(t, a.Size()-b.Size(), len(diff))
	for _, msg := range diff {
		assert.False(t, b.Has(msg.Hash()))
	}
}

func TestApplyDiffIdempotent(t *testing.T) {
	a, vals, privs := newTestStore(t, 4)
	b, _, _ := newTestStore(t, 4)
	buildFinalizedScenario(t, a, vals, privs)

	diff := a.ComputeDiff(b.Tips(), testMaxDiffBytes)
	applied := b.ApplyDiff(diff)
	assert.Equal(t, a.Size(), applied)
	sameMessageSets(t, a, b)

	// 同一个diff再来一遍，树不变
	assert.Equal(t, 0, b.ApplyDiff(diff))
	sameMessageSets(t, a, b)

	fa, erra := a.Finalized()
	fb, errb := b.Finalized()
	require.NoError(t, erra)
	require.NoError(t, errb)
	require.NotNil(t, fb)
	assert.Equal(t, fa.Hash(), fb.Hash())
}

func TestApplyDiffOutOfOrder(t *testing.T) {
	a, vals, privs := newTestStore(t, 4)
	b, _, _ := newTestStore(t, 4)
	_, msgs := buildFinalizedScenario(t, a, vals, privs)

	// 整批倒序：每条消息的父都在它之后，只能靠批内挂起重试解决
	reversed := make([]types.Message, len(msgs))
	for i, msg := range msgs {
		reversed[len(msgs)-1-i] = msg
	}
	assert.Equal(t, len(msgs), b.ApplyDiff(reversed))
	sameMessageSets(t, a, b)
}

func TestApplyDiffDropsMalformed(t *testing.T) {
	a, vals, privs := newTestStore(t, 4)
	b, _, _ := newTestStore(t, 4)
	_, msgs := buildFinalizedScenario(t, a, vals, privs)

	// 中间混入一条签名被篡改的vote，只有它被丢弃
	bad := makeVote(t, privs[3], msgs[0].Hash())
	bad.Signature = tmrand.Bytes(64)
	mixed := append([]types.Message{}, msgs[:3]...)
	mixed = append(mixed, bad)
	mixed = append(mixed, msgs[3:]...)

	assert.Equal(t, len(msgs), b.ApplyDiff(mixed))
	sameMessageSets(t, a, b)
	assert.False(t, b.Has(bad.Hash()))
}

func TestApplyDiffDiscardsUnresolved(t *testing.T) {
	a, vals, privs := newTestStore(t, 4)
	b, _, _ := newTestStore(t, 4)
	_, msgs := buildFinalizedScenario(t, a, vals, privs)

	// 掐掉根proposal：所有消息在批内都解决不了父引用
	assert.Equal(t, 0, b.ApplyDiff(msgs[1:]))
	assert.Equal(t, 0, b.Size())

	// 未解决的消息不会被记住，之后完整的diff照常生效
	assert.Equal(t, len(msgs), b.ApplyDiff(msgs))
	sameMessageSets(t, a, b)
}

func TestDiffSizeLimit(t *testing.T) {
	a, vals, privs := newTestStore(t, 4)
	b, _, _ := newTestStore(t, 4)
	buildFinalizedScenario(t, a, vals, privs)

	// 很小的预算，一次只能带几条；每一批都必须全部可用
	rounds := 0
	for b.Size() < a.Size() {
		diff := a.ComputeDiff(b.Tips(), 600)
		require.NotEmpty(t, diff, "diff stalled at %d/%d", b.Size(), a.Size())
		assert.Equal(t, len(diff), b.ApplyDiff(diff))
		rounds++
		require.LessOrEqual(t, rounds, a.Size())
	}
	assert.Greater(t, rounds, 1)
	sameMessageSets(t, a, b)
}

// 两个store只通过双向diff交换，从互不相同的起点收敛到同一棵树
func TestDiffBidirectionalConvergence(t *testing.T) {
	a, vals, privs := newTestStore(t, 4)
	b, _, _ := newTestStore(t, 4)

	prop := makeProposal(t, proposerPV(t, vals, privs, types.LtimeZero),
		types.LtimeZero, a.GenesisRef(), []byte("x"))
	require.NoError(t, a.AddMessage(prop))
	require.NoError(t, b.AddMessage(prop))

	solA := makeSolicit(t, privs[0], types.LTime(1), prop.Hash())
	require.NoError(t, a.AddMessage(solA))
	require.NoError(t, a.AddMessage(makeVote(t, privs[0], solA.Hash())))

	solB := makeSolicit(t, privs[1], types.LTime(2), prop.Hash())
	require.NoError(t, b.AddMessage(solB))
	require.NoError(t, b.AddMessage(makeVote(t, privs[1], solB.Hash())))
	require.NoError(t, b.AddMessage(makeVote(t, privs[2], prop.Hash())))

	for i := 0; i < 3; i++ {
		b.ApplyDiff(a.ComputeDiff(b.Tips(), testMaxDiffBytes))
		a.ApplyDiff(b.ComputeDiff(a.Tips(), testMaxDiffBytes))
	}

	sameMessageSets(t, a, b)
	sameMessageSets(t, b, a)
}

func TestComputeDiffDeterministic(t *testing.T) {
	a, vals, privs := newTestStore(t, 4)
	buildFinalizedScenario(t, a, vals, privs)

	tips := []types.MessageHash{a.Messages()[0].Hash()}
	d1 := a.ComputeDiff(tips, testMaxDiffBytes)
	d2 := a.ComputeDiff(tips, testMaxDiffBytes)
	require.Equal(t, len(d1), len(d2))
	for i := range d1 {
		assert.Equal(t, d1[i].Hash(), d2[i].Hash())
	}
}
