package consensus

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oneshotbft/store"
	"oneshotbft/types"
)

// 搭两条竞争链的store：链a上的solicit有3票（公证），链b没有
func buildForkedStore(t *testing.T) (s *store.MessageStore, headA, headB types.Message) {
	t.Helper()
	vals, privs := types.DeterministicValidatorSet(4, 1)
	s = store.NewMessageStore(testChainID, vals, testSeed, nil)

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
		Parent:           s.GenesisRef(),
		Payload:          []byte("root"),
		ValidatorAddress: pv.GetAddress(),
	}
	require.NoError(t, pv.SignProposal(testChainID, prop))
	require.NoError(t, s.AddMessage(prop))

	solicit := func(pvIdx int, tick int64, prev types.MessageHash) *types.Solicit {
		sol := &types.Solicit{
			Tick:             types.LTime(tick),
			Previous:         prev,
			ValidatorAddress: privs[pvIdx].GetAddress(),
		}
		require.NoError(t, privs[pvIdx].SignSolicit(testChainID, sol))
		require.NoError(t, s.AddMessage(sol))
		return sol
	}

	solA := solicit(0, 1, prop.Hash())
	for i := 0; i < 3; i++ {
		vote := &types.Vote{
			VotingFor:        solA.Hash(),
			ValidatorAddress: privs[i].GetAddress(),
		}
		require.NoError(t, privs[i].SignVote(testChainID, vote))
		require.NoError(t, s.AddMessage(vote))
	}

	solB := solicit(1, 2, prop.Hash())
	return s, solA, solB
}

func TestSelectHeadPrefersNotarizedChain(t *testing.T) {
	s, headA, headB := buildForkedStore(t)

	heads := s.Heads()
	require.Len(t, heads, 2)

	best := DefaultSelectHead(s, heads)
	require.NotNil(t, best)
	assert.Equal(t, headA.Hash(), best.Hash(), "notarized chain should win over %v", headB.Hash())
}

func TestSelectHeadPrefersLongerChain(t *testing.T) {
	vals, privs := types.DeterministicValidatorSet(4, 1)
	s := store.NewMessageStore(testChainID, vals, testSeed, nil)

	proposer := vals.Proposer(testSeed, types.LtimeZero)
	var pv types.PrivValidator
	for _, p := range privs {
		if types.AddressEqual(p.GetAddress(), proposer.Address) {
			pv = p
		}
	}
	prop := &types.Proposal{
		Tick:             types.LtimeZero,
		Parent:           s.GenesisRef(),
		Payload:          []byte("root"),
		ValidatorAddress: pv.GetAddress(),
	}
	require.NoError(t, pv.SignProposal(testChainID, prop))
	require.NoError(t, s.AddMessage(prop))

	// 链a两节，链b一节，都没有公证
	solA1 := &types.Solicit{Tick: types.LTime(1), Previous: prop.Hash(), ValidatorAddress: privs[0].GetAddress()}
	require.NoError(t, privs[0].SignSolicit(testChainID, solA1))
	require.NoError(t, s.AddMessage(solA1))
	solA2 := &types.Solicit{Tick: types.LTime(2), Previous: solA1.Hash(), ValidatorAddress: privs[0].GetAddress()}
	require.NoError(t, privs[0].SignSolicit(testChainID, solA2))
	require.NoError(t, s.AddMessage(solA2))

	solB := &types.Solicit{Tick: types.LTime(3), Previous: prop.Hash(), ValidatorAddress: privs[1].GetAddress()}
	require.NoError(t, privs[1].SignSolicit(testChainID, solB))
	require.NoError(t, s.AddMessage(solB))

	best := DefaultSelectHead(s, s.Heads())
	require.NotNil(t, best)
	assert.Equal(t, solA2.Hash(), best.Hash())
}

func TestSelectHeadHashTieBreakDeterministic(t *testing.T) {
	s, _, _ := buildForkedStore(t)
	heads := s.Heads()

	// 乱序传入也必须选出同一个头
	reversed := []types.Message{heads[1], heads[0]}
	b1 := DefaultSelectHead(s, heads)
	b2 := DefaultSelectHead(s, reversed)
	require.NotNil(t, b1)
	assert.Equal(t, b1.Hash(), b2.Hash())
}

func TestSelectHeadEmpty(t *testing.T) {
	vals, _ := types.DeterministicValidatorSet(4, 1)
	s := store.NewMessageStore(testChainID, vals, testSeed, nil)
	assert.Nil(t, DefaultSelectHead(s, nil))
}

func TestSelectHeadLowestHashWins(t *testing.T) {
	vals, privs := types.DeterministicValidatorSet(4, 1)
	s := store.NewMessageStore(testChainID, vals, testSeed, nil)

	proposer := vals.Proposer(testSeed, types.LtimeZero)
	var pv types.PrivValidator
	for _, p := range privs {
		if types.AddressEqual(p.GetAddress(), proposer.Address) {
			pv = p
		}
	}
	prop := &types.Proposal{
		Tick:             types.LtimeZero,
		Parent:           s.GenesisRef(),
		Payload:          []byte("root"),
		ValidatorAddress: pv.GetAddress(),
	}
	require.NoError(t, pv.SignProposal(testChainID, prop))
	require.NoError(t, s.AddMessage(prop))

	// 两个头公证数和链长都一样，只能比hash
	for i := 0; i < 2; i++ {
		sol := &types.Solicit{Tick: types.LTime(1), Previous: prop.Hash(), ValidatorAddress: privs[i].GetAddress()}
		require.NoError(t, privs[i].SignSolicit(testChainID, sol))
		require.NoError(t, s.AddMessage(sol))
	}

	heads := s.Heads()
	require.Len(t, heads, 2)
	want := heads[0]
	if bytes.Compare(heads[1].Hash(), want.Hash()) < 0 {
		want = heads[1]
	}

	best := DefaultSelectHead(s, heads)
	require.NotNil(t, best)
	assert.Equal(t, want.Hash(), best.Hash())
}
