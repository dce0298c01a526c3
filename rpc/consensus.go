package rpc

import (
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"

	"oneshotbft/types"
)

type ResultOutcome struct {
	State    string           `json:"state"`
	Tick     int64            `json:"tick"`
	Decision tmbytes.HexBytes `json:"decision"`
	Error    string           `json:"error"`
}

// Outcome 返回当前决议状态, 已决出时附带 payload
func Outcome(ctx *rpctypes.Context) (*ResultOutcome, error) {
	out := env.Engine.Outcome()
	res := &ResultOutcome{
		State:    out.State.String(),
		Tick:     env.Engine.LTime().Int64(),
		Decision: out.Decision,
	}
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	return res, nil
}

type ResultMessage struct {
	Type      string           `json:"type"`
	Tick      int64            `json:"tick"`
	Hash      tmbytes.HexBytes `json:"hash"`
	Ref       tmbytes.HexBytes `json:"ref"`
	Source    tmbytes.HexBytes `json:"source"`
	Notarized bool             `json:"notarized,omitempty"`
}

type ResultTree struct {
	Size     int             `json:"size"`
	Messages []ResultMessage `json:"messages"`
}

// Tree 按插入序 dump 整棵消息树
func Tree(ctx *rpctypes.Context) (*ResultTree, error) {
	msgs := env.Store.Messages()
	res := &ResultTree{Size: len(msgs), Messages: make([]ResultMessage, 0, len(msgs))}
	for _, m := range msgs {
		res.Messages = append(res.Messages, describeMessage(m))
	}
	return res, nil
}

type ResultTips struct {
	Tips []ResultMessage `json:"tips"`
}

func Tips(ctx *rpctypes.Context) (*ResultTips, error) {
	tips := env.Store.Tips()
	res := &ResultTips{Tips: make([]ResultMessage, 0, len(tips))}
	for _, hash := range tips {
		if m := env.Store.Get(hash); m != nil {
			res.Tips = append(res.Tips, describeMessage(m))
		}
	}
	return res, nil
}

func describeMessage(m types.Message) ResultMessage {
	res := ResultMessage{
		Hash:   tmbytes.HexBytes(m.Hash()),
		Ref:    tmbytes.HexBytes(m.Ref()),
		Source: tmbytes.HexBytes(m.Source()),
		Tick:   types.LtimeUnset.Int64(),
	}
	switch msg := m.(type) {
	case *types.Proposal:
		res.Type = "proposal"
		res.Tick = msg.Tick.Int64()
		res.Notarized = env.Store.Notarized(msg.Hash())
	case *types.Solicit:
		res.Type = "solicit"
		res.Tick = msg.Tick.Int64()
		res.Notarized = env.Store.Notarized(msg.Hash())
	case *types.Vote:
		res.Type = "vote"
	}
	return res
}
