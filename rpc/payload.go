package rpc

import (
	"github.com/tendermint/tendermint/crypto/tmhash"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"
)

type ResultSubmitPayload struct {
	Hash tmbytes.HexBytes `json:"hash"`
}

// SubmitPayload 把候选payload塞进池子，本节点当proposer时优先提它
// 重复提交直接报错，调用方自己看着办
func SubmitPayload(ctx *rpctypes.Context, payload tmbytes.HexBytes) (*ResultSubmitPayload, error) {
	if err := env.Pool.Push(payload); err != nil {
		return nil, err
	}
	return &ResultSubmitPayload{Hash: tmhash.Sum(payload)}, nil
}
