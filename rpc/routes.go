package rpc

import (
	rpc "github.com/tendermint/tendermint/rpc/jsonrpc/server"
)

var Routes = map[string]*rpc.RPCFunc{
	// decision state
	"outcome": rpc.NewRPCFunc(Outcome, ""),
	"tree":    rpc.NewRPCFunc(Tree, ""),
	"tips":    rpc.NewRPCFunc(Tips, ""),

	// payload
	"submit_payload": rpc.NewRPCFunc(SubmitPayload, "payload"),

	// metric
	"metrics": rpc.NewRPCFunc(JSONMetrics, "label"),
}
