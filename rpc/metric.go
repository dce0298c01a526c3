package rpc

import (
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"
)

type ResultMetrics struct {
	Metrics map[string]string `json:"metrics"`
}

func JSONMetrics(ctx *rpctypes.Context, label string) (*ResultMetrics, error) {
	result := &ResultMetrics{Metrics: make(map[string]string)}

	if label != "" {
		if item := env.MetricSet.Get(label); item != nil {
			result.Metrics[label] = item.JSONString()
		}
		return result, nil
	}

	result.Metrics = env.MetricSet.JSONStrings()
	return result, nil
}
