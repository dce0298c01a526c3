package rpc

import (
	jsoniter "github.com/json-iterator/go"

	"oneshotbft/consensus"
	"oneshotbft/libs/metric"
	"oneshotbft/payload"
	"oneshotbft/store"
)

var (
	env  *Environment
	json = jsoniter.ConfigCompatibleWithStandardLibrary
)

func SetEnvironment(e *Environment) {
	env = e
}

type Environment struct {
	Pool   *payload.Pool
	Engine *consensus.Engine
	Store  *store.MessageStore

	MetricSet *metric.Set
}
