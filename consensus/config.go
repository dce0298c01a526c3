package consensus

import (
	"oneshotbft/store"
	"oneshotbft/types"
)

// Config 一轮决议的全部外部能力，构造后不可变
//
// 所有方法都要求无副作用：Validators/Seed在实例生命周期内必须每次
// 返回同样的值，proposer的抽签从这两个值确定性地推出
type Config interface {
	ChainID() string

	// Validators 参与者的有序集合和各自的投票权重
	Validators() *types.ValidatorSet

	// Seed 全网一致的熵种子
	Seed() uint64

	// PrivValidator 本地参与者的签名器
	PrivValidator() types.PrivValidator

	// GeneratePayload 产生本地要提议的payload
	GeneratePayload() []byte

	// VerifyPayload 校验一个提案payload，纯函数
	VerifyPayload(payload []byte) error
}

// PayloadFunc 宿主的payload来源
type PayloadFunc func() []byte

// LocalConfig 从genesis文件和本地签名器组装的Config实现
type LocalConfig struct {
	chainID string
	vals    *types.ValidatorSet
	seed    uint64
	priv    types.PrivValidator

	generate PayloadFunc
	verify   store.VerifyPayloadFunc
}

var _ Config = (*LocalConfig)(nil)

func NewLocalConfig(
	genDoc *types.GenesisDoc,
	priv types.PrivValidator,
	generate PayloadFunc,
	verify store.VerifyPayloadFunc,
) *LocalConfig {
	return &LocalConfig{
		chainID:  genDoc.ChainID,
		vals:     genDoc.ValidatorSet(),
		seed:     genDoc.Seed,
		priv:     priv,
		generate: generate,
		verify:   verify,
	}
}

func (c *LocalConfig) ChainID() string                 { return c.chainID }
func (c *LocalConfig) Validators() *types.ValidatorSet { return c.vals }
func (c *LocalConfig) Seed() uint64                    { return c.seed }
func (c *LocalConfig) PrivValidator() types.PrivValidator {
	return c.priv
}

func (c *LocalConfig) GeneratePayload() []byte {
	if c.generate == nil {
		return nil
	}
	return c.generate()
}

func (c *LocalConfig) VerifyPayload(payload []byte) error {
	if c.verify == nil {
		return nil
	}
	return c.verify(payload)
}
