// fork from github.com/tendermint/tendermint/types/validator.go
package types

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/ed25519"
	tmjson "github.com/tendermint/tendermint/libs/json"
)

// Validator 一个参与者：公钥和投票权重
type Validator struct {
	Address     Address       `json:"address"`
	PubKey      crypto.PubKey `json:"pub_key"`
	VotingPower int64         `json:"voting_power"`
}

// NewValidator returns a new validator with the given pubkey and voting power.
func NewValidator(pubKey crypto.PubKey, votingPower int64) *Validator {
	return &Validator{
		Address:     pubKey.Address(),
		PubKey:      pubKey,
		VotingPower: votingPower,
	}
}

// ValidateBasic performs basic validation.
func (v *Validator) ValidateBasic() error {
	if v == nil {
		return errors.New("nil validator")
	}
	if v.PubKey == nil {
		return errors.New("validator does not have a public key")
	}
	if v.VotingPower <= 0 {
		return errors.New("validator has non-positive voting power")
	}
	if len(v.Address) != crypto.AddressSize {
		return fmt.Errorf("validator address is the wrong size: %v", v.Address)
	}
	return nil
}

// Copy creates a new copy of the validator.
// Panics if the validator is nil.
func (v *Validator) Copy() *Validator {
	vCopy := *v
	return &vCopy
}

func (v *Validator) String() string {
	if v == nil {
		return "nil-Validator"
	}
	return fmt.Sprintf("Validator{%v %v VP:%v}",
		v.Address,
		v.PubKey,
		v.VotingPower)
}

// Bytes computes the unique encoding of a validator used as a leaf
// in the validator set hash.
func (v *Validator) Bytes() []byte {
	pk, err := tmjson.Marshal(v.PubKey)
	if err != nil {
		panic(err)
	}
	return append(pk, v.Hash8()...)
}

// Hash8 权重的8字节编码，跟随公钥一起参与hash
func (v *Validator) Hash8() []byte {
	return LTime(v.VotingPower).Hash()
}

//----------------------------------------
// PrivValidator

// PrivValidator 本地参与者的签名能力，具体实现见privval包
type PrivValidator interface {
	GetAddress() Address
	GetPubKey() (crypto.PubKey, error)

	SignProposal(chainID string, proposal *Proposal) error
	SignSolicit(chainID string, solicit *Solicit) error
	SignVote(chainID string, vote *Vote) error
}

// PrivValidatorsByAddress 按地址排序的PrivValidator列表
type PrivValidatorsByAddress []PrivValidator

func (pvs PrivValidatorsByAddress) Len() int {
	return len(pvs)
}

func (pvs PrivValidatorsByAddress) Less(i, j int) bool {
	pvi, err := pvs[i].GetPubKey()
	if err != nil {
		panic(err)
	}
	pvj, err := pvs[j].GetPubKey()
	if err != nil {
		panic(err)
	}
	return bytes.Compare(pvi.Address(), pvj.Address()) == -1
}

func (pvs PrivValidatorsByAddress) Swap(i, j int) {
	pvs[i], pvs[j] = pvs[j], pvs[i]
}

//----------------------------------------
// MockPV

// MockPV 只在测试中使用的内存签名器
type MockPV struct {
	PrivKey crypto.PrivKey
}

func NewMockPV() MockPV {
	return MockPV{ed25519.GenPrivKey()}
}

// NewMockPVWithSecret 由secret确定性地生成私钥，用于可复现的测试集群
func NewMockPVWithSecret(secret []byte) MockPV {
	return MockPV{ed25519.GenPrivKeyFromSecret(secret)}
}

func (pv MockPV) GetAddress() Address {
	return pv.PrivKey.PubKey().Address()
}

func (pv MockPV) GetPubKey() (crypto.PubKey, error) {
	return pv.PrivKey.PubKey(), nil
}

func (pv MockPV) SignProposal(chainID string, proposal *Proposal) error {
	sig, err := pv.PrivKey.Sign(proposal.SignBytes(chainID))
	if err != nil {
		return err
	}
	proposal.Signature = sig
	return nil
}

func (pv MockPV) SignSolicit(chainID string, solicit *Solicit) error {
	sig, err := pv.PrivKey.Sign(solicit.SignBytes(chainID))
	if err != nil {
		return err
	}
	solicit.Signature = sig
	return nil
}

func (pv MockPV) SignVote(chainID string, vote *Vote) error {
	sig, err := pv.PrivKey.Sign(vote.SignBytes(chainID))
	if err != nil {
		return err
	}
	vote.Signature = sig
	return nil
}

//----------------------------------------
// RandValidator

// RandValidator returns a randomized validator, useful for testing.
// UNSTABLE
func RandValidator(votingPower int64) (*Validator, PrivValidator) {
	privVal := NewMockPV()

	pubKey, err := privVal.GetPubKey()
	if err != nil {
		panic(fmt.Errorf("could not retrieve pubkey %w", err))
	}
	val := NewValidator(pubKey, votingPower)
	return val, privVal
}

// DeterministicValidatorSet 由固定secret生成的验证者集合，等权重
// 两次调用的结果完全一致，用于可复现replay测试
//
// EXPOSED FOR TESTING.
func DeterministicValidatorSet(numValidators int, votingPower int64) (*ValidatorSet, []PrivValidator) {
	var (
		valz           = make([]*Validator, numValidators)
		privValidators = make([]PrivValidator, numValidators)
	)

	for i := 0; i < numValidators; i++ {
		privVal := NewMockPVWithSecret([]byte(fmt.Sprintf("oneshotbft-test-val-%d", i)))
		pubKey, err := privVal.GetPubKey()
		if err != nil {
			panic(err)
		}
		valz[i] = NewValidator(pubKey, votingPower)
		privValidators[i] = privVal
	}

	sort.Sort(PrivValidatorsByAddress(privValidators))
	sort.Sort(ValidatorsByAddress(valz))

	return NewValidatorSet(valz), privValidators
}
