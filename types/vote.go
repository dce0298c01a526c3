package types

import (
	"errors"
	"fmt"

	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/tmhash"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// Vote 对某个proposal或者solicit的一张投票
// 投票权重由作者在验证者集合里的voting power决定
// 同一个作者对同一个目标的重复投票内容完全一致，hash相同，天然幂等
type Vote struct {
	VotingFor        tmbytes.HexBytes `json:"voting_for"`
	ValidatorAddress Address          `json:"validator_address"`
	Signature        tmbytes.HexBytes `json:"signature"`
}

func (v *Vote) Type() MsgType {
	return MsgVote
}

func (v *Vote) Ref() MessageHash {
	return v.VotingFor
}

func (v *Vote) Source() Address {
	return v.ValidatorAddress
}

func (v *Vote) SignBytes(chainID string) []byte {
	cp := *v
	cp.Signature = nil
	return msgSignBytes(chainID, &cp)
}

func (v *Vote) Hash() MessageHash {
	return tmhash.Sum(v.SignBytes(""))
}

func (v *Vote) Verify(chainID string, pubKey crypto.PubKey) error {
	if !AddressEqual(pubKey.Address(), v.ValidatorAddress) {
		return errors.New("vote author does not match public key")
	}
	if !pubKey.VerifySignature(v.SignBytes(chainID), v.Signature) {
		return errors.New("invalid vote signature")
	}
	return nil
}

func (v *Vote) ValidateBasic() error {
	if len(v.VotingFor) != tmhash.Size {
		return errors.New("vote target hash has wrong size")
	}
	if len(v.ValidatorAddress) != crypto.AddressSize {
		return errors.New("vote validator address has wrong size")
	}
	if len(v.Signature) == 0 {
		return errors.New("vote has no signature")
	}
	return nil
}

func (v *Vote) String() string {
	return fmt.Sprintf("Vote{%X -> %X}", v.ValidatorAddress, v.VotingFor)
}
