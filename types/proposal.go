package types

import (
	"errors"
	"fmt"

	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/tmhash"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// Proposal 提案消息，携带待决定的payload
// parent指向创世引用或者更早的提案，author必须是该tick的指定proposer
type Proposal struct {
	Tick             LTime            `json:"tick"`
	Parent           tmbytes.HexBytes `json:"parent"`
	Payload          tmbytes.HexBytes `json:"payload"`
	ValidatorAddress Address          `json:"validator_address"`
	Signature        tmbytes.HexBytes `json:"signature"`
}

func (p *Proposal) Type() MsgType {
	return MsgProposal
}

func (p *Proposal) Ref() MessageHash {
	return p.Parent
}

func (p *Proposal) Source() Address {
	return p.ValidatorAddress
}

func (p *Proposal) SignBytes(chainID string) []byte {
	cp := *p
	cp.Signature = nil
	return msgSignBytes(chainID, &cp)
}

func (p *Proposal) Hash() MessageHash {
	return tmhash.Sum(p.SignBytes(""))
}

func (p *Proposal) Verify(chainID string, pubKey crypto.PubKey) error {
	if !AddressEqual(pubKey.Address(), p.ValidatorAddress) {
		return errors.New("proposal author does not match public key")
	}
	if !pubKey.VerifySignature(p.SignBytes(chainID), p.Signature) {
		return errors.New("invalid proposal signature")
	}
	return nil
}

func (p *Proposal) ValidateBasic() error {
	if p.Tick.Int64() < 0 {
		return errors.New("proposal has negative tick")
	}
	if len(p.Parent) != tmhash.Size {
		return errors.New("proposal parent hash has wrong size")
	}
	if len(p.Payload) == 0 {
		return errors.New("proposal has empty payload")
	}
	if len(p.ValidatorAddress) != crypto.AddressSize {
		return errors.New("proposal validator address has wrong size")
	}
	if len(p.Signature) == 0 {
		return errors.New("proposal has no signature")
	}
	return nil
}

func (p *Proposal) String() string {
	return fmt.Sprintf("Proposal{%v %X parent:%X payload:%d bytes}",
		p.Tick, p.Hash(), p.Parent, len(p.Payload))
}
