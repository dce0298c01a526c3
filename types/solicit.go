package types

import (
	"errors"
	"fmt"

	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/tmhash"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// Solicit 征票消息，指向一个更早的proposal或者solicit
// 一个solicit把它最终追溯到的提案链"掩埋"在自己之下
// 连续三个tick且各自notarized的solicit链使下面的proposal最终finalized
type Solicit struct {
	Tick             LTime            `json:"tick"`
	Previous         tmbytes.HexBytes `json:"previous"`
	ValidatorAddress Address          `json:"validator_address"`
	Signature        tmbytes.HexBytes `json:"signature"`
}

func (s *Solicit) Type() MsgType {
	return MsgSolicit
}

func (s *Solicit) Ref() MessageHash {
	return s.Previous
}

func (s *Solicit) Source() Address {
	return s.ValidatorAddress
}

func (s *Solicit) SignBytes(chainID string) []byte {
	cp := *s
	cp.Signature = nil
	return msgSignBytes(chainID, &cp)
}

func (s *Solicit) Hash() MessageHash {
	return tmhash.Sum(s.SignBytes(""))
}

func (s *Solicit) Verify(chainID string, pubKey crypto.PubKey) error {
	if !AddressEqual(pubKey.Address(), s.ValidatorAddress) {
		return errors.New("solicit author does not match public key")
	}
	if !pubKey.VerifySignature(s.SignBytes(chainID), s.Signature) {
		return errors.New("invalid solicit signature")
	}
	return nil
}

func (s *Solicit) ValidateBasic() error {
	if s.Tick.Int64() < 0 {
		return errors.New("solicit has negative tick")
	}
	if len(s.Previous) != tmhash.Size {
		return errors.New("solicit previous hash has wrong size")
	}
	if len(s.ValidatorAddress) != crypto.AddressSize {
		return errors.New("solicit validator address has wrong size")
	}
	if len(s.Signature) == 0 {
		return errors.New("solicit has no signature")
	}
	return nil
}

func (s *Solicit) String() string {
	return fmt.Sprintf("Solicit{%v %X previous:%X}", s.Tick, s.Hash(), s.Previous)
}
