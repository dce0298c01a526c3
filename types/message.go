package types

import (
	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/tmhash"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"
)

// MessageHash 消息的内容hash，也是消息树内唯一的寻址方式
type MessageHash = tmbytes.HexBytes

type MsgType uint8

const (
	MsgProposal = MsgType(0x01)
	MsgSolicit  = MsgType(0x02)
	MsgVote     = MsgType(0x03)
)

func (t MsgType) String() string {
	switch t {
	case MsgProposal:
		return "Proposal"
	case MsgSolicit:
		return "Solicit"
	case MsgVote:
		return "Vote"
	default:
		return "UnknownMsg"
	}
}

// Message 消息树中三种消息的统一抽象
// Hash只由内容决定，签名不参与hash的计算：内容相同的消息hash一定相同
type Message interface {
	Type() MsgType

	// Hash 消息的内容hash
	Hash() MessageHash

	// Ref 指向的父消息：proposal的parent、solicit的previous、vote的voting_for
	Ref() MessageHash

	// Source 消息作者的地址
	Source() Address

	// SignBytes 签名的原文，chainID用于区分不同实例
	SignBytes(chainID string) []byte

	// Verify 用给定公钥验证消息的签名
	Verify(chainID string, pubKey crypto.PubKey) error

	ValidateBasic() error

	String() string
}

func init() {
	tmjson.RegisterType(&Proposal{}, "oneshotbft/Proposal")
	tmjson.RegisterType(&Solicit{}, "oneshotbft/Solicit")
	tmjson.RegisterType(&Vote{}, "oneshotbft/Vote")
}

// GenesisRef 返回固定的创世引用，不对应任何实际存储的消息
// 同一个chainID的所有参与者算出的创世引用一定相同
func GenesisRef(chainID string) MessageHash {
	return tmhash.Sum([]byte("oneshotbft/genesis/" + chainID))
}

// msgSignBytes 把消息置空签名后做canonical编码，前缀chainID
// 所有消息类型的SignBytes都经过这里，保证hash和签名原文一致
func msgSignBytes(chainID string, msg Message) []byte {
	bz, err := tmjson.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return append([]byte(chainID), bz...)
}
