package consensus

import (
	"bytes"

	"oneshotbft/store"
	"oneshotbft/types"
)

// SelectHeadFunc 从候选链头里选出要延伸/投票的那一个
// 策略可以替换，但必须是确定性的：同样的store状态必须选出同一个头，
// 否则replay和fuzz都不可复现
type SelectHeadFunc func(s *store.MessageStore, heads []types.Message) types.Message

// DefaultSelectHead 排序规则：公证祖先数多者优先，再比链长，
// 最后用hash升序做确定性决胜
func DefaultSelectHead(s *store.MessageStore, heads []types.Message) types.Message {
	var (
		best          types.Message
		bestNotarized int
		bestLength    int
	)
	for _, head := range heads {
		notarized, length := s.ChainInfo(head.Hash())
		switch {
		case best == nil:
		case notarized > bestNotarized:
		case notarized < bestNotarized:
			continue
		case length > bestLength:
		case length < bestLength:
			continue
		case bytes.Compare(head.Hash(), best.Hash()) < 0:
		default:
			continue
		}
		best, bestNotarized, bestLength = head, notarized, length
	}
	return best
}
