package store

import (
	"bytes"
	"errors"

	tmjson "github.com/tendermint/tendermint/libs/json"

	"oneshotbft/types"
)

// ComputeDiff 给出一段把对端的树拉向本地状态的消息序列
//
// 对端的每条消息要么是它的tip、要么是某个tip的祖先，所以本地对
// foreignTips做祖先闭包就覆盖了对端已知的全部消息。剩下的消息按
// 插入顺序给出：插入时父消息必须在场，所以这个顺序天然是
// ancestor-complete的，在任何前缀处截断都保持这个性质。
// 同样的输入和同样的本地状态一定产生同样的序列。
func (s *MessageStore) ComputeDiff(foreignTips []types.MessageHash, maxBytes int64) []types.Message {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	known := make(map[string]bool)
	for _, tip := range foreignTips {
		cur := tip
		for {
			msg, ok := s.messages[cur.String()]
			if !ok {
				// 对端知道一些我们不知道的消息，反向的diff会补上
				break
			}
			if known[cur.String()] {
				break
			}
			known[cur.String()] = true
			if bytes.Equal(msg.Ref(), s.genesisRef) {
				break
			}
			cur = msg.Ref()
		}
	}

	var (
		diff      []types.Message
		usedBytes int64
	)
	for _, msg := range s.order {
		if known[msg.Hash().String()] {
			continue
		}
		bz, err := tmjson.Marshal(msg)
		if err != nil {
			continue
		}
		if usedBytes+int64(len(bz)) > maxBytes && len(diff) > 0 {
			// 预算用完就停，留给下一轮；停在前缀上不破坏祖先完整性
			break
		}
		diff = append(diff, msg)
		usedBytes += int64(len(bz))
	}
	return diff
}

// ApplyDiff 按给定顺序插入一段消息，返回实际接受的数量
//
// 单条非法消息只是被丢弃并记日志，不影响后面的消息。引用了
// 未知父消息的合法消息先挂起，等同批后面的消息补上缺口后重试；
// 批结束仍未解决的直接丢弃，未来的diff会重新带来。
func (s *MessageStore) ApplyDiff(msgs []types.Message) int {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	applied := 0
	var pending []types.Message

	tryPending := func() {
		for {
			progress := false
			remain := pending[:0]
			for _, p := range pending {
				if err := s.addMessage(p); err == nil {
					applied++
					progress = true
				} else if errors.Is(err, ErrUnknownParent) {
					remain = append(remain, p)
				} else {
					s.logger.Debug("dropped diff message", "type", p.Type(), "err", err)
				}
			}
			pending = remain
			if !progress || len(pending) == 0 {
				return
			}
		}
	}

	for _, msg := range msgs {
		err := s.addMessage(msg)
		switch {
		case err == nil:
			applied++
			if len(pending) > 0 {
				tryPending()
			}
		case errors.Is(err, ErrUnknownParent):
			pending = append(pending, msg)
		default:
			s.logger.Debug("dropped diff message", "type", msg.Type(), "err", err)
		}
	}
	tryPending()

	if len(pending) > 0 {
		s.logger.Debug("diff left unresolved messages", "count", len(pending))
	}
	return applied
}
