package store

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/tendermint/tendermint/libs/log"

	"oneshotbft/types"
)

var (
	// 可恢复的插入错误：丢弃消息即可，不影响实例继续运行
	ErrUnknownParent        = errors.New("message references an unknown parent")
	ErrUnknownAuthor        = errors.New("message author is not a participant")
	ErrInvalidSignature     = errors.New("message carries an invalid signature")
	ErrUnauthorizedProposer = errors.New("proposal author is not the designated proposer for its tick")
	ErrPayloadRejected      = errors.New("proposal payload rejected by the validation function")
	ErrBadPointer           = errors.New("message pointer violates the tree structure")

	// 唯一的致命错误：安全性已经被破坏
	ErrConflictingFinalization = errors.New("two distinct proposals meet the finalization criterion")
)

// VerifyPayloadFunc 宿主提供的payload校验函数，必须是纯函数
type VerifyPayloadFunc func(payload []byte) error

type StoreOption func(*MessageStore)

// WithArchive 把每个接受的消息同步写入归档
func WithArchive(archive *Archive) StoreOption {
	return func(s *MessageStore) {
		s.archive = archive
	}
}

// WithNotarizeRatio 覆盖默认的2/3公证阈值
// 只在负面测试里使用：阈值低于2/3时安全性论证不再成立
func WithNotarizeRatio(num, den int64) StoreOption {
	return func(s *MessageStore) {
		s.notarizeNum = num
		s.notarizeDen = den
	}
}

func WithStoreLogger(logger log.Logger) StoreOption {
	return func(s *MessageStore) {
		s.logger = logger
	}
}

// MessageStore 消息组成的只增hash链DAG，根是固定的创世引用
//
// 消息一旦插入永不修改、永不删除，重复插入同一个hash是no-op。
// 公证(notarization)是从投票集合推导出的单调谓词，这里用缓存维护；
// finalization检查在每次新公证产生时增量推进。
type MessageStore struct {
	mtx sync.RWMutex

	chainID string
	vals    *types.ValidatorSet
	seed    uint64

	verifyPayload VerifyPayloadFunc
	genesisRef    types.MessageHash

	notarizeNum int64
	notarizeDen int64

	// 消息本体，key是hash的string形式
	messages map[string]types.Message
	// 插入顺序，diff计算按这个顺序给出ancestor-complete的序列
	order []types.Message
	// 每个消息当前已知的子消息数，为0的是tip
	childCnt map[string]int
	// 每个proposal/solicit的solicit子消息数，为0的是可延伸的链头
	solicitChildren map[string]int

	// target hash -> voter address string -> true
	voted map[string]map[string]bool
	// target hash -> 累计投票权重
	votedPower map[string]int64
	notarized  map[string]bool

	finalizedProp *types.Proposal
	conflictErr   error

	archive *Archive
	logger  log.Logger
}

func NewMessageStore(
	chainID string,
	vals *types.ValidatorSet,
	seed uint64,
	verifyPayload VerifyPayloadFunc,
	options ...StoreOption,
) *MessageStore {
	s := &MessageStore{
		chainID:         chainID,
		vals:            vals,
		seed:            seed,
		verifyPayload:   verifyPayload,
		genesisRef:      types.GenesisRef(chainID),
		notarizeNum:     2,
		notarizeDen:     3,
		messages:        make(map[string]types.Message),
		childCnt:        make(map[string]int),
		solicitChildren: make(map[string]int),
		voted:           make(map[string]map[string]bool),
		votedPower:      make(map[string]int64),
		notarized:       make(map[string]bool),
		logger:          log.NewNopLogger(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *MessageStore) SetLogger(logger log.Logger) {
	s.logger = logger
}

// GenesisRef 本实例的创世引用
func (s *MessageStore) GenesisRef() types.MessageHash {
	return s.genesisRef
}

// AddMessage 校验并插入一条消息
// 重复插入同一个hash返回nil且不产生任何效果
func (s *MessageStore) AddMessage(msg types.Message) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.addMessage(msg)
}

func (s *MessageStore) addMessage(msg types.Message) error {
	if err := msg.ValidateBasic(); err != nil {
		return err
	}

	hash := msg.Hash()
	if _, ok := s.messages[hash.String()]; ok {
		// 幂等
		return nil
	}

	_, val := s.vals.GetByAddress(msg.Source())
	if val == nil {
		return ErrUnknownAuthor
	}
	if err := msg.Verify(s.chainID, val.PubKey); err != nil {
		return ErrInvalidSignature
	}

	switch m := msg.(type) {
	case *types.Proposal:
		if err := s.checkProposal(m); err != nil {
			return err
		}
	case *types.Solicit:
		if err := s.checkSolicit(m); err != nil {
			return err
		}
	case *types.Vote:
		if err := s.checkVote(m); err != nil {
			return err
		}
	default:
		return ErrBadPointer
	}

	s.messages[hash.String()] = msg
	s.order = append(s.order, msg)
	if !bytes.Equal(msg.Ref(), s.genesisRef) {
		s.childCnt[msg.Ref().String()]++
	}
	if _, ok := msg.(*types.Solicit); ok {
		s.solicitChildren[msg.Ref().String()]++
	}

	if vote, ok := msg.(*types.Vote); ok {
		s.countVote(vote, val.VotingPower)
	}

	if s.archive != nil {
		if err := s.archive.SaveMessage(int64(len(s.order)-1), msg); err != nil {
			s.logger.Error("failed to archive message", "hash", hash, "err", err)
		}
	}
	return nil
}

// checkProposal 提案的parent必须是创世引用或更早tick的提案/solicit，
// 作者必须是该tick的指定proposer，payload必须通过宿主校验
func (s *MessageStore) checkProposal(p *types.Proposal) error {
	if !bytes.Equal(p.Parent, s.genesisRef) {
		parent, ok := s.messages[p.Parent.String()]
		if !ok {
			return ErrUnknownParent
		}
		switch parent.(type) {
		case *types.Proposal, *types.Solicit:
		default:
			return ErrBadPointer
		}
		if !p.Tick.Greater(msgTick(parent)) {
			return ErrBadPointer
		}
	}

	proposer := s.vals.Proposer(s.seed, p.Tick)
	if proposer == nil || !types.AddressEqual(proposer.Address, p.ValidatorAddress) {
		return ErrUnauthorizedProposer
	}

	if s.verifyPayload != nil {
		if err := s.verifyPayload(p.Payload); err != nil {
			return ErrPayloadRejected
		}
	}
	return nil
}

// checkSolicit solicit指向已知的提案或solicit，tick必须严格递增
// 任何参与者都可以发solicit，不做proposer检查
func (s *MessageStore) checkSolicit(sol *types.Solicit) error {
	target, ok := s.messages[sol.Previous.String()]
	if !ok {
		return ErrUnknownParent
	}
	switch target.(type) {
	case *types.Proposal, *types.Solicit:
	default:
		return ErrBadPointer
	}
	if !sol.Tick.Greater(msgTick(target)) {
		return ErrBadPointer
	}
	return nil
}

func (s *MessageStore) checkVote(v *types.Vote) error {
	target, ok := s.messages[v.VotingFor.String()]
	if !ok {
		return ErrUnknownParent
	}
	switch target.(type) {
	case *types.Proposal, *types.Solicit:
	default:
		return ErrBadPointer
	}
	return nil
}

// countVote 累计投票权重，跨过阈值时产生公证并推进finalization检查
// 同一个作者对同一个目标只计一次（内容相同的重复vote早被幂等挡掉）
func (s *MessageStore) countVote(v *types.Vote, power int64) {
	target := v.VotingFor.String()
	voters, ok := s.voted[target]
	if !ok {
		voters = make(map[string]bool)
		s.voted[target] = voters
	}
	addr := v.ValidatorAddress.String()
	if voters[addr] {
		return
	}
	voters[addr] = true
	s.votedPower[target] += power

	if s.notarized[target] {
		return
	}
	// 严格大于: votedPower/total > num/den
	if s.votedPower[target]*s.notarizeDen > s.vals.TotalVotingPower()*s.notarizeNum {
		s.notarized[target] = true
		s.logger.Debug("message notarized", "hash", v.VotingFor,
			"power", s.votedPower[target], "total", s.vals.TotalVotingPower())
		s.recheckFinalized()
	}
}

// recheckFinalized 扫描所有公证的solicit，找tick连续的公证三连
// (n, n+1, n+2)且最低的一个直接压着一个proposal的链
// 公证是单调的，所以一旦成立永远成立；找到第二个不同的finalized
// proposal时记下冲突，这是唯一的致命状态
func (s *MessageStore) recheckFinalized() {
	if s.conflictErr != nil {
		return
	}
	for _, msg := range s.order {
		s3, ok := msg.(*types.Solicit)
		if !ok || !s.notarized[s3.Hash().String()] {
			continue
		}
		s2, ok := s.messages[s3.Previous.String()].(*types.Solicit)
		if !ok || !s.notarized[s2.Hash().String()] || !s2.Tick.Add(1).Equal(s3.Tick) {
			continue
		}
		s1, ok := s.messages[s2.Previous.String()].(*types.Solicit)
		if !ok || !s.notarized[s1.Hash().String()] || !s1.Tick.Add(1).Equal(s2.Tick) {
			continue
		}
		prop, ok := s.messages[s1.Previous.String()].(*types.Proposal)
		if !ok {
			continue
		}

		if s.finalizedProp == nil {
			s.finalizedProp = prop
			s.logger.Info("proposal finalized", "hash", prop.Hash(), "tick", prop.Tick)
		} else if !bytes.Equal(s.finalizedProp.Hash(), prop.Hash()) {
			s.conflictErr = fmt.Errorf("%w: %X and %X",
				ErrConflictingFinalization, s.finalizedProp.Hash(), prop.Hash())
			s.logger.Error("conflicting finalization detected",
				"first", s.finalizedProp.Hash(), "second", prop.Hash())
			return
		}
	}
}

// Finalized 返回唯一finalized的proposal
// 返回error表示观察到了两个冲突的finalization，安全性已被破坏
func (s *MessageStore) Finalized() (*types.Proposal, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if s.conflictErr != nil {
		return nil, s.conflictErr
	}
	return s.finalizedProp, nil
}

// Tips 当前没有任何已知子消息的frontier，按插入顺序返回
func (s *MessageStore) Tips() []types.MessageHash {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	tips := make([]types.MessageHash, 0)
	for _, msg := range s.order {
		if s.childCnt[msg.Hash().String()] == 0 {
			tips = append(tips, msg.Hash())
		}
	}
	return tips
}

// Heads 没有solicit子消息的proposal/solicit，是可延伸的链头
func (s *MessageStore) Heads() []types.Message {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	heads := make([]types.Message, 0)
	for _, msg := range s.order {
		switch msg.(type) {
		case *types.Proposal, *types.Solicit:
			if s.solicitChildren[msg.Hash().String()] == 0 {
				heads = append(heads, msg)
			}
		}
	}
	return heads
}

// ChainInfo 从head回溯到创世引用，统计公证的祖先数量和链长
// head自身也计入
func (s *MessageStore) ChainInfo(head types.MessageHash) (notarized int, length int) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	cur := head
	for {
		msg, ok := s.messages[cur.String()]
		if !ok {
			return
		}
		length++
		if s.notarized[cur.String()] {
			notarized++
		}
		if bytes.Equal(msg.Ref(), s.genesisRef) {
			return
		}
		cur = msg.Ref()
	}
}

// ChainMessages 从head回溯到根proposal的整条链，按从根到head排序
func (s *MessageStore) ChainMessages(head types.MessageHash) []types.Message {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	chain := make([]types.Message, 0)
	cur := head
	for {
		msg, ok := s.messages[cur.String()]
		if !ok {
			break
		}
		chain = append(chain, msg)
		if bytes.Equal(msg.Ref(), s.genesisRef) {
			break
		}
		cur = msg.Ref()
	}
	// reverse
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func (s *MessageStore) Has(hash types.MessageHash) bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	_, ok := s.messages[hash.String()]
	return ok
}

func (s *MessageStore) Get(hash types.MessageHash) types.Message {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.messages[hash.String()]
}

// Notarized 目标消息是否已经跨过公证阈值，单调谓词
func (s *MessageStore) Notarized(hash types.MessageHash) bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.notarized[hash.String()]
}

// VotedBy addr是否已经对目标消息投过票
func (s *MessageStore) VotedBy(hash types.MessageHash, addr types.Address) bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.voted[hash.String()][addr.String()]
}

// SolicitedBy addr是否已经对目标消息发过solicit
func (s *MessageStore) SolicitedBy(hash types.MessageHash, addr types.Address) bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	for _, msg := range s.order {
		sol, ok := msg.(*types.Solicit)
		if !ok {
			continue
		}
		if bytes.Equal(sol.Previous, hash) && types.AddressEqual(sol.ValidatorAddress, addr) {
			return true
		}
	}
	return false
}

// HasProposalAtTick tick处是否已经存在提案
func (s *MessageStore) HasProposalAtTick(tick types.LTime) bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	for _, msg := range s.order {
		if p, ok := msg.(*types.Proposal); ok && p.Tick.Equal(tick) {
			return true
		}
	}
	return false
}

// Size 树中的消息总数
func (s *MessageStore) Size() int {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return len(s.order)
}

// Messages 按插入顺序返回全部消息的拷贝切片
func (s *MessageStore) Messages() []types.Message {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	out := make([]types.Message, len(s.order))
	copy(out, s.order)
	return out
}

func msgTick(msg types.Message) types.LTime {
	switch m := msg.(type) {
	case *types.Proposal:
		return m.Tick
	case *types.Solicit:
		return m.Tick
	default:
		return types.LtimeUnset
	}
}
