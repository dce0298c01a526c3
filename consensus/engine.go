package consensus

import (
	"context"
	"sync"
	"time"

	"github.com/tendermint/tendermint/libs/log"

	"oneshotbft/libs/metric"
	"oneshotbft/store"
	"oneshotbft/types"
)

type State uint8

const (
	// StateRunning 初始状态，还没有结论
	StateRunning = State(0x01)
	// StateDecided 终态：结论已经finalize，之后的tick都是no-op
	StateDecided = State(0x02)
	// StateFatal 终态：观察到了安全性破坏（冲突的finalization）
	StateFatal = State(0x03)
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateDecided:
		return "Decided"
	case StateFatal:
		return "FatalFailure"
	default:
		return "Unknown"
	}
}

// Outcome 一次tick之后实例的对外状态
type Outcome struct {
	State State

	// Decision 终案payload，State==StateDecided时有效
	Decision []byte

	// Err 安全性违例，State==StateFatal时有效
	// 这是唯一跨过tick边界的error，其余问题都在内部消化
	Err error
}

type EngineOption func(*Engine)

// WithSelectHead 替换链头选择策略，必须保持确定性
func WithSelectHead(fn SelectHeadFunc) EngineOption {
	return func(e *Engine) {
		e.selectHead = fn
	}
}

// WithTickInterval 覆盖TickToEnd的初始间隔，测试用
func WithTickInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.tickInterval = d
	}
}

func WithMetricSet(set *metric.Set) EngineOption {
	return func(e *Engine) {
		set.Register("consensus", e.metric)
	}
}

// Engine tick驱动的共识状态机
//
// 完全单线程：所有状态变化都同步发生在Tick调用内部，两次tick之间
// 没有任何后台活动，调度权完全在调用方手里。这让fuzz和replay可以
// 精确复现任何一次执行。
type Engine struct {
	config Config
	store  *store.MessageStore
	syncer *SyncProtocol

	selectHead SelectHeadFunc

	// mtx 只为外部观察者（RPC等）读tick/state/outcome服务，
	// 推进本身依旧严格串行
	mtx sync.RWMutex

	// 逻辑时间，从LtimeUnset起步，第一次Tick推进到0
	tick    types.LTime
	state   State
	outcome Outcome

	tickInterval time.Duration

	metric *engineMetric
	logger log.Logger
}

func NewEngine(config Config, s *store.MessageStore, network Network, options ...EngineOption) *Engine {
	e := &Engine{
		config:       config,
		store:        s,
		selectHead:   DefaultSelectHead,
		tick:         types.LtimeUnset,
		state:        StateRunning,
		outcome:      Outcome{State: StateRunning},
		tickInterval: time.Second,
		metric:       newEngineMetric(),
		logger:       log.NewNopLogger(),
	}
	if network != nil {
		e.syncer = NewSyncProtocol(s, network)
	}
	for _, option := range options {
		option(e)
	}
	return e
}

func (e *Engine) SetLogger(logger log.Logger) {
	e.logger = logger
	if e.syncer != nil {
		e.syncer.SetLogger(logger)
	}
}

// Store 引擎独占的消息树，外部只读
func (e *Engine) Store() *store.MessageStore {
	return e.store
}

// Outcome 上一次Tick之后的状态，终态下可以随时读
func (e *Engine) Outcome() Outcome {
	e.mtx.RLock()
	defer e.mtx.RUnlock()
	return e.outcome
}

// LTime 当前逻辑时间
func (e *Engine) LTime() types.LTime {
	e.mtx.RLock()
	defer e.mtx.RUnlock()
	return e.tick
}

// Tick 推进一个逻辑tick：先本地出招（提案/solicit/投票），再跟
// 对端同步，最后查finalization。终态下直接返回既有结论
func (e *Engine) Tick() Outcome {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	if e.state != StateRunning {
		return e.outcome
	}

	e.tick = e.tick.Add(1)
	e.metric.MarkTick(e.tick)

	// 本tick自己写的消息先进本地树，同一tick的sync就能带给对端
	e.author()

	if e.syncer != nil {
		applied := e.syncer.Round()
		e.metric.MarkAppliedLastSync(applied)
	}
	e.metric.MarkTreeSize(e.store.Size())

	fin, err := e.store.Finalized()
	switch {
	case err != nil:
		e.state = StateFatal
		e.outcome = Outcome{State: StateFatal, Err: err}
		e.logger.Error("safety violation, entering fatal state", "err", err)
	case fin != nil:
		e.state = StateDecided
		e.outcome = Outcome{State: StateDecided, Decision: fin.Payload}
		e.logger.Info("decision finalized", "tick", e.tick, "proposal", fin.Hash())
	}
	e.metric.MarkState(e.state)
	return e.outcome
}

// author 本tick的本地动作：被指定的proposer出提案或solicit，
// 然后对选中链上自己还没投过的消息逐个补票
func (e *Engine) author() {
	var (
		priv     = e.config.PrivValidator()
		myAddr   = priv.GetAddress()
		proposer = e.config.Validators().Proposer(e.config.Seed(), e.tick)
	)
	if proposer == nil {
		return
	}
	isProposer := types.AddressEqual(proposer.Address, myAddr)
	e.metric.MarkProposer(isProposer, proposer.Address.String())

	best := e.selectHead(e.store, e.store.Heads())

	if isProposer {
		e.extend(priv, best)
		// 重新选头，自己刚插入的消息可能就是新的最优链头
		best = e.selectHead(e.store, e.store.Heads())
	}

	if best != nil {
		e.voteChain(priv, myAddr, best)
	}
}

// extend 作为本tick的指定proposer延伸树：没有链头就出创世提案，
// 有链头且其tick更早就压一个solicit上去
func (e *Engine) extend(priv types.PrivValidator, best types.Message) {
	if best == nil {
		if e.store.HasProposalAtTick(e.tick) {
			return
		}
		payload := e.config.GeneratePayload()
		if len(payload) == 0 {
			e.logger.Debug("no payload to propose", "tick", e.tick)
			return
		}
		if err := e.config.VerifyPayload(payload); err != nil {
			e.logger.Error("own payload failed validation", "err", err)
			return
		}
		prop := &types.Proposal{
			Tick:             e.tick,
			Parent:           e.store.GenesisRef(),
			Payload:          payload,
			ValidatorAddress: priv.GetAddress(),
		}
		if err := priv.SignProposal(e.config.ChainID(), prop); err != nil {
			e.logger.Error("failed to sign proposal", "err", err)
			return
		}
		if err := e.store.AddMessage(prop); err != nil {
			e.logger.Error("own proposal rejected", "err", err)
			return
		}
		e.logger.Info("authored proposal", "tick", e.tick, "hash", prop.Hash())
		return
	}

	if !e.tick.Greater(msgTick(best)) {
		// 本tick已经在这条链上被占用
		return
	}
	if e.store.SolicitedBy(best.Hash(), priv.GetAddress()) {
		return
	}
	sol := &types.Solicit{
		Tick:             e.tick,
		Previous:         best.Hash(),
		ValidatorAddress: priv.GetAddress(),
	}
	if err := priv.SignSolicit(e.config.ChainID(), sol); err != nil {
		e.logger.Error("failed to sign solicit", "err", err)
		return
	}
	if err := e.store.AddMessage(sol); err != nil {
		e.logger.Error("own solicit rejected", "err", err)
		return
	}
	e.logger.Debug("authored solicit", "tick", e.tick, "previous", best.Hash())
}

// voteChain 沿选中的链从根到头，补上自己漏投的每一票
// 只投最新的头会饿死中间的solicit，它们也必须各自跨过公证阈值
func (e *Engine) voteChain(priv types.PrivValidator, myAddr types.Address, best types.Message) {
	for _, msg := range e.store.ChainMessages(best.Hash()) {
		if e.store.VotedBy(msg.Hash(), myAddr) {
			continue
		}
		vote := &types.Vote{
			VotingFor:        msg.Hash(),
			ValidatorAddress: myAddr,
		}
		if err := priv.SignVote(e.config.ChainID(), vote); err != nil {
			e.logger.Error("failed to sign vote", "err", err)
			continue
		}
		if err := e.store.AddMessage(vote); err != nil {
			e.logger.Error("own vote rejected", "target", msg.Hash(), "err", err)
		}
	}
}

// TickToEnd 反复tick直到终态，间隔从初始值起每tick放大10%
// 唯一会阻塞的便捷入口，核心算法全在Tick里
func (e *Engine) TickToEnd(ctx context.Context) Outcome {
	interval := e.tickInterval
	for {
		out := e.Tick()
		if out.State != StateRunning {
			return out
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return e.Outcome()
		case <-timer.C:
		}
		interval = time.Duration(float64(interval) * 1.1)
	}
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
