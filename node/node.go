package node

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	cfg "github.com/tendermint/tendermint/config"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
	"github.com/tendermint/tendermint/p2p"
	"github.com/tendermint/tendermint/p2p/conn"
	rpcserver "github.com/tendermint/tendermint/rpc/jsonrpc/server"
	"github.com/tendermint/tendermint/version"

	"oneshotbft/consensus"
	"oneshotbft/libs/metric"
	"oneshotbft/payload"
	"oneshotbft/privval"
	"oneshotbft/rpc"
	"oneshotbft/store"
	"oneshotbft/types"
)

type Provider func(*cfg.Config, log.Logger) (*Node, error)

// Node 一个完整的决议节点：消息树 + 引擎 + p2p + rpc
type Node struct {
	service.BaseService

	// config
	config     *cfg.Config
	genesisDoc *types.GenesisDoc

	// network
	transport *p2p.MultiplexTransport
	sw        *p2p.Switch // p2p connections
	nodeInfo  p2p.NodeInfo
	nodeKey   *p2p.NodeKey // our node privkey

	// service
	pool      *payload.Pool
	archive   *store.Archive
	msgStore  *store.MessageStore
	reactor   *consensus.Reactor
	engine    *consensus.Engine
	metricSet *metric.Set

	rpcListeners []net.Listener
	tickCancel   context.CancelFunc
	tickDone     chan struct{}
}

type Option func(*Node)

func DefaultNewNode(config *cfg.Config, logger log.Logger) (*Node, error) {
	nodeKey, err := p2p.LoadOrGenNodeKey(config.NodeKeyFile())
	if err != nil {
		return nil, errors.Wrap(err, "failed to load or gen node key")
	}

	genDoc, err := types.GenesisDocFromFile(config.GenesisFile())
	if err != nil {
		return nil, errors.Wrap(err, "failed to load genesis doc")
	}

	pv := privval.LoadOrGenFilePV(config.PrivValidatorKeyFile())

	return NewNode(config, nodeKey, pv, genDoc, logger)
}

func createTransport(
	nodeInfo p2p.NodeInfo,
	nodeKey *p2p.NodeKey,
) *p2p.MultiplexTransport {
	var (
		mConnConfig = conn.DefaultMConnConfig()
		transport   = p2p.NewMultiplexTransport(nodeInfo, *nodeKey, mConnConfig)
	)

	return transport
}

func createSwitch(config *cfg.Config,
	transport p2p.Transport,
	decideReactor *consensus.Reactor,
	nodeInfo p2p.NodeInfo,
	nodeKey *p2p.NodeKey,
	p2pLogger log.Logger) *p2p.Switch {

	sw := p2p.NewSwitch(
		config.P2P,
		transport,
	)
	sw.SetLogger(p2pLogger)
	sw.AddReactor("DECIDE", decideReactor)

	sw.SetNodeInfo(nodeInfo)
	sw.SetNodeKey(nodeKey)

	p2pLogger.Info("P2P Node ID", "ID", nodeKey.ID(), "file", config.NodeKeyFile())
	return sw
}

func makeNodeInfo(
	config *cfg.Config,
	nodeKey *p2p.NodeKey,
	genDoc *types.GenesisDoc,
) (p2p.NodeInfo, error) {
	nodeInfo := p2p.DefaultNodeInfo{
		ProtocolVersion: p2p.NewProtocolVersion(
			8, // global
			11,
			0,
		),
		DefaultNodeID: nodeKey.ID(),
		Network:       genDoc.ChainID,
		Version:       version.TMCoreSemVer,
		Channels: []byte{
			consensus.DiffRequestChannel,
			consensus.DiffResponseChannel,
		},
		Moniker: config.Moniker,
		Other: p2p.DefaultNodeInfoOther{
			TxIndex:    "off",
			RPCAddress: config.RPC.ListenAddress,
		},
	}

	lAddr := config.P2P.ExternalAddress

	if lAddr == "" {
		lAddr = config.P2P.ListenAddress
	}

	nodeInfo.ListenAddr = lAddr

	err := nodeInfo.Validate()
	return nodeInfo, err
}

func NewNode(
	config *cfg.Config,
	nodeKey *p2p.NodeKey,
	pv types.PrivValidator,
	genDoc *types.GenesisDoc,
	logger log.Logger,
	options ...Option,
) (*Node, error) {
	if err := genDoc.ValidateAndComplete(); err != nil {
		return nil, errors.Wrap(err, "invalid genesis doc")
	}

	pool := payload.NewPool()
	pool.SetLogger(logger.With("module", "payload"))

	archive, err := store.OpenArchive("decide_archive", config.DBDir())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open decision archive")
	}

	msgStore := store.NewMessageStore(
		genDoc.ChainID,
		genDoc.ValidatorSet(),
		genDoc.Seed,
		nil, // 任意payload都接受，拒绝策略是调用方的事
		store.WithArchive(archive),
		store.WithStoreLogger(logger.With("module", "store")),
	)

	decideReactor := consensus.NewReactor(msgStore)
	decideReactor.SetLogger(logger.With("module", "consensus"))

	metricSet := metric.NewSet()
	engine := consensus.NewEngine(
		consensus.NewLocalConfig(genDoc, pv, pool.Best, nil),
		msgStore,
		decideReactor,
		consensus.WithMetricSet(metricSet),
	)
	engine.SetLogger(logger.With("module", "consensus"))

	p2pLogger := logger.With("module", "p2p")

	// setup node identity
	nodeInfo, err := makeNodeInfo(config, nodeKey, genDoc)
	if err != nil {
		return nil, err
	}

	// Setup Transport.
	transport := createTransport(nodeInfo, nodeKey)

	// Setup Switch.
	sw := createSwitch(
		config, transport, decideReactor, nodeInfo, nodeKey, p2pLogger,
	)

	node := &Node{
		config:     config,
		genesisDoc: genDoc,
		transport:  transport,
		sw:         sw,
		nodeInfo:   nodeInfo,
		nodeKey:    nodeKey,
		pool:       pool,
		archive:    archive,
		msgStore:   msgStore,
		reactor:    decideReactor,
		engine:     engine,
		metricSet:  metricSet,
	}

	node.BaseService = *service.NewBaseService(logger, "Node", node)
	for _, option := range options {
		option(node)
	}

	return node, nil
}

func (n *Node) Switch() *p2p.Switch {
	return n.sw
}

func (n *Node) NodeInfo() p2p.NodeInfo {
	return n.nodeInfo
}

func (n *Node) Engine() *consensus.Engine {
	return n.engine
}

func (n *Node) MessageStore() *store.MessageStore {
	return n.msgStore
}

func (n *Node) Pool() *payload.Pool {
	return n.pool
}

func (n *Node) OnStart() error {
	// start the transport
	addr, err := p2p.NewNetAddressString(p2p.IDAddressString(n.nodeKey.ID(), n.config.P2P.ListenAddress))
	if err != nil {
		return err
	}
	if err := n.transport.Listen(*addr); err != nil {
		return err
	}

	// start the Switch
	err = n.sw.Start()
	if err != nil {
		return err
	}

	n.Logger.Info("dialing persistent peers", "peers", n.config.P2P.PersistentPeers)
	err = n.sw.DialPeersAsync(splitAndTrimEmpty(n.config.P2P.PersistentPeers, ",", " "))
	if err != nil {
		return errors.Wrap(err, "could not dial peers from persistent_peers field")
	}

	if n.config.RPC.ListenAddress != "" {
		listeners, err := n.startRPC()
		if err != nil {
			return err
		}
		n.rpcListeners = listeners
	}

	// 引擎循环：一路tick到终态，期间reactor在同一循环里做diff交换
	ctx, cancel := context.WithCancel(context.Background())
	n.tickCancel = cancel
	n.tickDone = make(chan struct{})
	go n.tickLoop(ctx)

	return nil
}

func (n *Node) tickLoop(ctx context.Context) {
	defer close(n.tickDone)

	out := n.engine.TickToEnd(ctx)
	switch out.State {
	case consensus.StateDecided:
		n.Logger.Info("instance decided", "payload_bytes", len(out.Decision))
		if err := n.archive.SaveDecision(out.Decision); err != nil {
			n.Logger.Error("failed to archive decision", "err", err)
		}
	case consensus.StateFatal:
		n.Logger.Error("instance hit fatal failure", "err", out.Err)
	default:
		// ctx取消，节点正常关停
	}
}

func (n *Node) startRPC() ([]net.Listener, error) {
	rpc.SetEnvironment(&rpc.Environment{
		Pool:      n.pool,
		Engine:    n.engine,
		Store:     n.msgStore,
		MetricSet: n.metricSet,
	})

	listenAddrs := splitAndTrimEmpty(n.config.RPC.ListenAddress, ",", " ")
	rpcConfig := rpcserver.DefaultConfig()
	rpcConfig.MaxOpenConnections = n.config.RPC.MaxOpenConnections

	listeners := make([]net.Listener, 0, len(listenAddrs))
	for _, listenAddr := range listenAddrs {
		rpcLogger := n.Logger.With("module", "rpc-server")

		mux := http.NewServeMux()
		rpcserver.RegisterRPCFuncs(mux, rpc.Routes, rpcLogger)

		wm := rpcserver.NewWebsocketManager(rpc.Routes)
		wm.SetLogger(rpcLogger.With("protocol", "websocket"))
		mux.HandleFunc("/websocket", wm.WebsocketHandler)

		listener, err := rpcserver.Listen(listenAddr, rpcConfig)
		if err != nil {
			return nil, err
		}

		go func() {
			if err := rpcserver.Serve(listener, mux, rpcLogger, rpcConfig); err != nil {
				rpcLogger.Error("rpc server stopped", "err", err)
			}
		}()
		listeners = append(listeners, listener)
	}

	return listeners, nil
}

func (n *Node) OnStop() {
	if n.tickCancel != nil {
		n.tickCancel()
		<-n.tickDone
	}

	for _, l := range n.rpcListeners {
		n.Logger.Info("closing rpc listener", "listener", l)
		if err := l.Close(); err != nil {
			n.Logger.Error("error closing listener", "listener", l, "err", err)
		}
	}

	if err := n.sw.Stop(); err != nil {
		n.Logger.Error("error stopping switch", "err", err)
	}

	if err := n.transport.Close(); err != nil {
		n.Logger.Error("error closing transport", "err", err)
	}

	if err := n.archive.Close(); err != nil {
		n.Logger.Error("error closing archive", "err", err)
	}
}

// splitAndTrimEmpty slices s into all subslices separated by sep and returns a
// slice of the string s with all leading and trailing Unicode code points
// contained in cutset removed. If sep is empty, SplitAndTrim splits after each
// UTF-8 sequence. First part is equivalent to strings.SplitN with a count of
// -1.  also filter out empty strings, only return non-empty strings.
func splitAndTrimEmpty(s, sep, cutset string) []string {
	if s == "" {
		return []string{}
	}

	spl := strings.Split(s, sep)
	nonEmptyStrings := make([]string, 0, len(spl))
	for i := 0; i < len(spl); i++ {
		element := strings.Trim(spl[i], cutset)
		if element != "" {
			nonEmptyStrings = append(nonEmptyStrings, element)
		}
	}
	return nonEmptyStrings
}
