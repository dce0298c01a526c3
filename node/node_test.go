package node

import (
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/tendermint/tendermint/config"
	"github.com/tendermint/tendermint/libs/log"
	tmtime "github.com/tendermint/tendermint/types/time"

	"oneshotbft/consensus"
	"oneshotbft/privval"
	"oneshotbft/types"
)

func setupTestRoot(t *testing.T) *cfg.Config {
	t.Helper()

	rootDir, err := ioutil.TempDir("", "oneshotbft-node-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(rootDir) })

	config := cfg.DefaultConfig()
	config.SetRoot(rootDir)
	cfg.EnsureRoot(rootDir)

	config.P2P.ListenAddress = "tcp://127.0.0.1:0"
	config.P2P.AddrBookStrict = false
	config.P2P.AllowDuplicateIP = true
	// 单元测试不开rpc端口
	config.RPC.ListenAddress = ""

	pv := privval.GenFilePVWithSeedAndIdx(config.PrivValidatorKeyFile(), 7, 0)
	pv.Save()

	pubKey, err := pv.GetPubKey()
	require.NoError(t, err)

	genDoc := types.GenesisDoc{
		GenesisTime: tmtime.Now(),
		ChainID:     "node-test-chain",
		Seed:        7,
		Validators: []types.GenesisValidator{{
			Address: pubKey.Address(),
			PubKey:  pubKey,
			Power:   1,
		}},
	}
	require.NoError(t, genDoc.SaveAs(config.GenesisFile()))

	return config
}

// 单验证者节点：起来，喂一个payload，等它自己决出来，停掉
func TestNodeStartDecideStop(t *testing.T) {
	config := setupTestRoot(t)

	n, err := DefaultNewNode(config, log.TestingLogger())
	require.NoError(t, err)

	require.NoError(t, n.Pool().Push([]byte("the-decision")))

	require.NoError(t, n.Start())
	t.Cleanup(func() {
		if n.IsRunning() {
			assert.NoError(t, n.Stop())
		}
	})

	require.Eventually(t, func() bool {
		return n.Engine().Outcome().State == consensus.StateDecided
	}, 20*time.Second, 50*time.Millisecond, "single validator never decided")

	out := n.Engine().Outcome()
	assert.Equal(t, []byte("the-decision"), out.Decision)

	require.NoError(t, n.Stop())
}

// 决议要落进归档库，关停重开还能翻出来
func TestNodeArchivesDecision(t *testing.T) {
	config := setupTestRoot(t)

	n, err := DefaultNewNode(config, log.TestingLogger())
	require.NoError(t, err)

	require.NoError(t, n.Pool().Push([]byte("archived-decision")))
	require.NoError(t, n.Start())

	require.Eventually(t, func() bool {
		return n.Engine().Outcome().State == consensus.StateDecided
	}, 20*time.Second, 50*time.Millisecond)
	require.NoError(t, n.Stop())

	// OnStop已经把归档库关了，重开验证落盘内容
	n2, err := DefaultNewNode(config, log.TestingLogger())
	require.NoError(t, err)
	decision, err := n2.archive.Decision()
	require.NoError(t, err)
	assert.Equal(t, []byte("archived-decision"), decision)
	require.NoError(t, n2.archive.Close())
}

func TestDefaultNewNodeBadGenesis(t *testing.T) {
	config := setupTestRoot(t)

	require.NoError(t, ioutil.WriteFile(config.GenesisFile(), []byte("{not json"), 0644))

	_, err := DefaultNewNode(config, log.TestingLogger())
	require.Error(t, err)
}
