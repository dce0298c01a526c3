package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"
	tmtime "github.com/tendermint/tendermint/types/time"

	"oneshotbft/privval"
	"oneshotbft/types"
)

var GenGenesisCmd = &cobra.Command{
	Use:     "gen-genesis",
	Aliases: []string{"gen_genesis"},
	Short:   "Generate a genesis doc for the whole cluster",
	PreRun:  deprecateSnakeCase,
	RunE:    genGenesisFile,
}

func init() {
	GenGenesisCmd.Flags().StringVar(&chainID, "chainID", "test-chain", "链名，不指定则使用test-chain")

	GenGenesisCmd.Flags().Int64Var(&seed, "seed", 1, "集群密钥和proposer轮转共用的种子")
	GenGenesisCmd.MarkFlagRequired("seed")
	GenGenesisCmd.Flags().IntVar(&clusterCount, "cluster-count", 4, "集群的验证者数量")
	GenGenesisCmd.MarkFlagRequired("cluster-count")
}

// genGenesisFile 和gen-validator共用同一套(seed, idx)派生逻辑，
// 这样每个节点各自gen-validator出来的钥匙天然就在genesis里
func genGenesisFile(cmd *cobra.Command, args []string) error {
	genFile := config.GenesisFile()
	if tmos.FileExists(genFile) {
		logger.Info("Found genesis file", "path", genFile)
		return nil
	}

	valList := make([]types.GenesisValidator, clusterCount)
	for id := 0; id < clusterCount; id++ {
		pub := privval.SeededPrivKey(seed, int64(id)).PubKey()
		valList[id] = types.GenesisValidator{
			Address: pub.Address(),
			PubKey:  pub,
			Power:   1,
			Name:    fmt.Sprintf("validator-%v", id),
		}
	}

	genDoc := types.GenesisDoc{
		GenesisTime: tmtime.Now(),
		ChainID:     chainID,
		Seed:        uint64(seed),
		Validators:  valList,
	}
	if err := genDoc.ValidateAndComplete(); err != nil {
		return err
	}

	if err := genDoc.SaveAs(genFile); err != nil {
		return err
	}
	logger.Info("Generated genesis file", "path", genFile)

	return nil
}
