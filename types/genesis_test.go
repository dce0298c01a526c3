package types

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenesisDocValidateAndComplete(t *testing.T) {
	val, _ := RandValidator(10)

	// 缺chainID
	genDoc := GenesisDoc{
		Validators: []GenesisValidator{{PubKey: val.PubKey, Power: 10}},
	}
	require.Error(t, genDoc.ValidateAndComplete())

	// 没有验证者
	genDoc = GenesisDoc{ChainID: "empty-chain"}
	require.Error(t, genDoc.ValidateAndComplete())

	// 权重非正
	genDoc = GenesisDoc{
		ChainID:    "zero-power",
		Validators: []GenesisValidator{{PubKey: val.PubKey, Power: 0}},
	}
	require.Error(t, genDoc.ValidateAndComplete())

	// 地址和公钥不一致
	other, _ := RandValidator(10)
	genDoc = GenesisDoc{
		ChainID:    "bad-address",
		Validators: []GenesisValidator{{Address: other.Address, PubKey: val.PubKey, Power: 10}},
	}
	require.Error(t, genDoc.ValidateAndComplete())

	// 合法：地址和时间自动补全
	genDoc = GenesisDoc{
		ChainID:    "good-chain",
		Seed:       7,
		Validators: []GenesisValidator{{PubKey: val.PubKey, Power: 10}},
	}
	require.NoError(t, genDoc.ValidateAndComplete())
	assert.True(t, AddressEqual(val.PubKey.Address(), genDoc.Validators[0].Address))
	assert.False(t, genDoc.GenesisTime.IsZero())
}

func TestGenesisDocSaveAsAndLoad(t *testing.T) {
	dir, err := ioutil.TempDir("", "genesis-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	genFile := filepath.Join(dir, "genesis.json")

	vals, _ := DeterministicValidatorSet(3, 5)
	genVals := make([]GenesisValidator, 0, vals.Size())
	vals.Iterate(func(i int, val *Validator) bool {
		genVals = append(genVals, GenesisValidator{
			Address: val.Address,
			PubKey:  val.PubKey,
			Power:   val.VotingPower,
		})
		return false
	})

	genDoc := GenesisDoc{
		ChainID:    "save-load-chain",
		Seed:       42,
		Validators: genVals,
	}
	require.NoError(t, genDoc.ValidateAndComplete())
	require.NoError(t, genDoc.SaveAs(genFile))

	loaded, err := GenesisDocFromFile(genFile)
	require.NoError(t, err)
	assert.Equal(t, genDoc.ChainID, loaded.ChainID)
	assert.Equal(t, genDoc.Seed, loaded.Seed)

	// 还原出来的验证者集合hash要一致
	assert.Equal(t, vals.Hash(), loaded.ValidatorSet().Hash())
}

func TestGenesisDocFromJSONRejectsGarbage(t *testing.T) {
	_, err := GenesisDocFromJSON([]byte("{no json"))
	require.Error(t, err)
}
