// fork from github.com/tendermint/tendermint/types/validator_set.go
package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"sort"
	"strings"

	"github.com/tendermint/tendermint/crypto/merkle"
	"github.com/tendermint/tendermint/crypto/tmhash"
)

const (
	// MaxTotalVotingPower - the maximum allowed total voting power.
	MaxTotalVotingPower = int64(1) << 60
)

// ValidatorSet represent a set of *Validator at a given height.
//
// The validators are sorted by address, and the total voting power is
// cached on first access. The set is immutable once constructed; the
// weighted proposer for a tick is derived from a shared seed so every
// honest participant picks the same one.
type ValidatorSet struct {
	Validators []*Validator `json:"validators"`

	// cached (unexported)
	totalVotingPower int64
}

// NewValidatorSet initializes a ValidatorSet by copying over the values from
// `valz`, a list of Validators, and sorting them by address.
//
// The addresses of validators in `valz` must be unique otherwise the
// function panics.
func NewValidatorSet(valz []*Validator) *ValidatorSet {
	vals := &ValidatorSet{}
	err := vals.updateWithChangeSet(valz)
	if err != nil {
		panic(fmt.Sprintf("Cannot create validator set: %v", err))
	}
	return vals
}

func (vals *ValidatorSet) ValidateBasic() error {
	if vals.IsNilOrEmpty() {
		return fmt.Errorf("validator set is nil or empty")
	}

	for idx, val := range vals.Validators {
		if err := val.ValidateBasic(); err != nil {
			return fmt.Errorf("invalid validator #%d: %w", idx, err)
		}
	}
	return nil
}

// IsNilOrEmpty returns true if validator set is nil or empty.
func (vals *ValidatorSet) IsNilOrEmpty() bool {
	return vals == nil || len(vals.Validators) == 0
}

// Copy each validator into a new ValidatorSet.
func (vals *ValidatorSet) Copy() *ValidatorSet {
	return &ValidatorSet{
		Validators:       validatorListCopy(vals.Validators),
		totalVotingPower: vals.totalVotingPower,
	}
}

// HasAddress returns true if address given is in the validator set, false -
// otherwise.
func (vals *ValidatorSet) HasAddress(address []byte) bool {
	for _, val := range vals.Validators {
		if bytes.Equal(val.Address, address) {
			return true
		}
	}
	return false
}

// GetByAddress returns an index of the validator with address and validator
// itself (copy) if found. Otherwise, -1 and nil are returned.
func (vals *ValidatorSet) GetByAddress(address []byte) (index int, val *Validator) {
	for idx, val := range vals.Validators {
		if bytes.Equal(val.Address, address) {
			return idx, val.Copy()
		}
	}
	return -1, nil
}

// GetByIndex returns the validator's address and validator itself (copy) by
// index.
// It returns nil values if index is less than 0 or greater or equal to
// len(ValidatorSet.Validators).
func (vals *ValidatorSet) GetByIndex(index int32) (address []byte, val *Validator) {
	if index < 0 || int(index) >= len(vals.Validators) {
		return nil, nil
	}
	val = vals.Validators[index]
	return val.Address, val.Copy()
}

// Size returns the length of the validator set.
func (vals *ValidatorSet) Size() int {
	return len(vals.Validators)
}

func (vals *ValidatorSet) updateTotalVotingPower() {
	sum := int64(0)
	for _, val := range vals.Validators {
		// mind overflow
		sum = safeAddClip(sum, val.VotingPower)
		if sum > MaxTotalVotingPower {
			panic(fmt.Sprintf(
				"Total voting power should be guarded to not exceed %v; got: %v",
				MaxTotalVotingPower,
				sum))
		}
	}
	vals.totalVotingPower = sum
}

// TotalVotingPower returns the sum of the voting powers of all validators.
// It recomputes the total voting power if required.
func (vals *ValidatorSet) TotalVotingPower() int64 {
	if vals.totalVotingPower == 0 {
		vals.updateTotalVotingPower()
	}
	return vals.totalVotingPower
}

// Proposer 确定性地选出tick时刻的带权proposer
// 先用hash链rejection sampling公平地采样[0, totalPower)内一点，
// 再沿累计权重找到覆盖该点的validator，权重大的被选中概率更高
func (vals *ValidatorSet) Proposer(seed uint64, tick LTime) *Validator {
	total := uint64(vals.TotalVotingPower())
	if total == 0 {
		return nil
	}

	state := seed + uint64(tick.Int64())
	point := ^uint64(0)
	for point >= total {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], state)
		h := tmhash.Sum(buf[:])
		state = binary.BigEndian.Uint64(h[:8])
		point = state >> uint(bits.LeadingZeros64(total))
	}

	sum := uint64(0)
	for _, val := range vals.Validators {
		sum += uint64(val.VotingPower)
		if sum > point {
			return val.Copy()
		}
	}
	// sum of weights equals total, so the loop always returns
	panic("proposer sampling walked past the cumulative weight line")
}

// Hash returns the merkle root hash built using validators (as leaves) in the
// set.
func (vals *ValidatorSet) Hash() []byte {
	bzs := make([][]byte, len(vals.Validators))
	for i, val := range vals.Validators {
		bzs[i] = val.Bytes()
	}
	return merkle.HashFromByteSlices(bzs)
}

// Iterate will run the given function over the set.
func (vals *ValidatorSet) Iterate(fn func(index int, val *Validator) bool) {
	for i, val := range vals.Validators {
		stop := fn(i, val.Copy())
		if stop {
			break
		}
	}
}

// checkChangesDuplicates 地址不能重复
func checkChangesDuplicates(changes []*Validator) error {
	for i := 0; i < len(changes)-1; i++ {
		if bytes.Equal(changes[i].Address, changes[i+1].Address) {
			return fmt.Errorf("duplicate entry %v in %v", changes[i], changes)
		}
	}
	return nil
}

func (vals *ValidatorSet) updateWithChangeSet(changes []*Validator) error {
	addedVals := validatorListCopy(changes)
	sort.Sort(ValidatorsByAddress(addedVals))
	if err := checkChangesDuplicates(addedVals); err != nil {
		return err
	}

	vals.Validators = addedVals
	vals.updateTotalVotingPower()
	return nil
}

func (vals *ValidatorSet) String() string {
	return vals.StringIndented("")
}

// StringIndented returns an intendent String.
func (vals *ValidatorSet) StringIndented(indent string) string {
	if vals == nil {
		return "nil-ValidatorSet"
	}
	var valStrings []string
	vals.Iterate(func(index int, val *Validator) bool {
		valStrings = append(valStrings, val.String())
		return false
	})
	return fmt.Sprintf(`ValidatorSet{
%s  Validators:
%s    %v
%s}`,
		indent,
		indent, strings.Join(valStrings, "\n"+indent+"    "),
		indent)
}

//-------------------------------------

// ValidatorsByAddress implements sort.Interface for []*Validator based on
// the Address field.
type ValidatorsByAddress []*Validator

func (valz ValidatorsByAddress) Len() int { return len(valz) }

func (valz ValidatorsByAddress) Less(i, j int) bool {
	return bytes.Compare(valz[i].Address, valz[j].Address) == -1
}

func (valz ValidatorsByAddress) Swap(i, j int) {
	valz[i], valz[j] = valz[j], valz[i]
}

func validatorListCopy(valsList []*Validator) []*Validator {
	if valsList == nil {
		return nil
	}
	valsCopy := make([]*Validator, len(valsList))
	for i, val := range valsList {
		valsCopy[i] = val.Copy()
	}
	return valsCopy
}

///////////////////////////////////////////////////////////////////////////////
// safe addition/subtraction/multiplication

func safeAdd(a, b int64) (int64, bool) {
	if b > 0 && a > math.MaxInt64-b {
		return -1, true
	} else if b < 0 && a < math.MinInt64-b {
		return -1, true
	}
	return a + b, false
}

func safeAddClip(a, b int64) int64 {
	c, overflow := safeAdd(a, b)
	if overflow {
		if b < 0 {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	return c
}
