package types

import "encoding/binary"

// LTime 逻辑时钟，由外部驱动器每次tick递增，和物理时间无关
type LTime int64

const (
	LtimeZero = LTime(0)

	// LtimeUnset 引擎尚未tick过的初始值
	LtimeUnset = LTime(-1)
)

func (t LTime) Int64() int64 {
	return int64(t)
}

func (t LTime) Add(delta int64) LTime {
	return LTime(int64(t) + delta)
}

func (t LTime) Sub(other LTime) int64 {
	return int64(t) - int64(other)
}

func (t LTime) Equal(other LTime) bool {
	return int64(t) == int64(other)
}

func (t LTime) Greater(other LTime) bool {
	return int64(t) > int64(other)
}

func (t LTime) Mod(n int) int {
	if n <= 0 {
		return 0
	}
	return int(int64(t) % int64(n))
}

// Hash 返回8字节大端编码，参与proposer选取的随机源
func (t LTime) Hash() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t))
	return buf
}
