package store

import (
	"encoding/binary"

	tmjson "github.com/tendermint/tendermint/libs/json"
	tmdb "github.com/tendermint/tm-db"

	"oneshotbft/types"
)

var (
	archiveMsgPrefix = []byte("msg/")
	archiveDecision  = []byte("decision")
)

// Archive 消息归档，把每条接受的消息按接受顺序落盘
// 只是外挂的事后检查手段，核心store可以在没有归档的情况下工作
type Archive struct {
	db tmdb.DB
}

// OpenArchive 在dir下打开（或新建）一个goleveldb归档
func OpenArchive(name, dir string) (*Archive, error) {
	db, err := tmdb.NewGoLevelDB(name, dir)
	if err != nil {
		return nil, err
	}
	return NewArchive(db), nil
}

func NewArchive(db tmdb.DB) *Archive {
	return &Archive{db: db}
}

// NewMemArchive 内存归档，测试用
func NewMemArchive() *Archive {
	return &Archive{db: tmdb.NewMemDB()}
}

// SaveMessage 把第seq条接受的消息写入归档
func (a *Archive) SaveMessage(seq int64, msg types.Message) error {
	bz, err := tmjson.Marshal(msg)
	if err != nil {
		return err
	}
	return a.db.SetSync(archiveMsgKey(seq), bz)
}

// SaveDecision 记录最终的决议payload
func (a *Archive) SaveDecision(payload []byte) error {
	return a.db.SetSync(archiveDecision, payload)
}

// Decision 返回归档的决议payload，没有则返回nil
func (a *Archive) Decision() ([]byte, error) {
	return a.db.Get(archiveDecision)
}

// Messages 按接受顺序返回归档的全部消息
func (a *Archive) Messages() ([]types.Message, error) {
	itr, err := tmdb.IteratePrefix(a.db, archiveMsgPrefix)
	if err != nil {
		return nil, err
	}
	defer itr.Close()

	var msgs []types.Message
	for ; itr.Valid(); itr.Next() {
		var msg types.Message
		if err := tmjson.Unmarshal(itr.Value(), &msg); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, itr.Error()
}

func (a *Archive) Close() error {
	return a.db.Close()
}

func archiveMsgKey(seq int64) []byte {
	key := make([]byte, len(archiveMsgPrefix)+8)
	copy(key, archiveMsgPrefix)
	binary.BigEndian.PutUint64(key[len(archiveMsgPrefix):], uint64(seq))
	return key
}
