package main

import (
	"encoding/json"
	"flag"
	"fmt"

	// it is ok to use math/rand here: we do not need a cryptographically secure random
	// number generator here and we can run the tests a bit faster
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/tendermint/tendermint/libs/log"
	jsonrpc "github.com/tendermint/tendermint/rpc/jsonrpc/types"
)

const (
	sendTimeout = 10 * time.Second
	// see https://github.com/tendermint/tendermint/blob/master/rpc/lib/server/handlers.go
	pingPeriod = (30 * 9 / 10) * time.Second
)

func connect(host string) (*websocket.Conn, *http.Response, error) {
	u := url.URL{Scheme: "ws", Host: host, Path: "/websocket"}
	return websocket.DefaultDialer.Dial(u.String(), nil)
}

// bencher 往一个节点灌候选payload，然后盯着outcome直到实例决出
type bencher struct {
	Target   string
	Payloads int
	Size     int

	conn   *websocket.Conn
	logger log.Logger
}

func newBencher(target string, payloads, size int) *bencher {
	return &bencher{
		Target:   target,
		Payloads: payloads,
		Size:     size,
		logger:   log.NewTMLogger(log.NewSyncWriter(os.Stdout)),
	}
}

func (b *bencher) Start() error {
	c, _, err := connect(b.Target)
	if err != nil {
		return errors.Wrap(err, "failed to connect")
	}
	b.conn = c

	c.SetPingHandler(func(message string) error {
		return c.WriteControl(websocket.PongMessage, []byte(message), time.Now().Add(sendTimeout))
	})
	return nil
}

func (b *bencher) Stop() {
	if b.conn == nil {
		return
	}
	b.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	b.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	b.conn.Close()
}

func (b *bencher) call(method string, params map[string]interface{}) (json.RawMessage, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode params")
	}

	b.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	err = b.conn.WriteJSON(jsonrpc.RPCRequest{
		JSONRPC: "2.0",
		ID:      jsonrpc.JSONRPCStringID("decide-bench"),
		Method:  method,
		Params:  json.RawMessage(paramsJSON),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "%s send failed", method)
	}

	b.conn.SetReadDeadline(time.Now().Add(sendTimeout))
	var resp jsonrpc.RPCResponse
	if err := b.conn.ReadJSON(&resp); err != nil {
		return nil, errors.Wrapf(err, "%s read failed", method)
	}
	if resp.Error != nil {
		return nil, errors.Errorf("%s: %v", method, resp.Error)
	}
	return resp.Result, nil
}

// SubmitPayloads 灌Payloads个随机payload，返回提交耗时
func (b *bencher) SubmitPayloads() (time.Duration, error) {
	start := time.Now()
	for i := 0; i < b.Payloads; i++ {
		payload := make([]byte, b.Size)
		rand.Read(payload)

		_, err := b.call("submit_payload", map[string]interface{}{
			"payload": fmt.Sprintf("%X", payload),
		})
		if err != nil {
			return 0, err
		}
	}
	return time.Since(start), nil
}

type outcomeResult struct {
	State    string `json:"state"`
	Tick     int64  `json:"tick,string"`
	Decision string `json:"decision"`
	Error    string `json:"error"`
}

// WaitForDecision 轮询outcome直到终态或超时
func (b *bencher) WaitForDecision(poll, timeout time.Duration) (*outcomeResult, time.Duration, error) {
	start := time.Now()
	deadline := start.Add(timeout)
	for {
		raw, err := b.call("outcome", map[string]interface{}{})
		if err != nil {
			return nil, 0, err
		}
		var out outcomeResult
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, 0, errors.Wrap(err, "failed to decode outcome")
		}

		if out.State != "Running" {
			return &out, time.Since(start), nil
		}
		if time.Now().After(deadline) {
			return &out, time.Since(start), errors.New("timed out waiting for decision")
		}

		b.logger.Debug("still running", "tick", out.Tick)
		time.Sleep(poll)
	}
}

func main() {
	var (
		target   = flag.String("target", "127.0.0.1:26657", "node RPC address")
		payloads = flag.Int("payloads", 16, "number of candidate payloads to submit")
		size     = flag.Int("size", 64, "payload size in bytes")
		poll     = flag.Duration("poll", 500*time.Millisecond, "outcome poll interval")
		timeout  = flag.Duration("timeout", 2*time.Minute, "how long to wait for a decision")
	)
	flag.Parse()

	rand.Seed(time.Now().Unix())

	b := newBencher(*target, *payloads, *size)
	if err := b.Start(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer b.Stop()

	submitTook, err := b.SubmitPayloads()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	b.logger.Info("submitted payloads", "count", *payloads, "took", submitTook)

	out, waited, err := b.WaitForDecision(*poll, *timeout)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	b.logger.Info("instance reached terminal state",
		"state", out.State,
		"tick", out.Tick,
		"waited", waited,
	)
	if out.State == "Decided" {
		fmt.Printf("decision: %s\n", out.Decision)
	}
	if out.Error != "" {
		fmt.Printf("fatal: %s\n", out.Error)
	}
}
