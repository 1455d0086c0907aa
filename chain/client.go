package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/subnetops/regd/logging"
)

// DefaultEndpoint is the public finney entrypoint.
const DefaultEndpoint = "wss://entrypoint-finney.opentensor.ai:443"

const (
	// Buffered notifications per subscription. The read loop drops the
	// oldest entries beyond this instead of blocking on slow consumers.
	subscriptionBuffer = 16

	// Notifications arriving before the subscribing caller registered its
	// channel are parked; anything beyond this is discarded.
	maxOrphanedNotifications = 32

	burnCacheSize = 128
)

// Client is a JSON-RPC 2.0 client speaking to a chain node over a single
// websocket connection. All methods are safe for concurrent use. A failed
// connection poisons the client permanently; callers are expected to treat
// that as a transient condition and keep retrying their own operation.
type Client struct {
	conn    *websocket.Conn
	log     *zap.Logger
	writeMu sync.Mutex

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan *rpcResult
	subs    map[string]chan json.RawMessage
	orphans map[string][]json.RawMessage

	genesisHash Hash
	runtime     RuntimeVersion

	burnCache *lru.Cache

	closeOnce sync.Once
	closed    chan struct{}
	readErr   error
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type rpcResult struct {
	result json.RawMessage
	err    *rpcError
}

type rpcEnvelope struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Method string          `json:"method"`
	Params *struct {
		Subscription json.RawMessage `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

// Dial connects to the chain endpoint and performs the startup handshake:
// fetching the genesis hash and runtime version the extrinsic signatures
// commit to. Any failure here is a construction-time error and must abort
// the process.
func Dial(ctx context.Context, endpoint string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", endpoint, err)
	}

	cache, err := lru.New(burnCacheSize)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := &Client{
		conn:      conn,
		log:       logging.FromContext(ctx).Named("chain"),
		pending:   make(map[uint64]chan *rpcResult),
		subs:      make(map[string]chan json.RawMessage),
		orphans:   make(map[string][]json.RawMessage),
		burnCache: cache,
		closed:    make(chan struct{}),
	}
	go c.readLoop()

	if err := c.handshake(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("chain handshake with %s: %w", endpoint, err)
	}
	c.log.Info("connected",
		zap.String("endpoint", endpoint),
		zap.Stringer("genesis", c.genesisHash),
		zap.Uint32("spec_version", c.runtime.SpecVersion),
	)
	return c, nil
}

func (c *Client) handshake(ctx context.Context) error {
	if err := c.call(ctx, &c.genesisHash, "chain_getBlockHash", 0); err != nil {
		return fmt.Errorf("fetching genesis hash: %w", err)
	}
	if err := c.call(ctx, &c.runtime, "state_getRuntimeVersion"); err != nil {
		return fmt.Errorf("fetching runtime version: %w", err)
	}
	return nil
}

// GenesisHash returns the hash of block 0 fetched during the handshake.
func (c *Client) GenesisHash() Hash { return c.genesisHash }

// Runtime returns the runtime version fetched during the handshake.
func (c *Client) Runtime() RuntimeVersion { return c.runtime }

func (c *Client) Close() error {
	c.fail(fmt.Errorf("client closed"))
	return c.conn.Close()
}

// fail poisons the client: every in-flight call and subscription is
// released with the given error.
func (c *Client) fail(err error) {
	c.closeOnce.Do(func() {
		c.readErr = err
		close(c.closed)

		c.mu.Lock()
		defer c.mu.Unlock()
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
	})
}

func (c *Client) readLoop() {
	for {
		var env rpcEnvelope
		if err := c.conn.ReadJSON(&env); err != nil {
			c.fail(fmt.Errorf("connection lost: %w", err))
			return
		}

		switch {
		case env.ID != nil:
			c.mu.Lock()
			ch, ok := c.pending[*env.ID]
			delete(c.pending, *env.ID)
			c.mu.Unlock()
			if ok {
				ch <- &rpcResult{result: env.Result, err: env.Error}
			}
		case env.Params != nil:
			c.dispatchNotification(subscriptionID(env.Params.Subscription), env.Params.Result)
		}
	}
}

func (c *Client) dispatchNotification(subID string, payload json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.subs[subID]
	if !ok {
		// The subscribing caller may not have registered its channel yet;
		// park the notification for it.
		if len(c.orphans[subID]) < maxOrphanedNotifications {
			c.orphans[subID] = append(c.orphans[subID], payload)
		}
		return
	}
	select {
	case ch <- payload:
	default:
		c.log.Warn("dropping subscription notification, consumer too slow",
			zap.String("subscription", subID))
	}
}

// subscriptionID normalizes the wire form of a subscription id, which some
// node versions send as a JSON string and others as a number.
func subscriptionID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatUint(n, 10)
	}
	return string(raw)
}

// call performs a unary JSON-RPC call, decoding the result into out when
// out is non-nil. Node-side errors are decoded into structured errors at
// this boundary.
func (c *Client) call(ctx context.Context, out any, method string, params ...any) error {
	select {
	case <-c.closed:
		return c.readErr
	default:
	}

	id := c.nextID.Add(1)
	ch := make(chan *rpcResult, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	if params == nil {
		params = []any{}
	}
	c.writeMu.Lock()
	err := c.conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case <-c.closed:
		return fmt.Errorf("%s: %w", method, c.readErr)
	case res := <-ch:
		if res.err != nil {
			return res.err.toError()
		}
		if out != nil {
			if err := json.Unmarshal(res.result, out); err != nil {
				return fmt.Errorf("%s: decoding result: %w", method, err)
			}
		}
		return nil
	}
}

func (e *rpcError) toError() error {
	var data string
	if len(e.Data) > 0 {
		// The data payload is usually a JSON string; fall back to the raw
		// bytes when it is not.
		if err := json.Unmarshal(e.Data, &data); err != nil {
			data = string(e.Data)
		}
	}
	switch e.Code {
	case rpcCodeTransactionInvalid, rpcCodeTransactionPool, rpcCodePriorityTooLow:
		return decodeSubmitError(e.Code, e.Message, data)
	default:
		if data != "" {
			return fmt.Errorf("rpc error %d: %s: %s", e.Code, e.Message, data)
		}
		return fmt.Errorf("rpc error %d: %s", e.Code, e.Message)
	}
}

type subscription struct {
	client      *Client
	id          string
	ch          chan json.RawMessage
	unsubMethod string
}

func (c *Client) subscribe(ctx context.Context, method, unsubMethod string, params ...any) (*subscription, error) {
	var rawID json.RawMessage
	if err := c.call(ctx, &rawID, method, params...); err != nil {
		return nil, err
	}
	id := subscriptionID(rawID)

	ch := make(chan json.RawMessage, subscriptionBuffer)
	c.mu.Lock()
	c.subs[id] = ch
	for _, parked := range c.orphans[id] {
		select {
		case ch <- parked:
		default:
		}
	}
	delete(c.orphans, id)
	c.mu.Unlock()

	select {
	case <-c.closed:
		// The connection may have died between the call and registration.
		c.mu.Lock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
		c.mu.Unlock()
		return nil, c.readErr
	default:
	}

	return &subscription{client: c, id: id, ch: ch, unsubMethod: unsubMethod}, nil
}

// next blocks until the next notification, the subscription teardown, or
// ctx cancellation.
func (s *subscription) next(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case payload, ok := <-s.ch:
		if !ok {
			return nil, fmt.Errorf("subscription %s: %w", s.id, s.client.readErr)
		}
		return payload, nil
	}
}

func (s *subscription) unsubscribe(ctx context.Context) error {
	s.client.mu.Lock()
	if ch, ok := s.client.subs[s.id]; ok {
		delete(s.client.subs, s.id)
		close(ch)
	}
	s.client.mu.Unlock()

	return s.client.call(ctx, nil, s.unsubMethod, s.id)
}

// HeadSubscription is a push feed of finalized block descriptors.
type HeadSubscription struct {
	sub *subscription
}

// SubscribeFinalized opens a push subscription yielding each finalized
// head exactly once, in increasing order.
func (c *Client) SubscribeFinalized(ctx context.Context) (*HeadSubscription, error) {
	sub, err := c.subscribe(ctx, "chain_subscribeFinalizedHeads", "chain_unsubscribeFinalizedHeads")
	if err != nil {
		return nil, fmt.Errorf("subscribing to finalized heads: %w", err)
	}
	return &HeadSubscription{sub: sub}, nil
}

// Next returns the next finalized block.
func (s *HeadSubscription) Next(ctx context.Context) (BlockDescriptor, error) {
	payload, err := s.sub.next(ctx)
	if err != nil {
		return BlockDescriptor{}, err
	}
	var hdr header
	if err := json.Unmarshal(payload, &hdr); err != nil {
		return BlockDescriptor{}, fmt.Errorf("decoding finalized head: %w", err)
	}
	// The notification carries the header only; resolve its hash.
	var hash Hash
	if err := s.sub.client.call(ctx, &hash, "chain_getBlockHash", uint64(hdr.Number)); err != nil {
		return BlockDescriptor{}, fmt.Errorf("resolving hash of block %d: %w", hdr.Number, err)
	}
	return BlockDescriptor{Number: uint64(hdr.Number), Hash: hash}, nil
}

func (s *HeadSubscription) Close(ctx context.Context) error {
	return s.sub.unsubscribe(ctx)
}

// LatestBlock fetches the current head of the chain.
func (c *Client) LatestBlock(ctx context.Context) (BlockDescriptor, error) {
	var hash Hash
	if err := c.call(ctx, &hash, "chain_getBlockHash"); err != nil {
		return BlockDescriptor{}, fmt.Errorf("fetching head hash: %w", err)
	}
	var hdr header
	if err := c.call(ctx, &hdr, "chain_getHeader", hash.Hex()); err != nil {
		return BlockDescriptor{}, fmt.Errorf("fetching header %s: %w", hash, err)
	}
	return BlockDescriptor{Number: uint64(hdr.Number), Hash: hash}, nil
}

// SubmitAndWatch submits a signed extrinsic and returns a handle on its
// in-flight lifecycle without waiting for inclusion. Synchronous pool
// rejections are returned as *SubmitError.
func (c *Client) SubmitAndWatch(ctx context.Context, ext SignedExtrinsic) (*Pending, error) {
	sub, err := c.subscribe(ctx,
		"author_submitAndWatchExtrinsic", "author_unwatchExtrinsic",
		"0x"+hex.EncodeToString(ext.Bytes),
	)
	if err != nil {
		return nil, err
	}
	return &Pending{sub: sub, extrinsicHash: ext.Hash}, nil
}
