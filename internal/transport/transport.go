// Package transport implements the Peer Transport abstraction: send to
// one peer or broadcast to all, over plain TCP with msgpack framing.
// Delivery is at-most-once, unacknowledged and may be dropped or
// delayed arbitrarily; the quorum logic in internal/engine is the sole
// correctness mechanism, not this layer.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"reflect"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-msgpack/codec"
)

// ErrUnknownPeer is returned by Send when no address is on file for a peer.
var ErrUnknownPeer = errors.New("transport: unknown peer id")

// ErrShutdown is returned by operations invoked after Close.
var ErrShutdown = errors.New("transport: shut down")

var msgpackHandle = &codec.MsgpackHandle{}

// conn wraps one outbound TCP connection with its writer/encoder so it
// can be pooled and reused across sends.
type conn struct {
	target string
	nc     net.Conn
	w      *bufio.Writer
	enc    *codec.Encoder
}

func (c *conn) release() { c.nc.Close() }

// Transport is one node's inbound listener plus its pool of outbound
// connections to every known peer.
type Transport struct {
	selfID    string
	peers     map[string]string // peer id -> "host:port"
	logger    hclog.Logger
	dialTimeo time.Duration

	listener net.Listener
	msgCh    chan Envelope

	poolMu sync.Mutex
	pool   map[string][]*conn

	closeOnce sync.Once
	shutdown  chan struct{}
}

// Listen starts a TCP listener on bindAddr and returns a Transport that
// will decode inbound frames and make them available on MsgChan.
func Listen(selfID, bindAddr string, peers map[string]string, logger hclog.Logger) (*Transport, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	lis, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", bindAddr, err)
	}
	t := &Transport{
		selfID:    selfID,
		peers:     peers,
		logger:    logger.Named("transport"),
		dialTimeo: 2 * time.Second,
		listener:  lis,
		msgCh:     make(chan Envelope, 256),
		pool:      make(map[string][]*conn),
		shutdown:  make(chan struct{}),
	}
	go t.acceptLoop()
	return t, nil
}

// Addr returns the address this transport is listening on, useful
// when Listen was given port 0 and the OS picked one.
func (t *Transport) Addr() string {
	return t.listener.Addr().String()
}

// SetPeers replaces the peer address table. Used when a cluster's
// listeners must all bind before any address is known to the others.
func (t *Transport) SetPeers(peers map[string]string) {
	t.poolMu.Lock()
	defer t.poolMu.Unlock()
	t.peers = peers
}

// MsgChan is the channel inbound, decoded messages are delivered on.
// A single goroutine should drain it and dispatch by Tag, per the
// reactive event-handler model spec.md recommends.
func (t *Transport) MsgChan() <-chan Envelope {
	return t.msgCh
}

func (t *Transport) acceptLoop() {
	for {
		c, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.shutdown:
				return
			default:
				t.logger.Error("accept failed", "error", err)
				return
			}
		}
		go t.handleConn(c)
	}
}

func (t *Transport) handleConn(c net.Conn) {
	defer c.Close()
	r := bufio.NewReader(c)
	dec := codec.NewDecoder(r, msgpackHandle)
	for {
		select {
		case <-t.shutdown:
			return
		default:
		}
		tagByte, err := r.ReadByte()
		if err != nil {
			return
		}
		rt, ok := reflectedTypesMap[tagByte]
		if !ok {
			t.logger.Error("unknown message tag", "tag", tagByte)
			return
		}
		body := reflect.New(rt).Interface()
		if err := dec.Decode(body); err != nil {
			t.logger.Error("decode failed", "error", err)
			return
		}
		env := Envelope{Tag: tagByte, Msg: reflect.ValueOf(body).Elem().Interface()}
		select {
		case t.msgCh <- env:
		case <-t.shutdown:
			return
		}
	}
}

func (t *Transport) dial(target string) (*conn, error) {
	nc, err := net.DialTimeout("tcp", target, t.dialTimeo)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(nc)
	return &conn{target: target, nc: nc, w: w, enc: codec.NewEncoder(w, msgpackHandle)}, nil
}

func (t *Transport) getConn(target string) (*conn, error) {
	t.poolMu.Lock()
	if cs := t.pool[target]; len(cs) > 0 {
		c := cs[len(cs)-1]
		t.pool[target] = cs[:len(cs)-1]
		t.poolMu.Unlock()
		return c, nil
	}
	t.poolMu.Unlock()
	return t.dial(target)
}

func (t *Transport) returnConn(c *conn) {
	t.poolMu.Lock()
	defer t.poolMu.Unlock()
	if len(t.pool[c.target]) < 4 {
		t.pool[c.target] = append(t.pool[c.target], c)
		return
	}
	c.release()
}

func (t *Transport) sendFrame(target string, tag uint8, msg interface{}) error {
	c, err := t.getConn(target)
	if err != nil {
		return err
	}
	if err := c.w.WriteByte(tag); err != nil {
		c.release()
		return err
	}
	if err := c.enc.Encode(msg); err != nil {
		c.release()
		return err
	}
	if err := c.w.Flush(); err != nil {
		c.release()
		return err
	}
	t.returnConn(c)
	return nil
}

// Send delivers msg to a single peer. It may silently fail (dropped
// connection, peer down); callers must not treat an error as anything
// more than "this one attempt did not land" — there is no retry here.
func (t *Transport) Send(peerID string, tag uint8, msg interface{}) error {
	t.poolMu.Lock()
	addr, ok := t.peers[peerID]
	t.poolMu.Unlock()
	if !ok {
		return ErrUnknownPeer
	}
	if err := t.sendFrame(addr, tag, msg); err != nil {
		t.logger.Warn("send failed", "peer", peerID, "error", err)
		return err
	}
	return nil
}

// Broadcast fans the message out to every known peer concurrently, so a
// slow or silent peer cannot delay delivery to the others.
func (t *Transport) Broadcast(tag uint8, msg interface{}) {
	t.poolMu.Lock()
	peers := make(map[string]string, len(t.peers))
	for id, addr := range t.peers {
		peers[id] = addr
	}
	t.poolMu.Unlock()

	var wg sync.WaitGroup
	for id, addr := range peers {
		wg.Add(1)
		go func(id, addr string) {
			defer wg.Done()
			if err := t.sendFrame(addr, tag, msg); err != nil {
				t.logger.Warn("broadcast send failed", "peer", id, "error", err)
			}
		}(id, addr)
	}
	wg.Wait()
}

// Close shuts the listener and pooled connections down.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.shutdown)
		t.listener.Close()
		t.poolMu.Lock()
		for _, cs := range t.pool {
			for _, c := range cs {
				c.release()
			}
		}
		t.poolMu.Unlock()
	})
	return nil
}
