// Package facade implements the client-facing control protocol: a
// typed, single-round-trip request/response schema carrying the
// ClientSubmitBlock / GetBlockchain / GetStatus / SetMaliciousMode
// endpoints §4.5 describes as one RPC service. Unlike internal/transport
// (fire-and-forget, unacknowledged consensus messages), every call here
// dials, writes one request, reads exactly one reply, and closes — the
// synchronous semantics a CLI client needs.
package facade

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-msgpack/codec"

	"github.com/caoanh44al3/pbft/internal/chain"
)

// Command tags identify which request/response pair a frame carries.
const (
	CmdSubmitBlock uint8 = iota
	CmdGetBlockchain
	CmdGetStatus
	CmdSetMaliciousMode
)

const (
	statusOK  byte = 0
	statusErr byte = 1
)

// SubmitRequest carries the payload a client wants appended.
type SubmitRequest struct {
	Data string
}

// SubmitResponse reports what the primary did with a submission.
type SubmitResponse struct {
	Height    uint64
	BlockHash string
	PrimaryID string
}

// BlockchainRequest takes no parameters; it exists so the tag-dispatch
// table below has a concrete type to decode into.
type BlockchainRequest struct{}

// BlockchainResponse is the full local chain.
type BlockchainResponse struct {
	Blocks []chain.Block
}

// StatusRequest takes no parameters.
type StatusRequest struct{}

// StatusResponse mirrors node.Status over the wire.
type StatusResponse struct {
	NodeID        string
	View          uint64
	IsPrimary     bool
	PrimaryID     string
	ChainHeight   uint64
	MaliciousMode string
}

// SetMaliciousRequest names the mode to switch to.
type SetMaliciousRequest struct {
	Mode string
}

// SetMaliciousResponse acknowledges the switch.
type SetMaliciousResponse struct {
	Mode string
}

var msgpackHandle = &codec.MsgpackHandle{}

// Handlers is what Server dispatches each command to; internal/node's
// Node satisfies this once wrapped by cmd/node's adapter.
type Handlers interface {
	SubmitBlock(req SubmitRequest) (SubmitResponse, error)
	Blockchain(req BlockchainRequest) (BlockchainResponse, error)
	Status(req StatusRequest) (StatusResponse, error)
	SetMaliciousMode(req SetMaliciousRequest) (SetMaliciousResponse, error)
}

// Server accepts control connections and dispatches exactly one
// command per connection.
type Server struct {
	listener net.Listener
	handlers Handlers
	logger   hclog.Logger
}

// Listen starts a control-protocol listener on addr.
func Listen(addr string, handlers Handlers, logger hclog.Logger) (*Server, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("facade: listen %s: %w", addr, err)
	}
	s := &Server{listener: lis, handlers: handlers, logger: logger.Named("facade")}
	go s.acceptLoop()
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Close shuts the listener down.
func (s *Server) Close() error { return s.listener.Close() }

func (s *Server) acceptLoop() {
	for {
		c, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.serveOne(c)
	}
}

func (s *Server) serveOne(c net.Conn) {
	defer c.Close()
	r := bufio.NewReader(c)
	w := bufio.NewWriter(c)
	dec := codec.NewDecoder(r, msgpackHandle)
	enc := codec.NewEncoder(w, msgpackHandle)

	tag, err := r.ReadByte()
	if err != nil {
		return
	}

	var status byte
	var errMsg string
	var reply interface{}

	switch tag {
	case CmdSubmitBlock:
		var req SubmitRequest
		if err := dec.Decode(&req); err != nil {
			return
		}
		resp, err := s.handlers.SubmitBlock(req)
		if err != nil {
			status, errMsg = statusErr, err.Error()
		} else {
			reply = resp
		}
	case CmdGetBlockchain:
		var req BlockchainRequest
		if err := dec.Decode(&req); err != nil {
			return
		}
		resp, err := s.handlers.Blockchain(req)
		if err != nil {
			status, errMsg = statusErr, err.Error()
		} else {
			reply = resp
		}
	case CmdGetStatus:
		var req StatusRequest
		if err := dec.Decode(&req); err != nil {
			return
		}
		resp, err := s.handlers.Status(req)
		if err != nil {
			status, errMsg = statusErr, err.Error()
		} else {
			reply = resp
		}
	case CmdSetMaliciousMode:
		var req SetMaliciousRequest
		if err := dec.Decode(&req); err != nil {
			return
		}
		resp, err := s.handlers.SetMaliciousMode(req)
		if err != nil {
			status, errMsg = statusErr, err.Error()
		} else {
			reply = resp
		}
	default:
		s.logger.Error("unknown command tag", "tag", tag)
		return
	}

	if status == statusErr {
		w.WriteByte(statusErr)
		enc.Encode(errMsg)
	} else {
		w.WriteByte(statusOK)
		enc.Encode(reply)
	}
	w.Flush()
}

// Client dials a node's control listener for one-shot requests.
type Client struct {
	addr    string
	timeout time.Duration
}

// NewClient returns a Client targeting addr.
func NewClient(addr string) *Client {
	return &Client{addr: addr, timeout: 3 * time.Second}
}

func (c *Client) roundTrip(tag uint8, req interface{}, reply interface{}) error {
	nc, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return err
	}
	defer nc.Close()

	w := bufio.NewWriter(nc)
	enc := codec.NewEncoder(w, msgpackHandle)
	if err := w.WriteByte(tag); err != nil {
		return err
	}
	if err := enc.Encode(req); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}

	r := bufio.NewReader(nc)
	status, err := r.ReadByte()
	if err != nil {
		return err
	}
	dec := codec.NewDecoder(r, msgpackHandle)
	if status == statusErr {
		var msg string
		if err := dec.Decode(&msg); err != nil {
			return err
		}
		return fmt.Errorf("%s", msg)
	}
	return dec.Decode(reply)
}

// SubmitBlock asks the node at addr to append data as a new block.
func (c *Client) SubmitBlock(data string) (SubmitResponse, error) {
	var resp SubmitResponse
	err := c.roundTrip(CmdSubmitBlock, SubmitRequest{Data: data}, &resp)
	return resp, err
}

// Blockchain fetches the node's full local chain.
func (c *Client) Blockchain() (BlockchainResponse, error) {
	var resp BlockchainResponse
	err := c.roundTrip(CmdGetBlockchain, BlockchainRequest{}, &resp)
	return resp, err
}

// Status fetches the node's consensus status and malicious mode.
func (c *Client) Status() (StatusResponse, error) {
	var resp StatusResponse
	err := c.roundTrip(CmdGetStatus, StatusRequest{}, &resp)
	return resp, err
}

// SetMaliciousMode switches the node's fault-injection behavior.
func (c *Client) SetMaliciousMode(mode string) (SetMaliciousResponse, error) {
	var resp SetMaliciousResponse
	err := c.roundTrip(CmdSetMaliciousMode, SetMaliciousRequest{Mode: mode}, &resp)
	return resp, err
}
