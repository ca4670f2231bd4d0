// Command node boots one pBFT replica: it loads the fixed replica
// group membership from a YAML file, opens its consensus transport and
// its client-facing control listener, and serves until killed.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"

	"github.com/caoanh44al3/pbft/internal/config"
	"github.com/caoanh44al3/pbft/internal/facade"
	"github.com/caoanh44al3/pbft/internal/metrics"
	"github.com/caoanh44al3/pbft/internal/node"
	"github.com/caoanh44al3/pbft/internal/transport"
)

// nodeHandlers adapts *node.Node to facade.Handlers, translating
// between the wire request/response structs and the node's Go API.
type nodeHandlers struct {
	n *node.Node
}

func (h *nodeHandlers) SubmitBlock(req facade.SubmitRequest) (facade.SubmitResponse, error) {
	b, err := h.n.ClientSubmitBlock(req.Data)
	if err != nil {
		return facade.SubmitResponse{}, err
	}
	return facade.SubmitResponse{Height: b.Height, BlockHash: b.Hash, PrimaryID: h.n.GetStatus().PrimaryID}, nil
}

func (h *nodeHandlers) Blockchain(req facade.BlockchainRequest) (facade.BlockchainResponse, error) {
	return facade.BlockchainResponse{Blocks: h.n.GetBlockchain()}, nil
}

func (h *nodeHandlers) Status(req facade.StatusRequest) (facade.StatusResponse, error) {
	s := h.n.GetStatus()
	return facade.StatusResponse{
		NodeID:        s.NodeID,
		View:          s.View,
		IsPrimary:     s.IsPrimary,
		PrimaryID:     s.PrimaryID,
		ChainHeight:   s.ChainHeight,
		MaliciousMode: string(s.MaliciousMode),
	}, nil
}

func (h *nodeHandlers) SetMaliciousMode(req facade.SetMaliciousRequest) (facade.SetMaliciousResponse, error) {
	mode, err := node.ParseMode(req.Mode)
	if err != nil {
		return facade.SetMaliciousResponse{}, err
	}
	h.n.SetMaliciousMode(mode)
	return facade.SetMaliciousResponse{Mode: req.Mode}, nil
}

func main() {
	nf, err := config.ParseNodeFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "pbft-node",
		Level: hclog.LevelFromString(nf.LogLevel),
	})

	group, err := config.LoadGroup(nf.GroupFile)
	if err != nil {
		logger.Error("failed to load group file", "error", err)
		os.Exit(1)
	}
	self, err := group.Self(nf.ID)
	if err != nil {
		logger.Error("this node is not a member of the group", "error", err)
		os.Exit(1)
	}

	tr, err := transport.Listen(nf.ID, self.ConsensusAddr, group.ConsensusPeers(nf.ID), logger)
	if err != nil {
		logger.Error("failed to start consensus transport", "error", err)
		os.Exit(1)
	}

	m := metrics.New(nf.ID)

	n := node.New(node.Config{
		SelfID:    nf.ID,
		IsPrimary: nf.ID == group.PrimaryID,
		PrimaryID: group.PrimaryID,
		Transport: tr,
		Logger:    logger,
		Metrics:   m,
	})
	defer n.Close()

	fsrv, err := facade.Listen(self.ControlAddr, &nodeHandlers{n: n}, logger)
	if err != nil {
		logger.Error("failed to start control listener", "error", err)
		os.Exit(1)
	}
	defer fsrv.Close()

	msrv := metrics.NewServer(nf.MetricsAddr)
	msrv.StartAsync()
	defer msrv.Stop()

	logger.Info("node started",
		"id", nf.ID,
		"primary", nf.ID == group.PrimaryID,
		"consensus_addr", self.ConsensusAddr,
		"control_addr", self.ControlAddr,
		"metrics_addr", nf.MetricsAddr,
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
}
