// Command client is an interactive shell for driving a pBFT replica
// group from outside: finding the primary, submitting data, reading
// back each node's chain and status, and toggling the malicious
// behavior modes used for fault-injection testing.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/caoanh44al3/pbft/internal/config"
	"github.com/caoanh44al3/pbft/internal/facade"
)

func main() {
	groupFile := flag.String("group", "./group.yaml", "path to the replica group's membership YAML file")
	flag.Parse()

	group, err := config.LoadGroup(*groupFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("pBFT Client CLI")
	fmt.Println(strings.Repeat("=", 80))
	printHelp()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println("\n[CLIENT] Exiting...")
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		command := strings.ToLower(parts[0])

		switch command {
		case "exit":
			return
		case "help":
			printHelp()
		case "primary":
			findPrimary(group)
		case "submit":
			if len(parts) < 2 {
				fmt.Println("Usage: submit <data>")
				continue
			}
			submitBlock(group, parts[1])
		case "blockchain":
			if len(parts) == 2 {
				n, err := strconv.Atoi(strings.TrimSpace(parts[1]))
				if err != nil {
					fmt.Println("Invalid node number")
					continue
				}
				getBlockchain(group, n)
			} else {
				getBlockchain(group, 1)
			}
		case "status":
			getAllStatuses(group)
		case "malicious":
			if len(parts) < 2 {
				fmt.Println("Usage: malicious <node_num> <type>")
				fmt.Println("Types: silent, wrong_hash")
				continue
			}
			args := strings.Fields(parts[1])
			if len(args) != 2 {
				fmt.Println("Usage: malicious <node_num> <type>")
				continue
			}
			n, err := strconv.Atoi(args[0])
			if err != nil {
				fmt.Println("Invalid node number")
				continue
			}
			setMalicious(group, n, args[1])
		case "honest":
			if len(parts) < 2 {
				fmt.Println("Usage: honest <node_num>")
				continue
			}
			n, err := strconv.Atoi(strings.TrimSpace(parts[1]))
			if err != nil {
				fmt.Println("Invalid node number")
				continue
			}
			setMalicious(group, n, "honest")
		default:
			fmt.Printf("Unknown command: %s\n", command)
			fmt.Println("Type 'help' for available commands")
		}
	}
}

func nodeAt(group *config.Group, num int) (config.PeerEntry, error) {
	if num < 1 || num > len(group.Peers) {
		return config.PeerEntry{}, fmt.Errorf("invalid node number: %d (use 1-%d)", num, len(group.Peers))
	}
	return group.Peers[num-1], nil
}

func findPrimary(group *config.Group) (config.PeerEntry, bool) {
	for _, p := range group.Peers {
		c := facade.NewClient(p.ControlAddr)
		status, err := c.Status()
		if err != nil {
			continue
		}
		if status.IsPrimary {
			fmt.Printf("[CLIENT] Primary found: %s at %s\n", status.NodeID, p.ControlAddr)
			return p, true
		}
	}
	fmt.Println("[CLIENT] No primary found")
	return config.PeerEntry{}, false
}

func submitBlock(group *config.Group, data string) {
	primary, ok := findPrimary(group)
	if !ok {
		fmt.Println("[CLIENT] Cannot submit block: no primary available")
		return
	}
	c := facade.NewClient(primary.ControlAddr)
	resp, err := c.SubmitBlock(data)
	if err != nil {
		fmt.Printf("[CLIENT] Error submitting block: %v\n", err)
		return
	}
	fmt.Println("[CLIENT] Block submitted successfully")
	fmt.Printf("[CLIENT]   Block height: %d\n", resp.Height)
	fmt.Printf("[CLIENT]   Hash: %s\n", resp.BlockHash)
}

func getBlockchain(group *config.Group, num int) {
	p, err := nodeAt(group, num)
	if err != nil {
		fmt.Println(err)
		return
	}
	c := facade.NewClient(p.ControlAddr)
	resp, err := c.Blockchain()
	if err != nil {
		fmt.Printf("[CLIENT] Error getting blockchain: %v\n", err)
		return
	}
	fmt.Printf("\n[CLIENT] Blockchain from %s (length: %d)\n", p.ControlAddr, len(resp.Blocks))
	fmt.Println(strings.Repeat("=", 80))
	for _, b := range resp.Blocks {
		fmt.Printf("Block #%d\n", b.Height)
		fmt.Printf("  Hash: %.16s...\n", b.Hash)
		fmt.Printf("  Previous: %.16s...\n", b.PreviousHash)
		fmt.Printf("  Data: %s\n", b.Data)
		fmt.Printf("  Timestamp: %d\n", b.Timestamp)
		fmt.Printf("  View: %d, Seq: %d\n", b.View, b.Seq)
		fmt.Println(strings.Repeat("-", 80))
	}
}

func getAllStatuses(group *config.Group) {
	fmt.Println("\n[CLIENT] Node Statuses:")
	fmt.Println(strings.Repeat("=", 80))
	for i, p := range group.Peers {
		c := facade.NewClient(p.ControlAddr)
		status, err := c.Status()
		fmt.Printf("Node %d (%s) - %s\n", i+1, p.ID, p.ControlAddr)
		if err != nil {
			fmt.Println("  Status: OFFLINE or UNREACHABLE")
			fmt.Println(strings.Repeat("-", 80))
			continue
		}
		role := "REPLICA"
		if status.IsPrimary {
			role = "PRIMARY"
		}
		maliciousLine := "Honest"
		if status.MaliciousMode != "" && status.MaliciousMode != "honest" {
			maliciousLine = fmt.Sprintf("MALICIOUS (%s)", status.MaliciousMode)
		}
		fmt.Printf("  Role: %s\n", role)
		fmt.Printf("  View: %d\n", status.View)
		fmt.Printf("  Blockchain height: %d\n", status.ChainHeight)
		fmt.Printf("  Status: %s\n", maliciousLine)
		fmt.Println(strings.Repeat("-", 80))
	}
}

func setMalicious(group *config.Group, num int, mode string) {
	p, err := nodeAt(group, num)
	if err != nil {
		fmt.Println(err)
		return
	}
	c := facade.NewClient(p.ControlAddr)
	resp, err := c.SetMaliciousMode(mode)
	if err != nil {
		fmt.Printf("[CLIENT] Error: %v\n", err)
		return
	}
	fmt.Printf("[CLIENT] Node %d set to mode: %s\n", num, resp.Mode)
}

func printHelp() {
	fmt.Print(`
pBFT Client Commands:
  primary                      - Find the primary node
  submit <data>                - Submit a new block with data
  blockchain [node_num]        - Get blockchain (default: node 1)
  status                       - Get status of all nodes
  malicious <node_num> <type>  - Set node to malicious mode
                                 Types: silent, wrong_hash
  honest <node_num>            - Disable malicious mode on node
  help                         - Show this help
  exit                         - Exit client

Examples:
  submit "Transaction 1"
  blockchain 2
  malicious 3 wrong_hash
  honest 3

`)
}
