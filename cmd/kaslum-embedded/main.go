// Command kaslum-embedded runs a Kaslum node through the reusable
// internal/node package rather than kaslumd's standalone setup path.
// It exists to exercise that embedding surface directly (the package
// doc on internal/node promises a node embeddable in any binary) and
// as a minimal reference for embedders who want node.New/Start/Stop
// without kaslumd's sub-chain mining and CLI flag surface.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kaslum/kaslum-node/config"
	"github.com/kaslum/kaslum-node/internal/node"
)

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "kaslum-embedded: load config: %v\n", err)
		os.Exit(1)
	}

	n, err := node.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kaslum-embedded: init node: %v\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "kaslum-embedded: start node: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	n.Stop()
}
