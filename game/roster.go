package game

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joaotav/malicious-network-agents/protocol"
)

// DefaultRosterPath is where the roster file is written unless the settings
// say otherwise.
const DefaultRosterPath = "agents.config"

// WriteRoster persists the descriptor list as a pretty-printed JSON file.
// The file is world-readable so that other clients on the machine can join
// the game.
func WriteRoster(path string, peers []protocol.AgentDescriptor) error {
	data, err := json.MarshalIndent(peers, "", "  ")
	if err != nil {
		return fmt.Errorf("encode roster: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write roster: %w", err)
	}
	return nil
}

// RemoveRoster deletes the roster file. A roster that was never written is
// not an error.
func RemoveRoster(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove roster: %w", err)
	}
	return nil
}
