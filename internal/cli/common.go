package cli

import (
	"encoding/json"
	"os"

	"github.com/graftfs/graft/internal/client"
	"github.com/graftfs/graft/internal/config"
)

// newClient builds a client for the daemon socket, resolved from the
// --socket flag or the loaded config.
func newClient() (*client.Client, error) {
	if socketPath != "" {
		return client.New(socketPath), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return client.New(cfg.SocketPath), nil
}

// outputJSON outputs a value as JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
