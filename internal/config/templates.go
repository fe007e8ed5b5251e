package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const templateHeader = `# peerctl configuration
# capabilities: default | none | explicit ([explicit_capabilities] applies to explicit)
# peers with ssh_host set are launched over SSH

`

// Template renders the defaults plus one example peer.
func Template() (string, error) {
	cfg := Default()
	cfg.Admin.CorsOrigins = []string{"http://localhost:3000"}
	cfg.Peers = []PeerConfig{{
		Name: "echo",
		Path: "./bin/echopeer",
		Args: []string{"--mode", "echo"},
		Env:  []string{},
	}}
	out, err := toml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return templateHeader + string(out), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
