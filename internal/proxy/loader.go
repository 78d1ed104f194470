package proxy

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/iconidentify/vidyodl/internal/config"
	"github.com/iconidentify/vidyodl/internal/domain"
)

// listFile is the on-disk proxy list format.
type listFile struct {
	ProxyList []config.ProxyCandidate `json:"proxy_list"`
}

// ReadListFile parses a proxy list file of the form
// {"proxy_list": [{"name": "...", "url": "..."}]}.
func ReadListFile(path string) ([]domain.Proxy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read proxy list: %w", err)
	}

	var f listFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse proxy list: %w", err)
	}

	out := make([]domain.Proxy, 0, len(f.ProxyList))
	for i, c := range f.ProxyList {
		if c.URL == "" {
			return nil, fmt.Errorf("parse proxy list: entry %d has no url", i)
		}
		out = append(out, domain.NewProxy(c.Name, c.URL))
	}
	return out, nil
}

// Candidates collects the configured relays: inline candidates first, then
// the entries of the list file if one is configured.
func Candidates(cfg config.ProxyConfig) ([]domain.Proxy, error) {
	out := make([]domain.Proxy, 0, len(cfg.Candidates))
	for _, c := range cfg.Candidates {
		out = append(out, domain.NewProxy(c.Name, c.URL))
	}

	if cfg.ListPath != "" {
		fromFile, err := ReadListFile(cfg.ListPath)
		if err != nil {
			return nil, err
		}
		out = append(out, fromFile...)
	}
	return out, nil
}
