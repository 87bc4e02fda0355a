package config

import (
	"fmt"
	"os"
	"strings"

	"despeed/internal/domain"
	"despeed/internal/support"
)

// LoadTokens reads one bearer token per line, skipping blanks and # comments.
// Order is preserved: it is the order accounts are processed in.
func LoadTokens(path string) ([]domain.Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}

	tokens := ParseTokens(string(data))
	if len(tokens) == 0 {
		return nil, fmt.Errorf("token file %s: %w", path, domain.ErrNoCredentials)
	}
	return tokens, nil
}

func ParseTokens(text string) []domain.Credential {
	lines := strings.Split(strings.ReplaceAll(text, "\r", ""), "\n")
	tokens := make([]domain.Credential, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens = append(tokens, domain.Credential(line))
	}
	return tokens
}

// LoadProxies reads the proxy list file. A missing file is not an error: it yields an empty pool.
func LoadProxies(path string) ([]domain.ProxyDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read proxy file: %w", err)
	}

	return support.ParseTextToProxies(string(data)), nil
}

// ProxyPool merges the proxies configured in the settings file with the ones from the
// proxy list file. A non-empty list file switches proxying on.
func (cfg Config) ProxyPool(fromFile []domain.ProxyDescriptor) (Config, []domain.ProxyDescriptor) {
	pool := support.ParseTextToProxies(strings.Join(cfg.Proxy.URLs, "\n"))
	pool = append(pool, fromFile...)

	if len(fromFile) > 0 && !cfg.Proxy.Enabled {
		cfg.Proxy.Enabled = true
	}
	return cfg, pool
}
