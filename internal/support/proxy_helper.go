package support

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"despeed/internal/domain"

	"github.com/charmbracelet/log"
)

var ipRegex = regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b|` + // IPv4
	`\b(?:[A-Fa-f0-9]{1,4}:){7}[A-Fa-f0-9]{1,4}\b`) // IPv6

// ParseTextToProxies parses one proxy URL per line. Blank lines and # comments are
// skipped, invalid entries are logged and dropped.
func ParseTextToProxies(text string) []domain.ProxyDescriptor {
	text = strings.ReplaceAll(text, "\r", "")

	lines := strings.Split(text, "\n")
	proxies := make([]domain.ProxyDescriptor, 0, len(lines))

	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		proxy, err := domain.ParseProxyDescriptor(line)
		if err != nil {
			log.Warn("Skipping invalid proxy entry", "line", i+1, "error", err)
			continue
		}

		proxies = append(proxies, proxy)
	}

	return proxies
}

// FindIP identifies the first IP address (IPv4 or IPv6) in a given string.
func FindIP(input string) string {
	return ipRegex.FindString(input)
}

// ClassifyTransportError maps a network failure onto ErrTransportTimeout or
// ErrTransportError, keeping the original error in the chain.
func ClassifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrTransportTimeout) || errors.Is(err, domain.ErrTransportError) {
		return err
	}

	if IsTimeout(err) {
		return fmt.Errorf("%w: %w", domain.ErrTransportTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrTransportError, err)
}

func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
