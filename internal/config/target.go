package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ParseTarget expands the upstream shortcut. It accepts "host:port", a bare
// port ("3000" means localhost:3000) or a bare host (port 80).
func ParseTarget(s string) (host string, port int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", 0, fmt.Errorf("empty upstream")
	}

	if p, err := strconv.Atoi(s); err == nil {
		return DefaultUpstreamHost, p, checkPort(p)
	}

	if strings.Contains(s, ":") && !strings.HasPrefix(s, ":") {
		h, ps, err := net.SplitHostPort(s)
		if err != nil {
			return "", 0, fmt.Errorf("parse %q: %w", s, err)
		}
		p, err := strconv.Atoi(ps)
		if err != nil {
			return "", 0, fmt.Errorf("parse %q: port %q is not a number", s, ps)
		}
		return h, p, checkPort(p)
	}

	if strings.HasPrefix(s, ":") {
		return "", 0, fmt.Errorf("parse %q: missing host", s)
	}
	return s, 80, nil
}

func checkPort(p int) error {
	if p < 1 || p > 65535 {
		return fmt.Errorf("port must be 1–65535; got %d", p)
	}
	return nil
}
