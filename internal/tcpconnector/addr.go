package tcpconnector

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseIPPort parses the address grammar used by forward_to: `host`,
// `host:port`, `[ipv6]`, `[ipv6]:port`. defaultPort (if given) overrides a
// missing/zero port; with no default, a missing port yields 0.
func ParseIPPort(addr string, defaultPort ...int) (host string, port int, err error) {
	def := 0
	if len(defaultPort) > 0 {
		def = defaultPort[0]
	}
	if strings.HasPrefix(addr, "[") {
		end := strings.IndexByte(addr, ']')
		if end < 0 {
			return "", 0, fmt.Errorf("tcpconnector: unterminated ipv6 literal in %q", addr)
		}
		host = addr[1:end]
		rest := addr[end+1:]
		if rest == "" {
			return host, def, nil
		}
		if !strings.HasPrefix(rest, ":") {
			return "", 0, fmt.Errorf("tcpconnector: expected ':port' after ipv6 literal in %q", addr)
		}
		p, err := strconv.Atoi(rest[1:])
		if err != nil {
			return "", 0, fmt.Errorf("tcpconnector: invalid port in %q: %w", addr, err)
		}
		if p == 0 {
			p = def
		}
		return host, p, nil
	}
	if idx := strings.LastIndexByte(addr, ':'); idx >= 0 {
		host = addr[:idx]
		p, err := strconv.Atoi(addr[idx+1:])
		if err != nil {
			return "", 0, fmt.Errorf("tcpconnector: invalid port in %q: %w", addr, err)
		}
		if p == 0 {
			p = def
		}
		return host, p, nil
	}
	return addr, def, nil
}

// FormatIPPort renders host:port, bracketing host when it looks like an
// IPv6 literal (i.e. it contains a colon).
func FormatIPPort(host string, port int) string {
	if strings.Contains(host, ":") {
		return fmt.Sprintf("[%s]:%d", host, port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// ParseForwardSpec parses the ssh -L style grammar ExecAndForwardTCP's
// callers accept on the command line: "bind_addr:local_port:remote_addr:remote_port".
func ParseForwardSpec(spec string) (bindAddr string, localPort int, remoteAddr string, remotePort int, err error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 4 {
		return "", 0, "", 0, fmt.Errorf("tcpconnector: forward spec must be bind_addr:local_port:remote_addr:remote_port, got %q", spec)
	}
	localPort, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, "", 0, fmt.Errorf("tcpconnector: invalid local port in %q: %w", spec, err)
	}
	remotePort, err = strconv.Atoi(parts[3])
	if err != nil {
		return "", 0, "", 0, fmt.Errorf("tcpconnector: invalid remote port in %q: %w", spec, err)
	}
	return parts[0], localPort, parts[2], remotePort, nil
}
