package types

import "fmt"

// ProxyProtocol is the allowed upstream proxy protocol.
type ProxyProtocol string

const (
	ProxyProtocolHTTP   ProxyProtocol = "http"
	ProxyProtocolHTTPS  ProxyProtocol = "https"
	ProxyProtocolSOCKS5 ProxyProtocol = "socks5"
)

// UpstreamProxy is an outbound proxy the browser session (or the archival
// proxy, for non-replayed traffic) dials for live web requests.
type UpstreamProxy struct {
	// Protocol is the proxy protocol.
	Protocol ProxyProtocol `json:"protocol"`
	// Host is the proxy host.
	Host string `json:"host"`
	// Port is the proxy port (1-65535).
	Port int `json:"port"`
	// Username is the optional username for authentication.
	Username *string `json:"username,omitempty"`
	// Password is the optional password for authentication.
	Password *string `json:"password,omitempty"`
}

// Validate validates an upstream proxy endpoint.
func (p *UpstreamProxy) Validate() error {
	switch p.Protocol {
	case ProxyProtocolHTTP, ProxyProtocolHTTPS, ProxyProtocolSOCKS5:
		// valid
	default:
		return fmt.Errorf("invalid protocol %q: must be http, https, or socks5", p.Protocol)
	}

	if p.Host == "" {
		return fmt.Errorf("proxy host must be non-empty")
	}

	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", p.Port)
	}

	hasUsername := p.Username != nil && *p.Username != ""
	hasPassword := p.Password != nil && *p.Password != ""
	if hasUsername != hasPassword {
		return fmt.Errorf("username and password must be provided together")
	}

	return nil
}

// Server returns the proxy address in scheme://host:port form, the shape
// both the automation engine and the archival proxy accept.
func (p *UpstreamProxy) Server() string {
	return fmt.Sprintf("%s://%s:%d", p.Protocol, p.Host, p.Port)
}

// Redact returns a copy of the endpoint without the password, for logs
// and run reports.
func (p *UpstreamProxy) Redact() UpstreamProxyRedacted {
	return UpstreamProxyRedacted{
		Protocol: p.Protocol,
		Host:     p.Host,
		Port:     p.Port,
		Username: p.Username,
	}
}

// UpstreamProxyRedacted is an upstream proxy endpoint without password.
type UpstreamProxyRedacted struct {
	Protocol ProxyProtocol `json:"protocol"`
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Username *string       `json:"username,omitempty"`
}
