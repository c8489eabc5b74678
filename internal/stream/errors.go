package stream

import (
	"fmt"
	"strings"
)

// ProtocolError reports a failed exchange with the remote video service. A
// zero Status means the request never produced an HTTP response.
type ProtocolError struct {
	Op     string
	Status int
	Detail string
}

func (e *ProtocolError) Error() string {
	detail := strings.TrimSpace(e.Detail)
	if detail == "" {
		detail = "no response detail"
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, detail)
	}
	return fmt.Sprintf("%s: %s", e.Op, detail)
}

// ConfigError reports remote-service settings that are required but absent.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "missing stream configuration: " + strings.Join(e.Missing, ", ")
}
