package adapter

import (
	"net"
	"strconv"

	"github.com/google/uuid"
)

func portString(p int) string {
	return strconv.Itoa(p)
}

func newConnID() string {
	return uuid.NewString()
}

// splitHostPort splits a "host:port" address into its host and numeric
// port parts, returning (addr, 0) if the port segment isn't numeric.
func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}
