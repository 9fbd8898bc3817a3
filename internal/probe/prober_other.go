//go:build !linux

package probe

import (
	"errors"
	"net"
)

var errNoKernelTimestamps = errors.New("kernel rx timestamps unsupported on this platform")

// Kernel receive timestamping is only wired on Linux; elsewhere the
// application-level receive time is used.
func enableRxTimestamping(conn *net.UDPConn) error {
	return errNoKernelTimestamps
}

func (p *Prober) readPacket() (int, uint64, error) {
	n, err := p.conn.Read(p.recvBuf)
	return n, 0, err
}
