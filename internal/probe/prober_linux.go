//go:build linux

package probe

import (
	"encoding/binary"
	"net"

	"golang.org/x/sys/unix"
)

// enableRxTimestamping asks the kernel to attach CLOCK_REALTIME receive
// timestamps to every datagram.
func enableRxTimestamping(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var optErr error
	if err := raw.Control(func(fd uintptr) {
		optErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_TIMESTAMPNS, 1)
	}); err != nil {
		return err
	}
	return optErr
}

// readPacket receives one datagram and extracts the kernel receive
// timestamp from the control messages. recvNs is 0 when the timestamp
// is absent.
func (p *Prober) readPacket() (int, uint64, error) {
	n, oobn, _, _, err := p.conn.ReadMsgUDP(p.recvBuf, p.oobBuf)
	if err != nil {
		return 0, 0, err
	}
	if !p.kernTS || oobn == 0 {
		return n, 0, nil
	}

	msgs, err := unix.ParseSocketControlMessage(p.oobBuf[:oobn])
	if err != nil {
		return n, 0, nil
	}
	for _, msg := range msgs {
		if msg.Header.Level != unix.SOL_SOCKET || msg.Header.Type != unix.SCM_TIMESTAMPNS {
			continue
		}
		if len(msg.Data) < 16 {
			continue
		}
		sec := binary.NativeEndian.Uint64(msg.Data[0:8])
		nsec := binary.NativeEndian.Uint64(msg.Data[8:16])
		return n, sec*1_000_000_000 + nsec, nil
	}
	return n, 0, nil
}
