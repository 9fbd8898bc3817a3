package probe

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"time"
)

// clockSkewThresholdNs bounds how far a kernel receive timestamp may sit
// from "now" on the same clock before it is distrusted.
const clockSkewThresholdNs = 5_000_000_000

// maxSaneRTTMs drops absurd RTTs produced by clock steps mid-probe.
const maxSaneRTTMs = 60_000.0

// Prober owns one persistent connected UDP socket to one endpoint.
type Prober struct {
	conn    *net.UDPConn
	recvBuf []byte
	oobBuf  []byte
	kernTS  bool
}

// NewProber resolves the endpoint (preferring the bind address family),
// optionally binds the local side, connects, and enables kernel receive
// timestamping where the platform supports it.
func NewProber(host string, port int, bindIP net.IP) (*Prober, error) {
	raddr, err := resolveForFamily(host, port, bindIP)
	if err != nil {
		return nil, err
	}

	var laddr *net.UDPAddr
	if bindIP != nil {
		laddr = &net.UDPAddr{IP: bindIP}
	}
	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, err
	}

	p := &Prober{
		conn:    conn,
		recvBuf: make([]byte, 2048),
		oobBuf:  make([]byte, 256),
	}
	// Best-effort: fall back to application timestamps when the socket
	// option is unavailable.
	p.kernTS = enableRxTimestamping(conn) == nil
	return p, nil
}

// LocalAddr returns the connected socket's local address.
func (p *Prober) LocalAddr() net.Addr {
	return p.conn.LocalAddr()
}

// Close releases the socket; an in-flight receive returns immediately.
func (p *Prober) Close() error {
	return p.conn.Close()
}

// SendAndReceive transmits one packet and waits up to timeout for the
// byte-identical echo. Non-matching datagrams are discarded and the
// read continues with the remaining timeout. The bool is false on
// timeout (no sample).
func (p *Prober) SendAndReceive(pkt []byte, timeout time.Duration) (float64, bool, error) {
	sendWallNs := wallNowNs()
	sendMonoNs := monoNowNs()
	sendInstant := time.Now()

	if _, err := p.conn.Write(pkt); err != nil {
		return 0, false, fmt.Errorf("send: %w", err)
	}

	deadline := sendInstant.Add(timeout)
	if err := p.conn.SetReadDeadline(deadline); err != nil {
		return 0, false, err
	}

	for {
		n, recvNs, err := p.readPacket()
		if err != nil {
			if netTimeout(err) {
				return 0, false, nil
			}
			return 0, false, fmt.Errorf("recv: %w", err)
		}
		if n != len(pkt) || !bytes.Equal(p.recvBuf[:n], pkt) {
			continue
		}

		fallbackMs := float64(time.Since(sendInstant)) / float64(time.Millisecond)
		if rtt, ok := chooseRTTMs(recvNs, sendWallNs, sendMonoNs); ok {
			return rtt, true, nil
		}
		return fallbackMs, true, nil
	}
}

// chooseRTTMs prefers the kernel receive timestamp when it is plausibly
// on a clock we can subtract the send time from.
func chooseRTTMs(recvNs, sendWallNs, sendMonoNs uint64) (float64, bool) {
	if recvNs == 0 {
		return 0, false
	}

	if nowWall := wallNowNs(); absDiff(recvNs, nowWall) <= clockSkewThresholdNs {
		if recvNs >= sendWallNs {
			rtt := float64(recvNs-sendWallNs) / 1e6
			if rtt <= maxSaneRTTMs {
				return rtt, true
			}
		}
		return 0, false
	}

	if nowMono := monoNowNs(); absDiff(recvNs, nowMono) <= clockSkewThresholdNs {
		if recvNs >= sendMonoNs {
			rtt := float64(recvNs-sendMonoNs) / 1e6
			if rtt <= maxSaneRTTMs {
				return rtt, true
			}
		}
	}
	return 0, false
}

func absDiff(a, b uint64) uint64 {
	if a >= b {
		return a - b
	}
	return b - a
}

func netTimeout(err error) bool {
	netErr, ok := err.(net.Error)
	return ok && netErr.Timeout()
}

// resolveForFamily resolves host:port, preferring an address in the
// bind IP's family so the connect cannot fail on a family mismatch.
func resolveForFamily(host string, port int, bindIP net.IP) (*net.UDPAddr, error) {
	addrs, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}

	pick := addrs[0]
	if bindIP != nil {
		want4 := bindIP.To4() != nil
		found := false
		for _, ip := range addrs {
			if (ip.To4() != nil) == want4 {
				pick = ip
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("no resolved address for bind family of %s", bindIP)
		}
	}

	return net.ResolveUDPAddr("udp", net.JoinHostPort(pick.String(), strconv.Itoa(port)))
}
