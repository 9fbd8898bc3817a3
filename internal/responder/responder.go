// Package responder implements the stateless authenticated UDP echo
// server. Every accepted packet is echoed byte for byte, so the server
// can never amplify.
package responder

import (
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/svdrecbd/LATTICE/internal/wire"
)

const (
	// DefaultListenAddr is the well-known echo port.
	DefaultListenAddr = ":9000"

	readBufferBytes  = 1 << 20
	writeBufferBytes = 1 << 20
)

// Counters expose per-verdict drop/echo totals. Values are cumulative
// since start.
type Counters struct {
	Echoed      uint64 `json:"echoed"`
	ShortPacket uint64 `json:"shortPacket"`
	BadMagic    uint64 `json:"badMagic"`
	RateLimited uint64 `json:"rateLimited"`
	TagMismatch uint64 `json:"tagMismatch"`
}

// Responder is a single-socket UDP echo listener with per-source-IP
// token-bucket rate limiting.
type Responder struct {
	conn    *net.UDPConn
	secret  []byte
	limiter *limiter
	log     *slog.Logger

	echoed      atomic.Uint64
	shortPacket atomic.Uint64
	badMagic    atomic.Uint64
	rateLimited atomic.Uint64
	tagMismatch atomic.Uint64
}

// Start binds the socket and begins serving in a goroutine.
func Start(addr string, secret []byte, logger *slog.Logger) (*Responder, error) {
	if addr == "" {
		addr = DefaultListenAddr
	}
	if logger == nil {
		logger = slog.Default()
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadBuffer(readBufferBytes)
	_ = conn.SetWriteBuffer(writeBufferBytes)

	r := &Responder{
		conn:    conn,
		secret:  secret,
		limiter: newLimiter(),
		log:     logger,
	}
	go r.serve()
	return r, nil
}

// LocalAddr returns the bound address.
func (r *Responder) LocalAddr() string {
	if r == nil || r.conn == nil {
		return ""
	}
	return r.conn.LocalAddr().String()
}

// Close stops the listener; the serve loop exits on the closed socket.
func (r *Responder) Close() error {
	if r == nil || r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// Counters snapshots the cumulative counters.
func (r *Responder) Counters() Counters {
	return Counters{
		Echoed:      r.echoed.Load(),
		ShortPacket: r.shortPacket.Load(),
		BadMagic:    r.badMagic.Load(),
		RateLimited: r.rateLimited.Load(),
		TagMismatch: r.tagMismatch.Load(),
	}
}

// serve is single-threaded: the bucket map is touched by no other
// goroutine, so no lock is needed.
func (r *Responder) serve() {
	buf := make([]byte, wire.PacketLen+1)
	for {
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if isClosed(err) {
				return
			}
			r.log.Warn("udp read failed", "err", err)
			continue
		}
		if n != wire.PacketLen {
			r.shortPacket.Add(1)
			continue
		}

		msg := buf[:wire.PacketLen]
		if msg[0] != wire.Magic[0] || msg[1] != wire.Magic[1] || msg[2] != wire.Magic[2] || msg[3] != wire.Magic[3] {
			r.badMagic.Add(1)
			continue
		}

		// Rate limit before the HMAC so a flood can't buy CPU.
		now := time.Now()
		if !r.limiter.allow(addr.IP.String(), now) {
			r.rateLimited.Add(1)
			continue
		}

		if wire.Validate(msg, r.secret) != wire.Accept {
			r.tagMismatch.Add(1)
			continue
		}

		if _, err := r.conn.WriteToUDP(msg, addr); err != nil {
			r.log.Warn("echo write failed", "peer", addr.IP.String(), "err", err)
			continue
		}
		r.echoed.Add(1)

		r.limiter.maybeSweep(now)
	}
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
