// Package ingest provides a reference receiver-session transport: a raw
// UDP listener good enough to drive the engine end to end without a real
// SDR front end.
package ingest

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// Frame is one raw arrival pulled off the wire: an 8-byte big-endian tick
// counter followed by the Mode S payload bytes.
type Frame struct {
	Tick    uint64
	Payload []byte
	From    net.Addr
	At      time.Time
}

// UDPListener is a reference receiver-session transport: each packet is
// {tick:8}{payload...}.
type UDPListener struct {
	conn *net.UDPConn
}

// ListenUDP binds a UDP socket on the given port across all interfaces.
func ListenUDP(port int) (*UDPListener, error) {
	addr := net.UDPAddr{Port: port, IP: net.ParseIP("0.0.0.0")}
	conn, err := net.ListenUDP("udp", &addr)
	if err != nil {
		return nil, fmt.Errorf("ingest: listen udp :%d: %w", port, err)
	}
	return &UDPListener{conn: conn}, nil
}

// Close releases the underlying socket.
func (l *UDPListener) Close() error {
	return l.conn.Close()
}

// ReadFrame blocks for the next frame. Short or malformed packets are
// returned as an error rather than silently dropped, so callers can count
// them for diagnostics.
func (l *UDPListener) ReadFrame() (Frame, error) {
	buf := make([]byte, 1500)
	n, addr, err := l.conn.ReadFrom(buf)
	if err != nil {
		return Frame{}, err
	}
	if n < 8 {
		return Frame{}, fmt.Errorf("ingest: short frame (%d bytes) from %s", n, addr)
	}
	tick := binary.BigEndian.Uint64(buf[:8])
	payload := make([]byte, n-8)
	copy(payload, buf[8:n])
	return Frame{Tick: tick, Payload: payload, From: addr, At: time.Now()}, nil
}
