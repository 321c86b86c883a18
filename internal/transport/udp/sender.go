// SPDX-License-Identifier: MIT
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"timbre/internal/log"
)

// ErrSenderClosed is returned by Send after Close.
var ErrSenderClosed = errors.New("udp sender is closed")

var udpLog = log.For("UDP")

// Sender writes datagrams to one target address.
type Sender struct {
	conn   *net.UDPConn
	target *net.UDPAddr
	mu     sync.Mutex // Protects conn during Close.
	closed bool
}

// NewSender dials the target, e.g. "127.0.0.1:9090". No local port is bound
// explicitly.
func NewSender(targetAddress string) (*Sender, error) {
	addr, err := net.ResolveUDPAddr("udp", targetAddress)
	if err != nil {
		return nil, fmt.Errorf("resolving udp target '%s': %w", targetAddress, err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing udp target '%s': %w", targetAddress, err)
	}

	udpLog.Infof("Sending to %s", conn.RemoteAddr())
	return &Sender{conn: conn, target: addr}, nil
}

// Target is the resolved destination.
func (s *Sender) Target() *net.UDPAddr {
	return s.target
}

// Send transmits data as a single datagram.
func (s *Sender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSenderClosed
	}
	if _, err := s.conn.Write(data); err != nil {
		return fmt.Errorf("sending udp packet: %w", err)
	}
	return nil
}

// Close closes the connection. Further calls are no-ops.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("closing udp connection: %w", err)
	}
	return nil
}
