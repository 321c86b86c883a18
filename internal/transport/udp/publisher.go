// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"timbre/internal/analysis"
	"timbre/internal/transport"
)

// FeatureCount is the number of float32 values in every packet: the scalar
// features in analysis.ScalarNames order followed by the cepstral
// coefficients.
const FeatureCount = analysis.NumScalars + analysis.NumCoefficients

// HeaderSize is the fixed packet prefix in bytes.
const HeaderSize = 4 + 8 + 2

// PacketSize is the size of every packet in bytes.
const PacketSize = HeaderSize + FeatureCount*4

// ErrShortPacket reports a datagram too small for its declared count.
var ErrShortPacket = errors.New("udp packet too short")

/*
Packet Structure (BigEndian)

|<---- 4 Bytes ---->|<------ 8 Bytes ------>|<-- 2 Bytes -->|<----- N * 4 Bytes ----->|
+-------------------+-----------------------+---------------+-------------------------+
|  Sequence Number  |       Timestamp       | Feature Count |        Features         |
|      (uint32)     |  (int64, Unix nanos)  |   (uint16)    |      (N * float32)      |
+-------------------+-----------------------+---------------+-------------------------+

Features: rms, peak, spectralCentroidHz, spectralSpreadHz, spectralFlux,
spectralEntropy, tonality, pitchHz, amplitudeModulation, frequencyModulation,
mfcc[0..12].
*/

// Packet is a decoded datagram.
type Packet struct {
	Sequence  uint32
	Timestamp int64
	Features  []float32
}

// Publisher packs records into datagrams. Frames arriving less than interval
// after the previous packet are skipped, so a 60fps loop can feed a 30Hz
// network consumer.
type Publisher struct {
	sender   *Sender
	interval time.Duration
	lastSent time.Time
	sequence uint32
	packet   []byte
}

var _ transport.Sink = (*Publisher)(nil)

// NewPublisher wraps sender. A non-positive interval sends every frame.
func NewPublisher(sender *Sender, interval time.Duration) (*Publisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("udp publisher: sender cannot be nil")
	}
	if interval < 0 {
		interval = 0
	}
	udpLog.Infof("Publishing %d features per packet (%d bytes, interval %s)", FeatureCount, PacketSize, interval)
	return &Publisher{
		sender:   sender,
		interval: interval,
		packet:   make([]byte, 0, PacketSize),
	}, nil
}

// Send implements transport.Sink.
//
// Performance Critical (Hot Path):
// - No allocations; the packet buffer is reused
func (p *Publisher) Send(rec analysis.Record) error {
	now := time.Now()
	if p.interval > 0 && !p.lastSent.IsZero() && now.Sub(p.lastSent) < p.interval {
		return nil
	}
	p.lastSent = now

	p.sequence++
	p.packet = AppendPacket(p.packet[:0], p.sequence, now.UnixNano(), rec)
	if err := p.sender.Send(p.packet); err != nil {
		return err
	}
	udpLog.Debugf("Sent packet %d (%d bytes)", p.sequence, len(p.packet))
	return nil
}

// Close closes the underlying sender.
func (p *Publisher) Close() error {
	return p.sender.Close()
}

// AppendPacket encodes one record onto dst.
func AppendPacket(dst []byte, seq uint32, timestamp int64, rec analysis.Record) []byte {
	dst = binary.BigEndian.AppendUint32(dst, seq)
	dst = binary.BigEndian.AppendUint64(dst, uint64(timestamp))
	dst = binary.BigEndian.AppendUint16(dst, FeatureCount)
	for _, v := range rec.Scalars() {
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(float32(v)))
	}
	for _, v := range rec.MFCC {
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(float32(v)))
	}
	return dst
}

// DecodePacket parses a datagram produced by AppendPacket.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, fmt.Errorf("%d bytes: %w", len(b), ErrShortPacket)
	}
	count := int(binary.BigEndian.Uint16(b[12:14]))
	if len(b) < HeaderSize+count*4 {
		return Packet{}, fmt.Errorf("%d bytes for %d features: %w", len(b), count, ErrShortPacket)
	}

	p := Packet{
		Sequence:  binary.BigEndian.Uint32(b[0:4]),
		Timestamp: int64(binary.BigEndian.Uint64(b[4:12])),
		Features:  make([]float32, count),
	}
	for i := range p.Features {
		off := HeaderSize + i*4
		p.Features[i] = math.Float32frombits(binary.BigEndian.Uint32(b[off : off+4]))
	}
	return p, nil
}
