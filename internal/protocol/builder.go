package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PacketBuilder constructs little-endian packets.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a builder whose first byte is tag.
func NewPacketBuilder(tag byte) *PacketBuilder {
	b := &PacketBuilder{}
	b.buf.WriteByte(tag)
	return b
}

// WriteByte writes a single byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteUint16 writes a uint16 in little-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteUint32 writes a uint32 in little-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteInt32 writes an int32 in little-endian order.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteFixedString writes s into a NUL-padded field of exactly size bytes.
// At most size-1 bytes of s are kept so the field always ends in NUL.
func (b *PacketBuilder) WriteFixedString(s string, size int) *PacketBuilder {
	field := make([]byte, size)
	copy(field[:size-1], s)
	b.buf.Write(field)
	return b
}

// WriteString writes a u8 length followed by at most max bytes of s.
// Format: [length:1][bytes...]
func (b *PacketBuilder) WriteString(s string, max int) *PacketBuilder {
	if max > 255 {
		max = 255
	}
	if len(s) > max {
		s = s[:max]
	}
	b.buf.WriteByte(byte(len(s)))
	b.buf.WriteString(s)
	return b
}

// WriteLongString writes a u16 length followed by at most max bytes of s.
// Format: [length:2][bytes...]
func (b *PacketBuilder) WriteLongString(s string, max int) *PacketBuilder {
	if len(s) > max {
		s = s[:max]
	}
	b.WriteUint16(uint16(len(s)))
	b.buf.WriteString(s)
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the constructed packet bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current size of the packet being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

// ---- Outbound packet constructors ----

// EncodeAdminResponse builds an admin response. Slot 255 broadcasts.
// Format: [0x81][slot:1][message:256]
func EncodeAdminResponse(slot uint8, message string) []byte {
	return NewPacketBuilder(PktAdminResponse).
		WriteByte(slot).
		WriteFixedString(message, MessageSize).
		Build()
}

// EncodeAdminAction builds an action request for the engine.
// Format: [0x82][action:1][slot:1][number:4][text:256]
func EncodeAdminAction(kind ActionKind, slot uint8, number int32, text string) []byte {
	return NewPacketBuilder(PktAdminAction).
		WriteByte(byte(kind)).
		WriteByte(slot).
		WriteInt32(number).
		WriteFixedString(text, MessageSize).
		Build()
}

// EncodeSoundResponse builds a success, error or listing response.
// Format: [tag][slot:1][message:256]
func EncodeSoundResponse(tag byte, slot uint8, message string) []byte {
	return NewPacketBuilder(tag).
		WriteByte(slot).
		WriteFixedString(message, MessageSize).
		Build()
}

// EncodeVoiceFrame builds one Opus frame packet.
// Format: [0x93][slot:1][seq:4][samples:2][len:2][data...]
func EncodeVoiceFrame(slot uint8, seq uint32, samples uint16, data []byte) []byte {
	if len(data) > MaxVoiceData {
		data = data[:MaxVoiceData]
	}
	return NewPacketBuilder(PktVoiceFrame).
		WriteByte(slot).
		WriteUint32(seq).
		WriteUint16(samples).
		WriteUint16(uint16(len(data))).
		WriteBytes(data).
		Build()
}

// EncodeVoiceEnd tells the engine the current stream is over.
// Format: [0x94][slot:1][seq:4]
func EncodeVoiceEnd(slot uint8, seq uint32) []byte {
	return NewPacketBuilder(PktVoiceEnd).
		WriteByte(slot).
		WriteUint32(seq).
		Build()
}

// EncodeQuickFound answers a lookup with the clip to play and optional chat text.
// Format: [0xA0][slot:1][guid:33][clip:32][textLen:1][text...]
func EncodeQuickFound(slot uint8, guid, clip, text string) []byte {
	return NewPacketBuilder(PktQuickFound).
		WriteByte(slot).
		WriteFixedString(guid, GUIDSize).
		WriteFixedString(clip, ClipSize).
		WriteString(text, MaxQuickText).
		Build()
}

// EncodeQuickNotFound tells the engine to send the chat line unmodified.
// Format: [0xA1][slot:1][guid:33]
func EncodeQuickNotFound(slot uint8, guid string) []byte {
	return NewPacketBuilder(PktQuickNotFound).
		WriteByte(slot).
		WriteFixedString(guid, GUIDSize).
		Build()
}
