package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrMalformedPacket marks a datagram that is too short, carries an unknown tag
// or has a length field running past the end of the payload.
var ErrMalformedPacket = errors.New("malformed packet")

// Decode parses one inbound datagram. Every length is checked against the
// remaining payload before any field is read.
func Decode(data []byte) (Packet, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty datagram", ErrMalformedPacket)
	}

	tag := data[0]
	min, ok := MinSize(tag)
	if !ok {
		return nil, fmt.Errorf("%w: unknown tag 0x%02x", ErrMalformedPacket, tag)
	}
	if len(data) < min {
		return nil, fmt.Errorf("%w: tag 0x%02x too short: expected %d bytes, got %d",
			ErrMalformedPacket, tag, min, len(data))
	}

	pkt, err := parseBody(tag, bytes.NewReader(data[1:]))
	if err != nil {
		if !errors.Is(err, ErrMalformedPacket) {
			err = fmt.Errorf("%w: %v", ErrMalformedPacket, err)
		}
		return nil, err
	}
	return pkt, nil
}

func parseBody(tag byte, r *bytes.Reader) (Packet, error) {
	switch tag {
	case PktAdminCommand:
		return parseAdminCommand(r)
	case PktPlayerUpdate:
		return parsePlayerUpdate(r)
	case PktQuickLookup:
		return parseQuickLookup(r)
	default:
		return parseSoundRequest(tag, r)
	}
}

// parseAdminCommand parses an admin command (0x01).
// Format: [slot:1][guid:33][name:36][text:256]
func parseAdminCommand(r *bytes.Reader) (*AdminCommand, error) {
	cmd := &AdminCommand{}
	var err error

	if cmd.Slot, err = r.ReadByte(); err != nil {
		return nil, fmt.Errorf("failed to parse admin command slot: %w", err)
	}
	if cmd.GUID, err = readGUID(r); err != nil {
		return nil, fmt.Errorf("failed to parse admin command guid: %w", err)
	}
	if cmd.Name, err = readFixedString(r, NameSize); err != nil {
		return nil, fmt.Errorf("failed to parse admin command name: %w", err)
	}
	if cmd.Text, err = readFixedString(r, CommandSize); err != nil {
		return nil, fmt.Errorf("failed to parse admin command text: %w", err)
	}
	return cmd, nil
}

// parsePlayerUpdate parses a player update (0x02).
// Format: [slot:1][connected:1][team:1][guid:33][name:36]
func parsePlayerUpdate(r *bytes.Reader) (*PlayerUpdate, error) {
	var head struct {
		Slot      uint8
		Connected uint8
		Team      uint8
	}
	if err := binary.Read(r, binary.LittleEndian, &head); err != nil {
		return nil, fmt.Errorf("failed to parse player update: %w", err)
	}

	upd := &PlayerUpdate{
		Slot:      head.Slot,
		Connected: head.Connected != 0,
		Team:      Team(head.Team),
	}
	if upd.Team > TeamSpectator {
		upd.Team = TeamSpectator
	}

	var err error
	if upd.GUID, err = readGUID(r); err != nil {
		return nil, fmt.Errorf("failed to parse player update guid: %w", err)
	}
	if upd.Name, err = readFixedString(r, NameSize); err != nil {
		return nil, fmt.Errorf("failed to parse player update name: %w", err)
	}
	return upd, nil
}

// parseQuickLookup parses a quick-command lookup (0x20).
// Format: [slot:1][guid:33][textLen:1][text...]
func parseQuickLookup(r *bytes.Reader) (*QuickLookup, error) {
	q := &QuickLookup{}
	var err error

	if q.Slot, err = r.ReadByte(); err != nil {
		return nil, fmt.Errorf("failed to parse quick lookup slot: %w", err)
	}
	if q.GUID, err = readGUID(r); err != nil {
		return nil, fmt.Errorf("failed to parse quick lookup guid: %w", err)
	}
	if q.Text, err = readString(r, MaxQuickText); err != nil {
		return nil, fmt.Errorf("failed to parse quick lookup text: %w", err)
	}
	return q, nil
}

// parseSoundRequest parses every packet of the sound family. All share the
// [slot:1][guid:33] head; the rest depends on the operation.
func parseSoundRequest(tag byte, r *bytes.Reader) (*SoundRequest, error) {
	req := &SoundRequest{Op: tag}
	var err error

	if req.Slot, err = r.ReadByte(); err != nil {
		return nil, fmt.Errorf("failed to parse sound request slot: %w", err)
	}
	if req.GUID, err = readGUID(r); err != nil {
		return nil, fmt.Errorf("failed to parse sound request guid: %w", err)
	}

	switch tag {
	case PktSoundList, PktSoundStop, PktSoundReject:
		// head only

	case PktSoundAdd:
		// [nameLen:1][urlLen:2][name][url]
		var lens struct {
			Name uint8
			URL  uint16
		}
		if err := binary.Read(r, binary.LittleEndian, &lens); err != nil {
			return nil, fmt.Errorf("failed to parse sound add lengths: %w", err)
		}
		if req.Name, err = readBytes(r, int(lens.Name), MaxClipName); err != nil {
			return nil, fmt.Errorf("failed to parse sound add name: %w", err)
		}
		if req.URL, err = readBytes(r, int(lens.URL), MaxURL); err != nil {
			return nil, fmt.Errorf("failed to parse sound add url: %w", err)
		}

	case PktSoundPlay, PktSoundDelete:
		if req.Name, err = readString(r, MaxClipName); err != nil {
			return nil, fmt.Errorf("failed to parse sound name: %w", err)
		}

	case PktSoundRename:
		if req.Name, err = readString(r, MaxClipName); err != nil {
			return nil, fmt.Errorf("failed to parse sound rename old name: %w", err)
		}
		if req.NewName, err = readString(r, MaxClipName); err != nil {
			return nil, fmt.Errorf("failed to parse sound rename new name: %w", err)
		}

	case PktSoundShare:
		if req.TargetSlot, err = r.ReadByte(); err != nil {
			return nil, fmt.Errorf("failed to parse sound share target: %w", err)
		}
		if req.Name, err = readString(r, MaxClipName); err != nil {
			return nil, fmt.Errorf("failed to parse sound share name: %w", err)
		}

	case PktSoundAccept, PktSoundUnbind:
		if req.Alias, err = readString(r, MaxAlias); err != nil {
			return nil, fmt.Errorf("failed to parse sound alias: %w", err)
		}

	case PktSoundBind:
		if req.Alias, err = readString(r, MaxAlias); err != nil {
			return nil, fmt.Errorf("failed to parse sound bind alias: %w", err)
		}
		if req.Name, err = readString(r, MaxClipName); err != nil {
			return nil, fmt.Errorf("failed to parse sound bind name: %w", err)
		}
		if req.Text, err = readString(r, MaxQuickText); err != nil {
			return nil, fmt.Errorf("failed to parse sound bind text: %w", err)
		}

	default:
		return nil, fmt.Errorf("%w: unknown sound tag 0x%02x", ErrMalformedPacket, tag)
	}

	return req, nil
}

// readFixedString reads a NUL-padded field of size bytes. The value ends at the
// first NUL and never exceeds size-1 bytes.
func readFixedString(r *bytes.Reader, size int) (string, error) {
	if r.Len() < size {
		return "", fmt.Errorf("%w: fixed field of %d bytes, %d remaining", ErrMalformedPacket, size, r.Len())
	}
	field := make([]byte, size)
	if _, err := io.ReadFull(r, field); err != nil {
		return "", err
	}
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	if len(field) > size-1 {
		field = field[:size-1]
	}
	return string(field), nil
}

// readGUID reads the fixed GUID field in canonical form.
func readGUID(r *bytes.Reader) (string, error) {
	guid, err := readFixedString(r, GUIDSize)
	if err != nil {
		return "", err
	}
	return NormalizeGUID(guid), nil
}

// readString reads a u8 length-prefixed field and truncates it to max bytes.
func readString(r *bytes.Reader, max int) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", fmt.Errorf("%w: missing length byte", ErrMalformedPacket)
	}
	return readBytes(r, int(n), max)
}

// readBytes reads n bytes after checking them against the remaining payload.
func readBytes(r *bytes.Reader, n, max int) (string, error) {
	if n > r.Len() {
		return "", fmt.Errorf("%w: length %d exceeds remaining %d bytes", ErrMalformedPacket, n, r.Len())
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	if len(data) > max {
		data = data[:max]
	}
	return string(data), nil
}
