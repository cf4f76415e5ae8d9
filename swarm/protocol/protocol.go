// Package protocol defines the opcode-tagged messages of the team protocol.
// Every message is one opcode byte followed by an opcode-specific payload encoded
// with the wire codec.
package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"teamer/datamodel/peer"
	"teamer/net/wire"
)

const (
	OpHello         uint8 = 1   // Session: password-bearing hello (client -> server)
	OpState         uint8 = 100 // Presence: player state
	OpWorldSnapshot uint8 = 101 // Presence: opaque world state, forwarded untouched
	OpPlayerUpdate  uint8 = 110 // Session: single player record
	OpPlayerList    uint8 = 111 // Session: full roster (server -> client)
	OpHandshakeAck  uint8 = 200 // Session: handshake accepted, carries the session id
)

// Smallest possible encoded PlayerRecord: empty strings, fixed fields only.
const minPlayerRecordSize = 1 + 2 + 4 + 4 + 4 + 1 + 2

var ErrUnknownOpcode = errors.New("unknown opcode")

type Message interface {
	Opcode() uint8
}

type StateMessage struct {
	State peer.State
}

type WorldSnapshotMessage struct {
	Payload []byte
}

type PlayerRecord struct {
	ID    string // Session id assigned by the party server
	Name  string
	X     float32
	Y     float32
	Mass  uint32
	Alive bool
	Token string
}

// Limits the party server applies to client supplied strings, so that a full
// roster always fits one frame.
const (
	MaxNameLength  = 64
	MaxTokenLength = 16
)

// Clamp cuts Name and Token to their limits on a rune boundary.
func (p *PlayerRecord) Clamp() {
	p.Name = ClampString(p.Name, MaxNameLength)
	p.Token = ClampString(p.Token, MaxTokenLength)
}

// ClampString returns the longest prefix of s that is at most n bytes and ends
// on a rune boundary.
func ClampString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// MaxRecordSize is the encoded size of a clamped PlayerRecord with an id of
// idLen bytes.
func (c Codec) MaxRecordSize(idLen int) int {
	n := 1 + idLen + 2 + MaxNameLength + 4 + 4 + 4 + 1 + 2 + MaxTokenLength
	if c.Terminated {
		n += 2
	}
	return n
}

type PlayerUpdateMessage struct {
	Player PlayerRecord
}

type PlayerListMessage struct {
	Players []PlayerRecord
}

type HelloMessage struct {
	Password string
	Name     string
}

type HandshakeAckMessage struct {
	SessionID string
}

func (*StateMessage) Opcode() uint8         { return OpState }
func (*WorldSnapshotMessage) Opcode() uint8 { return OpWorldSnapshot }
func (*PlayerUpdateMessage) Opcode() uint8  { return OpPlayerUpdate }
func (*PlayerListMessage) Opcode() uint8    { return OpPlayerList }
func (*HelloMessage) Opcode() uint8         { return OpHello }
func (*HandshakeAckMessage) Opcode() uint8  { return OpHandshakeAck }

// Codec encodes and decodes messages. With Terminated set, every str16 field is
// written and read in its zero-terminated form for older clients.
type Codec struct {
	Terminated bool
}

var defaultCodec = Codec{}

func Encode(m Message) ([]byte, error) {
	return defaultCodec.Encode(m)
}

func Decode(b []byte) (Message, error) {
	return defaultCodec.Decode(b)
}

func (c Codec) str16(w *wire.Writer, s string) error {
	if c.Terminated {
		return w.Str16Z(s)
	}
	return w.Str16(s)
}

func (c Codec) readStr16(r *wire.Reader) (string, error) {
	if c.Terminated {
		return r.Str16Z()
	}
	return r.Str16()
}

func (c Codec) Encode(m Message) ([]byte, error) {
	w := wire.NewWriter(64)
	w.Uint8(m.Opcode())

	var err error
	switch msg := m.(type) {
	case *StateMessage:
		err = c.encodeState(w, &msg.State)
	case *WorldSnapshotMessage:
		w.Raw(msg.Payload)
	case *PlayerUpdateMessage:
		err = c.encodeRecord(w, &msg.Player)
	case *PlayerListMessage:
		w.Uint32(uint32(len(msg.Players)))
		for i := range msg.Players {
			if err = c.encodeRecord(w, &msg.Players[i]); err != nil {
				break
			}
		}
	case *HelloMessage:
		if err = c.str16(w, msg.Password); err == nil {
			err = c.str16(w, msg.Name)
		}
	case *HandshakeAckMessage:
		err = w.Str8(msg.SessionID)
	default:
		return nil, fmt.Errorf("encode opcode %d: %w", m.Opcode(), ErrUnknownOpcode)
	}

	if err != nil {
		return nil, fmt.Errorf("encode opcode %d: %w", m.Opcode(), err)
	}
	return w.Bytes(), nil
}

func (c Codec) encodeState(w *wire.Writer, s *peer.State) error {
	if err := c.str16(w, s.Name); err != nil {
		return err
	}
	w.Float32(s.X).Float32(s.Y)
	if err := c.str16(w, s.Token); err != nil {
		return err
	}
	w.Uint32(s.Mass)
	return nil
}

func (c Codec) encodeRecord(w *wire.Writer, p *PlayerRecord) error {
	if err := w.Str8(p.ID); err != nil {
		return err
	}
	if err := c.str16(w, p.Name); err != nil {
		return err
	}
	w.Float32(p.X).Float32(p.Y).Uint32(p.Mass)
	if p.Alive {
		w.Uint8(1)
	} else {
		w.Uint8(0)
	}
	return c.str16(w, p.Token)
}

// Decode parses one message. Truncated buffers yield an error wrapping
// wire.ErrTruncated and never a partially filled message.
func (c Codec) Decode(b []byte) (Message, error) {
	r := wire.NewReader(b)
	op, err := r.Uint8()
	if err != nil {
		return nil, fmt.Errorf("decode opcode: %w", err)
	}

	switch op {
	case OpState:
		s, err := c.decodeState(r)
		if err != nil {
			return nil, fmt.Errorf("decode state: %w", err)
		}
		return &StateMessage{State: s}, nil

	case OpWorldSnapshot:
		return &WorldSnapshotMessage{Payload: r.Rest()}, nil

	case OpPlayerUpdate:
		p, err := c.decodeRecord(r)
		if err != nil {
			return nil, fmt.Errorf("decode player update: %w", err)
		}
		return &PlayerUpdateMessage{Player: p}, nil

	case OpPlayerList:
		players, err := c.decodeList(r)
		if err != nil {
			return nil, fmt.Errorf("decode player list: %w", err)
		}
		return &PlayerListMessage{Players: players}, nil

	case OpHello:
		password, err := c.readStr16(r)
		if err != nil {
			return nil, fmt.Errorf("decode hello: %w", err)
		}
		name, err := c.readStr16(r)
		if err != nil {
			return nil, fmt.Errorf("decode hello: %w", err)
		}
		return &HelloMessage{Password: password, Name: name}, nil

	case OpHandshakeAck:
		id, err := r.Str8()
		if err != nil {
			return nil, fmt.Errorf("decode handshake ack: %w", err)
		}
		return &HandshakeAckMessage{SessionID: id}, nil
	}

	return nil, fmt.Errorf("decode opcode %d: %w", op, ErrUnknownOpcode)
}

func (c Codec) decodeState(r *wire.Reader) (peer.State, error) {
	var s peer.State
	var err error
	if s.Name, err = c.readStr16(r); err != nil {
		return peer.State{}, err
	}
	if s.X, err = r.Float32(); err != nil {
		return peer.State{}, err
	}
	if s.Y, err = r.Float32(); err != nil {
		return peer.State{}, err
	}
	if s.Token, err = c.readStr16(r); err != nil {
		return peer.State{}, err
	}
	if s.Mass, err = r.Uint32(); err != nil {
		return peer.State{}, err
	}
	return s, nil
}

func (c Codec) decodeRecord(r *wire.Reader) (PlayerRecord, error) {
	var p PlayerRecord
	var err error
	if p.ID, err = r.Str8(); err != nil {
		return PlayerRecord{}, err
	}
	if p.Name, err = c.readStr16(r); err != nil {
		return PlayerRecord{}, err
	}
	if p.X, err = r.Float32(); err != nil {
		return PlayerRecord{}, err
	}
	if p.Y, err = r.Float32(); err != nil {
		return PlayerRecord{}, err
	}
	if p.Mass, err = r.Uint32(); err != nil {
		return PlayerRecord{}, err
	}
	alive, err := r.Uint8()
	if err != nil {
		return PlayerRecord{}, err
	}
	p.Alive = alive != 0
	if p.Token, err = c.readStr16(r); err != nil {
		return PlayerRecord{}, err
	}
	return p, nil
}

func (c Codec) decodeList(r *wire.Reader) ([]PlayerRecord, error) {
	count, err := r.Uint32()
	if err != nil {
		return nil, err
	}

	// Refuse counts the buffer cannot possibly hold before allocating for them
	if need := uint64(count) * minPlayerRecordSize; need > uint64(r.Remaining()) {
		return nil, &wire.DecodeError{Field: "playerlist", Need: int(min(need, uint64(1<<31-1))), Have: r.Remaining()}
	}

	players := make([]PlayerRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		p, err := c.decodeRecord(r)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		players = append(players, p)
	}
	return players, nil
}
