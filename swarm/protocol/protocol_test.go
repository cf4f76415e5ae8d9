package protocol

import (
	"math"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamer/datamodel/peer"
	"teamer/net/wire"
)

var alice = peer.State{Name: "Alice", X: 100.0, Y: 200.0, Token: "FFA", Mass: 500}

func TestStateRoundTrip(t *testing.T) {
	states := []peer.State{
		alice,
		{},
		{Name: "Ünïcødé 名前", X: -1.5, Y: math.MaxFloat32, Token: "AB12C", Mass: math.MaxUint32},
		{Name: "x", X: float32(math.Inf(-1)), Y: 0, Token: "", Mass: 1},
	}

	for _, codec := range []Codec{{}, {Terminated: true}} {
		for _, s := range states {
			b, err := codec.Encode(&StateMessage{State: s})
			require.NoError(t, err)
			assert.Equal(t, OpState, b[0])

			m, err := codec.Decode(b)
			require.NoError(t, err)
			require.IsType(t, &StateMessage{}, m)
			assert.Equal(t, s, m.(*StateMessage).State)
		}
	}
}

func TestStateLayout(t *testing.T) {
	b, err := Encode(&StateMessage{State: peer.State{Name: "A", X: 1, Y: 2, Token: "FFA", Mass: 3}})
	require.NoError(t, err)

	want := []byte{100, 1, 0, 'A'}
	want = append(want, 0x00, 0x00, 0x80, 0x3f) // 1.0f
	want = append(want, 0x00, 0x00, 0x00, 0x40) // 2.0f
	want = append(want, 3, 0, 'F', 'F', 'A')
	want = append(want, 3, 0, 0, 0)
	assert.Equal(t, want, b)
}

func TestStateTruncation(t *testing.T) {
	for _, codec := range []Codec{{}, {Terminated: true}} {
		b, err := codec.Encode(&StateMessage{State: alice})
		require.NoError(t, err)

		for n := 0; n < len(b); n++ {
			m, err := codec.Decode(b[:n])
			assert.Nil(t, m, "prefix %d", n)
			assert.ErrorIs(t, err, wire.ErrTruncated, "prefix %d", n)
		}
	}
}

func TestUnknownOpcode(t *testing.T) {
	_, err := Decode([]byte{42, 1, 2, 3})
	assert.ErrorIs(t, err, ErrUnknownOpcode)
}

func TestWorldSnapshotIsOpaque(t *testing.T) {
	payload := []byte{0, 1, 2, 255, 100}
	b, err := Encode(&WorldSnapshotMessage{Payload: payload})
	require.NoError(t, err)

	m, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, payload, m.(*WorldSnapshotMessage).Payload)
}

func TestPlayerListRoundTrip(t *testing.T) {
	list := &PlayerListMessage{Players: []PlayerRecord{
		{ID: "AAAAAAAAAAAAAAAA", Name: "Alice", X: 1, Y: 2, Mass: 30, Alive: true, Token: "FFA"},
		{ID: "BBBBBBBBBBBBBBBB", Name: "Bob", X: -4, Y: 8, Mass: 0, Alive: false, Token: "XCVR9"},
	}}

	b, err := Encode(list)
	require.NoError(t, err)

	m, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, list, m)

	// Empty roster
	b, err = Encode(&PlayerListMessage{})
	require.NoError(t, err)
	m, err = Decode(b)
	require.NoError(t, err)
	assert.Empty(t, m.(*PlayerListMessage).Players)
}

func TestPlayerListLyingCount(t *testing.T) {
	w := wire.NewWriter(8)
	w.Uint8(OpPlayerList).Uint32(math.MaxUint32)

	_, err := Decode(w.Bytes())
	var de *wire.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "playerlist", de.Field)
}

func TestSessionMessages(t *testing.T) {
	for _, msg := range []Message{
		&HelloMessage{Password: "secret", Name: "Alice"},
		&HandshakeAckMessage{SessionID: "ABCDEFGHIJKLMNOP"},
		&PlayerUpdateMessage{Player: PlayerRecord{Name: "Alice", X: 3, Y: 4, Mass: 10, Alive: true, Token: "FFA"}},
	} {
		b, err := Encode(msg)
		require.NoError(t, err)
		assert.Equal(t, msg.Opcode(), b[0])

		got, err := Decode(b)
		require.NoError(t, err)
		assert.Equal(t, msg, got)
	}
}

func TestLegacyRoundTrip(t *testing.T) {
	b := EncodeLegacy(alice)
	assert.Equal(t, "Alice|100|200|FFA|500", string(b))

	s, err := DecodeLegacy(b)
	require.NoError(t, err)
	assert.Equal(t, alice, s)
}

func TestLegacyFromOldClients(t *testing.T) {
	s, err := DecodeLegacy([]byte("test_name|0.5|-3.25|XCVR|512.6"))
	require.NoError(t, err)
	assert.Equal(t, peer.State{Name: "test_name", X: 0.5, Y: -3.25, Token: "XCVR", Mass: 513}, s)

	for _, bad := range []string{"a|b|c", "a|x|1|FFA|1", "a|1|1|FFA|-5", "a|1|1|FFA|1|extra", "\xff|1|1|FFA|1"} {
		_, err := DecodeLegacy([]byte(bad))
		assert.ErrorIs(t, err, ErrInvalidLegacy, bad)
	}
}

func TestClampString(t *testing.T) {
	assert.Equal(t, "abc", ClampString("abc", 5))
	assert.Equal(t, "ab", ClampString("abc", 2))
	// "é" is two bytes, never split
	assert.Equal(t, "é", ClampString("ééé", 3))
	assert.Equal(t, "", ClampString("é", 1))

	rec := PlayerRecord{Name: strings.Repeat("名", 100), Token: strings.Repeat("T", 100)}
	rec.Clamp()
	assert.LessOrEqual(t, len(rec.Name), MaxNameLength)
	assert.True(t, utf8.ValidString(rec.Name))
	assert.Len(t, rec.Token, MaxTokenLength)
}
