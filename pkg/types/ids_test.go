package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeID_RoundTrip(t *testing.T) {
	id := RandomNodeID()
	require.False(t, id.IsEmpty())

	s := id.String()
	require.NotEmpty(t, s)

	parsed, err := ParseNodeID(s)
	require.NoError(t, err)
	assert.True(t, id.Equal(parsed))
}

func TestNodeID_ShortString(t *testing.T) {
	id := RandomNodeID()
	assert.Len(t, id.ShortString(), 8)

	// 空 ID 的短表示也为空
	assert.Empty(t, EmptyNodeID.ShortString())
}

func TestParseNodeID_Invalid(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"空字符串", ""},
		{"非法字符", "0OIl+/=="},
		{"长度不足", "abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseNodeID(tc.input)
			assert.ErrorIs(t, err, ErrInvalidNodeID)
		})
	}
}

func TestNodeIDFromBytes(t *testing.T) {
	id := RandomNodeID()

	got, err := NodeIDFromBytes(id.Bytes())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = NodeIDFromBytes([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidNodeID)
}

func TestConnectionID_Unique(t *testing.T) {
	seen := make(map[ConnectionID]bool)
	for i := 0; i < 100; i++ {
		id := NewConnectionID()
		require.False(t, id.IsEmpty())
		require.False(t, seen[id], "连接ID不应重复")
		seen[id] = true
	}
}

func TestConnectionID_FromBytes(t *testing.T) {
	id := NewConnectionID()

	got, err := ConnectionIDFromBytes(id.Bytes())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ConnectionIDFromBytes(nil)
	assert.ErrorIs(t, err, ErrInvalidConnectionID)
}

func TestStreamID_String(t *testing.T) {
	assert.Equal(t, "00000000000000ff", StreamID(255).String())
	assert.True(t, StreamID(0).IsZero())
	assert.False(t, StreamID(1).IsZero())
}

func TestTransferToken(t *testing.T) {
	tok := NewTransferToken()
	require.False(t, tok.IsEmpty())
	assert.Len(t, tok.Bytes(), 16)
	assert.Len(t, tok.ShortString(), 8)

	// 原始字节往返
	same := TokenFromBytes(tok.Bytes())
	assert.Equal(t, tok, same)
}
