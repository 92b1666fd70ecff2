package hashing

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumDeterministic(t *testing.T) {
	t.Parallel()

	data := make([]byte, 4096)
	_, err := rand.Read(data)
	require.NoError(t, err)

	first := Sum(data)
	for range 10 {
		assert.Equal(t, first, Sum(data))
	}

	streamed, n, err := Reader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, first, streamed)
	assert.True(t, first.IsValid())
}

func TestSumKnownValues(t *testing.T) {
	t.Parallel()

	// Reference values of xxHash64 with seed 0.
	assert.Equal(t, Hash(0xef46db3751d8e999), Sum(nil))
	assert.Equal(t, Hash(0x44bc2cf5ad770999), Sum([]byte("abc")))
}

func TestHashStringRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []Hash{1, 0xdeadbeefcafebabe, Sum([]byte("hello"))}
	for _, h := range tests {
		parsed, err := ParseHash(h.String())
		require.NoError(t, err)
		assert.Equal(t, h, parsed)

		fromHex, err := ParseHex(h.Hex())
		require.NoError(t, err)
		assert.Equal(t, h, fromHex)

		text, err := h.MarshalText()
		require.NoError(t, err)
		var back Hash
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, h, back)
	}
}

func TestHashBytesLittleEndian(t *testing.T) {
	t.Parallel()

	h := Hash(0x0102030405060708)
	assert.Equal(t, []byte{8, 7, 6, 5, 4, 3, 2, 1}, h.Bytes())
	back, err := FromBytes(h.Bytes())
	require.NoError(t, err)
	assert.Equal(t, h, back)

	_, err = FromBytes([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidHash)
	_, err = ParseHash("not base64!")
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestWriterMatchesSum(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	_, err := w.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = w.Write([]byte("world"))
	require.NoError(t, err)

	assert.Equal(t, Sum([]byte("hello world")), w.Sum())
	assert.Equal(t, "hello world", buf.String())
	assert.Equal(t, int64(11), w.N)

	discard := NewWriter(nil)
	_, err = discard.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, w.Sum(), discard.Sum())
}

func TestVerify(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Verify(Sum([]byte("a")), Sum([]byte("a"))))
	assert.ErrorIs(t, Verify(Sum([]byte("a")), Sum([]byte("b"))), ErrHashMismatch)
}
