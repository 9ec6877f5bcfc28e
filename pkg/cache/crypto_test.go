package cache

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestSealerRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := newSealer(testKey(t))
	require.NoError(t, err)

	plaintext := []byte(`{"refresh_token":"rt-secret"}`)
	blob, err := s.Seal(plaintext)
	require.NoError(t, err)
	assert.NotContains(t, blob, "rt-secret")

	opened, err := s.Open(blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSealerRandomNonce(t *testing.T) {
	t.Parallel()

	s, err := newSealer(testKey(t))
	require.NoError(t, err)

	plaintext := []byte("same plaintext")
	first, err := s.Seal(plaintext)
	require.NoError(t, err)
	second, err := s.Seal(plaintext)
	require.NoError(t, err)

	// Random per-write nonces: equal plaintexts never produce equal blobs.
	assert.NotEqual(t, first, second)
}

func TestSealerRejectsBadInput(t *testing.T) {
	t.Parallel()

	s, err := newSealer(testKey(t))
	require.NoError(t, err)

	tests := []struct {
		name string
		blob string
	}{
		{name: "not base64", blob: "%%%not-base64%%%"},
		{name: "too short", blob: "AAAA"},
		{name: "tampered", blob: tamper(t, s)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := s.Open(tt.blob)
			assert.Error(t, err)
		})
	}
}

func TestSealerRejectsWrongKey(t *testing.T) {
	t.Parallel()

	first, err := newSealer(testKey(t))
	require.NoError(t, err)
	second, err := newSealer(testKey(t))
	require.NoError(t, err)

	blob, err := first.Seal([]byte("payload"))
	require.NoError(t, err)

	_, err = second.Open(blob)
	assert.Error(t, err)
}

func TestNewSealerRejectsShortKey(t *testing.T) {
	t.Parallel()

	_, err := newSealer([]byte("short"))
	assert.Error(t, err)
}

// tamper produces a valid-looking blob with a flipped ciphertext byte.
func tamper(t *testing.T, s *sealer) string {
	t.Helper()
	blob, err := s.Seal([]byte("payload"))
	require.NoError(t, err)

	raw := []byte(blob)
	// Flip a character near the end of the base64 text; GCM authentication
	// must reject the result.
	idx := len(raw) - 5
	if raw[idx] == 'A' {
		raw[idx] = 'B'
	} else {
		raw[idx] = 'A'
	}
	if bytes.Equal(raw, []byte(blob)) {
		t.Fatal("tamper produced identical blob")
	}
	return string(raw)
}
