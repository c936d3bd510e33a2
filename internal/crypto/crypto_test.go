package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	box, err := NewBox("test-secret")
	require.NoError(t, err)

	payload := map[string]any{"access_token": "tok-123", "note": "hello"}
	token, err := box.EncryptPayload(payload)
	require.NoError(t, err)
	assert.NotContains(t, token, "tok-123")

	got := box.DecryptPayload(token)
	assert.Equal(t, "tok-123", got["access_token"])
	assert.Equal(t, "hello", got["note"])
}

func TestDecryptPayload_EmptyAndCorrupt(t *testing.T) {
	box, err := NewBox("test-secret")
	require.NoError(t, err)

	assert.Empty(t, box.DecryptPayload(""))
	assert.Empty(t, box.DecryptPayload("not base64 at all!!"))
	assert.Empty(t, box.DecryptPayload("YWJjZGVmZ2hpamtsbW5vcHFyc3R1dnd4eXo="))
}

func TestDecryptPayload_WrongKey(t *testing.T) {
	box1, err := NewBox("secret-one")
	require.NoError(t, err)
	box2, err := NewBox("secret-two")
	require.NoError(t, err)

	token, err := box1.EncryptPayload(map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.Empty(t, box2.DecryptPayload(token))
}

func TestNewBox_EmptySecret(t *testing.T) {
	_, err := NewBox("")
	assert.Error(t, err)
}
