package media

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vincent-petithory/dataurl"
)

func TestNormalizeQRCodePrefersRendered(t *testing.T) {
	in := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	out, err := NormalizeQRCode(in, "2@ignored")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestNormalizeQRCodeWrapsBareBase64(t *testing.T) {
	out, err := NormalizeQRCode(base64.StdEncoding.EncodeToString([]byte("png-bytes")), "")
	require.NoError(t, err)
	decoded, err := dataurl.DecodeString(out)
	require.NoError(t, err)
	assert.Equal(t, "image/png", decoded.MediaType.ContentType())
	assert.Equal(t, []byte("png-bytes"), decoded.Data)
}

func TestNormalizeQRCodeRendersRawCode(t *testing.T) {
	out, err := NormalizeQRCode("", "2@AbCdEf,GhIjKl,MnOpQr")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "data:image/png;base64,"))
	decoded, err := dataurl.DecodeString(out)
	require.NoError(t, err)
	// PNG signature
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, decoded.Data[:4])
}

func TestNormalizeQRCodeEmpty(t *testing.T) {
	_, err := NormalizeQRCode(" ", "")
	assert.ErrorIs(t, err, ErrNoPairingCode)

	_, err = NormalizeQRCode("not base64!!", "")
	assert.Error(t, err)
}
