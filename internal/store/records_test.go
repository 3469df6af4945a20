package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-settlement/internal/core"
)

func TestCredentialsCodec(t *testing.T) {
	enc, err := EncodeCredentials(nil)
	require.NoError(t, err)
	assert.Nil(t, enc)

	dec, err := DecodeCredentials(nil)
	require.NoError(t, err)
	assert.Nil(t, dec)

	in := &core.Credentials{Email: "a@example.com", Password: "pw", Profile: "Kids", PIN: "1234"}
	enc, err = EncodeCredentials(in)
	require.NoError(t, err)
	require.NotNil(t, enc)

	dec, err = DecodeCredentials([]byte(*enc))
	require.NoError(t, err)
	assert.Equal(t, in, dec)

	_, err = DecodeCredentials([]byte("{not json"))
	assert.Error(t, err)
}
