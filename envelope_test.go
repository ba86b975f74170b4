package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEnvelope(t *testing.T) {
	frame, err := encodeEnvelope("message.send", map[string]string{"content": "hi"}, 1700000000000)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"message.send","data":{"content":"hi"},"timestamp":1700000000000}`, string(frame))

	frame, err = encodeEnvelope("raw", json.RawMessage(`[1,2]`), 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"raw","data":[1,2]}`, string(frame))

	_, err = encodeEnvelope("bad", make(chan int), 0)
	assert.Error(t, err)
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := decodeEnvelope([]byte(`{"event":"pong","data":{"timestamp":5}}`))
	require.NoError(t, err)
	assert.Equal(t, EventPong, env.Event)
	assert.JSONEq(t, `{"timestamp":5}`, string(env.Data))

	_, err = decodeEnvelope([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, err = decodeEnvelope([]byte(`{"data":1}`))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}
