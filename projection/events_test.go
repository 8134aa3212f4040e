package projection_test

import (
	"testing"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/TKOaly/user-service-sub000/projection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRoundTrip(t *testing.T) {
	actor := int64(3)
	events := []projection.Event{
		projection.CreateEvent{ID: 1, Fields: fields("a1", "a1@example.com")},
		projection.ImportEvent{ID: 2, Fields: fields("a2", "a2@example.com")},
		projection.SetEvent{ID: 1, Patch: auth.UserPatch{Name: ptr("n")}, Subject: &actor},
		projection.DeleteEvent{ID: 1},
	}
	for _, evt := range events {
		t.Run(string(evt.Kind()), func(t *testing.T) {
			raw, err := projection.EncodeEvent(evt)
			require.NoError(t, err)
			got, err := projection.DecodeEvent(raw)
			require.NoError(t, err)
			assert.Equal(t, evt, got)
		})
	}
}

func TestDecodeEventValidates(t *testing.T) {
	tests := map[string]string{
		"not json":        `{`,
		"missing id":      `{"type":"delete"}`,
		"negative id":     `{"type":"delete","id":-1}`,
		"missing type":    `{"id":1}`,
		"create no body":  `{"type":"create","id":1}`,
		"import no body":  `{"type":"import","id":1}`,
		"set without set": `{"type":"set","id":1}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := projection.DecodeEvent([]byte(raw))
			require.Error(t, err)
			assert.True(t, auth.HasTextCode(err, auth.TextCodeMalformedRequest))
		})
	}
}

func TestDecodeUnknownEventKeepsPayload(t *testing.T) {
	raw := []byte(`{"type":"future","id":9,"extra":true}`)
	evt, err := projection.DecodeEvent(raw)
	require.NoError(t, err)

	unknown, ok := evt.(projection.UnknownEvent)
	require.True(t, ok)
	assert.Equal(t, int64(9), unknown.UserID())
	assert.Equal(t, projection.Kind("future"), unknown.Kind())

	out, err := projection.EncodeEvent(unknown)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(out))
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "users.42", projection.Subject(42))
}

func TestNormalizePhone(t *testing.T) {
	got, err := projection.NormalizePhone("040 1234567")
	require.NoError(t, err)
	assert.Equal(t, "+358401234567", got)

	got, err = projection.NormalizePhone("+46 70 123 45 67")
	require.NoError(t, err)
	assert.Equal(t, "+46701234567", got)

	got, err = projection.NormalizePhone("  ")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = projection.NormalizePhone("abc")
	assert.Error(t, err)
}
