package grpcweb

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestDecodeExample(t *testing.T) {
	got := Decode("payloadÀgrpc-status:0Àgrpc-message:OK")
	assert.Equal(t, Decoded{Text: "payload", Status: StatusOK}, got)
}

func TestDecodeStatusTable(t *testing.T) {
	want := []string{
		"OK", "CANCELLED", "UNKNOWN", "INVALID_ARGUMENT", "DEADLINE_EXCEEDED",
		"NOT_FOUND", "ALREADY_EXISTS", "PERMISSION_DENIED", "RESOURCE_EXHAUSTED",
		"FAILED_PRECONDITION", "ABORTED", "OUT_OF_RANGE", "UNIMPLEMENTED",
		"INTERNAL", "UNAVAILABLE", "DATA_LOSS", "UNAUTHENTICATED",
	}
	for n, name := range want {
		t.Run(name, func(t *testing.T) {
			d := Decode("body grpc-status:" + strconv.Itoa(n))
			assert.Equal(t, Status(n), d.Status)
			assert.Equal(t, name, d.Status.String())
			assert.Equal(t, "body ", d.Text)
			code, ok := d.Status.Code()
			require.True(t, ok)
			assert.Equal(t, codes.Code(n), code)
		})
	}
}

func TestDecodeFailures(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantText string
	}{
		{name: "out of range", raw: "x grpc-status:99", wantText: "x "},
		{name: "no digits", raw: "x grpc-status:", wantText: "x "},
		{name: "no colon", raw: "x grpc-status 0", wantText: "x "},
		{name: "absent token", raw: "plain body", wantText: "plain body"},
		{name: "empty", raw: "", wantText: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decode(tt.raw)
			assert.Equal(t, StatusDecodeFailed, d.Status)
			assert.Equal(t, "DECODE_FAILED", d.Status.String())
			assert.Equal(t, tt.wantText, d.Text)
		})
	}
}

func TestDecodeCaseInsensitive(t *testing.T) {
	d := Decode("data\r\nGRPC-STATUS:5\r\ngrpc-message:missing")
	assert.Equal(t, StatusNotFound, d.Status)
	assert.Equal(t, "data\r\n\ngrpc-message:missing", d.Text)
}

func TestDecodeStripsLatin1Range(t *testing.T) {
	in := "aÀbÖc×dØeöf÷gøhÿi"
	// × (U+00D7) and ÷ (U+00F7) sit outside the stripped ranges
	assert.Equal(t, "abc×def÷ghi", Clean(in))
}

func TestDecodeIdempotent(t *testing.T) {
	inputs := []string{
		"payloadÀgrpc-status:0Àgrpc-message:OK",
		"été grpc-status:14",
		"no trailer at all",
		"",
	}
	for _, in := range inputs {
		once := Decode(in).Text
		twice := Decode(once).Text
		assert.Equal(t, once, twice, "input %q", in)
		assert.Equal(t, twice, Decode(twice).Text)
	}
}

func TestDecodedErr(t *testing.T) {
	assert.NoError(t, Decoded{Status: StatusOK}.Err())
	assert.ErrorIs(t, Decoded{Status: StatusDecodeFailed}.Err(), ErrDecodeFailed)

	err := Decoded{Text: "denied", Status: StatusPermissionDenied}.Err()
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.PermissionDenied, st.Code())
	assert.Equal(t, "denied", st.Message())
}

func TestLookup(t *testing.T) {
	assert.Equal(t, StatusUnauthenticated, Lookup(16))
	assert.Equal(t, StatusDecodeFailed, Lookup(17))
	assert.Equal(t, StatusDecodeFailed, Lookup(-3))
	assert.False(t, StatusDecodeFailed.Valid())
	assert.Equal(t, StatusDecodeFailed, ParseStatus("99"))
}

func frame(flag byte, payload string) []byte {
	b := make([]byte, 5+len(payload))
	b[0] = flag
	binary.BigEndian.PutUint32(b[1:5], uint32(len(payload)))
	copy(b[5:], payload)
	return b
}

func TestParseFrames(t *testing.T) {
	body := append(frame(0x00, "hello"), frame(0x80, "grpc-status:0\r\ngrpc-message:all%20good\r\n")...)
	frames, err := ParseFrames(body)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.False(t, frames[0].IsTrailer())
	assert.Equal(t, "hello", string(frames[0].Payload))
	require.True(t, frames[1].IsTrailer())

	tr := ParseTrailer(frames[1].Payload)
	assert.Equal(t, StatusOK, tr.Status())
	assert.Equal(t, "all good", tr.Message())
}

func TestParseFramesTruncated(t *testing.T) {
	body := frame(0x00, "hello")
	_, err := ParseFrames(body[:7])
	assert.True(t, errors.Is(err, ErrTruncatedFrame))

	_, err = ParseFrames([]byte{0x00, 0x00})
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestDecodeBody(t *testing.T) {
	body := append(frame(0x00, "hello"), frame(0x80, "grpc-status:7\r\n")...)

	t.Run("binary", func(t *testing.T) {
		d := DecodeBody("application/grpc-web+proto", body)
		assert.Equal(t, Decoded{Text: "hello", Status: StatusPermissionDenied}, d)
	})

	t.Run("text variant", func(t *testing.T) {
		enc := base64.StdEncoding.EncodeToString(body[:10]) + base64.StdEncoding.EncodeToString(body[10:])
		d := DecodeBody("application/grpc-web-text+proto", []byte(enc))
		assert.Equal(t, Decoded{Text: "hello", Status: StatusPermissionDenied}, d)
	})

	t.Run("falls back to text decode", func(t *testing.T) {
		d := DecodeBody("application/grpc-web+proto", []byte("payloadÀgrpc-status:0"))
		assert.Equal(t, Decoded{Text: "payload", Status: StatusOK}, d)
	})

	t.Run("frames without trailer", func(t *testing.T) {
		d := DecodeBody("application/grpc-web+proto", frame(0x00, "only data"))
		assert.Equal(t, StatusDecodeFailed, d.Status)
	})
}

func TestDecodeFrames(t *testing.T) {
	t.Run("compressed data frames are skipped", func(t *testing.T) {
		body := append(frame(0x00, "plain"), frame(0x01, "\x1f\x8bzz")...)
		body = append(body, frame(0x80, "grpc-status:0\r\n")...)
		d, ok := DecodeFrames("application/grpc-web+proto", body)
		require.True(t, ok)
		assert.Equal(t, "plain", d.Text)
		assert.True(t, d.Compressed)
		assert.Equal(t, StatusOK, d.Status)
	})

	t.Run("not framed", func(t *testing.T) {
		_, ok := DecodeFrames("application/grpc-web+proto", []byte("payloadÀgrpc-status:0"))
		assert.False(t, ok)
	})

	t.Run("keeps latin-1 bytes of the message", func(t *testing.T) {
		body := append(frame(0x00, "\x0a\x05café"), frame(0x80, "grpc-status:0\r\ngrpc-message:OK\r\n")...)
		d, ok := DecodeFrames("application/grpc-web+proto", body)
		require.True(t, ok)
		assert.Equal(t, "\x0a\x05café", d.Text)
		assert.Nil(t, d.Framed)
	})
}
