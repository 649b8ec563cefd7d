package rulespec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	r, err := New(`rpc\.stailer\.jp`, `CheckDeliveryArea`, 200, "application/grpc-web+proto")
	require.NoError(t, err)
	assert.True(t, r.Valid())
	assert.Equal(t, `rpc\.stailer\.jp`+`CheckDeliveryArea`, r.Name())
	assert.Equal(t, 200, r.Status())
	assert.Equal(t, DecodeNone, r.Decode())

	named := r.WithName("delivery").WithDecode(DecodeGrpcWeb)
	assert.Equal(t, "delivery", named.Name())
	assert.Equal(t, DecodeGrpcWeb, named.Decode())
	// 原值不受影响
	assert.Equal(t, DecodeNone, r.Decode())

	assert.False(t, MatchRule{}.Valid())
}

func TestNewInvalidPattern(t *testing.T) {
	_, err := New("(", "/api", 200, "")
	assert.ErrorContains(t, err, "domain")
	_, err = New("a", "[", 200, "")
	assert.ErrorContains(t, err, "path")
	assert.Panics(t, func() { MustNew("(", "", 0, "") })
}

func TestSpecCompile(t *testing.T) {
	_, err := Spec{Domain: "a", Path: "b", Decode: "protobuf"}.Compile()
	assert.Error(t, err)

	r, err := Spec{Name: "n", Domain: "a", Path: "b", Status: 404, ContentType: "text/plain", Decode: DecodeGrpcWeb}.Compile()
	require.NoError(t, err)
	assert.Equal(t, "n", r.Name())
	assert.Equal(t, 404, r.Status())
	assert.Equal(t, "text/plain", r.ContentType())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "1"
rules:
  - name: one
    domain: example\.com
    path: /api
    status: 200
    contentType: application/json
  - name: two
    domain: example\.com
    path: "("
`), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, c.Rules, 2)
	_, err = c.CompileAll()
	assert.ErrorContains(t, err, "rule 1 (two)")
}
