package fake

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemoCredential_IsSixDigitsAndStable(t *testing.T) {
	cred := DemoCredential("ACC1")
	assert.Len(t, cred, 6)
	assert.Regexp(t, `^[0-9]{6}$`, cred)
	assert.Equal(t, cred, DemoCredential("ACC1"))
	assert.NotEqual(t, cred, DemoCredential("ACC2"))
}

func TestSignatureMatcher(t *testing.T) {
	a := []float64{0.1, 0.5, 0.9}
	match, confidence := SignatureMatcher(a, a)
	assert.True(t, match)
	assert.Equal(t, 1.0, confidence)

	match, _ = SignatureMatcher(a, []float64{0.9, 0.1, 0.2})
	assert.False(t, match)

	match, confidence = SignatureMatcher(a, nil)
	assert.False(t, match)
	assert.Zero(t, confidence)
}

func TestListen_ServesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base, err := New().Listen(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(base, "/api"))

	resp, err := http.Get(base + "/fallback/pin/ACC1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
