package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompute(t *testing.T) {
	assert.Equal(t, "pw/1.2.0+playwright-go/v0.5200.1", compute("1.2.0", "v0.5200.1"))
	assert.Equal(t, "pw/dev+playwright-go/unknown", compute("dev", ""))
}

func TestFingerprintIsStable(t *testing.T) {
	assert.Equal(t, Fingerprint(), Fingerprint())
	assert.Contains(t, Fingerprint(), "pw/"+Version)
}
