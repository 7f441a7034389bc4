package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "svc123:usage['hits']=1&usage['downloads']=1&",
		Fingerprint("svc123", []string{"hits", "downloads"}))
	assert.Equal(t, "svc123:", Fingerprint("svc123", nil))
}
