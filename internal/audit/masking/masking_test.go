package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "whsec_****cdef", MaskSecret("whsec_0123456789abcdef"))
	assert.Equal(t, "****", MaskSecret("abc"))
	assert.Equal(t, "", MaskSecret("  "))
}

func TestMaskSensitiveOnlyTouchesCredentialKeys(t *testing.T) {
	got := MaskSensitive(map[string]any{
		"raffle_id":        "42",
		"webhook_secret":   "whsec_0123456789abcdef",
		"provider_payload": map[string]any{"signature": "t=1,v1=ffffeeee"},
	})

	assert.Equal(t, "42", got["raffle_id"])
	assert.Equal(t, "whsec_****cdef", got["webhook_secret"])
	nested := got["provider_payload"].(map[string]any)
	assert.Equal(t, "****eeee", nested["signature"])
}
