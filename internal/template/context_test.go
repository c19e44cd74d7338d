package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeContexts_LaterOverridesEarlier(t *testing.T) {
	base := map[string]interface{}{"app": "demo", "shared": "base"}
	overlay := map[string]interface{}{"service": "web", "shared": "overlay"}

	merged := MergeContexts(base, overlay)

	assert.Equal(t, "demo", merged["app"])
	assert.Equal(t, "web", merged["service"])
	assert.Equal(t, "overlay", merged["shared"])
}

func TestMergeContexts_NoContextsReturnsEmptyMap(t *testing.T) {
	assert.Empty(t, MergeContexts())
}
