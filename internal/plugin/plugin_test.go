package plugin

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopFactory(*Namespace, Export) (http.Handler, error) {
	return http.NotFoundHandler(), nil
}

func TestRegisterAndLookup(t *testing.T) {
	Register("test-selectable", KindInfo{Description: "test", Selectable: true}, noopFactory)
	Register("test-internal", KindInfo{Description: "internal only"}, noopFactory)

	_, err := Lookup("test-selectable")
	require.NoError(t, err)

	_, err = Lookup("test-internal")
	assert.True(t, errors.Is(err, ErrUnknownKind))

	_, err = Lookup("missing")
	assert.True(t, errors.Is(err, ErrUnknownKind))

	var kinds []string
	for _, info := range AllInfo() {
		kinds = append(kinds, info.Kind)
		if info.Kind == "test-internal" {
			assert.Equal(t, "internal only", info.Description)
			assert.False(t, info.Selectable)
		}
	}
	assert.Contains(t, kinds, "test-selectable")
	assert.Contains(t, kinds, "test-internal")
	assert.IsIncreasing(t, kinds)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	Register("test-dup", KindInfo{}, noopFactory)
	assert.Panics(t, func() {
		Register("test-dup", KindInfo{}, noopFactory)
	})
}

func TestNamespaceIsolation(t *testing.T) {
	environ := []string{
		"DESKTOP_CORE_MODE=desktop",
		"MOBILE_CORE_MODE=mobile",
		"CORE_MODE=global",
		"DESKTOP_=ignored",
		"MALFORMED",
	}

	desktop := NewNamespace("desktop", "/apps/desktop", environ, nil, nil)
	mobile := NewNamespace("mobile", "/apps/mobile", environ, map[string]string{"API_BASE": "/mobile/api"}, nil)

	v, ok := desktop.Get("CORE_MODE")
	require.True(t, ok)
	assert.Equal(t, "desktop", v)

	v, ok = mobile.Get("CORE_MODE")
	require.True(t, ok)
	assert.Equal(t, "mobile", v)

	_, ok = desktop.Get("API_BASE")
	assert.False(t, ok, "manifest values of one app must not leak into another")
	assert.Equal(t, []string{"API_BASE", "CORE_MODE"}, mobile.Keys())
	assert.Equal(t, []string{"CORE_MODE"}, desktop.Keys())
}

func TestNamespaceManifestOverridesEnv(t *testing.T) {
	ns := NewNamespace("travel", "", []string{"TRAVEL_MODE=env"}, map[string]string{"MODE": "manifest"}, nil)
	v, ok := ns.Get("MODE")
	require.True(t, ok)
	assert.Equal(t, "manifest", v)

	_, ok = ns.Get("MISSING")
	assert.False(t, ok)
}

func TestEnvPrefix(t *testing.T) {
	assert.Equal(t, "PITEXT_MOBILE_", EnvPrefix("pitext-mobile"))
	assert.Equal(t, "CODEGEN_", EnvPrefix("codegen"))
}
