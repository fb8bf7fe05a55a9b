package ingest

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appars/gpc-digitaltwin/pkg/twin"
)

func TestDecode_Sections(t *testing.T) {
	u, rep, err := Decode([]byte(`{
		"oper":   {"T1": 305, "speed": "8000"},
		"health": {"vib_axial": 4.1},
		"gas":    {"mw": 19.5}
	}`))
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{"T1": 305, "speed": 8000}, u.Oper)
	assert.Equal(t, map[string]float64{"vib_axial": 4.1}, u.Health)
	assert.Equal(t, map[string]float64{"mw": 19.5}, u.Gas)
	assert.Equal(t, 4, rep.Applied)
	assert.Zero(t, rep.Rejected)
	assert.Zero(t, rep.Ignored)
}

func TestDecode_WrapperKey(t *testing.T) {
	u, rep, err := Decode([]byte(`{"wgc": {"oper": {"flow": 30}}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Applied)
	assert.Equal(t, 30.0, u.Oper["flow"])
}

func TestDecode_LegacyAliases(t *testing.T) {
	u, rep, err := Decode([]byte(`{"health": {"v_ax": 3, "oil_pressure": 1.8, "seal_leak": 0.7}}`))
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Applied)
	assert.Equal(t, map[string]float64{
		"vib_axial":         3,
		"lube_oil_pressure": 1.8,
		"seal_leakage":      0.7,
	}, u.Health)
}

func TestDecode_CanonicalNameShadowsAlias(t *testing.T) {
	// Map iteration order is random; repeat so either order is exercised.
	for i := 0; i < 200; i++ {
		u, rep, err := Decode([]byte(`{"health": {"v_ax": 5, "vib_axial": 2, "seal_leak": 0.3}}`))
		require.NoError(t, err)
		require.Equal(t, map[string]float64{"vib_axial": 2, "seal_leakage": 0.3}, u.Health, "iteration %d", i)
		require.Equal(t, 2, rep.Applied)
		require.Equal(t, 1, rep.Ignored)
	}

	// An invalid canonical value still shadows a valid alias.
	u, rep, err := Decode([]byte(`{"health": {"v_ax": 5, "vib_axial": "high"}}`))
	require.NoError(t, err)
	assert.Empty(t, u.Health)
	assert.Equal(t, 1, rep.Rejected)
	assert.Equal(t, 1, rep.Ignored)
}

func TestDecode_RejectedValueEchoKeepsRunes(t *testing.T) {
	// 63 ASCII bytes then a 3-byte rune straddling the echo limit.
	long := `"` + strings.Repeat("a", 62) + "€€€€" + `"`
	_, rep, err := Decode([]byte(`{"oper": {"T1": ` + long + `}}`))
	require.NoError(t, err)
	require.Len(t, rep.Errors, 1)

	echo := rep.Errors[0].Value
	assert.True(t, utf8.ValidString(echo), "echo %q is not valid UTF-8", echo)
	assert.True(t, strings.HasSuffix(echo, "..."))
	assert.LessOrEqual(t, len(echo), maxValueEcho+len("..."))
}

func TestDecode_RejectsUncoercibleFields(t *testing.T) {
	u, rep, err := Decode([]byte(`{"oper": {
		"T1": "abc",
		"T2": true,
		"P1": null,
		"P2": {"x": 1},
		"flow": 20,
		"speed": "NaN"
	}}`))
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{"flow": 20}, u.Oper)
	assert.Equal(t, 1, rep.Applied)
	assert.Equal(t, 5, rep.Rejected)
	require.Len(t, rep.Errors, 5)

	fields := make([]string, 0, len(rep.Errors))
	for _, e := range rep.Errors {
		assert.Equal(t, twin.SectionOper, e.Section)
		fields = append(fields, e.Field)
	}
	assert.Equal(t, []string{"P1", "P2", "T1", "T2", "speed"}, fields, "errors sorted by field")
	assert.Equal(t, `"abc"`, rep.Errors[2].Value)
	assert.Contains(t, rep.Errors[2].Error(), "oper.T1")
}

func TestDecode_IgnoresUnknown(t *testing.T) {
	u, rep, err := Decode([]byte(`{"ts": 1700000000, "oper": {"rpm": 1, "flow": 2}, "misc": {"a": 1}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Applied)
	assert.Equal(t, 3, rep.Ignored)
	assert.Equal(t, 2.0, u.Oper["flow"])
}

func TestDecode_Composition(t *testing.T) {
	u, rep, err := Decode([]byte(`{"gas": {"composition": {"CH4": 0.9, "CO2": "0.1", "N2": false}}}`))
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{"CH4": 0.9, "CO2": 0.1}, u.Composition)
	assert.Equal(t, 2, rep.Applied)
	assert.Equal(t, 1, rep.Rejected)
	assert.Equal(t, "composition.N2", rep.Errors[0].Field)
}

func TestDecode_CompositionNotObject(t *testing.T) {
	u, rep, err := Decode([]byte(`{"gas": {"composition": [1, 2]}}`))
	require.NoError(t, err)
	assert.Nil(t, u.Composition)
	assert.Equal(t, 1, rep.Rejected)
	assert.Zero(t, rep.Applied)
}

func TestDecode_InvalidPayload(t *testing.T) {
	cases := map[string]string{
		"array":           `[1, 2, 3]`,
		"scalar":          `42`,
		"null":            `null`,
		"garbage":         `{not json`,
		"section string":  `{"oper": "fast"}`,
		"section array":   `{"health": [1]}`,
		"wrapper scalar":  `{"wgc": 7}`,
		"wrapper section": `{"wgc": {"gas": 1}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Decode([]byte(body))
			assert.True(t, errors.Is(err, ErrInvalidPayload), "got %v", err)
		})
	}
}

func TestDecode_EmptyObject(t *testing.T) {
	u, rep, err := Decode([]byte(`{}`))
	require.NoError(t, err)
	assert.Zero(t, u.Len())
	assert.Zero(t, rep.Applied)
}

func TestDecode_NullSectionIsEmpty(t *testing.T) {
	_, rep, err := Decode([]byte(`{"oper": null, "gas": {"glr": 900}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Applied)
}
