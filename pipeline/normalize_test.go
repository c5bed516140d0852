package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churnrisk/errs"
	"churnrisk/schema"
)

func telcoRegistry(t testing.TB) *schema.Registry {
	t.Helper()
	r, err := schema.New(
		schema.FieldSpec{Name: "tenure", Kind: schema.Numeric, Default: schema.Number(0)},
		schema.FieldSpec{Name: "MonthlyCharges", Kind: schema.Numeric, Default: schema.Number(0)},
		schema.FieldSpec{Name: "TotalCharges", Kind: schema.Numeric, Default: schema.Number(0)},
		schema.FieldSpec{Name: "Contract", Kind: schema.Categorical, Default: schema.Category("No")},
		schema.FieldSpec{Name: "OnlineSecurity", Kind: schema.Categorical, Default: schema.Category("No")},
	)
	require.NoError(t, err)
	return r
}

func TestNormalizeFillsMissingFields(t *testing.T) {
	registry := telcoRegistry(t)
	raw := NewRawRecord(
		Field{"Contract", "Month-to-month"},
		Field{"tenure", 1},
		Field{"MonthlyCharges", 90},
	)

	got, err := Normalize(raw, registry)
	require.NoError(t, err)

	assert.Equal(t, registry.FieldNames(), got.Names())
	assert.Equal(t, map[string]interface{}{
		"tenure":         1.0,
		"MonthlyCharges": 90.0,
		"TotalCharges":   0.0,
		"Contract":       "Month-to-month",
		"OnlineSecurity": "No",
	}, got.Map())
}

func TestNormalizeDropsExtraFields(t *testing.T) {
	registry := telcoRegistry(t)
	raw := NewRawRecord(Field{"customerID", "7590-VHVEG"}, Field{"tenure", "12"})

	got, err := Normalize(raw, registry)
	require.NoError(t, err)

	_, ok := got.Get("customerID")
	assert.False(t, ok)
	assert.Equal(t, 5, got.Len())
	tenure, _ := got.Get("tenure")
	assert.Equal(t, 12.0, tenure.Num)

	id, ok := raw.Get("customerID")
	require.True(t, ok)
	assert.Equal(t, "7590-VHVEG", id)
}

func TestNormalizeStrictTypeMismatch(t *testing.T) {
	registry := telcoRegistry(t)
	raw := NewRawRecord(Field{"tenure", "twelve"}, Field{"MonthlyCharges", 20})

	_, err := Normalize(raw, registry)
	var mismatch *errs.TypeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "tenure", mismatch.Field)
	assert.Equal(t, "twelve", mismatch.Value)
	assert.Equal(t, -1, mismatch.Row)
}

func TestNormalizeOnlyNullIsMissing(t *testing.T) {
	registry := telcoRegistry(t)
	got, err := Normalize(NewRawRecord(Field{"Contract", nil}), registry)
	require.NoError(t, err)
	contract, _ := got.Get("Contract")
	assert.Equal(t, schema.Category("No"), contract)

	for _, marker := range []string{"NaN", "None", "N/A", "", " ", "null"} {
		_, err := Normalize(NewRawRecord(Field{"tenure", marker}), registry)
		var mismatch *errs.TypeMismatchError
		require.True(t, errors.As(err, &mismatch), "tenure=%q", marker)
		assert.Equal(t, marker, mismatch.Value)

		got, err := Normalize(NewRawRecord(Field{"Contract", marker}), registry)
		require.NoError(t, err, "Contract=%q", marker)
		contract, _ := got.Get("Contract")
		assert.Equal(t, schema.Category(marker), contract)
	}
}

func TestNormalizeAllTreatsMarkersAsMissing(t *testing.T) {
	registry := telcoRegistry(t)
	raws := []RawRecord{
		NewRawRecord(Field{"TotalCharges", " "}, Field{"Contract", "None"}, Field{"tenure", "NaN"}),
	}

	got, subs := NormalizeAll(raws, registry)
	assert.Empty(t, subs)
	total, _ := got[0].Get("TotalCharges")
	assert.Equal(t, schema.Number(0), total)
	contract, _ := got[0].Get("Contract")
	assert.Equal(t, schema.Category("No"), contract)
	tenure, _ := got[0].Get("tenure")
	assert.Equal(t, schema.Number(0), tenure)
}

func TestNormalizeAllIsLenient(t *testing.T) {
	registry := telcoRegistry(t)
	raws := []RawRecord{
		NewRawRecord(Field{"tenure", "5"}, Field{"MonthlyCharges", "abc"}),
		NewRawRecord(),
		NewRawRecord(Field{"OnlineSecurity", "Yes"}, Field{"TotalCharges", "1,200"}),
	}

	got, subs := NormalizeAll(raws, registry)
	require.Len(t, got, 3)
	for _, rec := range got {
		assert.Equal(t, registry.FieldNames(), rec.Names())
	}

	monthly, _ := got[0].Get("MonthlyCharges")
	assert.Equal(t, schema.Number(0), monthly)
	tenure, _ := got[0].Get("tenure")
	assert.Equal(t, schema.Number(5), tenure)

	security, _ := got[2].Get("OnlineSecurity")
	assert.Equal(t, schema.Category("Yes"), security)

	assert.Equal(t, []Substitution{
		{Row: 0, Field: "MonthlyCharges", Value: "abc", Default: 0.0},
		{Row: 2, Field: "TotalCharges", Value: "1,200", Default: 0.0},
	}, subs)
}

func TestNormalizeAllMissingEverythingNeverFails(t *testing.T) {
	registry := telcoRegistry(t)
	raws := make([]RawRecord, 50)
	for i := range raws {
		raws[i] = NewRawRecord(Field{"unrelated", i})
	}
	got, subs := NormalizeAll(raws, registry)
	assert.Empty(t, subs)
	for _, rec := range got {
		for _, spec := range registry.Fields() {
			v, ok := rec.Get(spec.Name)
			require.True(t, ok)
			assert.Equal(t, spec.Default, v)
		}
	}
}

func TestNormalizedValuesAreCopies(t *testing.T) {
	registry := telcoRegistry(t)
	got, err := Normalize(NewRawRecord(Field{"tenure", 3}), registry)
	require.NoError(t, err)

	values := got.Values()
	values[0] = schema.Number(99)
	names := got.Names()
	names[0] = "other"

	tenure, _ := got.Get("tenure")
	assert.Equal(t, 3.0, tenure.Num)
}

func TestRawRecordWithKeepsPosition(t *testing.T) {
	raw := NewRawRecord(Field{"a", 1}, Field{"b", 2})
	updated := raw.With("a", 10).With("c", 3)

	assert.Equal(t, []string{"a", "b", "c"}, updated.Names())
	v, _ := updated.Get("a")
	assert.Equal(t, 10, v)

	orig, _ := raw.Get("a")
	assert.Equal(t, 1, orig)
	assert.Equal(t, 2, raw.Len())
}

func TestRawRecordFromMapOrdering(t *testing.T) {
	raw := RawRecordFromMap(map[string]interface{}{
		"zeta":     1,
		"tenure":   2,
		"alpha":    3,
		"Contract": "One year",
	}, []string{"tenure", "Contract", "missing"})

	assert.Equal(t, []string{"tenure", "Contract", "alpha", "zeta"}, raw.Names())
}
