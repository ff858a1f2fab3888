package mineral

import (
	"reflect"
	"testing"
)

func TestElementsFromFormula(t *testing.T) {
	cases := []struct {
		name    string
		formula string
		want    []string
	}{
		{"simple oxide", "SiO2", []string{"Si", "O"}},
		{"repeated elements deduped", "CaCO3", []string{"Ca", "C", "O"}},
		{"hydrated sulfate", "CaSO4·2H2O", []string{"Ca", "S", "O", "H"}},
		{"charges and parens ignored", "Fe2+(Fe3+)2O4", []string{"Fe", "O"}},
		{"single element", "Au", []string{"Au"}},
		{"empty formula", "", []string{}},
		{"no symbols", "2(aq)", []string{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ElementsFromFormula(tc.formula)
			if got == nil {
				t.Fatal("ElementsFromFormula() = nil, want non-nil slice")
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ElementsFromFormula(%q) = %v, want %v", tc.formula, got, tc.want)
			}
		})
	}
}

func TestElementsFromFormula_OrderOfFirstAppearance(t *testing.T) {
	got := ElementsFromFormula("KAlSi3O8")
	want := []string{"K", "Al", "Si", "O"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ElementsFromFormula() = %v, want %v", got, want)
	}
}
