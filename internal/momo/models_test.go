package momo

import "testing"

func TestParseScope(t *testing.T) {
	tests := []struct {
		in       string
		wantKind ScopeKind
		wantName string
	}{
		{"nacional", ScopeNational, ""},
		{"National", ScopeNational, ""},
		{"Madrid", ScopeCCAA, "Madrid"},
		{"madrid", ScopeCCAA, "Madrid"},
		{"castilla y león", ScopeCCAA, "Castilla y León"},
		{"Castilla y Leon", ScopeCCAA, "Castilla y León"},
		{"País Vasco", ScopeCCAA, "País Vasco"},
		{"Sevilla", ScopeProvince, "Sevilla"},
		{"ciudad real", ScopeProvince, "Ciudad Real"},
	}
	for _, tt := range tests {
		scope, err := ParseScope(tt.in)
		if err != nil {
			t.Errorf("ParseScope(%q): unexpected error %v", tt.in, err)
			continue
		}
		if scope.Kind != tt.wantKind || scope.Name != tt.wantName {
			t.Errorf("ParseScope(%q) = %v/%q, want %v/%q", tt.in, scope.Kind, scope.Name, tt.wantKind, tt.wantName)
		}
	}

	if _, err := ParseScope("  "); err == nil {
		t.Error("ParseScope of blank input should fail")
	}
}

func TestScopeKeyRoundTrip(t *testing.T) {
	scopes := []Scope{
		{Kind: ScopeNational},
		{Kind: ScopeCCAA, Name: "Madrid"},
		{Kind: ScopeProvince, Name: "Sevilla"},
	}
	for _, sc := range scopes {
		got, err := ScopeFromKey(sc.Key())
		if err != nil {
			t.Errorf("ScopeFromKey(%q): %v", sc.Key(), err)
			continue
		}
		if got != sc {
			t.Errorf("round trip of %q gave %+v", sc.Key(), got)
		}
	}

	for _, bad := range []string{"", "ccaa:", "pais:Madrid"} {
		if _, err := ScopeFromKey(bad); err == nil {
			t.Errorf("ScopeFromKey(%q) should fail", bad)
		}
	}
}

func TestScopeMatchesRow(t *testing.T) {
	national := Scope{Kind: ScopeNational}
	if !national.MatchesRow("nacional", "España") {
		t.Error("national scope should match any nacional row")
	}
	if national.MatchesRow("ccaa", "Madrid") {
		t.Error("national scope must not match ccaa rows")
	}

	madrid := Scope{Kind: ScopeCCAA, Name: "Madrid"}
	if !madrid.MatchesRow("ccaa", "madrid") {
		t.Error("ccaa matching should fold case")
	}
	andalucia := Scope{Kind: ScopeCCAA, Name: "Andalucía"}
	if !andalucia.MatchesRow("ccaa", "Andalucia") {
		t.Error("ccaa matching should fold accents")
	}
	if madrid.MatchesRow("provincia", "Madrid") {
		t.Error("ccaa scope must not match provincia rows")
	}
}
