package entitypath

import "testing"

func TestParseStrictRoundTrip(t *testing.T) {
	cases := []string{
		"/",
		"world",
		"world/points",
		"world/points/42",
		`world/hallådär`,
	}
	for _, in := range cases {
		p, err := ParseStrict(in)
		if err != nil {
			t.Fatalf("ParseStrict(%q): %v", in, err)
		}
		if got := p.Format(); got != in {
			t.Errorf("ParseStrict(%q).Format() = %q, want %q", in, got, in)
		}
	}
}

func TestParseStrictErrors(t *testing.T) {
	cases := map[string]ParseErrorKind{
		"":            ErrEmptyString,
		"/world":      ErrLeadingSlash,
		"world//points": ErrDoubleSlash,
		"world/":      ErrTrailingSlash,
		"world points": ErrMissingEscapeKind,
		"hello there":  ErrMissingEscapeKind,
	}
	for in, wantKind := range cases {
		_, err := ParseStrict(in)
		if err == nil {
			t.Errorf("ParseStrict(%q): expected error", in)
			continue
		}
		pe, ok := err.(*ParseError)
		if !ok {
			t.Errorf("ParseStrict(%q): error type %T, want *ParseError", in, err)
			continue
		}
		if pe.Kind != wantKind {
			t.Errorf("ParseStrict(%q): kind = %v, want %v", in, pe.Kind, wantKind)
		}
	}
}

func TestParseForgivingNeverFails(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"world/points", "world/points"},
		{"foo/Hallå Där!", `foo/Hallå\ Där\!`},
		{"/world/", "world"},
		{"world//points", "world/points"},
	}
	for _, c := range cases {
		got := ParseForgiving(c.in).Format()
		if got != c.want {
			t.Errorf("ParseForgiving(%q).Format() = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPathAncestry(t *testing.T) {
	root := Root
	world := New("world")
	points := New("world", "points")

	if !root.IsAncestorOf(world) {
		t.Error("root should be ancestor of world")
	}
	if !world.IsAncestorOf(points) {
		t.Error("world should be ancestor of world/points")
	}
	if points.IsAncestorOf(world) {
		t.Error("world/points should not be ancestor of world")
	}
	if world.IsAncestorOf(world) {
		t.Error("IsAncestorOf should be strict")
	}
	if !world.IsAncestorOfOrSelf(world) {
		t.Error("IsAncestorOfOrSelf should include self")
	}

	parent, ok := points.Parent()
	if !ok || !parent.Equal(world) {
		t.Errorf("points.Parent() = %v, %v, want world, true", parent, ok)
	}
	if _, ok := root.Parent(); ok {
		t.Error("root.Parent() should report false")
	}
}

func TestPathHashDistinguishesPartBoundaries(t *testing.T) {
	a := New("a", "b")
	b := New("ab")
	if a.Hash() == b.Hash() {
		t.Error(`Hash(["a","b"]) should differ from Hash(["ab"])`)
	}
}

func TestParseDataPath(t *testing.T) {
	got, err := ParseDataPath("world/points[#42]:Color")
	if err != nil {
		t.Fatalf("ParseDataPath: %v", err)
	}
	if !got.Entity.Equal(New("world", "points")) {
		t.Errorf("Entity = %v, want world/points", got.Entity)
	}
	if got.InstanceKey == nil || *got.InstanceKey != 42 {
		t.Errorf("InstanceKey = %v, want 42", got.InstanceKey)
	}
	if got.Component.String() != "rerun.components.Color" {
		t.Errorf("Component = %q, want rerun.components.Color (default-namespaced)", got.Component)
	}
}

func TestParseDataPathQualifiedComponent(t *testing.T) {
	got, err := ParseDataPath("world/points:my.custom.Thing")
	if err != nil {
		t.Fatalf("ParseDataPath: %v", err)
	}
	if got.Component.String() != "my.custom.Thing" {
		t.Errorf("Component = %q, want my.custom.Thing unchanged", got.Component)
	}
	if got.InstanceKey != nil {
		t.Errorf("InstanceKey = %v, want nil", got.InstanceKey)
	}
}

func TestParseDataPathEntityOnly(t *testing.T) {
	got, err := ParseDataPath("world/points")
	if err != nil {
		t.Fatalf("ParseDataPath: %v", err)
	}
	if got.Component != "" || got.InstanceKey != nil {
		t.Errorf("got %+v, want bare entity path with no component/instance", got)
	}
}

func TestParseDataPathBadInstanceKey(t *testing.T) {
	if _, err := ParseDataPath("world/points[42]"); err == nil {
		t.Error("expected error for instance key missing '#'")
	}
}
