package servicemodel

import "testing"

func TestParseServiceNameOK(t *testing.T) {
	s, err := ParseServiceName("a.b.svc.cluster.local")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Name != "a" || s.Namespace != "b" {
		t.Fatalf("got %+v", s)
	}
	if got, want := s.String(), "a.b.svc.cluster.local"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestParseServiceNameRejectsWrongSuffix(t *testing.T) {
	if _, err := ParseServiceName("a.b.c"); err == nil {
		t.Fatal("expected error for non-svc.cluster.local suffix")
	}
}

func TestParseServiceNameRejectsMissingNamespace(t *testing.T) {
	if _, err := ParseServiceName("a"); err == nil {
		t.Fatal("expected error for missing namespace segment")
	}
}
