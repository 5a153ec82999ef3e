package clusterid

import "testing"

func TestMemberIDNamespace(t *testing.T) {
	id := NewMemberID("ns", "abc")
	if id != "ns/abc" {
		t.Fatalf("unexpected id: %s", id)
	}
	if id.Namespace() != "ns" {
		t.Fatalf("namespace = %q, want ns", id.Namespace())
	}
	if id.LocalID() != "abc" {
		t.Fatalf("localID = %q, want abc", id.LocalID())
	}
}

func TestMemberIDNoNamespace(t *testing.T) {
	id := NewMemberID("", "abc")
	if id != "abc" {
		t.Fatalf("unexpected id: %s", id)
	}
	if id.Namespace() != "" {
		t.Fatalf("namespace = %q, want empty", id.Namespace())
	}
	if id.LocalID() != "abc" {
		t.Fatalf("localID = %q, want abc", id.LocalID())
	}
}

func TestParseAddressRoundTrip(t *testing.T) {
	addr, err := ParseAddress("10.0.0.1:7946")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if addr.Host != "10.0.0.1" || addr.Port != 7946 {
		t.Fatalf("unexpected address: %+v", addr)
	}
	if addr.String() != "10.0.0.1:7946" {
		t.Fatalf("String() = %q", addr.String())
	}
}

func TestParseAddressInvalid(t *testing.T) {
	if _, err := ParseAddress("not-an-address"); err == nil {
		t.Fatal("expected error for malformed address")
	}
}
