package grouptype

import "testing"

type passthroughCodec struct{}

func (passthroughCodec) Encode(v any) ([]byte, error) {
	s, _ := v.(string)
	return []byte(s), nil
}

func (passthroughCodec) Decode(b []byte) (any, error) { return string(b), nil }

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Type{Name: "raft", Codec: passthroughCodec{}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(Type{Name: "raft", Codec: passthroughCodec{}}); err == nil {
		t.Fatal("expected error registering duplicate type name")
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("Lookup found a type that was never registered")
	}
	got, ok := r.Lookup("raft")
	if !ok || got.Name != "raft" {
		t.Fatalf("Lookup(raft) = %+v, %v", got, ok)
	}
}

func TestTypesSortedByName(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"primary-backup", "raft", "log"} {
		if err := r.Register(Type{Name: name, Codec: passthroughCodec{}}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}
	types := r.Types()
	var names []string
	for _, t := range types {
		names = append(names, t.Name)
	}
	want := []string{"log", "primary-backup", "raft"}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("Types() order = %v, want %v", names, want)
		}
	}
}
