package groupconfig

import "testing"

func TestGroupConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     GroupConfig
		wantErr bool
	}{
		{"ok", GroupConfig{Name: "data", Type: "primary-backup"}, false},
		{"empty name", GroupConfig{Type: "raft"}, true},
		{"empty type", GroupConfig{Name: "system"}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.cfg.Validate()
			if c.wantErr != (err != nil) {
				t.Fatalf("Validate() err=%v, wantErr=%v", err, c.wantErr)
			}
		})
	}
}

func TestPartitionGroupsConfigValidate(t *testing.T) {
	ok := PartitionGroupsConfig{
		SystemGroup: &GroupConfig{Name: "system", Type: "raft"},
		PartitionGroups: map[string]GroupConfig{
			"data": {Name: "data", Type: "primary-backup"},
		},
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	mismatched := PartitionGroupsConfig{
		PartitionGroups: map[string]GroupConfig{
			"data": {Name: "other", Type: "primary-backup"},
		},
	}
	if err := mismatched.Validate(); err == nil {
		t.Fatal("expected error for mismatched group key/name")
	}
}
