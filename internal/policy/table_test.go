package policy

import (
	"errors"
	"testing"
)

func TestSetValidation(t *testing.T) {
	tests := []struct {
		name    string
		entry   Entry
		wantErr error
	}{
		{
			name:  "valid entry",
			entry: Entry{ActionKind: "grant_credit", MinimumTier: 3, Enabled: true},
		},
		{
			name:    "empty action kind",
			entry:   Entry{MinimumTier: 3},
			wantErr: ErrInvalidActionKind,
		},
		{
			name:    "tier out of range",
			entry:   Entry{ActionKind: "export_artifact", MinimumTier: 42},
			wantErr: ErrInvalidMinimumTier,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := NewInMemoryTable()
			err := tbl.Set(&tt.entry)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Set() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetUnknownKind(t *testing.T) {
	tbl := NewInMemoryTable()
	if _, err := tbl.Get("nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestDisableEnable(t *testing.T) {
	tbl := NewInMemoryTable()
	if err := tbl.Set(&Entry{ActionKind: "grant_credit", MinimumTier: 2, Enabled: true}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := tbl.Disable("grant_credit"); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	e, err := tbl.Get("grant_credit")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if e.Enabled {
		t.Error("entry still enabled after Disable()")
	}

	if err := tbl.Enable("grant_credit"); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	e, _ = tbl.Get("grant_credit")
	if !e.Enabled {
		t.Error("entry still disabled after Enable()")
	}

	if err := tbl.Disable("unknown_kind"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Disable(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestMissingCapability(t *testing.T) {
	tests := []struct {
		name     string
		required []string
		claimed  []string
		want     string
	}{
		{
			name:     "no requirements",
			required: nil,
			claimed:  nil,
			want:     "",
		},
		{
			name:     "all present",
			required: []string{"ledger:write", "credit:grant"},
			claimed:  []string{"credit:grant", "ledger:write", "extra"},
			want:     "",
		},
		{
			name:     "one missing",
			required: []string{"ledger:write", "credit:grant"},
			claimed:  []string{"ledger:write"},
			want:     "credit:grant",
		},
		{
			name:     "nothing claimed",
			required: []string{"ledger:write"},
			claimed:  nil,
			want:     "ledger:write",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Entry{ActionKind: "x", Capabilities: tt.required}
			if got := e.MissingCapability(tt.claimed); got != tt.want {
				t.Errorf("MissingCapability() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetReturnsCopy(t *testing.T) {
	tbl := NewInMemoryTable()
	tbl.Set(&Entry{ActionKind: "grant_credit", MinimumTier: 2, Capabilities: []string{"a"}, Enabled: true})

	e, _ := tbl.Get("grant_credit")
	e.Capabilities[0] = "mutated"
	e.MinimumTier = 9

	fresh, _ := tbl.Get("grant_credit")
	if fresh.Capabilities[0] != "a" || fresh.MinimumTier != 2 {
		t.Error("stored entry mutated through returned copy")
	}
}
