package layout

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinOTA1(t *testing.T) {
	registry := Builtin()

	l, ok := registry.Lookup("ota_1")
	if !ok {
		t.Fatal("builtin registry should contain ota_1")
	}
	if err := l.Validate(); err != nil {
		t.Errorf("ota_1 should validate: %v", err)
	}
	if !l.WithCRC {
		t.Error("ota_1 should carry interleaved block CRCs")
	}

	boot, ok := l.Partition("bootloader")
	if !ok {
		t.Fatal("ota_1 should have a bootloader partition")
	}
	if boot.StartAddress != 0 || boot.Size != 68*1024 {
		t.Errorf("bootloader = %+v, want 68 KiB at 0x0", boot)
	}

	app, ok := l.Partition("app")
	if !ok {
		t.Fatal("ota_1 should have an app partition")
	}
	if app.StartAddress != 0x11000 {
		t.Errorf("app.StartAddress = 0x%X, want 0x11000", app.StartAddress)
	}
	if app.MappedAddress != 0x10000 {
		t.Errorf("app.MappedAddress = 0x%X, want 0x10000", app.MappedAddress)
	}
	if app.Size != 1150832 {
		t.Errorf("app.Size = %d, want 1150832", app.Size)
	}
}

func TestValidateRejectsBrokenLayouts(t *testing.T) {
	tests := []struct {
		name   string
		layout Layout
	}{
		{
			"duplicate names",
			Layout{Name: "dup", Partitions: []Partition{
				{Name: "app", Size: 0x1000, StartAddress: 0x0},
				{Name: "app", Size: 0x1000, StartAddress: 0x2000},
			}},
		},
		{
			"overlapping partitions",
			Layout{Name: "overlap", Partitions: []Partition{
				{Name: "a", Size: 0x2000, StartAddress: 0x0},
				{Name: "b", Size: 0x1000, StartAddress: 0x1000},
			}},
		},
		{
			"zero size",
			Layout{Name: "empty", Partitions: []Partition{
				{Name: "a", Size: 0, StartAddress: 0x0},
			}},
		},
		{
			"unnamed partition",
			Layout{Name: "anon", Partitions: []Partition{
				{Name: "", Size: 0x1000, StartAddress: 0x0},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.layout.Validate(); err == nil {
				t.Error("Validate() should reject the layout")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	content := `layouts:
  - name: custom_4m
    with_crc: true
    partitions:
      - name: bootloader
        size: 0x11000
        start_address: 0x0
        mapped_address: 0x0
      - name: app
        size: 0x200000
        start_address: 0x11000
        mapped_address: 0x10000
`
	path := filepath.Join(t.TempDir(), "layouts.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	registry := Builtin()
	if err := registry.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	l, ok := registry.Lookup("custom_4m")
	if !ok {
		t.Fatal("loaded layout should be registered")
	}
	app, _ := l.Partition("app")
	if app.Size != 0x200000 {
		t.Errorf("app.Size = 0x%X, want 0x200000", app.Size)
	}
	if !l.WithCRC {
		t.Error("with_crc should load from the layout file")
	}

	// Builtins stay available alongside loaded layouts.
	if _, ok := registry.Lookup("ota_1"); !ok {
		t.Error("builtin ota_1 should survive LoadFile")
	}
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	content := `layouts:
  - name: broken
    partitions:
      - name: a
        size: 0x2000
        start_address: 0x0
      - name: b
        size: 0x1000
        start_address: 0x1000
`
	path := filepath.Join(t.TempDir(), "layouts.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Builtin().LoadFile(path); err == nil {
		t.Error("LoadFile() should reject overlapping partitions")
	}
}
