package chip

import "testing"

func TestTypeString(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{BK7231Q, "BK7231Q"},
		{BK7231T, "BK7231T"},
		{BK7231N, "BK7231N"},
		{BK7252, "BK7252"},
		{Type(0xBEEF), "unknown(0xBEEF)"},
	}

	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("Type(0x%X).String() = %q, want %q", uint32(tt.typ), got, tt.want)
		}
	}
}

func TestProtocolSupports(t *testing.T) {
	// Flash access is common to every bootloader; the SR commands and the
	// boot version query are what separates the variants.
	for _, p := range []*Protocol{Full, BasicBeken, BasicTuya} {
		for _, code := range []byte{0x06, 0x07, 0x09, 0x0B} {
			if !p.Supports(code) {
				t.Errorf("%s should support command 0x%02X", p.Name, code)
			}
		}
	}

	if !Full.Supports(0x0C) || !Full.Supports(0x0D) {
		t.Error("FULL should support the status register commands")
	}
	if BasicBeken.Supports(0x0C) || BasicTuya.Supports(0x0C) {
		t.Error("basic protocols should not support the status register commands")
	}
	if !BasicTuya.Supports(0x11) {
		t.Error("BASIC_TUYA should support the boot version query")
	}
	if BasicBeken.Supports(0x11) {
		t.Error("BASIC_BEKEN should not support the boot version query")
	}
}

func TestIdentify(t *testing.T) {
	tests := []struct {
		name     string
		rawCRC   uint32
		wantChip Type
		wantNil  bool
	}{
		{"BK7231N 1.0.1", 0x1EBE6E45 ^ 0xFFFFFFFF, BK7231N, false},
		{"BK7231T 1.0.5", 0x45AB3E47 ^ 0xFFFFFFFF, BK7231T, false},
		{"BK7252", 0xC6064AF3 ^ 0xFFFFFFFF, BK7252, false},
		{"unknown bootloader", 0x12345678, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bl := Identify(tt.rawCRC)
			if tt.wantNil {
				if bl != nil {
					t.Fatalf("Identify() = %+v, want nil", bl)
				}
				return
			}
			if bl == nil {
				t.Fatal("Identify() = nil, want a bootloader")
			}
			if bl.Chip != tt.wantChip {
				t.Errorf("Identify().Chip = %v, want %v", bl.Chip, tt.wantChip)
			}
			if bl.Protocol == nil {
				t.Error("Identify().Protocol is nil")
			}
		})
	}
}
