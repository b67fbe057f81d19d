package link

import (
	"errors"
	"testing"
	"time"

	"github.com/tuya-cloudcutter/bk7231tools/internal/chip"
	"github.com/tuya-cloudcutter/bk7231tools/internal/devicesim"
	"github.com/tuya-cloudcutter/bk7231tools/internal/protocol"
)

// fakeClock advances by a fixed step on every Now call so sync loops make
// progress against their deadline without real sleeps.
type fakeClock struct {
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.now = c.now.Add(d)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Clock = &fakeClock{step: time.Millisecond}
	opts.BaudRate = 0 // no negotiation against the simulator
	opts.MaxSyncAttempts = 10
	return opts
}

func TestConnectStopsAtFirstAck(t *testing.T) {
	// The device ignores the first two link checks, as a chip still in
	// its boot window would. The controller must send exactly three
	// frames: two unanswered, one acknowledged.
	dev := devicesim.New(chip.Full, chip.BK7231N)
	dev.LinkChecksUntilAck = 2

	opts := testOptions()
	opts.MaxSyncAttempts = 5

	s, err := Connect(dev, opts)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Close()

	if !s.Linked() {
		t.Error("session should be linked")
	}
	if dev.LinkChecks != 3 {
		t.Errorf("device saw %d link checks, want 3", dev.LinkChecks)
	}
}

func TestConnectAttemptBudgetExhausted(t *testing.T) {
	dev := devicesim.New(chip.Full, chip.BK7231N)
	dev.LinkChecksUntilAck = 100 // never acknowledges in time

	opts := testOptions()
	opts.MaxSyncAttempts = 4
	opts.SyncTimeout = 0

	_, err := Connect(dev, opts)
	if err == nil {
		t.Fatal("Connect() should fail when the device never acks")
	}
	if !IsLinkTimeout(err) {
		t.Fatalf("Connect() error = %v, want link timeout", err)
	}
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatal("error should carry TimeoutError details")
	}
	if te.Attempts != 4 {
		t.Errorf("TimeoutError.Attempts = %d, want 4", te.Attempts)
	}
	if dev.LinkChecks != 4 {
		t.Errorf("device saw %d link checks, want 4", dev.LinkChecks)
	}
}

func TestConnectTimeBudgetExhausted(t *testing.T) {
	dev := devicesim.New(chip.Full, chip.BK7231N)
	dev.LinkChecksUntilAck = 1 << 30

	opts := testOptions()
	opts.MaxSyncAttempts = 0
	opts.SyncTimeout = 50 * time.Millisecond // fake clock steps 1ms per check

	_, err := Connect(dev, opts)
	if !IsLinkTimeout(err) {
		t.Fatalf("Connect() error = %v, want link timeout", err)
	}
	if dev.LinkChecks == 0 {
		t.Error("controller should have attempted at least one link check")
	}
}

func TestConnectIdentifiesKnownBootloader(t *testing.T) {
	dev := devicesim.New(chip.BasicTuya, chip.BK7231T)
	dev.BootCRC = 0x45AB3E47 ^ 0xFFFFFFFF // stock BK7231T 1.0.5 bootloader
	dev.Version = "1.0.5"

	s, err := Connect(dev, testOptions())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Close()

	if !s.ChipKnown {
		t.Error("chip should be identified from the bootloader table")
	}
	if s.Chip != chip.BK7231T {
		t.Errorf("Chip = %v, want BK7231T", s.Chip)
	}
	if s.Protocol.Name != "BASIC_TUYA" {
		t.Errorf("Protocol = %s, want BASIC_TUYA", s.Protocol.Name)
	}
	if s.Bootloader == nil || s.Bootloader.Version != "1.0.5" {
		t.Errorf("Bootloader = %+v, want table entry 1.0.5", s.Bootloader)
	}
	if s.BootVersion != "1.0.5" {
		t.Errorf("BootVersion = %q, want %q", s.BootVersion, "1.0.5")
	}
}

func TestConnectProbesUnknownBK7231N(t *testing.T) {
	// No table entry matches erased flash: the controller falls back to
	// probing how the CRC over the first page was computed. An
	// end-inclusive result is the BK7231N BootROM signature.
	dev := devicesim.New(chip.Full, chip.BK7231N)

	s, err := Connect(dev, testOptions())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Close()

	if s.ChipKnown {
		t.Error("chip should not be marked as table-identified")
	}
	if s.Chip != chip.BK7231N {
		t.Errorf("Chip = %v, want BK7231N from CRC probe", s.Chip)
	}
	if s.Protocol != chip.Full {
		t.Errorf("Protocol = %v, want FULL", s.Protocol.Name)
	}
}

func TestConnectProbesBasicBootloader(t *testing.T) {
	dev := devicesim.New(chip.BasicBeken, chip.BK7231Q)

	s, err := Connect(dev, testOptions())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Close()

	if s.Protocol != chip.BasicBeken {
		t.Errorf("Protocol = %s, want BASIC_BEKEN", s.Protocol.Name)
	}
	if s.BootVersion != "" {
		t.Errorf("BootVersion = %q, want empty (query unsupported)", s.BootVersion)
	}
}

func TestCommandRejectsUnsupportedCode(t *testing.T) {
	dev := devicesim.New(chip.BasicBeken, chip.BK7231Q)

	s, err := Connect(dev, testOptions())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Close()

	_, err = s.Command(protocol.Frame{Code: protocol.CodeBootVersion}, protocol.CodeBootVersion)
	if err == nil {
		t.Error("Command() should reject codes outside the protocol's set")
	}
}

func TestNewSessionIsNotLinked(t *testing.T) {
	dev := devicesim.New(chip.Full, chip.BK7231N)
	s := NewSession(dev, DefaultOptions())

	if s.Linked() {
		t.Error("NewSession() should not be linked")
	}
	if err := s.RequireLinked(); err != ErrNotLinked {
		t.Errorf("RequireLinked() = %v, want ErrNotLinked", err)
	}
}
