package link

import "time"

// Options configures session establishment and per-command policy.
// There is no ambient default state: every Session carries its own copy, so
// sessions with different policies can coexist.
type Options struct {
	// SyncTimeout is the total time budget for the handshake. The device
	// only listens briefly after power-up, so the loop keeps retrying
	// until the operator's power-cycle lands inside the window.
	// Default: 10s
	SyncTimeout time.Duration

	// MaxSyncAttempts caps the number of link-check frames sent.
	// Zero means no attempt cap (time budget only).
	MaxSyncAttempts int

	// SyncPollTimeout is the per-attempt wait for an acknowledgement.
	// Default: 5ms
	SyncPollTimeout time.Duration

	// CommandTimeout is the read timeout for established-link commands.
	// Default: 10s
	CommandTimeout time.Duration

	// BaudRate is the desired line speed after linking. The handshake
	// always happens at the bootloader's initial rate; when BaudRate
	// differs, the controller negotiates the switch after linking.
	// Default: 115200 (no switch)
	BaudRate int

	// HardwareReset toggles the transport's reset line before sync
	// attempts, when the transport supports it.
	HardwareReset bool

	// ReadRetries bounds per-chunk retries during flash reads.
	// Default: 3
	ReadRetries int

	// WriteRetries bounds per-chunk retries during flash writes.
	// Kept low: flash has a limited erase lifespan.
	// Default: 3
	WriteRetries int

	// Clock supplies time; tests inject a fake.
	Clock Clock
}

// DefaultOptions returns the policy used by the CLI.
func DefaultOptions() Options {
	return Options{
		SyncTimeout:     10 * time.Second,
		SyncPollTimeout: 5 * time.Millisecond,
		CommandTimeout:  10 * time.Second,
		BaudRate:        115200,
		ReadRetries:     3,
		WriteRetries:    3,
		Clock:           SystemClock,
	}
}
