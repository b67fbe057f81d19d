package chip

// Bootloader describes one known bootloader build, identified by the CRC of
// its first 256 flash bytes as reported by the device (see Identify).
type Bootloader struct {
	// CRC of the first 256 bootloader bytes. Values are stored as the device
	// reports them after XOR with 0xFFFFFFFF.
	// BK7231N computes the range end-inclusive (257 bytes), others 256.
	CRC      uint32
	Chip     Type
	Protocol *Protocol
	Version  string
}

// knownBootloaders maps bootloader CRCs to chip variant and protocol.
// Sourced from dumps of stock bootloaders found on retail devices.
var knownBootloaders = []Bootloader{
	{0x1EBE6E45, BK7231N, Full, "1.0.1"},      // bl_bk7231n_1.0.1_34B7.bin
	{0x0FDCE109, BK7231Q, BasicBeken, ""},     // bl_bk7231q_6AFA.bin
	{0x00A5C153, BK7231Q, BasicBeken, ""},     // bl_bk7231q_tysdk_03ED.bin
	{0x3E13578E, BK7231T, BasicTuya, "1.0.1"}, // bl_bk7231s_1.0.1_79A6.bin
	{0xB4CE1BB2, BK7231T, BasicTuya, "1.0.3"}, // bl_bk7231s_1.0.3_DAAE.bin
	{0x45AB3E47, BK7231T, BasicTuya, "1.0.5"}, // bl_bk7231s_1.0.5_4FF7.bin
	{0x1A3436AC, BK7231T, BasicTuya, "1.0.6"}, // bl_bk7231s_1.0.6_625D.bin
	{0xC6064AF3, BK7252, BasicBeken, "0.1.3"}, // bl_bk7252_0.1.3_F4D3.bin
	{0x1C5D83D9, BK7252, BasicBeken, ""},      // bootloader_7252_2M_uart1_log_20190828.bin
}

// Identify matches a raw device-reported bootloader CRC against the known
// bootloader table. The raw value is XOR'ed with 0xFFFFFFFF before lookup.
// Returns nil when the bootloader is not known.
func Identify(rawCRC uint32) *Bootloader {
	crc := rawCRC ^ 0xFFFFFFFF
	for i := range knownBootloaders {
		if knownBootloaders[i].CRC == crc {
			return &knownBootloaders[i]
		}
	}
	return nil
}
