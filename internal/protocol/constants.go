package protocol

// Command id constants, as defined by the BK7231 bootloader ROM.
const (
	CodeLinkCheck     = 0x00 // CMD_LinkCheck
	CodeLinkCheckResp = 0x01 // CMD_LinkCheck + 1
	CodeWriteReg      = 0x01 // CMD_WriteReg
	CodeReadReg       = 0x03 // CMD_ReadReg
	CodeFlashWrite    = 0x06 // CMD_FlashWrite (arbitrary length, <=256 bytes)
	CodeFlashWrite4K  = 0x07 // CMD_FlashWrite4K
	CodeFlashRead4K   = 0x09 // CMD_FlashRead4K
	CodeFlashErase4K  = 0x0B // CMD_FlashErase4K
	CodeFlashReadSR   = 0x0C // CMD_FlashReadSR
	CodeFlashWriteSR  = 0x0D // CMD_FlashWriteSR
	CodeReboot        = 0x0E // CMD_Reboot
	CodeSetBaudRate   = 0x0F // CMD_SetBaudRate
	CodeCheckCRC      = 0x10 // CMD_CheckCRC
	CodeBootVersion   = 0x11 // CMD_ReadBootVersion
)

// Known status byte in flash operation responses: zero means success.
const StatusOK = 0x00

// RebootMagic is the single payload byte of a reboot command.
const RebootMagic = 0xA5

// MaxShortPayload is the largest payload carried by a CMD_FlashWrite frame.
const MaxShortPayload = 256
