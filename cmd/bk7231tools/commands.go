package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tuya-cloudcutter/bk7231tools/internal/extract"
	"github.com/tuya-cloudcutter/bk7231tools/internal/flash"
	"github.com/tuya-cloudcutter/bk7231tools/internal/layout"
	"github.com/tuya-cloudcutter/bk7231tools/internal/link"
	"github.com/tuya-cloudcutter/bk7231tools/internal/transport"
	"github.com/tuya-cloudcutter/bk7231tools/internal/ui"
)

// Command flags
var (
	device        string
	baudRate      int
	syncTimeout   string
	hardwareReset bool

	outputFile string
	inputFile  string
	startFlag  string
	lengthFlag string
	skipFlag   string
	noVerify   bool

	extractFiles   bool
	outputDir      string
	withRBLHeaders bool
	decryptCode    bool
	layoutName     string
	layoutFile     string
)

func init() {
	for _, cmd := range []*cobra.Command{chipInfoCmd, readFlashCmd, writeFlashCmd} {
		cmd.Flags().StringVarP(&device, "device", "d", "", "Serial device, e.g. /dev/ttyUSB0 (required)")
		cmd.Flags().IntVarP(&baudRate, "baudrate", "b", transport.InitialBaudRate, "Baud rate to switch to after linking")
		cmd.Flags().StringVar(&syncTimeout, "timeout", "10s", "Time budget for the link handshake (e.g. 30s, 2m)")
		cmd.Flags().BoolVar(&hardwareReset, "reset", false, "Toggle RTS/DTR to reset the chip between link attempts")
		_ = cmd.MarkFlagRequired("device")
	}

	readFlashCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file for the dump (required)")
	readFlashCmd.Flags().StringVarP(&startFlag, "start", "s", "0x0", "Flash offset to read from")
	readFlashCmd.Flags().StringVarP(&lengthFlag, "length", "l", "0x200000", "Number of bytes to read")
	readFlashCmd.Flags().BoolVar(&noVerify, "no-verify-checksum", false, "Skip CRC verification (data recovery only)")
	_ = readFlashCmd.MarkFlagRequired("output")

	writeFlashCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Image file to write (required)")
	writeFlashCmd.Flags().StringVarP(&startFlag, "start", "s", "0x11000", "Flash offset to write to (4K aligned)")
	writeFlashCmd.Flags().StringVarP(&skipFlag, "skip", "S", "0x0", "Bytes of the input file to skip")
	writeFlashCmd.Flags().StringVarP(&lengthFlag, "length", "l", "0x0", "Bytes to write (0 = rest of input)")
	_ = writeFlashCmd.MarkFlagRequired("input")

	dissectDumpCmd.Flags().BoolVarP(&extractFiles, "extract", "e", false, "Write container payloads next to the dump")
	dissectDumpCmd.Flags().StringVarP(&outputDir, "output-dir", "O", "", "Directory for extracted artifacts")
	dissectDumpCmd.Flags().BoolVar(&withRBLHeaders, "rbl", false, "Also write containers re-packaged with RBL headers")
	dissectDumpCmd.Flags().BoolVarP(&decryptCode, "decrypt", "D", false, "Decrypt code partition payloads")
	dissectDumpCmd.Flags().StringVar(&layoutName, "layout", "ota_1", "Flash layout name")
	dissectDumpCmd.Flags().StringVar(&layoutFile, "layout-file", "", "Extra layout definitions (YAML)")

	rootCmd.AddCommand(chipInfoCmd)
	rootCmd.AddCommand(readFlashCmd)
	rootCmd.AddCommand(writeFlashCmd)
	rootCmd.AddCommand(dissectDumpCmd)
}

// parseSize accepts decimal or 0x-prefixed hex flag values.
func parseSize(flag, value string) (uint32, error) {
	n, err := strconv.ParseUint(value, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s value %q", flag, value)
	}
	return uint32(n), nil
}

// connect opens the serial device and performs the link handshake.
func connect() (*link.Session, error) {
	timeout, err := time.ParseDuration(syncTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid --timeout value: %w", err)
	}

	port, err := transport.Open(device)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", device, err)
	}

	opts := link.DefaultOptions()
	opts.SyncTimeout = timeout
	opts.BaudRate = baudRate
	opts.HardwareReset = hardwareReset

	fmt.Println("Connecting... power-cycle the device now if it does not respond")
	session, err := link.Connect(port, opts)
	if err != nil {
		_ = port.Close()
		if link.IsLinkTimeout(err) {
			return nil, fmt.Errorf("link handshake timed out: %w", err)
		}
		return nil, fmt.Errorf("link handshake failed: %w", err)
	}
	return session, nil
}

func printChipDetails(s *link.Session) {
	ui.PrintDetail("Chip", s.Chip.String())
	ui.PrintDetail("Protocol", s.Protocol.Name)
	if s.BootVersion != "" {
		ui.PrintDetail("Boot version", s.BootVersion)
	}
	if s.Bootloader != nil {
		ui.PrintDetail("Bootloader", fmt.Sprintf("known, CRC 0x%08X", s.Bootloader.CRC))
	} else if !s.ChipKnown {
		ui.PrintWarning("Bootloader not in the known table; identified by CRC probe")
	}
}

var chipInfoCmd = &cobra.Command{
	Use:   "chip_info",
	Short: "Identify the connected chip",
	Long: `Link with the bootloader and report the chip variant, protocol level
and bootloader version.`,
	RunE: runChipInfo,
}

func runChipInfo(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	session, err := connect()
	if err != nil {
		return err
	}
	defer session.Close()

	ui.PrintSuccess("Link established")
	printChipDetails(session)
	return nil
}

var readFlashCmd = &cobra.Command{
	Use:   "read_flash",
	Short: "Read device flash into a file",
	Long: `Read a flash range over the bootloader protocol and save it to a file.

Every 4 KiB chunk is CRC-verified against the device and retried on
mismatch. The default range covers the whole 2 MiB flash.`,
	Example: `  # Full 2 MiB dump
  bk7231tools read_flash -d /dev/ttyUSB0 -o dump.bin

  # Just the app partition
  bk7231tools read_flash -d /dev/ttyUSB0 -o app.bin -s 0x11000 -l 0x119000`,
	RunE: runReadFlash,
}

func runReadFlash(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	start, err := parseSize("start", startFlag)
	if err != nil {
		return err
	}
	length, err := parseSize("length", lengthFlag)
	if err != nil {
		return err
	}

	session, err := connect()
	if err != nil {
		return err
	}
	defer session.Close()
	printChipDetails(session)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	engine := flash.NewEngine(session)
	engine.VerifyCRC = !noVerify

	transfer := ui.NewTransfer(fmt.Sprintf("Reading 0x%X bytes from 0x%X...", length, start), int(length))
	engine.OnProgress = transfer.Update
	transfer.Start()
	data, err := engine.Read(ctx, start, length)
	transfer.Done()
	if err != nil {
		ui.PrintError("Flash read failed")
		return fmt.Errorf("reading flash: %w", err)
	}

	if err := os.WriteFile(outputFile, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", outputFile, err)
	}
	ui.PrintSuccess(fmt.Sprintf("Read %d bytes to %s", len(data), outputFile))
	return nil
}

var writeFlashCmd = &cobra.Command{
	Use:   "write_flash",
	Short: "Write an image file to device flash",
	Long: `Write an image to flash over the bootloader protocol.

The target offset must be 4 KiB aligned. Each sector is erased before
programming; sectors that are entirely 0xFF are erased but not
transmitted. The written region is CRC-verified afterwards.`,
	Example: `  # Flash an app image at the stock offset
  bk7231tools write_flash -d /dev/ttyUSB0 -i app.bin

  # Write part of a full dump, skipping the bootloader
  bk7231tools write_flash -d /dev/ttyUSB0 -i dump.bin -s 0x11000 -S 0x11000 -l 0x121000`,
	RunE: runWriteFlash,
}

func runWriteFlash(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	start, err := parseSize("start", startFlag)
	if err != nil {
		return err
	}
	length, err := parseSize("length", lengthFlag)
	if err != nil {
		return err
	}
	skip, err := parseSize("skip", skipFlag)
	if err != nil {
		return err
	}

	source, err := os.ReadFile(inputFile)
	if err != nil {
		return fmt.Errorf("reading %s: %w", inputFile, err)
	}

	session, err := connect()
	if err != nil {
		return err
	}
	defer session.Close()
	printChipDetails(session)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	engine := flash.NewEngine(session)
	region := flash.Region{Start: start, Length: length, Skip: skip}

	transfer := ui.NewTransfer(fmt.Sprintf("Writing to 0x%X...", start), 0)
	engine.OnProgress = transfer.Update
	transfer.Start()
	err = engine.Write(ctx, source, region)
	transfer.Done()
	if err != nil {
		ui.PrintError("Flash write failed")
		return fmt.Errorf("writing flash: %w", err)
	}

	ui.PrintSuccess("Write complete and verified")
	return nil
}

var dissectDumpCmd = &cobra.Command{
	Use:   "dissect_dump <dumpfile>",
	Short: "Dissect a flash dump into firmware containers",
	Long: `Scan a flash dump file for RBL firmware containers and report them.

With --extract the container payloads are written next to the dump (or
into --output-dir), named <dump>_<partition>_<tag>.bin. Code partition
payloads can additionally be decrypted with --decrypt.`,
	Example: `  # List containers
  bk7231tools dissect_dump dump.bin

  # Extract and decrypt everything
  bk7231tools dissect_dump -e -D -O out/ dump.bin`,
	Args: cobra.ExactArgs(1),
	RunE: runDissectDump,
}

func runDissectDump(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	registry := layout.Builtin()
	if layoutFile != "" {
		if err := registry.LoadFile(layoutFile); err != nil {
			return err
		}
	}
	lay, ok := registry.Lookup(layoutName)
	if !ok {
		return fmt.Errorf("unknown layout %q (have %v)", layoutName, registry.Names())
	}

	result, err := extract.Dissect(args[0], extract.Options{
		OutputDir:      outputDir,
		Extract:        extractFiles,
		WithRBLHeaders: withRBLHeaders,
		DecryptCode:    decryptCode,
		Layout:         lay,
	})
	if err != nil {
		return err
	}

	if len(result.Findings) == 0 && len(result.Recovered) == 0 {
		ui.PrintWarning("No firmware containers found")
		return nil
	}

	for _, f := range result.Findings {
		c := f.Container
		status := "ok"
		switch {
		case f.Recovered:
			status = "ok, block CRCs stripped"
		case c.Truncated:
			status = "truncated"
		case !c.PayloadValid:
			status = "payload CRC mismatch"
		}
		fmt.Printf("  0x%06X  %-12s %-16s %-10s %8d bytes  [%s]\n",
			c.Offset, c.Header.Name, c.Header.Version, c.Header.Algo, c.Header.SizePackage, status)
		for _, a := range f.Artifacts {
			fmt.Printf("            extracted: %s\n", a.Path)
		}
	}
	for _, r := range result.Recovered {
		fmt.Printf("  0x%06X  %-12s %-16s %-10s %8d bytes  [no container, block scan]\n",
			r.Partition.StartAddress, r.Partition.Name, "-", "-", len(r.Payload))
		for _, a := range r.Artifacts {
			fmt.Printf("            extracted: %s\n", a.Path)
		}
	}
	summary := fmt.Sprintf("%d container(s), %d complete", len(result.Findings), result.Complete())
	if n := len(result.Recovered); n > 0 {
		summary += fmt.Sprintf(", %d partition(s) recovered by block scan", n)
	}
	ui.PrintSuccess(summary)
	return nil
}
