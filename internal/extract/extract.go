// Package extract dissects flash dump files: it scans them for RBL
// containers, matches containers to layout partitions, strips the
// interleaved block CRCs stock layouts store payloads with, optionally
// decrypts code partitions and writes the recovered artifacts to disk.
// Partitions that lost their container header are carved by a block-CRC
// validated scan of the partition window.
package extract

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/tuya-cloudcutter/bk7231tools/internal/beken"
	"github.com/tuya-cloudcutter/bk7231tools/internal/layout"
	"github.com/tuya-cloudcutter/bk7231tools/internal/logging"
	"github.com/tuya-cloudcutter/bk7231tools/internal/rbl"
)

// Options controls a dissection run.
type Options struct {
	// OutputDir receives extracted artifacts. Empty means the dump's
	// own directory.
	OutputDir string

	// Extract enables writing payload files. Without it the dissection
	// only lists what it finds.
	Extract bool

	// WithRBLHeaders additionally writes each container re-serialized
	// with its header, sizes and CRCs recomputed.
	WithRBLHeaders bool

	// DecryptCode writes a decrypted copy of payloads belonging to code
	// partitions, keyed by the partition's mapped address.
	DecryptCode bool

	// Layout maps containers to partitions. The zero value disables
	// partition matching.
	Layout layout.Layout
}

// Artifact records one file written during dissection.
type Artifact struct {
	Path string
	Tag  string
}

// Finding is one container together with everything derived from it.
type Finding struct {
	Container rbl.Container

	// Partition is the layout partition whose name matches the
	// container, when one does.
	Partition *layout.Partition

	// Recovered marks a payload rebuilt from the partition's
	// CRC-interleaved window instead of the bytes following the header.
	Recovered bool

	Artifacts []Artifact
}

// Recovery is a partition payload recovered by the block-CRC scan of a
// partition no valid container names.
type Recovery struct {
	Partition layout.Partition
	Payload   []byte
	Artifacts []Artifact
}

// Result is the outcome of one dissection run.
type Result struct {
	DumpPath  string
	Findings  []Finding
	Recovered []Recovery
}

// Complete counts findings whose container payload was fully captured.
func (r Result) Complete() int {
	n := 0
	for _, f := range r.Findings {
		if !f.Container.Truncated {
			n++
		}
	}
	return n
}

// Dissect scans the dump file at path and, per opts, writes artifacts.
// In with-CRC layouts, partitions no valid container names are carved by
// the block-CRC scan and reported as recoveries. A dump with no containers
// is a valid, empty result. Artifact write failures abort the run;
// unsupported payload encodings do not.
func Dissect(path string, opts Options) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read dump file: %w", err)
	}

	res := Result{DumpPath: path}
	valid := make(map[string]bool)
	for _, c := range rbl.Parse(data) {
		f := Finding{Container: c}
		if p, ok := opts.Layout.Partition(c.Header.Name); ok {
			f.Partition = &p
			if opts.Layout.WithCRC && !c.PayloadValid {
				// Stock dumps interleave a CRC-16 every 32 payload
				// bytes, so the bytes following the header never match
				// the payload CRC. Rebuild from the partition window.
				if payload, ok := c.Header.PayloadFromBlocks(partitionWindow(data, p)); ok {
					f.Container.Payload = payload
					f.Container.Truncated = false
					f.Container.PayloadValid = true
					f.Recovered = true
				}
			}
		}
		if f.Container.PayloadValid {
			valid[c.Header.Name] = true
		}

		logging.Info("found container",
			zap.String("name", c.Header.Name),
			zap.String("version", c.Header.Version),
			zap.String("encoding", c.Header.Algo.String()),
			zap.Int("offset", c.Offset),
			zap.Uint32("size", c.Header.SizePackage),
			zap.Bool("truncated", f.Container.Truncated),
			zap.Bool("payload_valid", f.Container.PayloadValid),
			zap.Bool("block_crc_recovered", f.Recovered),
		)

		if opts.Extract {
			if err := writeArtifacts(path, &f, opts); err != nil {
				return res, err
			}
		}
		res.Findings = append(res.Findings, f)
	}

	if opts.Layout.WithCRC {
		for _, p := range opts.Layout.Partitions {
			if valid[p.Name] {
				continue
			}
			rec, err := recoverPartition(path, data, p, opts)
			if err != nil {
				return res, err
			}
			if rec != nil {
				res.Recovered = append(res.Recovered, *rec)
			}
		}
	}
	return res, nil
}

// recoverPartition handles one layout partition no valid container names:
// the payload is carved by the block-CRC scan and, when extraction is on,
// written out raw and code-cipher decrypted. A failed scan is reported as
// data (nil), not as an error; only artifact writes can fail.
func recoverPartition(dumpPath string, data []byte, p layout.Partition, opts Options) (*Recovery, error) {
	payload, err := scanPartitionPayload(data, p)
	if err != nil {
		logging.Warn("partition has no container and the block scan failed",
			zap.String("partition", p.Name), zap.Error(err))
		return nil, nil
	}

	logging.Info("recovered partition payload without a container",
		zap.String("partition", p.Name),
		zap.Uint32("offset", p.StartAddress),
		zap.Int("size", len(payload)))

	rec := &Recovery{Partition: p, Payload: payload}
	if opts.Extract {
		if err := emit(dumpPath, &rec.Artifacts, opts, p.Name, "pattern_scan", payload); err != nil {
			return nil, err
		}
		cipher := beken.NewCodeCipher()
		decrypted, err := cipher.Decrypt(cipher.Pad(payload), p.MappedAddress)
		if err != nil {
			return nil, err
		}
		if err := emit(dumpPath, &rec.Artifacts, opts, p.Name, "pattern_scan_decrypted", decrypted); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// partitionWindow clamps the partition's physical range to the dump.
func partitionWindow(dump []byte, p layout.Partition) []byte {
	start, end := int(p.StartAddress), int(p.End())
	if start >= len(dump) {
		return nil
	}
	if end > len(dump) {
		end = len(dump)
	}
	return dump[start:end]
}

// scanPartitionPayload carves a partition payload when no container names
// the partition, the situation on devices whose vendor tooling strips the
// RBL header. The partition still holds CRC-16 interleaved blocks: locate
// the erased padding at the partition's end, cut just past the last
// checksummed block, then collect blocks from the partition start for as
// long as their CRCs verify.
func scanPartitionPayload(dump []byte, p layout.Partition) ([]byte, error) {
	window := partitionWindow(dump, p)
	if len(window) == 0 {
		return nil, fmt.Errorf("partition %s lies outside the dump", p.Name)
	}

	fill := bytes.Repeat([]byte{0xFF}, 16)
	i := len(window) - len(window)%16
	for i >= 16 && !bytes.Equal(window[i-16:i], fill) {
		i -= 16
	}
	if i < 16 {
		return nil, fmt.Errorf("no erased padding at the end of partition %s", p.Name)
	}
	for i >= 16 {
		if !bytes.Equal(window[i-16:i], fill) && i >= 32 && bytes.Equal(window[i-32:i-16], fill) {
			// Just past the final block's CRC-16; everything above is
			// erased padding, everything below is checksummed payload.
			i = i - 16 + 2
			break
		}
		i -= 16
	}
	carved := window[:i]
	if len(carved) == 0 {
		// No clean boundary; validate blocks over the whole partition.
		carved = window
	}

	var payload []byte
	for off := 0; off+rbl.BlockSizeWithCRC <= len(carved); off += rbl.BlockSizeWithCRC {
		block := carved[off : off+rbl.BlockSize]
		crc := carved[off+rbl.BlockSize : off+rbl.BlockSizeWithCRC]
		if !rbl.CheckBlock(block, crc) {
			if off == 0 {
				return nil, fmt.Errorf("first block CRC check failed in partition %s", p.Name)
			}
			// A later block failing means end of stream or a mangled
			// dump; keep what verified.
			break
		}
		payload = append(payload, block...)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("partition %s holds no checksummed blocks", p.Name)
	}
	return payload, nil
}

func writeArtifacts(dumpPath string, f *Finding, opts Options) error {
	c := f.Container
	name := c.Header.Name

	if err := emit(dumpPath, &f.Artifacts, opts, name, versionTag(c, ""), c.Raw()); err != nil {
		return err
	}

	if opts.WithRBLHeaders && !c.Truncated {
		rebuilt := rbl.Rebuild(c.Header, c.Raw())
		if err := emit(dumpPath, &f.Artifacts, opts, name, versionTag(c, "rbl"), rebuilt); err != nil {
			return err
		}
	}

	decrypted, err := decryptedPayload(c, f.Partition, opts)
	if err != nil {
		if beken.IsUnsupportedEncoding(err) {
			logging.Warn("cannot decrypt container payload",
				zap.String("name", name), zap.Error(err))
			return nil
		}
		return err
	}
	if decrypted != nil {
		if err := emit(dumpPath, &f.Artifacts, opts, name, versionTag(c, "decrypted"), decrypted); err != nil {
			return err
		}
	}
	return nil
}

// decryptedPayload returns nil bytes when there is nothing to decrypt.
func decryptedPayload(c rbl.Container, p *layout.Partition, opts Options) ([]byte, error) {
	if c.Truncated {
		return nil, nil
	}
	if c.Header.Algo != rbl.AlgoNone {
		offset := uint32(c.Offset) + rbl.HeaderSize
		if p != nil {
			offset = p.MappedAddress
		}
		return beken.DecryptPayload(c.Header.Algo, c.Payload, offset)
	}
	if opts.DecryptCode && p != nil {
		cipher := beken.NewCodeCipher()
		return cipher.Decrypt(cipher.Pad(c.Raw()), p.MappedAddress)
	}
	return nil, nil
}

func emit(dumpPath string, arts *[]Artifact, opts Options, name, tag string, data []byte) error {
	path := ArtifactPath(dumpPath, opts.OutputDir, name, tag)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", path, err)
	}
	logging.Debug("wrote artifact", zap.String("path", path), zap.Int("bytes", len(data)))
	*arts = append(*arts, Artifact{Path: path, Tag: tag})
	return nil
}

func versionTag(c rbl.Container, extra string) string {
	tag := c.Header.Version
	if extra != "" {
		if tag != "" {
			tag += "_"
		}
		tag += extra
	}
	return tag
}

// ArtifactPath builds the output file name for one extracted payload:
// the dump file's stem, the container name and an optional tag, joined
// with underscores under dir.
func ArtifactPath(dumpPath, dir, name, tag string) string {
	if dir == "" {
		dir = filepath.Dir(dumpPath)
	}
	stem := strings.TrimSuffix(filepath.Base(dumpPath), filepath.Ext(dumpPath))
	file := stem + "_" + name
	if tag != "" {
		file += "_" + tag
	}
	return filepath.Join(dir, file+".bin")
}
