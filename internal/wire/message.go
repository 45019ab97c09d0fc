// SPDX-License-Identifier: Apache 2.0

package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/swarmsync/swarmsync/internal/delta"
)

// Protocol header strings (spec §6, §6.2).
const (
	HeaderTransfer = "SWARM-TRANSFER-1.0"
	HeaderSecure   = "SWARM-SECURE-HANDSHAKE-1.0"
	HeaderSync     = "SWARM-SYNC-1.0"
)

// Handshake response sentinels (spec §6.2).
const (
	SentinelOK         = "OK"
	SentinelFailPrefix = "FAIL:"
	ErrorPrefix        = "ERROR:"
)

// MessageType is the 1-byte sync message-type code (spec §6.1).
type MessageType byte

const (
	FileChanged           MessageType = 1 // legacy uncompressed, accepted on receive only
	FileDeleted           MessageType = 2
	DirCreated             MessageType = 3
	DirDeleted             MessageType = 4
	SyncManifest           MessageType = 5
	RequestFile            MessageType = 6
	RequestSignatures      MessageType = 7
	BlockSignatures        MessageType = 8
	DeltaData              MessageType = 9
	FileRenamed            MessageType = 10
	FileChangedCompressed  MessageType = 11
)

func (t MessageType) String() string {
	switch t {
	case FileChanged:
		return "FILE_CHANGED"
	case FileDeleted:
		return "FILE_DELETED"
	case DirCreated:
		return "DIR_CREATED"
	case DirDeleted:
		return "DIR_DELETED"
	case SyncManifest:
		return "SYNC_MANIFEST"
	case RequestFile:
		return "REQUEST_FILE"
	case RequestSignatures:
		return "REQUEST_SIGNATURES"
	case BlockSignatures:
		return "BLOCK_SIGNATURES"
	case DeltaData:
		return "DELTA_DATA"
	case FileRenamed:
		return "FILE_RENAMED"
	case FileChangedCompressed:
		return "FILE_CHANGED_COMPRESSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}

// Message is the decoded form of one sync record. Only the fields
// relevant to Type are populated; the rest are the zero value.
type Message struct {
	Type MessageType

	RelPath    string
	OldRelPath string
	Hash       string
	ModTime    int64
	Size       int64
	IsDir      bool

	// FILE_CHANGED / FILE_CHANGED_COMPRESSED payload bytes (raw for
	// FileChanged, Brotli-compressed on the wire for
	// FileChangedCompressed; Data is always the decompressed form
	// after Decode).
	Data []byte

	// SYNC_MANIFEST
	ManifestJSON string

	// BLOCK_SIGNATURES
	Signatures []delta.BlockSignature

	// DELTA_DATA
	Instructions []delta.Instruction
}

// Encode writes m to w in the spec §6.1 wire layout, preceded by the
// 1-byte message-type code. The caller is responsible for writing the
// SWARM-SYNC-1.0 header once per connection (or per record, matching
// whatever framing the transport layer uses).
func Encode(w io.Writer, m Message) error {
	bw := NewWriter(w)
	bw.Byte(byte(m.Type))

	switch m.Type {
	case FileChanged:
		bw.String(m.RelPath)
		bw.String(m.Hash)
		bw.I64(m.ModTime)
		bw.I64(m.Size)
		bw.Bool(m.IsDir)
		bw.Bytes(m.Data)

	case FileDeleted:
		bw.String(m.RelPath)
		bw.Bool(m.IsDir)

	case DirCreated, DirDeleted:
		bw.String(m.RelPath)

	case SyncManifest:
		bw.String(m.ManifestJSON)

	case RequestFile, RequestSignatures:
		bw.String(m.RelPath)

	case BlockSignatures:
		bw.String(m.RelPath)
		bw.I32(int32(len(m.Signatures)))
		for _, s := range m.Signatures {
			bw.I32(s.Index)
			bw.I32(int32(s.Weak))
			bw.String(s.Strong)
		}

	case DeltaData:
		bw.String(m.RelPath)
		bw.String(m.Hash)
		bw.I64(m.ModTime)
		bw.I64(m.Size)
		bw.I32(int32(len(m.Instructions)))
		for _, ins := range m.Instructions {
			bw.Byte(byte(ins.Type))
			switch ins.Type {
			case delta.InstructionCopy:
				bw.I32(ins.SourceBlockIndex)
				bw.I32(ins.Length)
			case delta.InstructionInsert:
				bw.I32(int32(len(ins.Data)))
				if bw.Err() == nil {
					if _, err := w.Write(ins.Data); err != nil {
						return err
					}
				}
			}
		}

	case FileRenamed:
		bw.String(m.OldRelPath)
		bw.String(m.RelPath)
		bw.Bool(m.IsDir)

	case FileChangedCompressed:
		compressed, err := brotliCompress(m.Data)
		if err != nil {
			return err
		}
		bw.String(m.RelPath)
		bw.String(m.Hash)
		bw.I64(m.ModTime)
		bw.I64(m.Size)
		bw.I64(int64(len(compressed)))
		bw.Bool(m.IsDir)
		bw.Bytes(compressed)

	default:
		return fmt.Errorf("wire: unknown message type %d", byte(m.Type))
	}
	return bw.Err()
}

// Decode reads one sync record from r, having already consumed the
// 1-byte message-type code via typeByte.
func Decode(r *Reader, typeByte byte) (Message, error) {
	m := Message{Type: MessageType(typeByte)}
	var err error

	switch m.Type {
	case FileChanged:
		if m.RelPath, err = r.String(); err != nil {
			return m, err
		}
		if m.Hash, err = r.String(); err != nil {
			return m, err
		}
		if m.ModTime, err = r.I64(); err != nil {
			return m, err
		}
		if m.Size, err = r.I64(); err != nil {
			return m, err
		}
		if m.IsDir, err = r.Bool(); err != nil {
			return m, err
		}
		if m.Data, err = r.Bytes(); err != nil {
			return m, err
		}

	case FileDeleted:
		if m.RelPath, err = r.String(); err != nil {
			return m, err
		}
		if m.IsDir, err = r.Bool(); err != nil {
			return m, err
		}

	case DirCreated, DirDeleted:
		if m.RelPath, err = r.String(); err != nil {
			return m, err
		}

	case SyncManifest:
		if m.ManifestJSON, err = r.String(); err != nil {
			return m, err
		}

	case RequestFile, RequestSignatures:
		if m.RelPath, err = r.String(); err != nil {
			return m, err
		}

	case BlockSignatures:
		if m.RelPath, err = r.String(); err != nil {
			return m, err
		}
		count, err2 := r.I32()
		if err2 != nil {
			return m, err2
		}
		sigs := make([]delta.BlockSignature, 0, count)
		for i := int32(0); i < count; i++ {
			var s delta.BlockSignature
			if s.Index, err = r.I32(); err != nil {
				return m, err
			}
			weak, err2 := r.I32()
			if err2 != nil {
				return m, err2
			}
			s.Weak = uint32(weak)
			if s.Strong, err = r.String(); err != nil {
				return m, err
			}
			sigs = append(sigs, s)
		}
		m.Signatures = sigs

	case DeltaData:
		if m.RelPath, err = r.String(); err != nil {
			return m, err
		}
		if m.Hash, err = r.String(); err != nil {
			return m, err
		}
		if m.ModTime, err = r.I64(); err != nil {
			return m, err
		}
		if m.Size, err = r.I64(); err != nil {
			return m, err
		}
		count, err2 := r.I32()
		if err2 != nil {
			return m, err2
		}
		instructions := make([]delta.Instruction, 0, count)
		for i := int32(0); i < count; i++ {
			typ, err2 := r.Byte()
			if err2 != nil {
				return m, err2
			}
			var ins delta.Instruction
			ins.Type = delta.InstructionType(typ)
			switch ins.Type {
			case delta.InstructionCopy:
				if ins.SourceBlockIndex, err = r.I32(); err != nil {
					return m, err
				}
				if ins.Length, err = r.I32(); err != nil {
					return m, err
				}
			case delta.InstructionInsert:
				n, err2 := r.I32()
				if err2 != nil {
					return m, err2
				}
				buf := make([]byte, n)
				if _, err = io.ReadFull(r.r, buf); err != nil {
					return m, err
				}
				ins.Data = buf
				ins.Length = n
			default:
				return m, fmt.Errorf("wire: unknown instruction type %d in DELTA_DATA", typ)
			}
			instructions = append(instructions, ins)
		}
		m.Instructions = instructions

	case FileRenamed:
		if m.OldRelPath, err = r.String(); err != nil {
			return m, err
		}
		if m.RelPath, err = r.String(); err != nil {
			return m, err
		}
		if m.IsDir, err = r.Bool(); err != nil {
			return m, err
		}

	case FileChangedCompressed:
		if m.RelPath, err = r.String(); err != nil {
			return m, err
		}
		if m.Hash, err = r.String(); err != nil {
			return m, err
		}
		if m.ModTime, err = r.I64(); err != nil {
			return m, err
		}
		if m.Size, err = r.I64(); err != nil {
			return m, err
		}
		compressedSize, err2 := r.I64()
		if err2 != nil {
			return m, err2
		}
		if m.IsDir, err = r.Bool(); err != nil {
			return m, err
		}
		compressed, err2 := r.Bytes()
		if err2 != nil {
			return m, err2
		}
		if int64(len(compressed)) != compressedSize {
			return m, fmt.Errorf("wire: FILE_CHANGED_COMPRESSED length mismatch: header said %d, read %d", compressedSize, len(compressed))
		}
		if m.Data, err = brotliDecompress(compressed); err != nil {
			return m, err
		}

	default:
		return m, fmt.Errorf("wire: unknown message type %d", typeByte)
	}
	return m, nil
}

func brotliCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	bw := brotli.NewWriterLevel(&buf, brotli.BestSpeed)
	if _, err := bw.Write(data); err != nil {
		return nil, err
	}
	if err := bw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func brotliDecompress(compressed []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(compressed))
	return io.ReadAll(r)
}
