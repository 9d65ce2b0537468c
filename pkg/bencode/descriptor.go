// Descriptor building (§4.8, §6 DistributionBuilder): the canonical
// bencoded document identifying a file's pieces, plus the outer wrapper
// carrying trackers and creation metadata.
package bencode

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/text/unicode/norm"
)

// Descriptor is a parsed, in-memory view of a bencoded descriptor document.
type Descriptor struct {
	Info           Info
	InfoHash       string // lower_hex(SHA1(bencode(info))) -- the descriptor identifier
	Announce       string
	AnnounceList   []string
	CreationDate   int64
	CreatedBy      string
}

// Info is the descriptor's `info` dictionary (§3).
type Info struct {
	Length      int64
	Name        string
	PieceLength int64
	Pieces      []byte // concatenated raw 20-byte SHA-1 piece hashes
	Private     int64
}

// BuildOptions configures DistributionBuilder.Build (§6).
type BuildOptions struct {
	Trackers         []string
	PieceLength      int64 // 0 selects DefaultPieceLength
	IncludeWrapper   bool
	CreatedBy        string
	CreationDateUnix int64
}

// DefaultPieceLength is used by BuildDescriptor when the caller supplies none.
const DefaultPieceLength = 256 * 1024

// BuildDescriptor hashes filePath in pieceLength chunks with SHA-1 (20 bytes
// each) in file order, builds the `info` dict, and computes the descriptor
// identifier (§4.8 steps 1-3).
func BuildDescriptor(filePath string, opts BuildOptions) (*Descriptor, error) {
	pieceLength := opts.PieceLength
	if pieceLength <= 0 {
		pieceLength = DefaultPieceLength
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("bencode: open %s: %w", filePath, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("bencode: stat %s: %w", filePath, err)
	}

	pieces, err := hashPieces(f, pieceLength)
	if err != nil {
		return nil, err
	}

	name := norm.NFC.String(filepath.Base(filePath))

	info := Info{
		Length:      stat.Size(),
		Name:        name,
		PieceLength: pieceLength,
		Pieces:      pieces,
		Private:     0,
	}

	infoDict := infoToDict(info)
	infoBytes, err := Marshal(infoDict)
	if err != nil {
		return nil, fmt.Errorf("bencode: encode info: %w", err)
	}
	sum := sha1.Sum(infoBytes)

	d := &Descriptor{
		Info:         info,
		InfoHash:     hex.EncodeToString(sum[:]),
		AnnounceList: dedupTrackers(opts.Trackers),
		CreatedBy:    opts.CreatedBy,
	}
	if len(d.AnnounceList) > 0 {
		d.Announce = d.AnnounceList[0]
	}
	d.CreationDate = opts.CreationDateUnix

	return d, nil
}

func hashPieces(f *os.File, pieceLength int64) ([]byte, error) {
	buf := make([]byte, pieceLength)
	var pieces []byte
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			sum := sha1.Sum(buf[:n])
			pieces = append(pieces, sum[:]...)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bencode: reading pieces: %w", err)
		}
	}
	return pieces, nil
}

// dedupTrackers preserves order, trims whitespace, and keeps the first
// occurrence of each URL (§4.8 step 4: "deduplicated, trimmed, first-wins").
func dedupTrackers(trackers []string) []string {
	seen := make(map[string]struct{}, len(trackers))
	out := make([]string, 0, len(trackers))
	for _, t := range trackers {
		trimmed := trimSpace(t)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func infoToDict(info Info) Dict {
	return Dict{
		"length":       info.Length,
		"name":         []byte(info.Name),
		"piece length": info.PieceLength,
		"pieces":       info.Pieces,
		"private":      info.Private,
	}
}

// Encode serializes the full descriptor document, including the outer
// wrapper (announce/announce-list/creation date/created by) when present.
func (d *Descriptor) Encode() ([]byte, error) {
	dict := Dict{"info": infoToDict(d.Info)}

	if d.Announce != "" {
		dict["announce"] = []byte(d.Announce)
	}
	if len(d.AnnounceList) > 0 {
		list := make(List, len(d.AnnounceList))
		for i, t := range d.AnnounceList {
			list[i] = []byte(t)
		}
		dict["announce-list"] = list
	}
	if d.CreationDate != 0 {
		dict["creation date"] = d.CreationDate
	}
	if d.CreatedBy != "" {
		dict["created by"] = []byte(d.CreatedBy)
	}

	return Marshal(dict)
}

// ParseDescriptor decodes a full descriptor document and recomputes its
// info_hash, so that re-parsing a just-built descriptor yields the same
// identifier (§8 property 3).
func ParseDescriptor(data []byte) (*Descriptor, error) {
	v, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("bencode: invalid descriptor: %w", err)
	}
	top, ok := v.(Dict)
	if !ok {
		return nil, fmt.Errorf("bencode: descriptor root is not a dict")
	}

	infoRaw, ok := top["info"]
	if !ok {
		return nil, fmt.Errorf("bencode: descriptor missing info dict")
	}
	infoDict, ok := infoRaw.(Dict)
	if !ok {
		return nil, fmt.Errorf("bencode: info is not a dict")
	}

	info, err := dictToInfo(infoDict)
	if err != nil {
		return nil, err
	}

	infoBytes, err := Marshal(infoDict)
	if err != nil {
		return nil, fmt.Errorf("bencode: re-encode info: %w", err)
	}
	sum := sha1.Sum(infoBytes)

	d := &Descriptor{Info: info, InfoHash: hex.EncodeToString(sum[:])}

	if raw, ok := top["announce"]; ok {
		if b, ok := raw.([]byte); ok {
			d.Announce = string(b)
		}
	}
	if raw, ok := top["announce-list"]; ok {
		if list, ok := raw.(List); ok {
			for _, item := range list {
				if b, ok := item.([]byte); ok {
					d.AnnounceList = append(d.AnnounceList, string(b))
				}
			}
		}
	}
	if raw, ok := top["creation date"]; ok {
		if n, ok := raw.(int64); ok {
			d.CreationDate = n
		}
	}
	if raw, ok := top["created by"]; ok {
		if b, ok := raw.([]byte); ok {
			d.CreatedBy = string(b)
		}
	}

	return d, nil
}

func dictToInfo(d Dict) (Info, error) {
	var info Info
	length, ok := d["length"].(int64)
	if !ok {
		return info, fmt.Errorf("bencode: info.length missing or wrong type")
	}
	name, ok := d["name"].([]byte)
	if !ok {
		return info, fmt.Errorf("bencode: info.name missing or wrong type")
	}
	pieceLen, ok := d["piece length"].(int64)
	if !ok {
		return info, fmt.Errorf("bencode: info.piece length missing or wrong type")
	}
	pieces, ok := d["pieces"].([]byte)
	if !ok {
		return info, fmt.Errorf("bencode: info.pieces missing or wrong type")
	}
	private, _ := d["private"].(int64)

	info.Length = length
	info.Name = string(name)
	info.PieceLength = pieceLen
	info.Pieces = pieces
	info.Private = private
	return info, nil
}
