package provenance

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"

	"github.com/minio/blake2b-simd"
	sha256simd "github.com/minio/sha256-simd"
	"golang.org/x/xerrors"
)

// Algorithm names a content digest.
type Algorithm string

const (
	SHA256     Algorithm = "sha256"
	Blake2b256 Algorithm = "blake2b-256"
)

// DefaultAlgorithm is used when none is configured.
const DefaultAlgorithm = SHA256

// ParseAlgorithm returns the algorithm with the given name, the default for an empty name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case "":
		return DefaultAlgorithm, nil
	case SHA256, Blake2b256:
		return Algorithm(name), nil
	case "blake2b":
		return Blake2b256, nil
	default:
		return "", xerrors.Errorf("unsupported hash algorithm %q", name)
	}
}

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case SHA256:
		return sha256simd.New(), nil
	case Blake2b256:
		return blake2b.New256(), nil
	default:
		return nil, xerrors.Errorf("unsupported hash algorithm %q", string(a))
	}
}

// ContentHash returns the hex digest of the canonical serialization of t. The digest does not
// depend on the order of columns or rows, but any change to a cell, column name or row
// multiplicity changes it.
//
// The canonical form is the column count, the column names sorted by name, and then every row
// re-ordered to that column order, with each cell written as its byte length followed by its
// bytes. Encoded rows are sorted bytewise before being written, one after the other, into a
// single digest.
func ContentHash(t *Table, alg Algorithm) (string, error) {
	if err := t.validate(); err != nil {
		return "", err
	}
	h, err := alg.newHash()
	if err != nil {
		return "", err
	}

	order := make([]int, len(t.Columns))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return t.Columns[order[i]] < t.Columns[order[j]]
	})

	var header bytes.Buffer
	writeUint(&header, uint64(len(t.Columns)))
	for _, i := range order {
		writeCell(&header, t.Columns[i])
	}

	encoded := make([][]byte, len(t.Rows))
	for r, row := range t.Rows {
		var buf bytes.Buffer
		for _, i := range order {
			writeCell(&buf, row[i])
		}
		encoded[r] = buf.Bytes()
	}
	sort.Slice(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	})

	if _, err := h.Write(header.Bytes()); err != nil {
		return "", xerrors.Errorf("hash header: %w", err)
	}
	for _, e := range encoded {
		if _, err := h.Write(e); err != nil {
			return "", xerrors.Errorf("hash row: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeUint(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeCell(buf *bytes.Buffer, s string) {
	writeUint(buf, uint64(len(s)))
	buf.WriteString(s)
}
