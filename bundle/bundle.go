// Package bundle gzip-compresses compiled bytecode for stream-style
// deployment and derives the sha3-256 content address the registry uses as
// the memoisation key for `@stream:<id>` modules.
//
// The teacher bundles whole directories of source files for its module
// loader; this tree loads one already-compiled bytecode blob per contract,
// so the per-file walking and per-file gzip-name bookkeeping the teacher
// needed doesn't apply here -- only the compress/decompress/hash primitives
// it built those on survive, adapted to operate on a single blob.
package bundle

import (
	"bytes"
	"compress/gzip"
	"crypto/sha3"
	"encoding/hex"
	"errors"
)

// gzipMagic is the two-byte header every gzip stream starts with; used to
// let a registry fetch path accept either raw or compressed bytecode
// without the caller having to say which.
var gzipMagic = [2]byte{0x1f, 0x8b}

// Compress gzip-compresses code for storage or transmission as a stream.
func Compress(code []byte) ([]byte, error) {
	var b bytes.Buffer
	w := gzip.NewWriter(&b)
	if _, err := w.Write(code); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(c []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(c))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var b bytes.Buffer
	if _, err := b.ReadFrom(r); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// IsCompressed reports whether b looks like a gzip stream, the same magic
// check a registry fetch path uses to decide whether a stream needs
// Decompress before it reaches the bytecode loader.
func IsCompressed(b []byte) bool {
	return len(b) >= 2 && b[0] == gzipMagic[0] && b[1] == gzipMagic[1]
}

// DecompressIfNeeded returns b unchanged when it isn't gzip-compressed, and
// its decompressed form otherwise -- the shape a stream-loading path wants
// when it can't know in advance which form the caller handed it.
func DecompressIfNeeded(b []byte) ([]byte, error) {
	if !IsCompressed(b) {
		return b, nil
	}
	return Decompress(b)
}

// ErrEmpty is returned by Address for a zero-length blob; an empty bytecode
// stream can never be a valid module, so hashing it is almost always a bug
// at the call site rather than a legitimate address.
var ErrEmpty = errors.New("bundle: cannot address an empty blob")

// Address derives the sha3-256 content address of code, hex-encoded -- the
// same digest the registry used to key memoised streams by, now shared
// between the stream-loading path and any host that wants a
// content-addressed module store keyed the same way.
func Address(code []byte) (string, error) {
	if len(code) == 0 {
		return "", ErrEmpty
	}
	sum := sha3.Sum256(code)
	return hex.EncodeToString(sum[:]), nil
}
