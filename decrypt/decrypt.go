// Package decrypt reconstructs playable media from ciphertext payloads. The
// platform only masks the first PrefixLen bytes of a file with a XOR
// keystream; everything past the prefix is served in the clear.
package decrypt

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/wxget/wxdlp/errs"
	"github.com/wxget/wxdlp/internal/logger"
	"github.com/wxget/wxdlp/keystream"
)

// PrefixLen is the fixed length of the encrypted region at the start of a
// media file. Files shorter than this are XORed in full.
const PrefixLen = 131072

const copyBufferSizeBytes = 1 << 20

var log = logger.C(logger.ComponentDecrypt)

// Decryptor turns an encrypted payload into a playable file. The ciphertext
// file is never modified in place; a failed decrypt must not destroy the only
// copy of the source bytes.
type Decryptor interface {
	Decrypt(ctx context.Context, encryptedPath, decodeKey, outputPath string) error
}

// XOR is the local decryptor: it derives the keystream from the decode key
// and applies the prefix transform on this machine.
type XOR struct {
	Keystream *keystream.Client
}

// NewXOR creates a local XOR decryptor backed by the given keystream client.
func NewXOR(ks *keystream.Client) *XOR {
	return &XOR{Keystream: ks}
}

// Decrypt implements Decryptor.
func (x *XOR) Decrypt(ctx context.Context, encryptedPath, decodeKey, outputPath string) error {
	ks, err := x.Keystream.Derive(ctx, decodeKey)
	if err != nil {
		return err
	}
	return ApplyKeystream(encryptedPath, outputPath, ks)
}

// Remote is the service-side decryptor: it ships the whole file to the
// decrypt service and stores the returned plaintext. The local XOR path is
// bypassed entirely.
type Remote struct {
	Client *keystream.Client
}

// NewRemote creates a decryptor that delegates to the decrypt service.
func NewRemote(ks *keystream.Client) *Remote {
	return &Remote{Client: ks}
}

// Decrypt implements Decryptor.
func (r *Remote) Decrypt(ctx context.Context, encryptedPath, decodeKey, outputPath string) error {
	return r.Client.DecryptRemote(ctx, encryptedPath, decodeKey, outputPath)
}

// ApplyKeystream XORs the first min(PrefixLen, file size) bytes of the
// ciphertext with ks and copies the remainder verbatim into a new file at
// outputPath. A keystream shorter than the region it must cover is rejected;
// zero-padding would corrupt the output silently.
func ApplyKeystream(encryptedPath, outputPath string, ks []byte) error {
	in, err := os.Open(encryptedPath)
	if err != nil {
		return fmt.Errorf("open ciphertext: %w", err)
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat ciphertext: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return fmt.Errorf("ciphertext file is empty")
	}

	prefix := int64(PrefixLen)
	if size < prefix {
		prefix = size
	}
	if int64(len(ks)) < prefix {
		return fmt.Errorf("%w: need %d bytes, have %d", errs.ErrShortKeystream, prefix, len(ks))
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer func() { _ = out.Close() }()

	head := make([]byte, prefix)
	if _, err := io.ReadFull(in, head); err != nil {
		return fmt.Errorf("read encrypted prefix: %w", err)
	}
	for i := range head {
		head[i] ^= ks[i]
	}
	if _, err := out.Write(head); err != nil {
		return fmt.Errorf("write decrypted prefix: %w", err)
	}

	if _, err := io.CopyBuffer(out, in, make([]byte, copyBufferSizeBytes)); err != nil {
		return fmt.Errorf("copy tail: %w", err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	log.Info("decrypted", map[string]interface{}{"bytes": size, "prefix": prefix})
	return nil
}
