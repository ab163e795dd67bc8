// Package transform implements cuba's compress/encrypt pipeline: a
// composable, streaming chain over a byte stream with at most two ordered
// stages (spec §4.4). Forward is used on backup, Inverse on restore and
// verify.
package transform

import (
	"compress/gzip"
	"io"
	"time"

	"filippo.io/age"

	"github.com/cuba/cuba/pkg/errors"
	"github.com/cuba/cuba/pkg/password"
)

// Spec names which stages apply to a profile's objects and how.
type Spec struct {
	Compress         bool
	CompressionLevel int // 1-9; 0 selects gzip's default (6)
	Encrypt          bool
	PasswordID       string
}

// Suffix returns the destination object name suffix for spec, per spec §6's
// naming table: none->"", gzip->".gz", age->".age", both->".gz.age".
func Suffix(spec Spec) string {
	switch {
	case spec.Compress && spec.Encrypt:
		return ".gz.age"
	case spec.Compress:
		return ".gz"
	case spec.Encrypt:
		return ".age"
	default:
		return ""
	}
}

// Descriptor returns the metadata entry's transform tag for spec: "none",
// "gzip", "age", or "gzip+age" (spec §6 metadata JSON schema).
func Descriptor(spec Spec) string {
	switch {
	case spec.Compress && spec.Encrypt:
		return "gzip+age"
	case spec.Compress:
		return "gzip"
	case spec.Encrypt:
		return "age"
	default:
		return "none"
	}
}

// chainWriteCloser writes to the outermost stage and closes every wrapping
// stage in the reverse of the order they were opened, so an inner stage's
// trailer (gzip's footer) is flushed into an outer stage (age) before that
// outer stage finalizes.
type chainWriteCloser struct {
	io.Writer
	closers []io.Closer
}

func (c *chainWriteCloser) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Forward wraps w so that bytes written to the returned WriteCloser are
// transformed plaintext -> stored bytes per spec: compress-then-encrypt.
// Closing the result flushes and finalizes every enabled stage; it does not
// close w itself, which remains the filesystem driver's responsibility.
func Forward(spec Spec, passwords password.Provider, w io.Writer) (io.WriteCloser, error) {
	dst := w
	var closers []io.Closer

	if spec.Encrypt {
		passphrase, err := passwords.Lookup(spec.PasswordID)
		if err != nil {
			return nil, err
		}
		recipient, err := age.NewScryptRecipient(passphrase)
		if err != nil {
			return nil, errors.New(errors.KindTransform, "invalid encryption passphrase").WithCause(err).WithComponent("transform")
		}
		ageWriter, err := age.Encrypt(dst, recipient)
		if err != nil {
			return nil, errors.New(errors.KindTransform, "failed to start age encryption").WithCause(err).WithComponent("transform")
		}
		closers = append(closers, ageWriter)
		dst = ageWriter
	}

	if spec.Compress {
		level := spec.CompressionLevel
		if level == 0 {
			level = gzip.DefaultCompression
		}
		gzWriter, err := gzip.NewWriterLevel(dst, level)
		if err != nil {
			return nil, errors.New(errors.KindTransform, "invalid gzip compression level").WithCause(err).WithComponent("transform")
		}
		gzWriter.Header.ModTime = time.Time{} // zeroed: identical plaintext yields byte-equal output
		closers = append(closers, gzWriter)
		dst = gzWriter
	}

	return &chainWriteCloser{Writer: dst, closers: closers}, nil
}

// Inverse wraps r so that bytes read from the returned ReadCloser are
// transformed stored bytes -> plaintext: decrypt-then-decompress, the exact
// reverse of Forward's stage order.
func Inverse(spec Spec, passwords password.Provider, r io.Reader) (io.ReadCloser, error) {
	cur := io.NopCloser(r)

	if spec.Encrypt {
		passphrase, err := passwords.Lookup(spec.PasswordID)
		if err != nil {
			return nil, err
		}
		identity, err := age.NewScryptIdentity(passphrase)
		if err != nil {
			return nil, errors.New(errors.KindTransform, "invalid decryption passphrase").WithCause(err).WithComponent("transform")
		}
		decrypted, err := age.Decrypt(cur, identity)
		if err != nil {
			return nil, errors.New(errors.KindTransform, "age decryption failed").WithCause(err).WithComponent("transform").WithRetryable(false)
		}
		cur = io.NopCloser(decrypted)
	}

	if spec.Compress {
		gzReader, err := gzip.NewReader(cur)
		if err != nil {
			return nil, errors.New(errors.KindTransform, "gzip decompression failed").WithCause(err).WithComponent("transform").WithRetryable(false)
		}
		return gzReader, nil
	}

	return cur, nil
}
