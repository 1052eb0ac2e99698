package notesync

import "io"

// Encryptor protects the backup snapshot at rest. Blob channel backends pass
// the encoded snapshot through it on upload and download.
type Encryptor interface {
	Encrypt(r io.Reader, w io.Writer) error
	Decrypt(r io.Reader, w io.Writer) error
}
