// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/lemon4ksan/zipkit/internal"
)

// EncryptionMethod represents the encryption algorithm used for entry protection.
type EncryptionMethod uint8

// Supported encryption methods
const (
	NotEncrypted EncryptionMethod = iota // No encryption - entry stored in plaintext
	ZipCrypto                            // Legacy PKWARE stream cipher. Vulnerable to known plaintext attacks
	AES128                               // WinZip AES, 128-bit key
	AES192                               // WinZip AES, 192-bit key
	AES256                               // WinZip AES, 256-bit key
)

func (m EncryptionMethod) String() string {
	switch m {
	case NotEncrypted:
		return "none"
	case ZipCrypto:
		return "zipcrypto"
	case AES128:
		return "aes128"
	case AES192:
		return "aes192"
	case AES256:
		return "aes256"
	}
	return fmt.Sprintf("EncryptionMethod(%d)", uint8(m))
}

// ParseEncryptionMethod is the inverse of EncryptionMethod.String.
func ParseEncryptionMethod(s string) (EncryptionMethod, error) {
	for m := NotEncrypted; m <= AES256; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return NotEncrypted, fmt.Errorf("%w: encryption %q", ErrUnsupportedMethod, s)
}

// IsAES reports whether m is one of the WinZip AES strengths.
func (m EncryptionMethod) IsAES() bool { return m >= AES128 && m <= AES256 }

func (m EncryptionMethod) aesStrength() uint8 {
	return uint8(m-AES128) + internal.AESStrength128
}

func aesMethodFromStrength(s uint8) (EncryptionMethod, error) {
	if s < internal.AESStrength128 || s > internal.AESStrength256 {
		return NotEncrypted, fmt.Errorf("%w: aes strength %d", ErrUnsupportedMethod, s)
	}
	return AES128 + EncryptionMethod(s-internal.AESStrength128), nil
}

// ZipCryptoVerify selects the value the last ZipCrypto header byte is taken from.
type ZipCryptoVerify uint8

const (
	VerifyCRC     ZipCryptoVerify = iota // high byte of the entry CRC-32
	VerifyModTime                        // high byte of the DOS modification time
)

// winZipAESMarker is the compression method recorded for AES entries.
const winZipAESMarker = 99

const (
	zipCryptoHeaderLen = 12
	aesMacLen          = 10 // HMAC-SHA1 truncated to 10 bytes
	aesVerifierLen     = 2
	aesIterations      = 1000
)

// encryptionOverhead returns the bytes an encrypted payload adds to the
// compressed data.
func encryptionOverhead(m EncryptionMethod) int64 {
	switch {
	case m == ZipCrypto:
		return zipCryptoHeaderLen
	case m.IsAES():
		return int64(aesSaltLen(m) + aesVerifierLen + aesMacLen)
	}
	return 0
}

func aesKeyLen(m EncryptionMethod) int  { return 16 + 8*int(m-AES128) }
func aesSaltLen(m EncryptionMethod) int { return aesKeyLen(m) / 2 }

// decrypter undoes one entry's encryption. init consumes the encryption
// header, finish consumes and verifies the trailer.
type decrypter interface {
	init(src io.Reader) error
	decrypt(p []byte)
	finish(src io.Reader) error
	overhead() int64
}

// encrypter produces one entry's encryption header, payload and trailer.
type encrypter interface {
	header() ([]byte, error)
	encrypt(p []byte)
	trailer() []byte
	overhead() int64
}

func newDecrypter(m EncryptionMethod, password []byte, crc uint32, modTime uint16) (decrypter, error) {
	switch {
	case m == ZipCrypto:
		return &zipCryptoDecrypter{cipher: newZipCipher(password), crc: crc, modTime: modTime}, nil
	case m.IsAES():
		return &aesDecrypter{method: m, password: password}, nil
	}
	return nil, fmt.Errorf("%w: encryption %v", ErrUnsupportedMethod, m)
}

func newEncrypter(m EncryptionMethod, password []byte, checkByte byte) (encrypter, error) {
	switch {
	case m == ZipCrypto:
		return &zipCryptoEncrypter{cipher: newZipCipher(password), check: checkByte}, nil
	case m.IsAES():
		return &aesEncrypter{method: m, password: password}, nil
	}
	return nil, fmt.Errorf("%w: encryption %v", ErrUnsupportedMethod, m)
}

type zipCryptoDecrypter struct {
	cipher  *zipCipher
	crc     uint32
	modTime uint16
}

func (d *zipCryptoDecrypter) init(src io.Reader) error {
	header := make([]byte, zipCryptoHeaderLen)
	if _, err := io.ReadFull(src, header); err != nil {
		return fmt.Errorf("%w: read zipcrypto header: %v", ErrMalformedArchive, err)
	}
	d.cipher.decrypt(header)

	// Writers disagree on where the check byte comes from; accept both.
	check := header[zipCryptoHeaderLen-1]
	if check != byte(d.crc>>24) && check != byte(d.modTime>>8) {
		return ErrWrongPassword
	}
	return nil
}

func (d *zipCryptoDecrypter) decrypt(p []byte)         { d.cipher.decrypt(p) }
func (d *zipCryptoDecrypter) finish(_ io.Reader) error { return nil }
func (d *zipCryptoDecrypter) overhead() int64          { return zipCryptoHeaderLen }

type zipCryptoEncrypter struct {
	cipher *zipCipher
	check  byte
}

func (e *zipCryptoEncrypter) header() ([]byte, error) {
	header := make([]byte, zipCryptoHeaderLen)
	if _, err := rand.Read(header[:zipCryptoHeaderLen-1]); err != nil {
		return nil, fmt.Errorf("crypto rand failed: %w", err)
	}
	header[zipCryptoHeaderLen-1] = e.check
	e.cipher.encrypt(header)
	return header, nil
}

func (e *zipCryptoEncrypter) encrypt(p []byte) { e.cipher.encrypt(p) }
func (e *zipCryptoEncrypter) trailer() []byte  { return nil }
func (e *zipCryptoEncrypter) overhead() int64  { return zipCryptoHeaderLen }

const cipherMagic = 134775813

// zipCipher is the PKWARE traditional encryption state. Keys are always
// updated with the plaintext byte.
type zipCipher struct {
	k0, k1, k2 uint32
}

func newZipCipher(password []byte) *zipCipher {
	z := &zipCipher{k0: 0x12345678, k1: 0x23456789, k2: 0x34567890}
	for _, b := range password {
		z.updateKeys(b)
	}
	return z
}

func (z *zipCipher) updateKeys(b byte) {
	z.k0 = crc32.IEEETable[byte(z.k0)^b] ^ (z.k0 >> 8)
	z.k1 = (z.k1+(z.k0&0xff))*cipherMagic + 1
	z.k2 = crc32.IEEETable[byte(z.k2)^byte(z.k1>>24)] ^ (z.k2 >> 8)
}

func (z *zipCipher) keystream() byte {
	t := z.k2 | 2
	return byte((t * (t ^ 1)) >> 8)
}

func (z *zipCipher) encrypt(buf []byte) {
	for i, b := range buf {
		buf[i] = b ^ z.keystream()
		z.updateKeys(b)
	}
}

func (z *zipCipher) decrypt(buf []byte) {
	for i, c := range buf {
		b := c ^ z.keystream()
		z.updateKeys(b)
		buf[i] = b
	}
}

// aesKeys holds keys derived from the password.
type aesKeys struct {
	encKey   []byte
	macKey   []byte
	verifier []byte
}

func deriveAESKeys(m EncryptionMethod, password, salt []byte) aesKeys {
	keyLen := aesKeyLen(m)
	dk := pbkdf2.Key(password, salt, aesIterations, 2*keyLen+aesVerifierLen, sha1.New)
	return aesKeys{
		encKey:   dk[:keyLen],
		macKey:   dk[keyLen : 2*keyLen],
		verifier: dk[2*keyLen:],
	}
}

type aesDecrypter struct {
	method   EncryptionMethod
	password []byte
	stream   cipher.Stream
	mac      hash.Hash
}

func (d *aesDecrypter) init(src io.Reader) error {
	buf := make([]byte, aesSaltLen(d.method)+aesVerifierLen)
	if _, err := io.ReadFull(src, buf); err != nil {
		return fmt.Errorf("%w: read aes salt: %v", ErrMalformedArchive, err)
	}
	salt, verifier := buf[:aesSaltLen(d.method)], buf[aesSaltLen(d.method):]

	keys := deriveAESKeys(d.method, d.password, salt)
	if subtle.ConstantTimeCompare(verifier, keys.verifier) != 1 {
		return ErrWrongPassword
	}

	block, err := aes.NewCipher(keys.encKey)
	if err != nil {
		return err
	}
	d.stream = newWinZipCounter(block)
	d.mac = hmac.New(sha1.New, keys.macKey)
	return nil
}

// decrypt authenticates the ciphertext before decrypting it in place.
func (d *aesDecrypter) decrypt(p []byte) {
	d.mac.Write(p)
	d.stream.XORKeyStream(p, p)
}

func (d *aesDecrypter) finish(src io.Reader) error {
	want := make([]byte, aesMacLen)
	if _, err := io.ReadFull(src, want); err != nil {
		return fmt.Errorf("%w: read aes authentication code: %v", ErrMalformedArchive, err)
	}
	if !hmac.Equal(d.mac.Sum(nil)[:aesMacLen], want) {
		return fmt.Errorf("%w: aes authentication code mismatch", ErrIntegrity)
	}
	return nil
}

func (d *aesDecrypter) overhead() int64 { return encryptionOverhead(d.method) }

type aesEncrypter struct {
	method   EncryptionMethod
	password []byte
	stream   cipher.Stream
	mac      hash.Hash
}

func (e *aesEncrypter) header() ([]byte, error) {
	salt := make([]byte, aesSaltLen(e.method))
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("aes rand: %w", err)
	}

	keys := deriveAESKeys(e.method, e.password, salt)
	block, err := aes.NewCipher(keys.encKey)
	if err != nil {
		return nil, err
	}
	e.stream = newWinZipCounter(block)
	e.mac = hmac.New(sha1.New, keys.macKey)

	return append(salt, keys.verifier...), nil
}

// encrypt is encrypt-then-MAC: the code covers the ciphertext.
func (e *aesEncrypter) encrypt(p []byte) {
	e.stream.XORKeyStream(p, p)
	e.mac.Write(p)
}

func (e *aesEncrypter) trailer() []byte { return e.mac.Sum(nil)[:aesMacLen] }
func (e *aesEncrypter) overhead() int64 { return encryptionOverhead(e.method) }

// winZipCounter implements cipher.Stream for WinZip AES-CTR mode.
// WinZip increments the 128-bit counter little endian, starting at 1,
// whereas cipher.NewCTR increments big endian.
type winZipCounter struct {
	block   cipher.Block
	counter [aes.BlockSize]byte
	buffer  [aes.BlockSize]byte
	pos     int
}

func newWinZipCounter(block cipher.Block) *winZipCounter {
	c := &winZipCounter{block: block}
	c.counter[0] = 1
	return c
}

func (c *winZipCounter) XORKeyStream(dst, src []byte) {
	for i := range src {
		if c.pos == 0 {
			c.block.Encrypt(c.buffer[:], c.counter[:])
			for j := range c.counter {
				c.counter[j]++
				if c.counter[j] != 0 {
					break
				}
			}
		}
		dst[i] = src[i] ^ c.buffer[c.pos]
		c.pos = (c.pos + 1) % aes.BlockSize
	}
}

// decryptReader applies a decrypter to a bounded section of ciphertext.
// The trailer is verified once the payload is exhausted.
type decryptReader struct {
	src       io.Reader
	dec       decrypter
	remaining int64
	err       error
}

func newDecryptReader(src io.Reader, dec decrypter, payloadSize int64) (*decryptReader, error) {
	if payloadSize < dec.overhead() {
		return nil, fmt.Errorf("%w: encrypted payload of %d bytes is smaller than its %d byte overhead",
			ErrMalformedArchive, payloadSize, dec.overhead())
	}
	if err := dec.init(src); err != nil {
		return nil, err
	}
	return &decryptReader{
		src:       src,
		dec:       dec,
		remaining: payloadSize - dec.overhead(),
	}, nil
}

func (r *decryptReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.remaining <= 0 {
		r.err = io.EOF
		if err := r.dec.finish(r.src); err != nil {
			r.err = err
		}
		return 0, r.err
	}

	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.src.Read(p)
	r.remaining -= int64(n)
	r.dec.decrypt(p[:n])

	if err == io.EOF && r.remaining > 0 {
		err = io.ErrUnexpectedEOF
	}
	if err != nil && err != io.EOF {
		r.err = err
		return n, err
	}
	return n, nil
}

// drain consumes unread ciphertext so the trailer is verified even when
// the consumer stops early.
func (r *decryptReader) drain() error {
	_, err := io.Copy(io.Discard, r)
	return err
}

// encryptWriter applies an encrypter to everything written through it.
type encryptWriter struct {
	dst io.Writer
	enc encrypter
	buf []byte
}

func newEncryptWriter(dst io.Writer, enc encrypter) (*encryptWriter, error) {
	header, err := enc.header()
	if err != nil {
		return nil, err
	}
	if _, err := dst.Write(header); err != nil {
		return nil, fmt.Errorf("write encryption header: %w", err)
	}
	return &encryptWriter{dst: dst, enc: enc}, nil
}

func (w *encryptWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.buf = append(w.buf[:0], p...)
	w.enc.encrypt(w.buf)
	if _, err := w.dst.Write(w.buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close writes the trailer; it does not close the destination.
func (w *encryptWriter) Close() error {
	if t := w.enc.trailer(); len(t) > 0 {
		if _, err := w.dst.Write(t); err != nil {
			return fmt.Errorf("write encryption trailer: %w", err)
		}
	}
	return nil
}
