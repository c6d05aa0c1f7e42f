package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/cockroachdb/errors"
)

var (
	// ErrPacketTooShort 表示报文不足以容纳 nonce 与 MAC。
	ErrPacketTooShort = errors.New("crypto: packet too short")
	// ErrInvalidMAC 表示 HMAC 校验失败，报文或关联数据被改动。
	ErrInvalidMAC = errors.New("crypto: invalid mac")
)

const aes256KeySizeBytes = 32

// AEADHMACCodec 使用 AES‑256‑GCM 加密，再以 HMAC‑SHA256 对 nonce、密文和关联数据签名。
//
// 报文格式：nonce || ciphertext || mac。
// 回放流中 plaintext 为一帧负载，aad 为流标识与帧序号，帧被替换或重排时校验失败。
type AEADHMACCodec struct {
	aead    cipher.AEAD
	hmacKey []byte
}

var _ Encryptor = (*AEADHMACCodec)(nil)

// NewAESGCMHMACCodec 创建加密器，encKey 必须为 32 字节，macKey 不能为空。
func NewAESGCMHMACCodec(encKey, macKey []byte) (*AEADHMACCodec, error) {
	if len(encKey) != aes256KeySizeBytes {
		return nil, errors.Newf("crypto: encKey must be %d bytes, got %d", aes256KeySizeBytes, len(encKey))
	}
	if len(macKey) == 0 {
		return nil, errors.New("crypto: macKey must not be empty")
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, errors.Wrap(err, "crypto: new cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "crypto: new gcm")
	}
	return &AEADHMACCodec{aead: aead, hmacKey: append([]byte(nil), macKey...)}, nil
}

func (c *AEADHMACCodec) mac(sealed, aad []byte) []byte {
	m := hmac.New(sha256.New, c.hmacKey)
	_, _ = m.Write(sealed)
	_, _ = m.Write(aad)
	return m.Sum(nil)
}

// Encrypt 生成 nonce || ciphertext || mac。
func (c *AEADHMACCodec) Encrypt(plaintext, aad []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	packet := make([]byte, nonceSize, nonceSize+len(plaintext)+c.aead.Overhead()+sha256.Size)
	if _, err := io.ReadFull(rand.Reader, packet); err != nil {
		return nil, errors.Wrap(err, "crypto: read nonce")
	}
	packet = c.aead.Seal(packet, packet[:nonceSize], plaintext, aad)
	return append(packet, c.mac(packet, aad)...), nil
}

// Decrypt 先校验 MAC 再解密，aad 必须与加密时一致。
func (c *AEADHMACCodec) Decrypt(packet, aad []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(packet) < nonceSize+sha256.Size {
		return nil, ErrPacketTooShort
	}
	sealed, sum := packet[:len(packet)-sha256.Size], packet[len(packet)-sha256.Size:]
	if !hmac.Equal(c.mac(sealed, aad), sum) {
		return nil, ErrInvalidMAC
	}
	plaintext, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], aad)
	if err != nil {
		return nil, errors.Wrap(err, "crypto: open")
	}
	return plaintext, nil
}
