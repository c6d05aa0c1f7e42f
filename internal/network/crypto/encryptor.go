package crypto

// Encryptor 对一段负载加密并签名，或校验并解密。
// aad 不加密但受完整性保护，例如帧序号。
type Encryptor interface {
	Encrypt(plaintext, aad []byte) (packet []byte, err error)
	Decrypt(packet, aad []byte) (plaintext []byte, err error)
}

// NopEncryptor 原样透传数据。
type NopEncryptor struct{}

var _ Encryptor = NopEncryptor{}

func (NopEncryptor) Encrypt(plaintext, _ []byte) ([]byte, error) {
	return plaintext, nil
}

func (NopEncryptor) Decrypt(packet, _ []byte) ([]byte, error) {
	return packet, nil
}
