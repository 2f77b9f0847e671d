package platform

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// 平台互联的报文加密约定：业务体 AES-128-CBC + PKCS7 填充 + Base64，
// 外层签名 HMAC-MD5 大写 hex。密钥与 IV 由运营商分配。

// EncryptData AES-CBC 加密业务体并 Base64 编码
func EncryptData(plaintext []byte, key, iv string) (string, error) {
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return "", fmt.Errorf("aes cipher: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return "", fmt.Errorf("iv length %d, want %d", len(iv), block.BlockSize())
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, []byte(iv)).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptData Base64 解码后 AES-CBC 解密业务体
func DecryptData(encoded string, key, iv string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}

	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("iv length %d, want %d", len(iv), block.BlockSize())
	}
	if len(raw) == 0 || len(raw)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("ciphertext length %d not a block multiple", len(raw))
	}

	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, []byte(iv)).CryptBlocks(out, raw)
	return pkcs7Unpad(out, block.BlockSize())
}

// SignEnvelope 计算外层签名：HMAC-MD5(operatorId + data + timestamp + seq)，大写 hex
func SignEnvelope(sigSecret, operatorID, data, timestamp, seq string) string {
	mac := hmac.New(md5.New, []byte(sigSecret))
	_, _ = mac.Write([]byte(operatorID + data + timestamp + seq))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// VerifyEnvelope 校验外层签名，常数时间比较
func VerifyEnvelope(sigSecret, operatorID, data, timestamp, seq, sig string) bool {
	want := SignEnvelope(sigSecret, operatorID, data, timestamp, seq)
	return hmac.Equal([]byte(want), []byte(strings.ToUpper(sig)))
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty padded data")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
