package beken

import "github.com/tuya-cloudcutter/bk7231tools/internal/rbl"

// DecryptPayload decrypts a container payload according to its declared
// encoding algorithm. streamOffset is the flash-mapped address the payload
// runs from, which keys the code cipher stream.
//
// AlgoNone payloads come back unchanged. AlgoCryptXOR is the Beken code
// cipher. Every other algorithm returns an UnsupportedEncodingError and
// the caller keeps the payload as captured.
func DecryptPayload(algo rbl.Algo, payload []byte, streamOffset uint32) ([]byte, error) {
	switch algo {
	case rbl.AlgoNone:
		return payload, nil
	case rbl.AlgoCryptXOR:
		cipher := NewCodeCipher()
		return cipher.Decrypt(cipher.Pad(payload), streamOffset)
	default:
		return nil, &UnsupportedEncodingError{Name: algo.String()}
	}
}
