//go:build cgo

package phar

import (
	"errors"
	"hash"
	"os"
	"sync"

	"github.com/golang-fips/openssl/v2"
)

// libcrypto is loaded once, from PHARGO_LIBCRYPTO or libcrypto.so.3.
var opensslInit = sync.OnceValue(func() error {
	lib := os.Getenv("PHARGO_LIBCRYPTO")
	if lib == "" {
		lib = "libcrypto.so.3"
	}
	return openssl.Init(lib)
})

func opensslHash(sig SignatureFlag) (hash.Hash, error) {
	if err := opensslInit(); err != nil {
		return nil, errors.Join(ErrOpenssl, err)
	}
	switch sig {
	case SignatureSHA1:
		return openssl.NewSHA1(), nil
	case SignatureSHA256:
		return openssl.NewSHA256(), nil
	case SignatureSHA512:
		return openssl.NewSHA512(), nil
	}
	return nil, ErrOpenssl
}
