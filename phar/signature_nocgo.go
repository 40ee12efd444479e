//go:build !cgo

package phar

import "hash"

func opensslHash(SignatureFlag) (hash.Hash, error) { return nil, ErrOpenssl }
