package model

import (
	"strings"
)

// HashAlgorithm names the digest used for a source artifact checksum.
type HashAlgorithm string

const (
	HashMD2     HashAlgorithm = "MD2"
	HashMD5     HashAlgorithm = "MD5"
	HashSHA1    HashAlgorithm = "SHA1"
	HashSHA256  HashAlgorithm = "SHA256"
	HashSHA384  HashAlgorithm = "SHA384"
	HashSHA512  HashAlgorithm = "SHA512"
	HashUnknown HashAlgorithm = "UNKNOWN"
)

var hashAlgorithms = []HashAlgorithm{HashMD2, HashMD5, HashSHA1, HashSHA256, HashSHA384, HashSHA512}

// ParseHashAlgorithm maps names such as "sha-256", "SHA256" or "sha256" to a
// HashAlgorithm. Anything unrecognized, including the empty string, yields
// HashUnknown.
func ParseHashAlgorithm(s string) HashAlgorithm {
	norm := strings.ToUpper(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s))
	for _, a := range hashAlgorithms {
		if norm == string(a) {
			return a
		}
	}
	return HashUnknown
}

// UnmarshalText normalizes algorithm names while decoding.
func (a *HashAlgorithm) UnmarshalText(text []byte) error {
	*a = ParseHashAlgorithm(string(text))
	return nil
}

// RemoteArtifact points at a downloadable source archive and its checksum.
type RemoteArtifact struct {
	URL           string        `json:"url,omitempty"`
	Hash          string        `json:"hash,omitempty"`
	HashAlgorithm HashAlgorithm `json:"hash_algorithm,omitempty"`
}

// HasURL reports whether a has a non-blank URL.
func (a RemoteArtifact) HasURL() bool {
	return strings.TrimSpace(a.URL) != ""
}
