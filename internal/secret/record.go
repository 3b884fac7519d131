// Package secret maintains the rotating shared secret used to compute
// one-time codes. It fetches a versioned dictionary of obfuscated secrets,
// keeps the newest one, and degrades to the last good or an embedded
// secret when the source is unavailable.
package secret

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/hfi/token-broker/pkg/obfuscate"
)

// Source tags where a resolved record came from
type Source string

const (
	// SourceFresh means the record was fetched during this call
	SourceFresh Source = "fresh"
	// SourceCached means the record is within its refresh interval
	SourceCached Source = "cached"
	// SourceStale means a refresh failed and the last good record is served
	SourceStale Source = "stale"
	// SourceDefault means nothing was ever fetched and the embedded secret is served
	SourceDefault Source = "default"
)

// FallbackVersion is the version reported for the embedded secret
const FallbackVersion = "5"

// fallbackCipher is the obfuscated form of the embedded secret
var fallbackCipher = []byte{12, 56, 76, 33, 88, 44, 88, 33, 78, 78, 11, 66, 22, 22, 55, 69, 54}

// Record is an immutable, deobfuscated secret. It is replaced whole on refresh.
type Record struct {
	Version   string
	Secret    []byte
	FetchedAt time.Time
}

// Hex returns the secret bytes hex-encoded
func (r *Record) Hex() string {
	return hex.EncodeToString(r.Secret)
}

// Resolution is the tagged result of a secret lookup. Err holds the refresh
// failure behind a stale or default result.
type Resolution struct {
	Record *Record
	Source Source
	Err    error
}

// Dictionary maps version identifiers to obfuscated secret bytes
type Dictionary map[string][]int

// Latest returns the greatest version key. Numeric keys compare numerically
// and rank above non-numeric ones; non-numeric keys compare lexically.
func (d Dictionary) Latest() (string, bool) {
	if len(d) == 0 {
		return "", false
	}
	return lo.MaxBy(lo.Keys(map[string][]int(d)), func(a, b string) bool {
		return compareVersions(a, b) > 0
	}), true
}

func compareVersions(a, b string) int {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		switch {
		case na > nb:
			return 1
		case na < nb:
			return -1
		}
		return 0
	case errA == nil:
		return 1
	case errB == nil:
		return -1
	}
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	}
	return 0
}

// Derive selects the newest version in d and deobfuscates it
func Derive(d Dictionary, fetchedAt time.Time) (*Record, error) {
	version, ok := d.Latest()
	if !ok {
		return nil, errors.New("secret dictionary is empty")
	}

	values := d[version]
	if len(values) == 0 {
		return nil, fmt.Errorf("secret version %q has no bytes", version)
	}

	cipher := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("secret version %q: byte %d out of range: %d", version, i, v)
		}
		cipher[i] = byte(v)
	}

	return &Record{
		Version:   version,
		Secret:    obfuscate.Apply(cipher),
		FetchedAt: fetchedAt,
	}, nil
}

// Fallback returns the embedded secret record
func Fallback() *Record {
	return &Record{
		Version: FallbackVersion,
		Secret:  obfuscate.Apply(fallbackCipher),
	}
}
