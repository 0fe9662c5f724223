// Package split spreads one logical output stream over numbered part files.
//
// Part names are "{base}.{suffix}". Suffix schemes:
//
//	WIN   001, 002, ... 999 (one-based)
//	MAC   dmg, 002.dmgpart, 003.dmgpart, ... 999.dmgpart
//	other a template where every 'a' is a base-26 letter and every digit is a
//	      base-10 digit, most significant first, zero-based: "000" gives 000, 001, ...
//	      and "aa" gives aa, ab, ... az, ba, ...
package split

import (
	"errors"
	"fmt"
)

const (
	SchemeWIN = "WIN"
	SchemeMAC = "MAC"

	DefaultFormat = "000"

	fixedCapacity = 999
	maxTemplate   = 12
)

var (
	// ErrFormat reports an unusable suffix template.
	ErrFormat = errors.New("split: invalid suffix format")
	// ErrCapacity reports a part index beyond what the scheme can name.
	ErrCapacity = errors.New("split: suffix capacity exceeded")
)

// ValidateFormat checks that format names a scheme or a usable template.
func ValidateFormat(format string) error {
	if format == SchemeWIN || format == SchemeMAC {
		return nil
	}
	if format == "" || len(format) > maxTemplate {
		return fmt.Errorf("%w: %q", ErrFormat, format)
	}
	for _, c := range format {
		if c != 'a' && (c < '0' || c > '9') {
			return fmt.Errorf("%w: %q (use digits and 'a' only)", ErrFormat, format)
		}
	}
	return nil
}

// Capacity returns how many parts format can name.
func Capacity(format string) (int64, error) {
	if err := ValidateFormat(format); err != nil {
		return 0, err
	}
	if format == SchemeWIN || format == SchemeMAC {
		return fixedCapacity, nil
	}
	n := int64(1)
	for _, c := range format {
		if c == 'a' {
			n *= 26
		} else {
			n *= 10
		}
	}
	return n, nil
}

// Suffix returns the suffix of zero-based part n.
func Suffix(format string, n int64) (string, error) {
	capacity, err := Capacity(format)
	if err != nil {
		return "", err
	}
	if n < 0 || n >= capacity {
		return "", fmt.Errorf("%w: part %d with format %q (max %d parts)", ErrCapacity, n, format, capacity)
	}
	switch format {
	case SchemeWIN:
		return fmt.Sprintf("%03d", n+1), nil
	case SchemeMAC:
		if n == 0 {
			return "dmg", nil
		}
		return fmt.Sprintf("%03d.dmgpart", n+1), nil
	}

	out := []byte(format)
	for i := len(out) - 1; i >= 0; i-- {
		if format[i] == 'a' {
			out[i] = 'a' + byte(n%26)
			n /= 26
		} else {
			out[i] = '0' + byte(n%10)
			n /= 10
		}
	}
	return string(out), nil
}

// Name returns the file name of zero-based part n.
func Name(base, format string, n int64) (string, error) {
	s, err := Suffix(format, n)
	if err != nil {
		return "", err
	}
	return base + "." + s, nil
}

// PartsNeeded is the number of parts for total bytes at maxBytes per part.
func PartsNeeded(total, maxBytes int64) int64 {
	if total <= 0 || maxBytes <= 0 {
		return 0
	}
	return (total + maxBytes - 1) / maxBytes
}

// CheckCapacity fails when total bytes would need more parts than format can name.
func CheckCapacity(format string, maxBytes, total int64) error {
	capacity, err := Capacity(format)
	if err != nil {
		return err
	}
	if need := PartsNeeded(total, maxBytes); need > capacity {
		return fmt.Errorf("%w: %d parts of %d bytes needed, format %q allows %d", ErrCapacity, need, maxBytes, format, capacity)
	}
	return nil
}
