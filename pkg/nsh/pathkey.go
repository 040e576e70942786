package nsh

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	MaxSPI = 1<<24 - 1
	MaxSI  = 1<<8 - 1
)

var ErrSPIRange = errors.New("nsh: spi exceeds 24 bits")

// PathKey packs a 24-bit service path identifier and an 8-bit service
// index. The zero key means unassigned.
type PathKey uint32

func NewPathKey(spi uint32, si uint8) (PathKey, error) {
	if spi > MaxSPI {
		return 0, fmt.Errorf("%w: %#x", ErrSPIRange, spi)
	}
	return PathKey(spi<<8 | uint32(si)), nil
}

// MustPathKey is NewPathKey for constants.
func MustPathKey(spi uint32, si uint8) PathKey {
	k, err := NewPathKey(spi, si)
	if err != nil {
		panic(err)
	}
	return k
}

func (k PathKey) SPI() uint32 {
	return uint32(k) >> 8
}

func (k PathKey) SI() uint8 {
	return uint8(k)
}

func (k PathKey) IsZero() bool {
	return k == 0
}

func (k PathKey) String() string {
	return fmt.Sprintf("%d:%d", k.SPI(), k.SI())
}

// ParsePathKey accepts "spi:si" with either part in decimal or 0x hex.
func ParsePathKey(s string) (PathKey, error) {
	spiStr, siStr, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("invalid path key %q: want spi:si", s)
	}
	spi, err := strconv.ParseUint(strings.TrimSpace(spiStr), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid spi %q: %w", spiStr, err)
	}
	si, err := strconv.ParseUint(strings.TrimSpace(siStr), 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid si %q: %w", siStr, err)
	}
	return NewPathKey(uint32(spi), uint8(si))
}
