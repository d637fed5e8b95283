// Package inode synthesizes the 64-bit inode numbers observable at the
// overlay, from some projection of (branch path, logical path, mode,
// underlying inode). Seven algorithms are supported; hybrid-hash is the
// default.
package inode

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
	"lukechampine.com/blake3"
)

// Calc names one of the synthesis algorithms.
type Calc int

const (
	// Passthrough reuses the underlying filesystem's inode verbatim.
	// Only safe when every branch lives on one filesystem.
	Passthrough Calc = iota
	// PathHash hashes the logical path; hard links get distinct inodes.
	PathHash
	// PathHash32 folds PathHash into 32 bits.
	PathHash32
	// DevinoHash combines a hash of the branch path with the underlying
	// inode; hard links on the same branch share a synthetic inode.
	DevinoHash
	// DevinoHash32 folds DevinoHash into 32 bits.
	DevinoHash32
	// HybridHash uses PathHash for directories and DevinoHash for
	// everything else. The default.
	HybridHash
	// HybridHash32 folds HybridHash into 32 bits.
	HybridHash32
)

// DefaultCalc is the algorithm used when none is configured.
const DefaultCalc = HybridHash

// ParseCalc parses the inodecalc option syntax.
func ParseCalc(s string) (Calc, error) {
	switch s {
	case "passthrough":
		return Passthrough, nil
	case "path-hash":
		return PathHash, nil
	case "path-hash32":
		return PathHash32, nil
	case "devino-hash":
		return DevinoHash, nil
	case "devino-hash32":
		return DevinoHash32, nil
	case "hybrid-hash":
		return HybridHash, nil
	case "hybrid-hash32":
		return HybridHash32, nil
	default:
		return 0, fmt.Errorf("inode: invalid inode calculation mode %q", s)
	}
}

func (c Calc) String() string {
	switch c {
	case Passthrough:
		return "passthrough"
	case PathHash:
		return "path-hash"
	case PathHash32:
		return "path-hash32"
	case DevinoHash:
		return "devino-hash"
	case DevinoHash32:
		return "devino-hash32"
	case HybridHash:
		return "hybrid-hash"
	case HybridHash32:
		return "hybrid-hash32"
	default:
		return "unknown"
	}
}

// Synthesize computes the overlay inode for a file. All algorithms are
// pure functions of their four inputs.
func (c Calc) Synthesize(branchPath, fusePath string, mode uint32, underlyingIno uint64) uint64 {
	switch c {
	case Passthrough:
		return underlyingIno
	case PathHash:
		return pathHash(fusePath)
	case PathHash32:
		return h64ToH32(pathHash(fusePath))
	case DevinoHash:
		return devinoHash(branchPath, underlyingIno)
	case DevinoHash32:
		return h64ToH32(devinoHash(branchPath, underlyingIno))
	case HybridHash:
		return hybridHash(branchPath, fusePath, mode, underlyingIno)
	case HybridHash32:
		return h64ToH32(hybridHash(branchPath, fusePath, mode, underlyingIno))
	default:
		return hybridHash(branchPath, fusePath, mode, underlyingIno)
	}
}

// hashData hashes arbitrary bytes down to a stable 64-bit value, the
// same blake3 digest the teacher's hashing package produces for file
// contents, truncated to its leading 8 bytes.
func hashData(data []byte) uint64 {
	sum := blake3.Sum512(data)
	return binary.BigEndian.Uint64(sum[:8])
}

// hashCombine mixes two hash values, after boost::hash_combine.
func hashCombine(seed, value uint64) uint64 {
	return seed ^ (value + 0x9E3779B9 + (seed << 6) + (seed >> 2))
}

// h64ToH32 folds a 64-bit hash into the 32-bit range.
func h64ToH32(h uint64) uint64 {
	h32 := uint32(h ^ (h >> 32))
	h32 *= 0x9E3779B9
	return uint64(h32)
}

func pathHash(fusePath string) uint64 {
	return hashData([]byte(fusePath))
}

func devinoHash(branchPath string, underlyingIno uint64) uint64 {
	return hashCombine(hashData([]byte(branchPath)), underlyingIno)
}

func hybridHash(branchPath, fusePath string, mode uint32, underlyingIno uint64) uint64 {
	if mode&unix.S_IFMT == unix.S_IFDIR {
		return pathHash(fusePath)
	}
	return devinoHash(branchPath, underlyingIno)
}
