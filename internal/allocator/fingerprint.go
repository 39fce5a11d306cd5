package allocator

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// layoutFingerprint hashes the parts of a CreateParams that determine how a
// shared Director's bytes are laid out, so a second process attaching to an
// existing shared-memory region can detect (non-fatally) that it computed a
// different layout than the process that created it. This is a diagnostic,
// not a correctness gate: the spec does not mandate a version check, and
// QBA follows that (version.go's checkVersionCompatible is the same kind of
// advisory check).
func layoutFingerprint(p *CreateParams) ([32]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return [32]byte{}, fmt.Errorf("allocator: layout fingerprint: %w", err)
	}

	var buf [8]byte

	write := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}

	write(uint64(p.SmallSpan))
	write(uint64(p.MediumSpan))
	write(uint64(p.LargeSpan))
	write(uint64(p.SmallSlots))
	write(uint64(p.MediumSlots))
	write(uint64(p.LargeSlots))
	write(uint64(p.Alignment))
	write(uint64(p.SideDataSize))
	h.Write([]byte(layoutVersionString))

	var out [32]byte
	copy(out[:], h.Sum(nil))

	return out, nil
}
