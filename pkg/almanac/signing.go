package almanac

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
)

// SigningDigest returns the sha256 digest an agent's wallet signs for this request.
// Protocols are sorted; endpoint order is kept.
func (r *RegisterRequest) SigningDigest() []byte {
	h := sha256.New()
	write := func(s string) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	write(r.Address)
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(r.Sequence))
	h.Write(n[:])
	for _, ep := range r.Endpoints {
		write(ep.URL)
		binary.BigEndian.PutUint64(n[:], uint64(ep.Weight))
		h.Write(n[:])
	}
	protocols := append([]string(nil), r.Protocols...)
	sort.Strings(protocols)
	for _, p := range protocols {
		write(p)
	}
	return h.Sum(nil)
}
