package itemprint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"
	"sync"

	"lukechampine.com/blake3"
)

var (
	// ErrChecksumMismatch is returned by Verify when the payload no longer matches
	// the checksum it was sealed with.
	ErrChecksumMismatch = errors.New("itemprint: checksum mismatch")

	// ErrUnsealed is returned by Verify for items that were never sealed.
	ErrUnsealed = errors.New("itemprint: item not sealed")
)

// HashingPool implements a thread-safe pool of hashers.
type HashingPool struct {
	hasherPool sync.Pool
}

// newHasher creates a new hash.Hash.
//
// For use as the New function in an appropiate sync.Pool
func newHasher() any {
	return blake3.New(32, nil)
}

// NewHashingPool creates a new HashingPool.
func NewHashingPool() *HashingPool {
	return &HashingPool{
		hasherPool: sync.Pool{
			New: newHasher,
		},
	}
}

// GetHasher returns a hasher from the pool, creating it if there isn't any.
func (hp *HashingPool) GetHasher() hash.Hash {
	return hp.hasherPool.Get().(hash.Hash)
}

// PutHasher puts a hasher back in the pool, and resets it.
//
// Should be called when done with the hasher.
func (hp *HashingPool) PutHasher(hasher hash.Hash) {
	hasher.Reset()
	hp.hasherPool.Put(hasher)
}

// digest hashes payload with a pooled hasher.
func (hp *HashingPool) digest(payload []byte) []byte {
	hasher := hp.GetHasher()
	defer hp.PutHasher(hasher)

	hasher.Write(payload)
	return hasher.Sum(nil)
}

// ItemPrint is a unit of work passed from producers to consumers, along with
// a "fingerprint" of its payload.
//
// The producer seals the item with a checksum of the payload. The consumer
// later compares it against the hash of the payload as received. That hash is
// computed lazily (only when requested, and only once), in a thread-safe way.
type ItemPrint struct {
	id          int
	producer    int
	payload     []byte
	checksum    []byte
	hashingPool *HashingPool
	hashOnce    sync.Once
	hash        []byte
}

// NewItemPrint creates a new, unsealed ItemPrint.
func NewItemPrint(id, producer int, payload []byte, pool *HashingPool) *ItemPrint {
	return &ItemPrint{
		id:          id,
		producer:    producer,
		payload:     payload,
		hashingPool: pool,
	}
}

// Generate creates a sealed ItemPrint with a size bytes long pseudo-random
// payload. The payload only depends on id, so regenerating an item gives the
// same bytes.
func Generate(id, producer, size int, pool *HashingPool) (*ItemPrint, error) {
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], uint64(id))

	hasher := blake3.New(32, nil)
	hasher.Write(seed[:])

	payload := make([]byte, size)
	if _, err := io.ReadFull(hasher.XOF(), payload); err != nil {
		return nil, fmt.Errorf("while generating payload for item %d: %w", id, err)
	}

	ip := NewItemPrint(id, producer, payload, pool)
	ip.Seal()
	return ip, nil
}

// ID returns the identifier of the item.
func (ip *ItemPrint) ID() int {
	return ip.id
}

// Producer returns the identifier of the producer that made the item.
func (ip *ItemPrint) Producer() int {
	return ip.producer
}

// Size returns the size of the payload.
func (ip *ItemPrint) Size() int {
	return len(ip.payload)
}

// Seal stamps the item with a checksum of its current payload.
//
// Must be called before the item is shared with other goroutines.
func (ip *ItemPrint) Seal() {
	ip.checksum = ip.hashingPool.digest(ip.payload)
}

// Hash returns the hash of the payload, computing it if needed.
//
// No new goroutines are started, but the computation itself is thread-safe.
//
// Current hash is BLAKE3 with length of 256 bits.
func (ip *ItemPrint) Hash() []byte {
	ip.hashOnce.Do(func() {
		ip.hash = ip.hashingPool.digest(ip.payload)
	})

	return ip.hash
}

// Verify checks the payload against the checksum the item was sealed with.
func (ip *ItemPrint) Verify() error {
	if ip.checksum == nil {
		return fmt.Errorf("%w: %d", ErrUnsealed, ip.id)
	}

	if !bytes.Equal(ip.checksum, ip.Hash()) {
		return fmt.Errorf("%w: item %d from producer %d", ErrChecksumMismatch, ip.id, ip.producer)
	}

	return nil
}

// ItemPrintSlice is a simple slice of pointers to ItemPrints.
//
// Mostly to implement the sort.Interface, with the id as the key.
type ItemPrintSlice []*ItemPrint

func (ips ItemPrintSlice) Len() int {
	return len(ips)
}

func (ips ItemPrintSlice) Less(i, j int) bool {
	return ips[i].id < ips[j].id
}

func (ips ItemPrintSlice) Swap(i, j int) {
	ips[i], ips[j] = ips[j], ips[i]
}
