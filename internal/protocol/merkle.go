package protocol

import (
	"crypto/sha256"
	"errors"
	"fmt"
)

const (
	eventLeafTag  = "manifest-wall:event:leaf:v1:"
	eventNodeTag  = "manifest-wall:event:node:v1:"
	eventEmptyTag = "manifest-wall:event:empty:v1"
)

var ErrInvalidProof = errors.New("invalid inclusion proof")

type digest = [sha256.Size]byte

// MerkleProof places one event at LeafIndex (seq-1) of a tree of TreeSize
// entries. Path holds sibling hashes from the leaf upward; a level where the
// node has no sibling contributes nothing.
type MerkleProof struct {
	LeafIndex int      `json:"leaf_index"`
	TreeSize  int      `json:"tree_size"`
	RootHash  string   `json:"root_hash"`
	Path      []string `json:"path"`
}

// EventTree is the Merkle tree over event entry hashes in sequence order. A
// node without a sibling is carried to the next level unchanged.
type EventTree struct {
	levels [][]digest
}

func NewEventTree(entryHashes []string) *EventTree {
	level := make([]digest, len(entryHashes))
	for i, h := range entryHashes {
		level[i] = eventLeaf(h)
	}
	t := &EventTree{levels: [][]digest{level}}
	for len(level) > 1 {
		next := make([]digest, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, eventNode(level[i], level[i+1]))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t
}

func (t *EventTree) Size() int {
	return len(t.levels[0])
}

func (t *EventTree) Root() string {
	if t.Size() == 0 {
		return SHA256B64u([]byte(eventEmptyTag))
	}
	top := t.levels[len(t.levels)-1][0]
	return b64u.EncodeToString(top[:])
}

// Proof returns the inclusion path of the entry at index.
func (t *EventTree) Proof(index int) (MerkleProof, error) {
	if index < 0 || index >= t.Size() {
		return MerkleProof{}, fmt.Errorf("leaf index %d out of range for tree of %d", index, t.Size())
	}
	proof := MerkleProof{LeafIndex: index, TreeSize: t.Size(), RootHash: t.Root(), Path: []string{}}
	idx := index
	for _, level := range t.levels[:len(t.levels)-1] {
		if sibling := idx ^ 1; sibling < len(level) {
			proof.Path = append(proof.Path, b64u.EncodeToString(level[sibling][:]))
		}
		idx /= 2
	}
	return proof, nil
}

// Verify recomputes RootHash from entryHash, walking the level sizes a tree
// of TreeSize entries has. Every path step must be consumed.
func (p MerkleProof) Verify(entryHash string) error {
	if p.LeafIndex < 0 || p.LeafIndex >= p.TreeSize {
		return fmt.Errorf("%w: leaf index %d outside tree of %d", ErrInvalidProof, p.LeafIndex, p.TreeSize)
	}
	acc := eventLeaf(entryHash)
	idx, size, used := p.LeafIndex, p.TreeSize, 0
	for ; size > 1; idx, size = idx/2, (size+1)/2 {
		if idx^1 >= size {
			continue
		}
		if used == len(p.Path) {
			return fmt.Errorf("%w: path ends at step %d", ErrInvalidProof, used)
		}
		raw, err := b64u.DecodeString(p.Path[used])
		if err != nil || len(raw) != sha256.Size {
			return fmt.Errorf("%w: step %d is not a sha256 digest", ErrInvalidProof, used)
		}
		var sibling digest
		copy(sibling[:], raw)
		if idx%2 == 1 {
			acc = eventNode(sibling, acc)
		} else {
			acc = eventNode(acc, sibling)
		}
		used++
	}
	if used != len(p.Path) {
		return fmt.Errorf("%w: %d unused steps", ErrInvalidProof, len(p.Path)-used)
	}
	if b64u.EncodeToString(acc[:]) != p.RootHash {
		return fmt.Errorf("%w: root mismatch", ErrInvalidProof)
	}
	return nil
}

func eventLeaf(entryHash string) digest {
	return sha256.Sum256(append([]byte(eventLeafTag), entryHash...))
}

func eventNode(left, right digest) digest {
	buf := make([]byte, 0, len(eventNodeTag)+2*sha256.Size)
	buf = append(buf, eventNodeTag...)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return sha256.Sum256(buf)
}
