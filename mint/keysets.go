package mint

import (
	"sync/atomic"

	"github.com/cashumint/core/crypto"
)

// keysetSnapshot is the immutable state swapped in on rotation. Readers never
// block a rotation in progress and never observe a partially updated set.
type keysetSnapshot struct {
	byId         map[string]crypto.MintKeyset
	activeByUnit map[string]crypto.MintKeyset
}

// KeysetManager holds the mint's keysets behind a single atomic pointer so
// lookups on the hot signing/verification path never take a lock, and a
// rotation becomes visible to new requests the instant the pointer swaps.
type KeysetManager struct {
	snapshot atomic.Pointer[keysetSnapshot]
}

func NewKeysetManager(keysets map[string]crypto.MintKeyset) *KeysetManager {
	km := &KeysetManager{}
	km.store(keysets)
	return km
}

func newSnapshot(keysets map[string]crypto.MintKeyset) *keysetSnapshot {
	byId := make(map[string]crypto.MintKeyset, len(keysets))
	activeByUnit := make(map[string]crypto.MintKeyset)
	for id, keyset := range keysets {
		byId[id] = keyset
		if keyset.Active {
			activeByUnit[keyset.Unit] = keyset
		}
	}
	return &keysetSnapshot{byId: byId, activeByUnit: activeByUnit}
}

func (km *KeysetManager) store(keysets map[string]crypto.MintKeyset) {
	km.snapshot.Store(newSnapshot(keysets))
}

// Lookup returns the keyset with the given id, active or not.
func (km *KeysetManager) Lookup(id string) (crypto.MintKeyset, bool) {
	snap := km.snapshot.Load()
	keyset, ok := snap.byId[id]
	return keyset, ok
}

// ActiveById returns the keyset with the given id only if it is active.
func (km *KeysetManager) ActiveById(id string) (crypto.MintKeyset, bool) {
	keyset, ok := km.Lookup(id)
	if !ok || !keyset.Active {
		return crypto.MintKeyset{}, false
	}
	return keyset, true
}

// ActiveByUnit returns the mint's active keyset for the given unit.
func (km *KeysetManager) ActiveByUnit(unit string) (crypto.MintKeyset, bool) {
	snap := km.snapshot.Load()
	keyset, ok := snap.activeByUnit[unit]
	return keyset, ok
}

// All returns every keyset the mint knows about, active and inactive.
func (km *KeysetManager) All() map[string]crypto.MintKeyset {
	snap := km.snapshot.Load()
	out := make(map[string]crypto.MintKeyset, len(snap.byId))
	for id, keyset := range snap.byId {
		out[id] = keyset
	}
	return out
}

// Rotate deactivates the current active keyset for newKeyset's unit and
// installs newKeyset as the new active one, publishing both changes in a
// single atomic swap. The outgoing keyset keeps signing verification working
// (it is not dropped) until finalExpiry, after which the mint refuses to
// honor proofs under it; it stops signing new blind signatures immediately.
func (km *KeysetManager) Rotate(newKeyset crypto.MintKeyset, finalExpiry uint64) {
	snap := km.snapshot.Load()
	next := make(map[string]crypto.MintKeyset, len(snap.byId)+1)
	for id, keyset := range snap.byId {
		if keyset.Unit == newKeyset.Unit && keyset.Active {
			keyset.Active = false
			keyset.FinalExpiry = finalExpiry
		}
		next[id] = keyset
	}
	next[newKeyset.Id] = newKeyset
	km.store(next)
}
