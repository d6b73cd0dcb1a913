package authz

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/xxh3"

	"github.com/edgeserve/edgeserve/internal/model"
)

// Fingerprint computes the deterministic xxh3-128 fingerprint of a raw API
// key, hex-encoded. Per Design Note §9, API keys are indexed by this
// fingerprint so a request can find its one candidate record in O(1)
// instead of bcrypt-verifying the presented key against every stored key.
func Fingerprint(rawKey string) string {
	h := xxh3.HashString128(rawKey)
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], h.Lo)
	binary.LittleEndian.PutUint64(b[8:], h.Hi)
	return hex.EncodeToString(b[:])
}

// APIKeyIndex is an in-memory fingerprint -> record map, rebuilt from the
// repository at startup and kept current by explicit Put/Remove calls on
// key create/revoke (mirroring how the rule caches are invalidated on
// mutation, §5).
type APIKeyIndex struct {
	byFingerprint *xsync.Map[string, model.APIKeyRecord]
}

// NewAPIKeyIndex builds an index from a snapshot of records, typically
// loaded from the repository at startup.
func NewAPIKeyIndex(records []model.APIKeyRecord) *APIKeyIndex {
	idx := &APIKeyIndex{byFingerprint: xsync.NewMap[string, model.APIKeyRecord]()}
	for _, r := range records {
		idx.byFingerprint.Store(r.Fingerprint, r)
	}
	return idx
}

// Lookup returns the record whose fingerprint matches rawKey's
// fingerprint, or false if none exists or the record is revoked. The
// caller still performs the slow verifier check against VerifierHash;
// this only narrows the candidate set to (at most) one record.
func (idx *APIKeyIndex) Lookup(rawKey string) (model.APIKeyRecord, bool) {
	rec, ok := idx.byFingerprint.Load(Fingerprint(rawKey))
	if !ok || rec.RevokedAtNs != nil {
		return model.APIKeyRecord{}, false
	}
	return rec, true
}

// Put inserts or replaces a record, called synchronously by the admin
// surface when a key is created.
func (idx *APIKeyIndex) Put(rec model.APIKeyRecord) {
	idx.byFingerprint.Store(rec.Fingerprint, rec)
}

// Remove deletes a record by fingerprint, called synchronously when a key
// is revoked or deleted.
func (idx *APIKeyIndex) Remove(fingerprint string) {
	idx.byFingerprint.Delete(fingerprint)
}
