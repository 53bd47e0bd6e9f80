package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

// Domain prefixes for content digests.
// Version suffix enables future algorithm migration.
const (
	DomainModels = "syncd/models/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest computes a stable digest of a bootstrap snapshot.
// Groups and models are ordered by type and id first, so two stores holding
// the same records produce the same digest regardless of listing order.
// Empty groups are ignored.
func Digest(models Models) (string, error) {
	types := make([]string, 0, len(models))
	for t, group := range models {
		if len(group) > 0 {
			types = append(types, t)
		}
	}
	slices.Sort(types)

	obj := make(IRObject, len(types))
	for _, t := range types {
		group := slices.Clone(models[t])
		slices.SortFunc(group, func(a, b Model) int { return strings.Compare(a.ID, b.ID) })

		arr := make(IRArray, len(group))
		for i, m := range group {
			data := m.Data
			if data == nil {
				data = IRNull{}
			}
			arr[i] = IRObject{"id": IRString(m.ID), "data": data}
		}
		obj[t] = arr
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("Digest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainModels, canonical), nil
}
