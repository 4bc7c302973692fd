package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// DomainStatement separates statement identity hashes from any other
// SHA-256 use. The version suffix tracks StatementVersion.
const DomainStatement = "stitch/statement/v" + StatementVersion

// hashWithDomain computes SHA256(domain + 0x00 + field + 0x00 + ...).
// Null separators keep field boundaries unambiguous.
func hashWithDomain(domain string, fields ...string) string {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, f := range fields {
		h.Write([]byte{0x00})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// StatementID computes the content-addressed identity of a statement.
// Origin and seq are excluded: the same fact written by two runs is one
// statement.
func StatementID(entityID, schema, prop, value, dataset string) string {
	return hashWithDomain(DomainStatement, entityID, schema, prop, value, dataset)
}
