// Package ir provides the value model shared by every layer of attest.
//
// Record content fields are carried as sealed IR values so that the same
// record always serializes to the same bytes, whichever backend stored it.
//
// Key constraints:
//   - NO float types anywhere - integers are int64 and must fit in an
//     IEEE-754 double (|n| <= 2^53-1) so canonical JSON stays exact
//   - NO null - absent fields are omitted, never nulled
//   - Canonical JSON follows RFC 8785 with NFC-normalized strings
//
// ir imports nothing internal; every other package may import it.
package ir
