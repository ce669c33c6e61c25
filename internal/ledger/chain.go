package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"qatmarket/internal/domain"
)

// GenesisHash is the prev_hash of a wallet's first entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Hash computes the chained digest of t. Amounts are rendered with two
// decimals and CreatedAt at microsecond precision so a row read back from
// Postgres hashes identically.
func Hash(t *domain.Transaction) string {
	data := fmt.Sprintf("%s:%s:%s:%s:%s:%s:%s:%d",
		t.ID, t.UserID, t.Kind, t.Amount.StringFixed(2), t.Status, t.Reference, t.PrevHash,
		t.CreatedAt.UTC().Truncate(time.Microsecond).UnixNano())
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// ChainBreak identifies the first entry whose link or digest is wrong.
type ChainBreak struct {
	Seq    int64
	Reason string
}

// VerifyChain walks entries in seq order starting from prev.
func VerifyChain(prev string, entries []*domain.Transaction) (string, *ChainBreak) {
	for _, e := range entries {
		if e.PrevHash != prev {
			return prev, &ChainBreak{Seq: e.Seq, Reason: "prev_hash mismatch"}
		}
		if Hash(e) != e.Hash {
			return prev, &ChainBreak{Seq: e.Seq, Reason: "hash mismatch"}
		}
		prev = e.Hash
	}
	return prev, nil
}
