package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"rewardcore/services/model"
)

// hashPrecision is the timestamp precision every supported backend keeps.
const hashPrecision = time.Millisecond

func hashFields(t *model.WalletTransaction) map[string]string {
	platform := ""
	if t.PlatformID != nil {
		platform = strconv.FormatInt(*t.PlatformID, 10)
	}
	return map[string]string{
		"id":            strconv.FormatInt(t.ID, 10),
		"user_id":       strconv.FormatInt(t.UserID, 10),
		"type":          string(t.Type),
		"coins":         strconv.FormatInt(t.Coins, 10),
		"reason":        t.Reason,
		"reference":     t.Reference,
		"platform_id":   platform,
		"created_at":    t.CreatedAt.UTC().Truncate(hashPrecision).Format(time.RFC3339Nano),
		"previous_hash": t.PreviousHash,
	}
}

// GenerateHash is sha256 over the sorted k=v pairs joined by "|".
func GenerateHash(t *model.WalletTransaction) string {
	fields := hashFields(t)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// VerifyChain checks a user's transactions, oldest first. It returns the
// index of the first broken link, or -1.
func VerifyChain(txs []*model.WalletTransaction) int {
	prev := ""
	for i, t := range txs {
		if t.PreviousHash != prev || t.Hash != GenerateHash(t) {
			return i
		}
		prev = t.Hash
	}
	return -1
}
