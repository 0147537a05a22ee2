package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"rewardcore/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

const (
	PrefixCredit = "CR"
	PrefixDebit  = "DB"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

// Generator hands out human-readable wallet transaction references such as
// CR-260601-00AKX.
type Generator interface {
	NextCreditCode(ctx context.Context) (string, error)
	NextDebitCode(ctx context.Context) (string, error)
}

type RedisGenerator struct {
	rdb redis.Cmdable
	now func() time.Time
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb: p.Redis,
		now: time.Now,
	}
}

func (g *RedisGenerator) NextCreditCode(ctx context.Context) (string, error) {
	return g.nextDailyCode(ctx, PrefixCredit)
}

func (g *RedisGenerator) NextDebitCode(ctx context.Context) (string, error) {
	return g.nextDailyCode(ctx, PrefixDebit)
}

func (g *RedisGenerator) nextDailyCode(ctx context.Context, prefix string) (string, error) {
	now := g.now().UTC()
	day := now.Format("060102")
	key := rediskey.BuildSequenceKey(prefix, day)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}

	if seq == 1 {
		endOfDay := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		_ = g.rdb.Expire(ctx, key, endOfDay.Sub(now)+time.Hour).Err()
	}

	return FormatCode(prefix, day, seq, randomAlphaNumeric(2)), nil
}

// FormatCode renders PREFIX-YYMMDD-SEQ+SUFFIX with the sequence in base36,
// padded to three characters.
func FormatCode(prefix, day string, seq int64, suffix string) string {
	encoded := strings.ToUpper(strconv.FormatInt(seq, 36))
	if len(encoded) < 3 {
		encoded = strings.Repeat("0", 3-len(encoded)) + encoded
	}
	return fmt.Sprintf("%s-%s-%s%s", prefix, day, encoded, suffix)
}

// MemoryGenerator keeps per-day counters in process. Codes are unique only
// within one process.
type MemoryGenerator struct {
	mu       sync.Mutex
	counters map[string]int64
	now      func() time.Time
}

func NewMemoryGenerator() *MemoryGenerator {
	return &MemoryGenerator{counters: make(map[string]int64), now: time.Now}
}

func (g *MemoryGenerator) NextCreditCode(ctx context.Context) (string, error) {
	return g.next(PrefixCredit), nil
}

func (g *MemoryGenerator) NextDebitCode(ctx context.Context) (string, error) {
	return g.next(PrefixDebit), nil
}

func (g *MemoryGenerator) next(prefix string) string {
	day := g.now().UTC().Format("060102")
	key := rediskey.BuildSequenceKey(prefix, day)

	g.mu.Lock()
	g.counters[key]++
	seq := g.counters[key]
	g.mu.Unlock()

	return FormatCode(prefix, day, seq, "")
}

func randomAlphaNumeric(n int) string {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return ""
		}
		b[i] = chars[num.Int64()]
	}
	return string(b)
}
