package transaction

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/mobilemoney/server/internal/repo"
)

const (
	referencePrefix    = "TXN"
	referenceSuffixLen = 8
	referenceAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxReferenceTries  = 10
)

// ReferenceGenerator builds references of the form TXN + YYYYMMDD + 8 random characters.
type ReferenceGenerator struct {
	now  func() time.Time
	rand io.Reader
}

// NewReferenceGenerator returns a generator backed by crypto/rand.
func NewReferenceGenerator() *ReferenceGenerator {
	return &ReferenceGenerator{now: time.Now, rand: rand.Reader}
}

// Candidate returns a fresh reference without checking the ledger.
func (g *ReferenceGenerator) Candidate() (string, error) {
	buf := make([]byte, referenceSuffixLen)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", fmt.Errorf("generate reference: %w", err)
	}
	// 256 is not a multiple of 36; the bias is irrelevant for a uniqueness suffix.
	for i, b := range buf {
		buf[i] = referenceAlphabet[int(b)%len(referenceAlphabet)]
	}
	return referencePrefix + g.now().UTC().Format("20060102") + string(buf), nil
}

// Next returns a candidate no existing row holds. The unique constraint on the
// column still has the final word; Engine.insert retries on a collision.
func (g *ReferenceGenerator) Next(ctx context.Context, tx repo.LedgerTx) (string, error) {
	for i := 0; i < maxReferenceTries; i++ {
		ref, err := g.Candidate()
		if err != nil {
			return "", err
		}
		taken, err := tx.ReferenceExists(ctx, ref)
		if err != nil {
			return "", err
		}
		if !taken {
			return ref, nil
		}
	}
	return "", fmt.Errorf("no free reference after %d attempts", maxReferenceTries)
}
