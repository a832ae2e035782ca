// Package identifier mints membership ids, transaction ids and QR codes.
//
// Ids are UUIDv7 values rendered as 32 lowercase hex characters behind a
// one-letter prefix. The leading 48 bits are a millisecond timestamp, so ids
// sort by creation time; the remaining 74 bits come from the random source.
// For ten million members minted in the same millisecond the birthday bound
// on a collision is roughly 1e-9, and real traffic spreads far wider.
package identifier

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/points-ledger/internal/model"
)

const (
	MemberPrefix      = "M"
	TransactionPrefix = "T"
	QRPrefix          = "MEMBER_"

	idHexLen    = 32
	qrNonceSize = 16
)

type Clock func() time.Time

type Generator struct {
	mu     sync.Mutex
	random io.Reader
	now    Clock
}

type Option func(*Generator)

func WithRandom(r io.Reader) Option {
	return func(g *Generator) { g.random = r }
}

func WithClock(c Clock) Option {
	return func(g *Generator) { g.now = c }
}

func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		random: rand.Reader,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) NewMembershipID() (string, error) {
	return g.newID(MemberPrefix)
}

func (g *Generator) NewTransactionID() (string, error) {
	return g.newID(TransactionPrefix)
}

// NewQRCode returns MEMBER_<memberID>_<32 uppercase hex>. The nonce carries
// 128 random bits so reissued codes cannot be derived from earlier ones.
func (g *Generator) NewQRCode(memberID string) (string, error) {
	nonce := make([]byte, qrNonceSize)
	if err := g.read(nonce); err != nil {
		return "", err
	}
	return QRPrefix + memberID + "_" + strings.ToUpper(hex.EncodeToString(nonce)), nil
}

func (g *Generator) newID(prefix string) (string, error) {
	var raw [16]byte
	if err := g.read(raw[6:]); err != nil {
		return "", err
	}

	ms := uint64(g.now().UnixMilli())
	raw[0] = byte(ms >> 40)
	raw[1] = byte(ms >> 32)
	raw[2] = byte(ms >> 24)
	raw[3] = byte(ms >> 16)
	raw[4] = byte(ms >> 8)
	raw[5] = byte(ms)

	id, err := uuid.FromBytes(raw[:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrRandomSource, err)
	}
	// version 7, RFC 4122 variant
	id[6] = (id[6] & 0x0f) | 0x70
	id[8] = (id[8] & 0x3f) | 0x80

	return prefix + hex.EncodeToString(id[:]), nil
}

func (g *Generator) read(buf []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return fmt.Errorf("%w: %v", model.ErrRandomSource, err)
	}
	return nil
}

// IsMembershipID reports whether s has the shape produced by NewMembershipID.
func IsMembershipID(s string) bool {
	return hasIDShape(s, MemberPrefix)
}

func IsTransactionID(s string) bool {
	return hasIDShape(s, TransactionPrefix)
}

func hasIDShape(s, prefix string) bool {
	if len(s) != len(prefix)+idHexLen || !strings.HasPrefix(s, prefix) {
		return false
	}
	id, err := uuid.Parse(s[len(prefix):])
	return err == nil && id.Version() == 7
}

// Timestamp extracts the creation time embedded in an id.
func Timestamp(id string) (time.Time, bool) {
	if len(id) != 1+idHexLen {
		return time.Time{}, false
	}
	u, err := uuid.Parse(id[1:])
	if err != nil || u.Version() != 7 {
		return time.Time{}, false
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec), true
}
