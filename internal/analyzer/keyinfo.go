package analyzer

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Kind classifies a piece of key information.
type Kind string

const (
	KindOTP   Kind = "otp"
	KindEmail Kind = "email"
	KindPhone Kind = "phone"
	KindName  Kind = "name"
	KindURL   Kind = "url"
	KindPrice Kind = "price"
	KindDate  Kind = "date"
	KindOrder Kind = "order"
	KindOther Kind = "other"
)

var kindAliases = map[string]Kind{
	"code":              KindOTP,
	"verification":      KindOTP,
	"verification_code": KindOTP,
	"2fa":               KindOTP,
	"mail":              KindEmail,
	"telephone":         KindPhone,
	"phone_number":      KindPhone,
	"person":            KindName,
	"company":           KindName,
	"link":              KindURL,
	"website":           KindURL,
	"amount":            KindPrice,
	"money":             KindPrice,
	"time":              KindDate,
	"datetime":          KindDate,
	"tracking":          KindOrder,
	"order_number":      KindOrder,
	"tracking_number":   KindOrder,
}

// ParseKind maps a provider-supplied type label onto a known Kind. Labels
// outside allowed fall back to KindOther.
func ParseKind(label string, allowed map[Kind]bool) Kind {
	l := strings.ToLower(strings.TrimSpace(label))
	l = strings.NewReplacer("-", "_", " ", "_").Replace(l)

	k := Kind(l)
	if alias, ok := kindAliases[l]; ok {
		k = alias
	}
	if allowed != nil && !allowed[k] {
		return KindOther
	}
	switch k {
	case KindOTP, KindEmail, KindPhone, KindName, KindURL, KindPrice, KindDate, KindOrder:
		return k
	}
	return KindOther
}

// KeyInfo is one salient item remembered across analysis cycles.
type KeyInfo struct {
	Kind        Kind      `json:"kind"`
	Text        string    `json:"text"`
	Context     string    `json:"context,omitempty"`
	Application string    `json:"application,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// foldCase builds a fresh Caser per call; Casers are not safe for
// concurrent use.
func foldCase(s string) string {
	return cases.Fold().String(s)
}

// Normalize returns the dedup key text for an item of kind k: NFKC, case
// folded, whitespace collapsed. Codes, numbers and phone numbers also drop
// separators so "847 291" and "847-291" collide.
func Normalize(k Kind, text string) string {
	s := foldCase(norm.NFKC.String(text))
	switch k {
	case KindOTP, KindPhone, KindOrder:
		return strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) || r == '-' || r == '.' || r == '(' || r == ')' {
				return -1
			}
			return r
		}, s)
	case KindURL:
		s = strings.TrimSpace(s)
		s = strings.TrimPrefix(s, "https://")
		s = strings.TrimPrefix(s, "http://")
		s = strings.TrimPrefix(s, "www.")
		return strings.TrimRight(s, "/")
	}
	return strings.Join(strings.Fields(s), " ")
}

type itemKey struct {
	kind Kind
	text string
}

// KeyInfoCache holds key information with per-item expiry, independent of
// the text buffer's retention.
type KeyInfoCache struct {
	mu       sync.RWMutex
	items    map[itemKey]*KeyInfo
	ttl      time.Duration
	maxItems int
}

// NewKeyInfoCache creates a cache whose items live for ttl after they were
// last seen. maxItems <= 0 means unbounded.
func NewKeyInfoCache(ttl time.Duration, maxItems int) *KeyInfoCache {
	return &KeyInfoCache{
		items:    make(map[itemKey]*KeyInfo),
		ttl:      ttl,
		maxItems: maxItems,
	}
}

// Upsert inserts item, or refreshes the expiry of an existing item with the
// same kind and normalized text. It reports whether the item was new.
func (c *KeyInfoCache) Upsert(item KeyInfo, now time.Time) bool {
	text := strings.TrimSpace(item.Text)
	if text == "" {
		return false
	}
	key := itemKey{kind: item.Kind, text: Normalize(item.Kind, text)}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[key]; ok && now.Before(existing.ExpiresAt) {
		existing.LastSeen = now
		existing.ExpiresAt = now.Add(c.ttl)
		if item.Context != "" {
			existing.Context = item.Context
		}
		return false
	}

	item.Text = text
	item.FirstSeen = now
	item.LastSeen = now
	item.ExpiresAt = now.Add(c.ttl)
	c.items[key] = &item

	if c.maxItems > 0 && len(c.items) > c.maxItems {
		c.evictOldestLocked(key)
	}
	return true
}

// evictOldestLocked drops the least recently seen item other than keep.
func (c *KeyInfoCache) evictOldestLocked(keep itemKey) {
	var oldest itemKey
	var oldestSeen time.Time
	first := true
	for k, it := range c.items {
		if k == keep {
			continue
		}
		if first || it.LastSeen.Before(oldestSeen) {
			oldest, oldestSeen, first = k, it.LastSeen, false
		}
	}
	if !first {
		delete(c.items, oldest)
	}
}

// Expire drops items whose expiry is not after now and returns how many
// were dropped.
func (c *KeyInfoCache) Expire(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, it := range c.items {
		if !now.Before(it.ExpiresAt) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// List returns live items, most recently seen first.
func (c *KeyInfoCache) List(now time.Time) []KeyInfo {
	return c.Recent(now, 0)
}

// Recent returns live items seen within the last d, most recently seen
// first. d <= 0 returns all live items.
func (c *KeyInfoCache) Recent(now time.Time, d time.Duration) []KeyInfo {
	c.mu.RLock()
	out := make([]KeyInfo, 0, len(c.items))
	for _, it := range c.items {
		if !now.Before(it.ExpiresAt) {
			continue
		}
		if d > 0 && now.Sub(it.LastSeen) > d {
			continue
		}
		out = append(out, *it)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Text < out[j].Text
	})
	return out
}

// Len returns the number of stored items, expired or not.
func (c *KeyInfoCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
