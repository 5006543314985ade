package tokens

import (
	"fmt"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultEncoding is the tiktoken encoding used for exact counts.
	DefaultEncoding = "cl100k_base"
	// DefaultCacheSize is the number of distinct strings whose exact count is memoized.
	DefaultCacheSize = 1000
	// DefaultExactLimit is the input size in bytes above which Count falls
	// back to Estimate instead of running the tokenizer.
	DefaultExactLimit = 256 * 1024
)

// Encoder tokenizes text. Implementations must be safe for concurrent use
// and deterministic: the same text always yields the same count.
type Encoder interface {
	CountTokens(text string) int
}

// Tiktoken is an Encoder backed by a BPE encoding from tiktoken-go.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding (e.g. "cl100k_base", "o200k_base").
// Loading may need to fetch the BPE ranks on first use.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("tokens: get encoding %q: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

// CountTokens returns the number of BPE tokens in text.
func (t *Tiktoken) CountTokens(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// CounterOptions configures NewCounter. Zero values select defaults.
type CounterOptions struct {
	// CacheSize bounds the memo cache; once full, new results are not stored.
	CacheSize int
	// ExactLimit is the byte size above which the estimate is used.
	ExactLimit int
}

// Counter counts tokens exactly through an Encoder, memoizing results for
// previously seen strings. A Counter with a nil Encoder only estimates.
// Safe for concurrent use.
type Counter struct {
	enc        Encoder
	exactLimit int
	cacheSize  int

	mu    sync.RWMutex
	cache map[string]int
}

// NewCounter returns a Counter using enc for exact counts. enc may be nil.
func NewCounter(enc Encoder, opts CounterOptions) *Counter {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.ExactLimit <= 0 {
		opts.ExactLimit = DefaultExactLimit
	}
	return &Counter{
		enc:        enc,
		exactLimit: opts.ExactLimit,
		cacheSize:  opts.CacheSize,
		cache:      make(map[string]int),
	}
}

// Exact reports whether the counter has a tokenizer.
func (c *Counter) Exact() bool {
	return c != nil && c.enc != nil
}

// Approx returns the chars/4 estimate for text.
func (c *Counter) Approx(text string) int {
	return Estimate(text)
}

// Count returns the token count for text. Inputs larger than the exact limit,
// and all inputs when no Encoder is configured, use Estimate.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if !c.Exact() || len(text) > c.exactLimit {
		return Estimate(text)
	}
	c.mu.RLock()
	n, ok := c.cache[text]
	c.mu.RUnlock()
	if ok {
		return n
	}
	n = c.enc.CountTokens(text)
	c.mu.Lock()
	// Full cache stops accepting entries; nothing is evicted.
	if len(c.cache) < c.cacheSize {
		c.cache[text] = n
	}
	c.mu.Unlock()
	return n
}

// Cached returns the number of memoized entries.
func (c *Counter) Cached() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
