package enrich

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/hashicorp/golang-lru/v2/expirable"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/bjarneo/shelfie/internal/listing"
	"github.com/bjarneo/shelfie/internal/metrics"
)

var log = logging.Logger("enrich")

// annotateWorkers bounds concurrent provider lookups in Annotate.
const annotateWorkers = 4

// Metadata is what a provider knows about a book.
type Metadata struct {
	Key            string   `json:"key,omitempty"`
	Title          string   `json:"title"`
	Authors        []string `json:"authors,omitempty"`
	FirstPublished int      `json:"firstPublished,omitempty"`
	ISBN           string   `json:"isbn,omitempty"`
	CoverURL       string   `json:"coverUrl,omitempty"`
	Subjects       []string `json:"subjects,omitempty"`
}

// Provider looks up a book. It returns nil metadata and a nil error when the
// book is unknown.
type Provider interface {
	Lookup(ctx context.Context, title, author string) (*Metadata, error)
}

// Result is a listing entry with the metadata found for it, if any.
type Result struct {
	listing.Entry
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Cache memoizes provider answers, including unknown books, for a fixed TTL.
// Provider failures are not cached.
type Cache struct {
	provider Provider
	timeout  time.Duration
	lru      *expirable.LRU[string, *Metadata]
	group    singleflight.Group
}

// NewCache wraps provider. Each provider call is bounded by timeout.
func NewCache(provider Provider, size int, ttl, timeout time.Duration) *Cache {
	return &Cache{
		provider: provider,
		timeout:  timeout,
		lru:      expirable.NewLRU[string, *Metadata](size, nil, ttl),
	}
}

// Lookup returns the metadata of a book and whether any was found. Errors
// are logged and reported as not found.
func (c *Cache) Lookup(ctx context.Context, title, author string) (*Metadata, bool) {
	key := Key(title, author)
	if key == "" {
		return nil, false
	}

	if meta, ok := c.lru.Get(key); ok {
		metrics.EnrichLookups.WithLabelValues("hit").Inc()
		return meta, meta != nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		lctx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			lctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		meta, err := c.provider.Lookup(lctx, title, author)
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, meta)
		return meta, nil
	})
	if err != nil {
		metrics.EnrichLookups.WithLabelValues("error").Inc()
		log.Warnw("metadata lookup failed", "title", title, "author", author, "error", err)
		return nil, false
	}

	metrics.EnrichLookups.WithLabelValues("miss").Inc()
	meta := v.(*Metadata)
	return meta, meta != nil
}

// Len returns the number of cached answers.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Annotate looks up every entry and returns the results in entry order.
func (c *Cache) Annotate(ctx context.Context, entries []listing.Entry) []Result {
	out := make([]Result, len(entries))

	var g errgroup.Group
	g.SetLimit(annotateWorkers)
	for i, e := range entries {
		out[i].Entry = e
		i, e := i, e
		g.Go(func() error {
			if meta, ok := c.Lookup(ctx, e.Title, e.Author); ok {
				out[i].Metadata = meta
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Key normalizes a title and author into a cache key: lower case, with
// punctuation dropped and whitespace collapsed. It is "" without a title.
func Key(title, author string) string {
	t := normalize(title)
	if t == "" {
		return ""
	}
	return t + "|" + normalize(author)
}

func normalize(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, " ")
}
