package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/samber/lo"
	"golang.org/x/xerrors"
)

// DefaultEndpoint is the Open Library search API.
const DefaultEndpoint = "https://openlibrary.org/search.json"

const (
	coverURL    = "https://covers.openlibrary.org/b/id/%d-M.jpg"
	maxSubjects = 5
	userAgent   = "shelfie (+https://github.com/bjarneo/shelfie)"
)

// OpenLibrary looks books up with the Open Library search API.
type OpenLibrary struct {
	endpoint string
	client   *http.Client
}

// NewOpenLibrary creates a provider for endpoint. A nil client uses
// http.DefaultClient.
func NewOpenLibrary(endpoint string, client *http.Client) *OpenLibrary {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenLibrary{endpoint: endpoint, client: client}
}

type searchResponse struct {
	NumFound int `json:"numFound"`
	Docs     []struct {
		Key              string   `json:"key"`
		Title            string   `json:"title"`
		AuthorName       []string `json:"author_name"`
		FirstPublishYear int      `json:"first_publish_year"`
		ISBN             []string `json:"isbn"`
		CoverID          int      `json:"cover_i"`
		Subject          []string `json:"subject"`
	} `json:"docs"`
}

// Lookup returns the best match for title and author.
func (o *OpenLibrary) Lookup(ctx context.Context, title, author string) (*Metadata, error) {
	q := url.Values{}
	q.Set("title", title)
	if author != "" {
		q.Set("author", author)
	}
	q.Set("limit", "1")
	q.Set("fields", "key,title,author_name,first_publish_year,isbn,cover_i,subject")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, xerrors.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, xerrors.Errorf("searching open library: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.Errorf("open library returned %s", resp.Status)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, xerrors.Errorf("decoding open library response: %w", err)
	}
	if len(sr.Docs) == 0 {
		return nil, nil
	}

	doc := sr.Docs[0]
	meta := &Metadata{
		Key:            doc.Key,
		Title:          doc.Title,
		Authors:        doc.AuthorName,
		FirstPublished: doc.FirstPublishYear,
		Subjects:       lo.Slice(doc.Subject, 0, maxSubjects),
	}
	if len(doc.ISBN) > 0 {
		meta.ISBN = doc.ISBN[0]
	}
	if doc.CoverID > 0 {
		meta.CoverURL = fmt.Sprintf(coverURL, doc.CoverID)
	}
	return meta, nil
}
