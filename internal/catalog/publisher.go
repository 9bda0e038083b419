package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fieldsight-io/fieldsight/internal/metrics"
	"github.com/fieldsight-io/fieldsight/internal/objectstore"
	"github.com/fieldsight-io/fieldsight/pkg/types"
)

const (
	contentType = "application/json"

	// Collection link updates race across concurrent runs; each loser
	// re-reads and retries against the fresh ETag.
	maxLinkAttempts = 8
)

// Publisher writes STAC documents to the object store. Item documents are
// plain overwrites keyed on identity, so publishing is idempotent. The
// collection's link list is the only shared document; it advances by
// compare-and-swap on the object ETag so a link lands exactly once no
// matter how many times the same item is republished.
type Publisher struct {
	objects objectstore.Store
	logger  *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(objects objectstore.Store, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{objects: objects, logger: logger}
}

// EnsureLayout creates the root catalog and collection documents if absent.
// Safe to call on every startup.
func (p *Publisher) EnsureLayout(ctx context.Context) error {
	if err := p.putIfAbsent(ctx, RootKey, newRootDoc()); err != nil {
		return fmt.Errorf("ensuring root catalog: %w", err)
	}
	if err := p.putIfAbsent(ctx, CollectionKey, newCollectionDoc()); err != nil {
		return fmt.Errorf("ensuring collection: %w", err)
	}
	return nil
}

func (p *Publisher) putIfAbsent(ctx context.Context, key string, doc any) error {
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	_, err = p.objects.Put(ctx, key, body, objectstore.PutOptions{IfAbsent: true, ContentType: contentType})
	if errors.Is(err, objectstore.ErrPreconditionFailed) {
		return nil
	}
	return err
}

// Publish upserts one item and links it into the collection. Returns the
// item's object key. Republishing the same identity overwrites the document
// in place and leaves the link list untouched.
func (p *Publisher) Publish(ctx context.Context, item types.CatalogItem) (string, error) {
	key := ItemKey(item.Identity)

	body, err := json.MarshalIndent(newItemDoc(item), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding item %s: %w", item.Identity.ID(), err)
	}
	if _, err := p.objects.Put(ctx, key, body, objectstore.PutOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("writing item %s: %w", key, err)
	}

	if err := p.linkItem(ctx, item.Identity); err != nil {
		return "", err
	}

	metrics.PublishesTotal.Add(1)
	p.logger.Info("catalog item published", "item", item.Identity.ID(), "key", key)
	return key, nil
}

// linkItem adds the item link to the collection via ETag CAS.
func (p *Publisher) linkItem(ctx context.Context, id types.ItemIdentity) error {
	href := itemHref(id)

	for attempt := 1; attempt <= maxLinkAttempts; attempt++ {
		obj, err := p.objects.Get(ctx, CollectionKey)
		if err != nil {
			return fmt.Errorf("reading collection: %w", err)
		}

		var doc collectionDoc
		if err := json.Unmarshal(obj.Body, &doc); err != nil {
			return fmt.Errorf("decoding collection: %w", err)
		}

		if hasLink(doc.Links, href) {
			return nil
		}
		doc.Links = append(doc.Links, link{
			Rel:   "item",
			Href:  href,
			Type:  contentType,
			Title: id.ID(),
		})

		body, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding collection: %w", err)
		}

		_, err = p.objects.Put(ctx, CollectionKey, body, objectstore.PutOptions{
			IfMatch:     obj.ETag,
			ContentType: contentType,
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, objectstore.ErrPreconditionFailed) {
			return fmt.Errorf("writing collection: %w", err)
		}

		metrics.PublishConflicts.Add(1)
		p.logger.Warn("collection link conflict, retrying", "item", id.ID(), "attempt", attempt)
	}

	return &types.PublishConflictError{Key: CollectionKey, Attempts: maxLinkAttempts}
}

func hasLink(links []link, href string) bool {
	for _, l := range links {
		if l.Rel == "item" && l.Href == href {
			return true
		}
	}
	return false
}

// GetItem reads back a published item by identity.
func (p *Publisher) GetItem(ctx context.Context, id types.ItemIdentity) (*types.CatalogItem, error) {
	obj, err := p.objects.Get(ctx, ItemKey(id))
	if err != nil {
		return nil, err
	}
	var doc itemDoc
	if err := json.Unmarshal(obj.Body, &doc); err != nil {
		return nil, fmt.Errorf("decoding item %s: %w", id.ID(), err)
	}
	item := doc.toCatalogItem()
	return &item, nil
}

// ListItemLinks returns the hrefs of every linked item, for status reporting.
func (p *Publisher) ListItemLinks(ctx context.Context) ([]string, error) {
	obj, err := p.objects.Get(ctx, CollectionKey)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading collection: %w", err)
	}
	var doc collectionDoc
	if err := json.Unmarshal(obj.Body, &doc); err != nil {
		return nil, fmt.Errorf("decoding collection: %w", err)
	}
	var hrefs []string
	for _, l := range doc.Links {
		if l.Rel == "item" {
			hrefs = append(hrefs, l.Href)
		}
	}
	return hrefs, nil
}
