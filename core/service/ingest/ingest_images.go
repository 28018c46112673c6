package ingest

import (
	"context"
	"strings"

	"ingest_server/core/domain"
	"ingest_server/core/port/out"
	"ingest_server/pkg/logger"
)

// ResolvedImages is the outcome of one message's cid resolution pass.
type ResolvedImages struct {
	HTML          domain.ResolvedHTML
	HeroImagePath *string
	Stored        []domain.StoredImage
}

// InlineImageResolver rewrites cid: image references to locally
// servable asset paths. One resolver instance covers one ingestion run:
// the sequence counter feeding file naming is run-local, which is why
// runs process messages sequentially.
type InlineImageResolver struct {
	store out.ImageStore
	seq   int
	log   *logger.Logger
}

func NewInlineImageResolver(store out.ImageStore) *InlineImageResolver {
	return &InlineImageResolver{
		store: store,
		log:   logger.WithField("component", "image_resolver"),
	}
}

// Resolve scans src attributes for cid: references and replaces each
// with the serve path of the attachment payload written to disk. The
// same content id referenced twice resolves to one saved file. A cid
// with no matching attachment is logged and left in place; the
// sanitizer's URL-scheme check drops it later. The first resolved
// attachment with an image content type becomes the hero image.
func (r *InlineImageResolver) Resolve(ctx context.Context, src domain.UnwrappedHTML, attachments []domain.Attachment, messageID string) (*ResolvedImages, error) {
	result := &ResolvedImages{HTML: domain.ResolvedHTML(src)}

	byCID := make(map[string]*domain.Attachment)
	for i := range attachments {
		if cid := normalizeCID(attachments[i].ContentID); cid != "" {
			byCID[cid] = &attachments[i]
		}
	}
	if len(byCID) == 0 && !strings.Contains(strings.ToLower(string(src)), "cid:") {
		return result, nil
	}

	log := r.log.WithMessage(messageID)
	resolved := make(map[string]string) // cid -> serve path
	var saveErr error

	rewritten := rewriteTagAttrs(string(src), func(tag string, attrs []htmlAttr) bool {
		if saveErr != nil {
			return false
		}
		changed := false
		for i := range attrs {
			if !strings.EqualFold(attrs[i].Key, "src") {
				continue
			}
			val := strings.TrimSpace(attrs[i].Val)
			if len(val) < 4 || !strings.EqualFold(val[:4], "cid:") {
				continue
			}
			cid := normalizeCID(val[4:])

			if path, ok := resolved[cid]; ok {
				attrs[i].Val = path
				changed = true
				continue
			}

			att, ok := byCID[cid]
			if !ok {
				log.WithField("cid", cid).Warn("cid reference has no matching attachment, leaving for sanitizer to drop")
				continue
			}

			img, err := r.store.Save(ctx, messageID, r.seq, att.ContentType, att.Data)
			if err != nil {
				saveErr = err
				return false
			}
			r.seq++

			resolved[cid] = img.ServePath
			result.Stored = append(result.Stored, *img)
			if result.HeroImagePath == nil && att.IsImage() {
				hero := img.ServePath
				result.HeroImagePath = &hero
			}

			attrs[i].Val = img.ServePath
			changed = true
		}
		return changed
	})

	if saveErr != nil {
		return nil, saveErr
	}
	result.HTML = domain.ResolvedHTML(rewritten)
	return result, nil
}

// normalizeCID strips the angle-bracket wrapping content-id headers
// commonly carry and lowercases for case-insensitive lookup.
func normalizeCID(cid string) string {
	cid = strings.TrimSpace(cid)
	cid = strings.TrimPrefix(cid, "<")
	cid = strings.TrimSuffix(cid, ">")
	return strings.ToLower(cid)
}
