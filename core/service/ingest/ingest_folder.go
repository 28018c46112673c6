// Package ingest holds the per-run newsletter processing services: folder
// resolution, sender validation, the HTML trust pipeline and the run
// coordinator that sequences them.
package ingest

import (
	"context"
	"strings"

	"ingest_server/core/port/out"
	"ingest_server/pkg/apperr"
	"ingest_server/pkg/logger"
)

// FolderSpec is a configured folder reference. An explicit ID wins; Ref
// is either a slash-separated path from the mailbox root or a bare
// display name.
type FolderSpec struct {
	ID  string
	Ref string
}

// ResolvedFolder is the outcome of one resolution, valid for a single
// run. Folders may be renamed between runs, so nothing caches this.
type ResolvedFolder struct {
	FolderID    string
	DisplayPath string
}

// FolderResolver maps a FolderSpec to a concrete remote folder id.
type FolderResolver struct {
	provider out.MailProvider
	log      *logger.Logger
}

func NewFolderResolver(provider out.MailProvider) *FolderResolver {
	return &FolderResolver{
		provider: provider,
		log:      logger.WithField("component", "folder_resolver"),
	}
}

// Resolve resolves spec in priority order: explicit id verbatim, then
// slash path segment by segment, then bare display name over all
// folders. Name comparisons are case-insensitive.
func (r *FolderResolver) Resolve(ctx context.Context, spec FolderSpec) (*ResolvedFolder, error) {
	if spec.ID != "" {
		return &ResolvedFolder{FolderID: spec.ID, DisplayPath: spec.ID}, nil
	}

	ref := strings.Trim(spec.Ref, "/")
	if ref == "" {
		return nil, apperr.FolderNotFound(spec.Ref, nil)
	}

	if strings.Contains(ref, "/") {
		return r.resolvePath(ctx, ref)
	}
	return r.resolveName(ctx, ref)
}

func (r *FolderResolver) resolvePath(ctx context.Context, path string) (*ResolvedFolder, error) {
	segments := strings.Split(path, "/")

	folders, err := r.provider.ListRootFolders(ctx)
	if err != nil {
		return nil, err
	}

	var current *out.MailFolder
	resolved := make([]string, 0, len(segments))
	for i, segment := range segments {
		match := findFolder(folders, segment)
		if match == nil {
			return nil, apperr.FolderNotFound(path, nil).
				WithDetail("missing_segment", segment).
				WithDetail("resolved_prefix", strings.Join(resolved, "/"))
		}
		current = match
		resolved = append(resolved, match.DisplayName)

		if i < len(segments)-1 {
			folders, err = r.provider.ListChildFolders(ctx, current.ID)
			if err != nil {
				return nil, err
			}
		}
	}

	return &ResolvedFolder{FolderID: current.ID, DisplayPath: strings.Join(resolved, "/")}, nil
}

func (r *FolderResolver) resolveName(ctx context.Context, name string) (*ResolvedFolder, error) {
	folders, err := r.provider.ListRootFolders(ctx)
	if err != nil {
		return nil, err
	}

	var match *out.MailFolder
	for i := range folders {
		if strings.EqualFold(folders[i].DisplayName, name) {
			if match == nil {
				match = &folders[i]
			} else {
				// Duplicate display names resolve to the first
				// encountered; surfaced so an operator can switch the
				// config to an explicit id or path.
				r.log.WithFields(map[string]any{
					"folder":  name,
					"used_id": match.ID,
					"also_id": folders[i].ID,
				}).Warn("ambiguous folder display name, using first match")
			}
		}
	}
	if match == nil {
		return nil, apperr.FolderNotFound(name, nil)
	}

	return &ResolvedFolder{FolderID: match.ID, DisplayPath: match.DisplayName}, nil
}

func findFolder(folders []out.MailFolder, name string) *out.MailFolder {
	for i := range folders {
		if strings.EqualFold(folders[i].DisplayName, name) {
			return &folders[i]
		}
	}
	return nil
}
