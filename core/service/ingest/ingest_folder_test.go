package ingest

import (
	"context"
	"testing"

	"ingest_server/core/port/out"
	"ingest_server/pkg/apperr"
)

func mailboxFixture() *fakeProvider {
	return &fakeProvider{
		rootFolders: []out.MailFolder{
			{ID: "inbox-id", DisplayName: "Inbox", ChildFolderCount: 2},
			{ID: "archive-id", DisplayName: "Archive"},
			{ID: "news-id", DisplayName: "Newsletters"},
			{ID: "news-dup-id", DisplayName: "newsletters"},
		},
		children: map[string][]out.MailFolder{
			"inbox-id": {
				{ID: "approved-id", DisplayName: "Approved"},
				{ID: "pending-id", DisplayName: "Pending"},
			},
		},
	}
}

func TestResolve_ExplicitID(t *testing.T) {
	p := mailboxFixture()
	r := NewFolderResolver(p)

	folder, err := r.Resolve(context.Background(), FolderSpec{ID: "verbatim-id", Ref: "Inbox"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if folder.FolderID != "verbatim-id" {
		t.Errorf("FolderID = %q, want verbatim-id", folder.FolderID)
	}
	if p.rootCalls != 0 || p.childCalls != 0 {
		t.Errorf("explicit id made %d root and %d child lookups, want none", p.rootCalls, p.childCalls)
	}
}

func TestResolve_Path(t *testing.T) {
	p := mailboxFixture()
	r := NewFolderResolver(p)

	folder, err := r.Resolve(context.Background(), FolderSpec{Ref: "inbox/approved"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if folder.FolderID != "approved-id" {
		t.Errorf("FolderID = %q, want approved-id", folder.FolderID)
	}
	if folder.DisplayPath != "Inbox/Approved" {
		t.Errorf("DisplayPath = %q, want Inbox/Approved", folder.DisplayPath)
	}
	if p.rootCalls != 1 || p.childCalls != 1 {
		t.Errorf("made %d root and %d child lookups, want 1 and 1", p.rootCalls, p.childCalls)
	}
}

func TestResolve_PathMissingSegment(t *testing.T) {
	r := NewFolderResolver(mailboxFixture())

	_, err := r.Resolve(context.Background(), FolderSpec{Ref: "Inbox/Rejected"})
	if err == nil {
		t.Fatal("Resolve() error = nil, want folder not found")
	}
	if !apperr.Is(err, apperr.CodeFolderNotFound) {
		t.Errorf("error code = %s, want FOLDER_NOT_FOUND", apperr.Code(err))
	}
}

func TestResolve_BareName(t *testing.T) {
	tests := []struct {
		name   string
		ref    string
		wantID string
	}{
		{"case insensitive", "ARCHIVE", "archive-id"},
		{"duplicate resolves to first", "Newsletters", "news-id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewFolderResolver(mailboxFixture())
			folder, err := r.Resolve(context.Background(), FolderSpec{Ref: tt.ref})
			if err != nil {
				t.Fatalf("Resolve(%q) error = %v", tt.ref, err)
			}
			if folder.FolderID != tt.wantID {
				t.Errorf("FolderID = %q, want %q", folder.FolderID, tt.wantID)
			}
		})
	}
}

func TestResolve_NameNotFound(t *testing.T) {
	r := NewFolderResolver(mailboxFixture())

	_, err := r.Resolve(context.Background(), FolderSpec{Ref: "Spam"})
	if !apperr.Is(err, apperr.CodeFolderNotFound) {
		t.Fatalf("error = %v, want FOLDER_NOT_FOUND", err)
	}
}
