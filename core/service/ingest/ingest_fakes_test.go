package ingest

import (
	"context"
	"fmt"
	"sync"

	"ingest_server/core/domain"
	"ingest_server/core/port/out"
)

// fakeProvider is an in-memory out.MailProvider for pipeline tests.
type fakeProvider struct {
	rootFolders []out.MailFolder
	children    map[string][]out.MailFolder
	messages    map[string][]out.MessageSummary
	details     map[string]*domain.RawMessage
	attachments map[string][]domain.Attachment

	rootCalls  int
	childCalls int

	listErr error
	getErr  error
}

func (f *fakeProvider) ListRootFolders(ctx context.Context) ([]out.MailFolder, error) {
	f.rootCalls++
	return f.rootFolders, nil
}

func (f *fakeProvider) ListChildFolders(ctx context.Context, folderID string) ([]out.MailFolder, error) {
	f.childCalls++
	return f.children[folderID], nil
}

func (f *fakeProvider) ListMessages(ctx context.Context, folderID string, max int) ([]out.MessageSummary, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	msgs := f.messages[folderID]
	if len(msgs) > max {
		msgs = msgs[:max]
	}
	return msgs, nil
}

func (f *fakeProvider) GetMessage(ctx context.Context, messageID string) (*domain.RawMessage, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	raw, ok := f.details[messageID]
	if !ok {
		return nil, out.NewProviderError("fake", out.ProviderErrNotFound, "no such message", nil, false)
	}
	cp := *raw
	return &cp, nil
}

func (f *fakeProvider) GetAttachments(ctx context.Context, messageID string) ([]domain.Attachment, error) {
	return f.attachments[messageID], nil
}

// fakeImageStore records saves and hands back deterministic paths.
type fakeImageStore struct {
	saves []fakeSave
}

type fakeSave struct {
	MessageID string
	Seq       int
	Size      int
}

func (f *fakeImageStore) Save(ctx context.Context, messageID string, seq int, contentType string, data []byte) (*domain.StoredImage, error) {
	f.saves = append(f.saves, fakeSave{MessageID: messageID, Seq: seq, Size: len(data)})
	name := fmt.Sprintf("img_%d.png", seq)
	return &domain.StoredImage{
		FileName:    name,
		ServePath:   "/static/newsletters/" + name,
		MessageID:   messageID,
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

// fakeRepo is an in-memory newsletter repository.
type fakeRepo struct {
	mu        sync.Mutex
	rows      map[string]*domain.Newsletter
	createErr error
	nextID    int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[string]*domain.Newsletter)}
}

func (r *fakeRepo) Exists(ctx context.Context, messageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rows[messageID]
	return ok, nil
}

func (r *fakeRepo) Create(ctx context.Context, n *domain.Newsletter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.rows[n.MessageID]; ok {
		return fmt.Errorf("duplicate message_id %s", n.MessageID)
	}
	r.nextID++
	n.ID = r.nextID
	r.rows[n.MessageID] = n
	return nil
}

func (r *fakeRepo) DeleteByMessageID(ctx context.Context, messageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[messageID]; !ok {
		return false, nil
	}
	delete(r.rows, messageID)
	return true, nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id int64) (*domain.Newsletter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.rows {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, fmt.Errorf("not found")
}

func (r *fakeRepo) ListRecent(ctx context.Context, limit int) ([]*domain.Newsletter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*domain.Newsletter
	for _, n := range r.rows {
		all = append(all, n)
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// fakeSeen is an in-memory seen cache.
type fakeSeen struct {
	mu     sync.Mutex
	ids    map[string]bool
	broken bool
}

func newFakeSeen() *fakeSeen { return &fakeSeen{ids: make(map[string]bool)} }

func (s *fakeSeen) Seen(ctx context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return false, fmt.Errorf("cache down")
	}
	return s.ids[messageID], nil
}

func (s *fakeSeen) MarkSeen(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return fmt.Errorf("cache down")
	}
	s.ids[messageID] = true
	return nil
}

func (s *fakeSeen) Forget(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, messageID)
	return nil
}

// fakeReports records saved run summaries.
type fakeReports struct {
	saved []*domain.RunSummary
}

func (f *fakeReports) SaveRunSummary(ctx context.Context, s *domain.RunSummary) error {
	f.saved = append(f.saved, s)
	return nil
}

func (f *fakeReports) ListRecentRuns(ctx context.Context, limit int) ([]*domain.RunSummary, error) {
	return f.saved, nil
}
