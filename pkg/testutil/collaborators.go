package testutil

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docflow/docflow/pkg/protocol"
)

// ContentService is an in-memory content service. It records every call and
// tracks how many calls are in flight at once.
type ContentService struct {
	mu        sync.Mutex
	documents map[string]*protocol.Document
	transfers []protocol.TransferRequest
	updates   map[string][]protocol.MetadataPatch

	// Delay is applied inside every call.
	Delay time.Duration
	// TransferErr, when set, is returned by Transfer for the given document
	// ids. A nil-keyed entry is not consulted.
	TransferErr map[string]error
	// TransferFailures makes the first N Transfer calls fail with TransferFailureErr.
	TransferFailures   int
	TransferFailureErr error

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func NewContentService(docs ...*protocol.Document) *ContentService {
	s := &ContentService{
		documents: make(map[string]*protocol.Document),
		updates:   make(map[string][]protocol.MetadataPatch),
	}

	for _, d := range docs {
		s.documents[d.ID] = d
	}

	return s
}

// Add stores additional documents.
func (s *ContentService) Add(docs ...*protocol.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range docs {
		s.documents[d.ID] = d
	}
}

// Document returns a fixture with the given id and metadata.
func Document(id string, metadata map[string]any) *protocol.Document {
	if metadata == nil {
		metadata = map[string]any{}
	}

	return &protocol.Document{ID: id, Name: id + ".docx", Library: "Documents", Path: "/Documents/" + id, Metadata: metadata}
}

func (s *ContentService) enter() func() {
	n := s.inFlight.Add(1)

	for {
		peak := s.maxInFlight.Load()
		if n <= peak || s.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	if s.Delay > 0 {
		time.Sleep(s.Delay)
	}

	return func() { s.inFlight.Add(-1) }
}

// MaxInFlight is the highest number of concurrent calls observed.
func (s *ContentService) MaxInFlight() int {
	return int(s.maxInFlight.Load())
}

func (s *ContentService) GetDocument(_ context.Context, id string) (*protocol.Document, error) {
	defer s.enter()()

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, protocol.ErrNotFound
	}

	cp := *doc
	cp.Metadata = maps.Clone(doc.Metadata)

	return &cp, nil
}

func (s *ContentService) UpdateMetadata(_ context.Context, id string, patch protocol.MetadataPatch) error {
	defer s.enter()()

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return protocol.ErrNotFound
	}

	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}

	patch.ApplyTo(doc.Metadata)
	s.updates[id] = append(s.updates[id], patch)

	return nil
}

func (s *ContentService) Transfer(_ context.Context, req protocol.TransferRequest) error {
	defer s.enter()()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.TransferFailures > 0 {
		s.TransferFailures--
		s.transfers = append(s.transfers, req)

		return s.TransferFailureErr
	}

	if err, ok := s.TransferErr[req.DocumentID]; ok {
		return err
	}

	if _, ok := s.documents[req.DocumentID]; !ok {
		return protocol.ErrNotFound
	}

	s.transfers = append(s.transfers, req)

	return nil
}

// Transfers returns a copy of every Transfer request received.
func (s *ContentService) Transfers() []protocol.TransferRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.transfers)
}

// Updates returns the metadata patches applied to a document.
func (s *ContentService) Updates(id string) []protocol.MetadataPatch {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.updates[id])
}

// Metadata returns the current metadata of a document.
func (s *ContentService) Metadata(id string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc, ok := s.documents[id]; ok {
		return maps.Clone(doc.Metadata)
	}

	return nil
}

// AnalysisService returns canned summaries and tags.
type AnalysisService struct {
	mu    sync.Mutex
	calls []string

	Summaries []protocol.Summary
	Tags      []string
	Err       error
	Delay     time.Duration

	// Entered, when set, receives the document id as each Summarize call starts.
	Entered chan string
	// Release, when set, holds every Summarize call until it is closed.
	Release chan struct{}
}

func (s *AnalysisService) Summarize(ctx context.Context, id string, formats []string) ([]protocol.Summary, error) {
	if s.Entered != nil {
		s.Entered <- id
	}

	if s.Release != nil {
		select {
		case <-s.Release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, "summarize:"+id)
	s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}

	if len(s.Summaries) > 0 {
		return s.Summaries, nil
	}

	out := make([]protocol.Summary, 0, len(formats))
	for _, f := range formats {
		out = append(out, protocol.Summary{Format: f, Text: "summary of " + id})
	}

	return out, nil
}

func (s *AnalysisService) Tag(_ context.Context, id string) ([]string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, "tag:"+id)
	s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}

	return s.Tags, nil
}

// Calls returns every call as "summarize:<id>" or "tag:<id>".
func (s *AnalysisService) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.calls)
}

// NotificationService records notifications. Err is returned for every call.
type NotificationService struct {
	mu   sync.Mutex
	sent []protocol.Notification

	Err error
}

func (s *NotificationService) Notify(_ context.Context, n protocol.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent = append(s.sent, n)

	return s.Err
}

// Sent returns a copy of every notification received.
func (s *NotificationService) Sent() []protocol.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.sent)
}

// Count returns how many notifications were received.
func (s *NotificationService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sent)
}
