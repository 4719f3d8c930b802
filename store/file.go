package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	"github.com/raid-guild/arcmeter-go/types"
)

// document is the on-disk layout of a FileStore.
type document struct {
	Receipts         []types.Receipt   `json:"receipts"`
	State            types.SellerState `json:"state"`
	TermsByRequestID map[string]string `json:"termsByRequestId"`
}

// FileStore keeps the whole document in memory behind a single writer lock
// and replaces the file atomically on every write.
type FileStore struct {
	path string

	mu  sync.Mutex
	doc document
}

// OpenFile loads the document at path, or starts a fresh one when the file
// does not exist.
func OpenFile(path string, defaultRaiseMode bool) (*FileStore, error) {
	s := &FileStore{
		path: path,
		doc: document{
			Receipts:         []types.Receipt{},
			State:            defaultState(defaultRaiseMode),
			TermsByRequestID: map[string]string{},
		},
	}

	// Read the existing document
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store: %w", err)
	}

	// Unmarshal the existing document
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse store %s: %w", path, err)
	}
	if doc.Receipts == nil {
		doc.Receipts = []types.Receipt{}
	}
	if doc.TermsByRequestID == nil {
		doc.TermsByRequestID = map[string]string{}
	}
	if doc.State.LastUpdatedAt == "" {
		doc.State = s.doc.State
	}
	s.doc = doc

	return s, nil
}

func (s *FileStore) State(_ context.Context) (types.SellerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.State, nil
}

func (s *FileStore) SetPriceRaiseMode(_ context.Context, enabled bool) (types.SellerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc
	next.State = types.SellerState{
		PriceRaiseMode: enabled,
		LastUpdatedAt:  types.FormatTime(Now()),
	}
	if err := s.commit(next); err != nil {
		return types.SellerState{}, err
	}
	return next.State, nil
}

func (s *FileStore) PutTerms(_ context.Context, requestID string, termsB64 string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	terms := make(map[string]string, len(s.doc.TermsByRequestID)+1)
	for k, v := range s.doc.TermsByRequestID {
		terms[k] = v
	}
	terms[requestID] = termsB64

	next := s.doc
	next.TermsByRequestID = terms
	return s.commit(next)
}

func (s *FileStore) Terms(_ context.Context, requestID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	termsB64, ok := s.doc.TermsByRequestID[requestID]
	return termsB64, ok, nil
}

func (s *FileStore) AppendReceipt(_ context.Context, receipt types.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipts := make([]types.Receipt, 0, len(s.doc.Receipts)+1)
	receipts = append(receipts, receipt)
	receipts = append(receipts, s.doc.Receipts...)

	next := s.doc
	next.Receipts = receipts
	return s.commit(next)
}

func (s *FileStore) Receipts(_ context.Context) ([]types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	receipts := make([]types.Receipt, len(s.doc.Receipts))
	copy(receipts, s.doc.Receipts)
	return receipts, nil
}

func (s *FileStore) HasReceipt(_ context.Context, requestID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.doc.Receipts {
		if r.RequestID == requestID {
			return true, nil
		}
	}
	return false, nil
}

func (s *FileStore) Close() error {
	return nil
}

// commit writes next to disk and, once the file is replaced, makes it the
// in-memory document. Callers must hold s.mu.
func (s *FileStore) commit(next document) error {
	if err := writeFileAtomic(s.path, next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

func writeFileAtomic(path string, doc document) error {

	// Marshal the document
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	// Ensure the parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	// Write a temporary file next to the target
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Replace the target
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace store: %w", err)
	}

	return nil
}
