package checkpoint

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.docrelay.dev/core/protocol"
)

// FileStore is a Store which materializes each Record as a JSON-encoded file
// under a root directory. Files are re-written on every Save by writing a
// complete temporary file and then atomically moving it into place, which
// ensures a complete Record is always recovered even if a process failure
// produced a partially written file.
//
// FileStore fences runs within a single process. Runs of separate processes
// sharing a directory are fenced only to the extent that their Load and Save
// calls do not interleave.
type FileStore struct {
	fs   afero.Fs
	root string
	mu   sync.Mutex
}

var _ Store = &FileStore{} // FileStore is-a Store.

// NewFileStore returns a FileStore of |root| within the afero.Fs, which is
// the OS filesystem if nil.
func NewFileStore(fs afero.Fs, root string) *FileStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileStore{fs: fs, root: root}
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, target protocol.WatchTarget) (protocol.Record, error) {
	if err := target.Validate(); err != nil {
		return protocol.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec, err = s.read(s.currentPath(target))
	if os.IsNotExist(err) {
		rec, err = protocol.Record{Target: target, Current: true}, nil
	} else if err != nil {
		return protocol.Record{}, err
	}
	rec.Fence++

	if err = s.write(rec); err != nil {
		return protocol.Record{}, err
	}
	return rec, nil
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, rec protocol.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur, err = s.read(s.currentPath(rec.Target))
	if os.IsNotExist(err) {
		return ErrFenced
	} else if err != nil {
		return err
	} else if cur.Fence != rec.Fence {
		return ErrFenced
	}
	cur.LastProcessed = rec.LastProcessed
	return s.write(cur)
}

// List implements Store.
func (s *FileStore) List(context.Context) ([]protocol.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []protocol.Record
	var err = afero.Walk(s.fs, s.root, func(path string, info os.FileInfo, err error) error {
		if os.IsNotExist(err) && path == s.root {
			return nil // No checkpoints yet.
		} else if err != nil {
			return err
		} else if info.IsDir() || !strings.HasSuffix(path, ".json") || strings.HasSuffix(path, nextSuffix) {
			return nil
		}
		var rec, rErr = s.read(path)
		if rErr != nil {
			return rErr
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, errors.WithMessage(err, "listing checkpoint files")
	}
	sortRecords(out)
	return out, nil
}

func (s *FileStore) read(path string) (protocol.Record, error) {
	var rec protocol.Record
	var f, err = s.fs.Open(path)
	if err != nil {
		return rec, err
	}
	defer f.Close()

	if err = json.NewDecoder(f).Decode(&rec); err != nil {
		return rec, errors.WithMessagef(err, "decoding %s", path)
	}
	return rec, nil
}

func (s *FileStore) write(rec protocol.Record) error {
	var cur = s.currentPath(rec.Target)
	var next = strings.TrimSuffix(cur, ".json") + nextSuffix

	if err := s.fs.MkdirAll(filepath.Dir(cur), 0700); err != nil {
		return errors.WithMessage(err, "creating checkpoint directory")
	}
	// We use O_TRUNC and not O_EXCL as a prior process may have written,
	// but not renamed, its own next file. It represents a failed write.
	var f, err = s.fs.OpenFile(next, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.WithMessage(err, "creating checkpoint file")
	}
	if err = json.NewEncoder(f).Encode(rec); err != nil {
		_ = f.Close()
		return errors.WithMessage(err, "encoding checkpoint")
	} else if err = f.Close(); err != nil {
		return errors.WithMessage(err, "closing checkpoint file")
	} else if err = s.fs.Rename(next, cur); err != nil {
		return errors.WithMessage(err, "renaming next => current")
	}
	return nil
}

func (s *FileStore) currentPath(t protocol.WatchTarget) string {
	var dir = filepath.Join(s.root, url.PathEscape(t.Database))
	if t.DatabaseLevel {
		return filepath.Join(dir, "database.json")
	}
	return filepath.Join(dir, "collection-"+url.PathEscape(t.Collection)+".json")
}

const nextSuffix = ".next.json"
