package snapshot

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/mikekulinski/zkstore/pkg/logging"
	"github.com/mikekulinski/zkstore/pkg/persistence"
	"github.com/mikekulinski/zkstore/pkg/record"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const FilePrefix = "snapshot"

const (
	magic     = "zksnap\x01"
	recordTag = byte(1)
	endTag    = byte(0)
)

var (
	ErrNotDirectory = errors.New("snapshot path does not point to a directory")
	ErrStale        = errors.New("snapshot is not newer than the last one written")
	ErrNoSnapshot   = errors.New("no snapshot found")
	ErrCorrupt      = errors.New("snapshot is corrupt")
)

// Manager keeps checkpoints of the tree. Every checkpoint is a new file in
// the directory provided, following the naming convention
// "{dir}/snapshot_{id}", where id is the last change list it contains.
// A file is written under a temporary name and renamed once complete.
type Manager struct {
	// mu protects every field of the Manager.
	mu     *sync.Mutex
	fs     afero.Fs
	dir    string
	log    *logrus.Entry
	LastID uint64
}

func NewManager(fs afero.Fs, dir string) (*Manager, error) {
	// Make sure to trim any trailing slashes if the provided path contains one.
	dir = strings.TrimSuffix(dir, "/")

	info, err := fs.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", dir, ErrNotDirectory)
	}

	m := &Manager{
		mu:  &sync.Mutex{},
		fs:  fs,
		dir: dir,
		log: logging.NewLogger("snapshot").WithField("dir", dir),
	}
	ids, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		m.LastID = ids[len(ids)-1]
	}
	return m, nil
}

func (m *Manager) path(id uint64) string {
	return fmt.Sprintf("%s/%s_%d", m.dir, FilePrefix, id)
}

// Write stores every record of src as the checkpoint with the given id.
func (m *Manager) Write(id uint64, src persistence.RecordSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id <= m.LastID {
		return fmt.Errorf("snapshot %d after %d: %w", id, m.LastID, ErrStale)
	}

	tmp := fmt.Sprintf("%s/.%s_%d.%s.tmp", m.dir, FilePrefix, id, uuid.NewString())
	count, err := m.writeFile(tmp, src)
	if err != nil {
		_ = m.fs.Remove(tmp)
		return fmt.Errorf("writing snapshot %d: %w", id, err)
	}
	if err := m.fs.Rename(tmp, m.path(id)); err != nil {
		_ = m.fs.Remove(tmp)
		return fmt.Errorf("renaming snapshot %d: %w", id, err)
	}

	// Only move LastID once the file is in place.
	m.LastID = id
	m.log.WithFields(logrus.Fields{"id": id, "records": count}).Info("snapshot written")
	return nil
}

func (m *Manager) writeFile(name string, src persistence.RecordSource) (int, error) {
	file, err := m.fs.Create(name)
	if err != nil {
		return 0, fmt.Errorf("error creating new file: %w", err)
	}
	defer file.Close()

	count, err := WriteStream(file, src)
	if err != nil {
		return 0, err
	}
	if err := file.Sync(); err != nil {
		return 0, err
	}
	return count, nil
}

// WriteStream writes every record of src to w in the snapshot format and
// returns the number of records written.
func WriteStream(w io.Writer, src persistence.RecordSource) (int, error) {
	sw := snappy.NewBufferedWriter(w)
	if _, err := io.WriteString(sw, magic); err != nil {
		return 0, err
	}
	count := 0
	var buf []byte
	err := src.ForEach(func(r *record.Record) error {
		b, err := r.AppendBinary(append(buf[:0], recordTag))
		if err != nil {
			return fmt.Errorf("encoding record %d: %w", r.ID, err)
		}
		buf = b
		count++
		_, err = sw.Write(b)
		return err
	})
	if err != nil {
		return 0, err
	}
	if _, err := sw.Write([]byte{endTag}); err != nil {
		return 0, err
	}
	if err := sw.Close(); err != nil {
		return 0, err
	}
	return count, nil
}

// List returns the ids of every complete snapshot in ascending order.
func (m *Manager) List() ([]uint64, error) {
	entries, err := afero.ReadDir(m.fs, m.dir)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		suffix, ok := strings.CutPrefix(entry.Name(), FilePrefix+"_")
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(suffix, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Latest returns the newest snapshot.
func (m *Manager) Latest() (*Source, error) {
	ids, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNoSnapshot
	}
	return m.Open(ids[len(ids)-1])
}

// Open returns the snapshot with the given id as a record source.
func (m *Manager) Open(id uint64) (*Source, error) {
	path := m.path(id)
	ok, err := afero.Exists(m.fs, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("snapshot %d: %w", id, ErrNoSnapshot)
	}
	return &Source{fs: m.fs, path: path, ID: id}, nil
}

// Prune removes every snapshot except the newest keep ones.
func (m *Manager) Prune(keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids, err := m.List()
	if err != nil {
		return err
	}
	if len(ids) <= keep {
		return nil
	}
	for _, id := range ids[:len(ids)-keep] {
		if err := m.fs.Remove(m.path(id)); err != nil {
			return fmt.Errorf("removing snapshot %d: %w", id, err)
		}
		m.log.WithField("id", id).Debug("snapshot pruned")
	}
	return nil
}

// Source streams the records of one snapshot file.
type Source struct {
	fs   afero.Fs
	path string
	ID   uint64
}

func (s *Source) ForEach(fn func(r *record.Record) error) error {
	file, err := s.fs.Open(s.path)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := readStream(file, fn); err != nil {
		return fmt.Errorf("%s: %w", s.path, err)
	}
	return nil
}

// NewStreamSource reads a stream written by WriteStream. It can be iterated
// once.
func NewStreamSource(rd io.Reader) persistence.RecordSource {
	return streamSource{rd: rd}
}

type streamSource struct {
	rd io.Reader
}

func (s streamSource) ForEach(fn func(r *record.Record) error) error {
	return readStream(s.rd, fn)
}

func readStream(src io.Reader, fn func(r *record.Record) error) error {
	rd := bufio.NewReader(snappy.NewReader(src))
	header := make([]byte, len(magic))
	if _, err := io.ReadFull(rd, header); err != nil || string(header) != magic {
		return fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	for {
		tag, err := rd.ReadByte()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		switch tag {
		case endTag:
			return nil
		case recordTag:
		default:
			return fmt.Errorf("%w: unknown tag %d", ErrCorrupt, tag)
		}
		r, err := record.Decode(rd)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
}
