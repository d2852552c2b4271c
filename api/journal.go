package api

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"roadmap-api/domain"
)

// The journal is the on-disk backing of the command outbox. Accepted
// commands are framed and appended to segment files before the HTTP
// response is written; delivered offsets advance a commit file so a restart
// only replays records that never reached the queue.
//
// Frame layout: 4-byte payload length, 4-byte CRC32-Castagnoli of the
// payload, 8-byte record offset, then the sonic-encoded payload.

const journalFrameSize = 16

var (
	errJournalClosed = errors.New("journal closed")
	journalCRC       = crc32.MakeTable(crc32.Castagnoli)
)

type journalConfig struct {
	dir          string
	segmentBytes int64
	syncEvery    int
	syncInterval time.Duration
	logger       *log.Logger
}

type journalSegment struct {
	path  string
	file  *os.File
	out   *bufio.Writer
	size  int64
	first uint64
	last  uint64
}

// outboxRecord is one accepted submission: the commands plus the idempotency
// keys that were registered for it, so recovery knows what was already
// claimed in the deduper.
type outboxRecord struct {
	Offset    uint64           `json:"offset"`
	UserID    string           `json:"userId"`
	Commands  []domain.Command `json:"commands"`
	AddedKeys []string         `json:"addedKeys"`
	Accepted  time.Time        `json:"accepted"`
	Attempt   int              `json:"attempt"`
	LastErr   string           `json:"lastErr,omitempty"`

	frameBytes int64
}

type journal struct {
	cfg journalConfig

	mu        sync.Mutex
	segments  []*journalSegment
	next      uint64
	committed uint64
	unsynced  int
	closed    bool
}

// openJournal replays existing segments and returns the records whose offset
// is past the last commit, in other words the commands that still need
// delivery.
func openJournal(cfg journalConfig) (*journal, []*outboxRecord, error) {
	if cfg.dir == "" {
		return nil, nil, errors.New("journal dir required")
	}
	if err := os.MkdirAll(cfg.dir, 0o755); err != nil {
		return nil, nil, err
	}

	j := &journal{cfg: cfg}
	committed, err := j.readCommit()
	if err != nil {
		return nil, nil, err
	}
	j.committed = committed
	j.next = committed + 1

	paths, err := filepath.Glob(filepath.Join(cfg.dir, "outbox-*.log"))
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(paths)

	var pending []*outboxRecord
	for _, path := range paths {
		seg, records, err := j.replaySegment(path)
		if err != nil {
			return nil, nil, err
		}
		if seg == nil {
			continue
		}
		j.segments = append(j.segments, seg)
		for _, rec := range records {
			if rec.Offset >= j.next {
				j.next = rec.Offset + 1
			}
			if rec.Offset > j.committed {
				pending = append(pending, rec)
			}
		}
	}

	if len(j.segments) == 0 {
		if err := j.rotateLocked(); err != nil {
			return nil, nil, err
		}
	} else {
		tail := j.segments[len(j.segments)-1]
		if _, err := tail.file.Seek(tail.size, io.SeekStart); err != nil {
			return nil, nil, err
		}
		tail.out = bufio.NewWriterSize(tail.file, 64*1024)
	}

	return j, pending, nil
}

func (j *journal) readCommit() (uint64, error) {
	data, err := os.ReadFile(filepath.Join(j.cfg.dir, "commit"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}
	val, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt commit file: %w", err)
	}
	return val, nil
}

// replaySegment reads every intact frame in a segment file. A torn tail,
// from a crash mid-write, is truncated away rather than treated as an error.
func (j *journal) replaySegment(path string) (*journalSegment, []*outboxRecord, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	seg := &journalSegment{path: path, file: f}
	var records []*outboxRecord
	r := bufio.NewReaderSize(f, 64*1024)
	var pos int64
	for {
		frame := make([]byte, journalFrameSize)
		start := pos
		n, err := io.ReadFull(r, frame)
		pos += int64(n)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				if terr := f.Truncate(start); terr != nil {
					return nil, nil, terr
				}
				break
			}
			return nil, nil, err
		}

		length := binary.LittleEndian.Uint32(frame[0:4])
		sum := binary.LittleEndian.Uint32(frame[4:8])
		offset := binary.LittleEndian.Uint64(frame[8:16])
		if length == 0 {
			continue
		}
		payload := make([]byte, length)
		n, err = io.ReadFull(r, payload)
		pos += int64(n)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				if terr := f.Truncate(start); terr != nil {
					return nil, nil, terr
				}
				break
			}
			return nil, nil, err
		}
		if crc32.Checksum(payload, journalCRC) != sum {
			if terr := f.Truncate(start); terr != nil {
				return nil, nil, terr
			}
			break
		}

		var rec outboxRecord
		if err := sonic.ConfigStd.Unmarshal(payload, &rec); err != nil {
			return nil, nil, err
		}
		if rec.Offset != offset {
			return nil, nil, fmt.Errorf("journal offset mismatch: frame=%d payload=%d", offset, rec.Offset)
		}
		rec.frameBytes = journalFrameSize + int64(length)
		if seg.first == 0 {
			seg.first = rec.Offset
		}
		seg.last = rec.Offset
		records = append(records, &rec)
	}

	seg.size = pos
	return seg, records, nil
}

func (j *journal) rotateLocked() error {
	if j.closed {
		return errJournalClosed
	}
	path := filepath.Join(j.cfg.dir, fmt.Sprintf("outbox-%020d.log", j.next))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	j.segments = append(j.segments, &journalSegment{
		path:  path,
		file:  f,
		out:   bufio.NewWriterSize(f, 64*1024),
		first: j.next,
		last:  j.next - 1,
	})
	return nil
}

func (j *journal) appendLocked(rec *outboxRecord) error {
	if j.closed {
		return errJournalClosed
	}
	if len(j.segments) == 0 {
		if err := j.rotateLocked(); err != nil {
			return err
		}
	}
	tail := j.segments[len(j.segments)-1]
	if tail.size >= j.cfg.segmentBytes {
		if err := tail.out.Flush(); err != nil {
			return err
		}
		if err := tail.file.Sync(); err != nil {
			return err
		}
		tail.out = nil
		if err := tail.file.Close(); err != nil {
			return err
		}
		if err := j.rotateLocked(); err != nil {
			return err
		}
		tail = j.segments[len(j.segments)-1]
	}

	rec.Offset = j.next
	j.next++

	payload, err := sonic.ConfigStd.Marshal(rec)
	if err != nil {
		return err
	}
	frame := make([]byte, journalFrameSize)
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.Checksum(payload, journalCRC))
	binary.LittleEndian.PutUint64(frame[8:16], rec.Offset)

	if _, err := tail.out.Write(frame); err != nil {
		return err
	}
	if _, err := tail.out.Write(payload); err != nil {
		return err
	}
	if err := tail.out.Flush(); err != nil {
		return err
	}

	rec.frameBytes = int64(len(frame) + len(payload))
	tail.size += rec.frameBytes
	tail.last = rec.Offset
	j.unsynced++
	return nil
}

// dropTailLocked undoes the most recent append. Only the last record can be
// rolled back; the outbox uses this when handoff to the workers fails.
func (j *journal) dropTailLocked(rec *outboxRecord) error {
	if len(j.segments) == 0 {
		return nil
	}
	tail := j.segments[len(j.segments)-1]
	if rec.Offset != tail.last {
		return fmt.Errorf("journal rollback mismatch: offset=%d last=%d", rec.Offset, tail.last)
	}
	if tail.size < rec.frameBytes {
		return errors.New("journal rollback underflow")
	}
	tail.size -= rec.frameBytes
	if err := tail.file.Truncate(tail.size); err != nil {
		return err
	}
	if _, err := tail.file.Seek(tail.size, io.SeekStart); err != nil {
		return err
	}
	tail.out = bufio.NewWriterSize(tail.file, 64*1024)
	tail.last--
	j.next = rec.Offset
	return nil
}

func (j *journal) syncIfDueLocked() error {
	if j.cfg.syncEvery <= 1 || j.unsynced >= j.cfg.syncEvery {
		return j.syncLocked()
	}
	return nil
}

func (j *journal) syncLocked() error {
	if j.closed {
		return errJournalClosed
	}
	if len(j.segments) == 0 {
		return nil
	}
	tail := j.segments[len(j.segments)-1]
	if tail.out != nil {
		if err := tail.out.Flush(); err != nil {
			return err
		}
	}
	if err := tail.file.Sync(); err != nil {
		return err
	}
	j.unsynced = 0
	return nil
}

// commitLocked durably advances the delivered watermark and prunes segments
// wholly below it.
func (j *journal) commitLocked(offset uint64) error {
	if offset <= j.committed {
		return nil
	}
	j.committed = offset
	path := filepath.Join(j.cfg.dir, "commit")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(offset, 10)), 0o644); err != nil {
		return err
	}
	if err := fsyncPath(tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	if err := fsyncPath(j.cfg.dir); err != nil {
		return err
	}
	j.pruneLocked()
	return nil
}

func (j *journal) pruneLocked() {
	for len(j.segments) > 1 {
		seg := j.segments[0]
		if seg.last > j.committed {
			break
		}
		if seg.out != nil {
			seg.out.Flush()
		}
		seg.file.Close()
		if err := os.Remove(seg.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			if j.cfg.logger != nil {
				j.cfg.logger.WithError(err).Warnf("failed to remove journal segment %s", seg.path)
			}
			break
		}
		j.segments = j.segments[1:]
	}
}

func (j *journal) close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	for _, seg := range j.segments {
		if seg.out != nil {
			seg.out.Flush()
		}
		seg.file.Close()
	}
	return nil
}

func fsyncPath(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
