package profilestore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

// BadgerOptions configures the badger-backed store.
type BadgerOptions struct {
	// Dir is the data directory. Required unless InMemory is set.
	Dir string

	// InMemory keeps everything in memory; used by tests.
	InMemory bool

	// Logger replaces badger's logger. Nil keeps only warnings and errors.
	Logger badger.Logger
}

// Badger stores msgpack-encoded profiles under profile/<len>:<owner>/<slot>.
// The length prefix keeps every owner's keys disjoint from any other
// owner's, whatever characters the owner contains.
type Badger struct {
	db *badger.DB
}

func OpenBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("profilestore: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	if opts.Logger != nil {
		dbOpts = dbOpts.WithLogger(opts.Logger)
	} else {
		dbOpts = dbOpts.WithLogger(quietLogger{})
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}
	return &Badger{db: db}, nil
}

func profileKey(owner string, s speaker.Speaker) []byte {
	slot := "A"
	if s == speaker.B {
		slot = "B"
	}
	return []byte("profile/" + strconv.Itoa(len(owner)) + ":" + owner + "/" + slot)
}

func (b *Badger) Load(ctx context.Context, owner string) (speaker.Pair[*speaker.Profile], error) {
	var out speaker.Pair[*speaker.Profile]
	if err := ctx.Err(); err != nil {
		return out, err
	}
	err := b.db.View(func(txn *badger.Txn) error {
		for _, s := range speaker.Parties {
			item, err := txn.Get(profileKey(owner, s))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var p speaker.Profile
			if err := msgpack.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode %s profile: %w", s, err)
			}
			out.Set(s, &p)
		}
		return nil
	})
	return out, err
}

func (b *Badger) Save(ctx context.Context, owner string, p *speaker.Profile) error {
	if p == nil || !p.Speaker.IsParty() {
		return ErrInvalidSpeaker
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := msgpack.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode %s profile: %w", p.Speaker, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(profileKey(owner, p.Speaker), raw)
	})
}

func (b *Badger) Delete(ctx context.Context, owner string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		for _, s := range speaker.Parties {
			if err := txn.Delete(profileKey(owner, s)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
}

func (b *Badger) Close() error {
	return b.db.Close()
}

type quietLogger struct{}

func (quietLogger) Errorf(f string, v ...interface{})   { log.Printf("[badger] ERROR: "+f, v...) }
func (quietLogger) Warningf(f string, v ...interface{}) { log.Printf("[badger] WARN: "+f, v...) }
func (quietLogger) Infof(string, ...interface{})        {}
func (quietLogger) Debugf(string, ...interface{})       {}
