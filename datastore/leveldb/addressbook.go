package leveldb

import (
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"

	"teamer/datamodel/peer"
)

const (
	keyPrefixBook = "BOOK" // Address book entries. Followed by host:port
)

var _ peer.AddressBook = (*AddressBook)(nil)

type AddressBook struct {
	LevelDB
}

func NewAddressBook(path string) (*AddressBook, error) {
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	return &AddressBook{
		LevelDB: LevelDB{
			path: path,
			db:   ldb,
		},
	}, nil
}

func keyFromAddress(addr peer.Address) []byte {
	return append([]byte(keyPrefixBook), []byte(addr.String())...)
}

func (l *AddressBook) Get(addr peer.Address) (*peer.BookEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := l.db.Get(keyFromAddress(addr), nil)
	if err != nil {
		return nil, err
	}

	entry := &peer.BookEntry{}
	if err := cbor.Unmarshal(raw, entry); err != nil {
		return nil, err
	}

	// Compare the address just in case
	if entry.Address != addr {
		log.Errorf("Get: address mismatch: %s != %s", addr, entry.Address)
		return nil, ErrCorrupted
	}

	return entry, nil
}

func (l *AddressBook) Put(entry *peer.BookEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Added.IsZero() {
		entry.Added = time.Now().UTC()
	}

	raw, err := cbor.Marshal(entry)
	if err != nil {
		return err
	}

	return l.db.Put(keyFromAddress(entry.Address), raw, nil)
}

func (l *AddressBook) Delete(addr peer.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.db.Delete(keyFromAddress(addr), nil)
}

func (l *AddressBook) Enumerate() ([]*peer.BookEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var results []*peer.BookEntry

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixBook)), nil)
	defer iter.Release()

	for iter.Next() {
		entry := &peer.BookEntry{}
		if err := cbor.Unmarshal(iter.Value(), entry); err != nil {
			return nil, err
		}
		results = append(results, entry)
	}

	return results, iter.Error()
}
