package chain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mutualcredit/mcledger/keyvaluedb"
	"github.com/mutualcredit/mcledger/types"
)

var (
	ErrAlreadyExists = errors.New("entry with the same key already exists")
	ErrConflict      = errors.New("prior version is not the latest version")
)

var (
	prefixSeq      = []byte("s/") // sequence number -> ChainElement
	prefixHeader   = []byte("h/") // header address -> sequence number
	prefixEntry    = []byte("e/") // entry address -> sequence number of the first commit
	prefixReplaced = []byte("r/") // entry address -> address of the entry replacing it
	prefixKey      = []byte("k/") // entry type + key -> address of the latest version
	keyTip         = []byte("tip")
)

type (
	// Keyed entries are indexed by their key, only one entry per key can be
	// committed, following versions must be committed using Update.
	Keyed interface {
		types.Entry
		IndexKey() (types.Address, error)
	}

	Signer interface {
		SignBytes(data []byte) ([]byte, error)
		Address() types.Address
	}

	tip struct {
		_      struct{} `cbor:",toarray"`
		Seq    uint64
		Header types.Address
	}

	/*
	Chain is the private append-only source chain of an agent. Every committed
	entry gets a header which links to the previous header and is signed by
	the agent.

	Chain is safe for concurrent use, commits are serialized.
	*/
	Chain struct {
		db     keyvaluedb.KeyValueDB
		signer Signer
		now    func() time.Time
		mu     sync.Mutex
	}
)

type Option func(*Chain)

// WithClock sets the source of header timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

func New(db keyvaluedb.KeyValueDB, signer Signer, opts ...Option) (*Chain, error) {
	if db == nil {
		return nil, errors.New("storage is nil")
	}
	if signer == nil {
		return nil, errors.New("signer is nil")
	}
	c := &Chain{db: db, signer: signer, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Author returns the address of the agent owning the chain.
func (c *Chain) Author() types.Address {
	return c.signer.Address()
}

// Commit appends new entry to the chain and returns the header of it.
func (c *Chain) Commit(e types.Entry) (*types.ChainHeader, error) {
	return c.commit(e, nil, nil)
}

/*
CommitOnTop appends new entry to the chain only when the last header of the
chain is "anchor". Returns types.ErrHeaderMoved when the chain has moved on.
*/
func (c *Chain) CommitOnTop(e types.Entry, anchor types.Address) (*types.ChainHeader, error) {
	return c.commit(e, nil, &anchor)
}

// Update appends new version of the entry "prior" to the chain.
func (c *Chain) Update(e types.Entry, prior types.Address) (*types.ChainHeader, error) {
	if prior == "" {
		return nil, errors.New("prior entry address must be assigned")
	}
	return c.commit(e, &prior, nil)
}

func (c *Chain) commit(e types.Entry, replaces, anchor *types.Address) (*types.ChainHeader, error) {
	raw, err := types.NewRawEntry(e)
	if err != nil {
		return nil, err
	}
	entryAddr, err := raw.Address()
	if err != nil {
		return nil, fmt.Errorf("calculating entry address: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var indexKey []byte
	if ke, ok := e.(Keyed); ok {
		key, err := ke.IndexKey()
		if err != nil {
			return nil, fmt.Errorf("index key of the %s entry: %w", e.EntryType(), err)
		}
		indexKey = keyIndexKey(e.EntryType(), key)
		var latest types.Address
		found, err := c.db.Read(indexKey, &latest)
		if err != nil {
			return nil, fmt.Errorf("reading key index: %w", err)
		}
		switch {
		case replaces == nil && found:
			return nil, fmt.Errorf("%s %s: %w", e.EntryType(), key.Short(), ErrAlreadyExists)
		case replaces != nil && (!found || latest != *replaces):
			return nil, fmt.Errorf("%s %s: %w", e.EntryType(), key.Short(), ErrConflict)
		}
	}
	if replaces != nil && indexKey == nil {
		if _, err := c.elementBySeqKey(prefixEntry, *replaces); err != nil {
			return nil, fmt.Errorf("reading prior version: %w", err)
		}
	}

	t, err := c.tip()
	if err != nil {
		return nil, err
	}
	if anchor != nil && t.Header != *anchor {
		return nil, fmt.Errorf("expected %s, chain is at %s: %w", anchor.Short(), t.Header.Short(), types.ErrHeaderMoved)
	}
	// header timestamps are strictly increasing along the chain
	ts := c.now().UnixMilli()
	if t.Seq > 0 {
		prev, err := c.element(t.Seq)
		if err != nil {
			return nil, err
		}
		ts = max(ts, prev.Header.Timestamp+1)
	}
	h := &types.ChainHeader{
		EntryType:    raw.Type,
		EntryAddress: entryAddr,
		Link:         types.AddressPtr(t.Header),
		Replaces:     replaces,
		Author:       c.signer.Address(),
		Timestamp:    ts,
	}
	if err := types.SignHeader(h, c.signer.SignBytes); err != nil {
		return nil, err
	}
	headerAddr, err := h.Address()
	if err != nil {
		return nil, err
	}

	seq := t.Seq + 1
	err = c.db.Update(func(tx keyvaluedb.ReadWriter) error {
		if err := tx.Write(seqKey(seq), &types.ChainElement{Header: h, Entry: raw}); err != nil {
			return err
		}
		if err := tx.Write(addrKey(prefixHeader, headerAddr), seq); err != nil {
			return err
		}
		found, err := tx.Read(addrKey(prefixEntry, entryAddr), new(uint64))
		if err != nil {
			return err
		}
		if !found {
			if err := tx.Write(addrKey(prefixEntry, entryAddr), seq); err != nil {
				return err
			}
		}
		if replaces != nil {
			if err := tx.Write(addrKey(prefixReplaced, *replaces), entryAddr); err != nil {
				return err
			}
		}
		if indexKey != nil {
			if err := tx.Write(indexKey, entryAddr); err != nil {
				return err
			}
		}
		return tx.Write(keyTip, &tip{Seq: seq, Header: headerAddr})
	})
	if err != nil {
		return nil, fmt.Errorf("committing %s entry: %w", raw.Type, err)
	}
	return h, nil
}

// LastHeader returns the newest header of the chain, nil when chain is empty.
func (c *Chain) LastHeader() (*types.ChainHeader, error) {
	t, err := c.tip()
	if err != nil {
		return nil, err
	}
	if t.Seq == 0 {
		return nil, nil
	}
	el, err := c.element(t.Seq)
	if err != nil {
		return nil, err
	}
	return el.Header, nil
}

// LastHeaderOf returns the newest header of an entry of type "typ", nil when there is none.
func (c *Chain) LastHeaderOf(typ types.EntryType) (*types.ChainHeader, error) {
	t, err := c.tip()
	if err != nil {
		return nil, err
	}
	for seq := t.Seq; seq > 0; seq-- {
		el, err := c.element(seq)
		if err != nil {
			return nil, err
		}
		if el.Header.EntryType == typ {
			return el.Header, nil
		}
	}
	return nil, nil
}

// LastHeaderAddress returns address of the newest header, empty when chain is empty.
func (c *Chain) LastHeaderAddress() (types.Address, error) {
	t, err := c.tip()
	if err != nil {
		return "", err
	}
	return t.Header, nil
}

// Get returns the element in which the entry "addr" was (first) committed.
func (c *Chain) Get(addr types.Address) (*types.ChainElement, error) {
	return c.elementBySeqKey(prefixEntry, addr)
}

// GetHeader returns element by header address.
func (c *Chain) GetHeader(addr types.Address) (*types.ChainElement, error) {
	return c.elementBySeqKey(prefixHeader, addr)
}

// GetByKey returns the latest version of the Keyed entry.
func (c *Chain) GetByKey(typ types.EntryType, key types.Address) (*types.ChainElement, error) {
	var addr types.Address
	found, err := c.db.Read(keyIndexKey(typ, key), &addr)
	if err != nil {
		return nil, fmt.Errorf("reading key index: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%s %s: %w", typ, key.Short(), types.ErrNotFound)
	}
	return c.Get(addr)
}

// History returns all the versions of the entry "addr", newest first.
func (c *Chain) History(addr types.Address) ([]*types.ChainElement, error) {
	// move forward to the latest version...
	latest := addr
	for {
		var next types.Address
		found, err := c.db.Read(addrKey(prefixReplaced, latest), &next)
		if err != nil {
			return nil, fmt.Errorf("reading version index: %w", err)
		}
		if !found {
			break
		}
		latest = next
	}
	// ...and collect versions walking backwards
	var res []*types.ChainElement
	for cur := &latest; cur != nil; {
		el, err := c.Get(*cur)
		if err != nil {
			return nil, err
		}
		res = append(res, el)
		cur = el.Header.Replaces
	}
	return res, nil
}

/*
Query returns elements with the given entry types (all elements when no type
is given), newest first.
*/
func (c *Chain) Query(entryTypes ...types.EntryType) ([]*types.ChainElement, error) {
	var res []*types.ChainElement
	err := c.db.Scan(prefixSeq, func(key []byte, decode keyvaluedb.DecodeFunc) (bool, error) {
		el := &types.ChainElement{}
		if err := decode(el); err != nil {
			return false, fmt.Errorf("reading chain element: %w", err)
		}
		if len(entryTypes) == 0 || slices.Contains(entryTypes, el.Header.EntryType) {
			res = append(res, el)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(res)
	return res, nil
}

// Elements returns the full chain, newest first.
func (c *Chain) Elements() ([]*types.ChainElement, error) {
	return c.Query()
}

func (c *Chain) tip() (*tip, error) {
	t := &tip{}
	if _, err := c.db.Read(keyTip, t); err != nil {
		return nil, fmt.Errorf("reading chain tip: %w", err)
	}
	return t, nil
}

func (c *Chain) element(seq uint64) (*types.ChainElement, error) {
	el := &types.ChainElement{}
	found, err := c.db.Read(seqKey(seq), el)
	if err != nil {
		return nil, fmt.Errorf("reading chain element %d: %w", seq, err)
	}
	if !found {
		return nil, fmt.Errorf("chain element %d: %w", seq, types.ErrNotFound)
	}
	return el, nil
}

func (c *Chain) elementBySeqKey(prefix []byte, addr types.Address) (*types.ChainElement, error) {
	var seq uint64
	found, err := c.db.Read(addrKey(prefix, addr), &seq)
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("entry %s: %w", addr.Short(), types.ErrNotFound)
	}
	return c.element(seq)
}

func seqKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(slices.Clone(prefixSeq), seq)
}

func addrKey(prefix []byte, addr types.Address) []byte {
	return append(slices.Clone(prefix), addr...)
}

func keyIndexKey(typ types.EntryType, key types.Address) []byte {
	k := append(slices.Clone(prefixKey), typ...)
	k = append(k, '/')
	return append(k, key...)
}
