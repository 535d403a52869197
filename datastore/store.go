package datastore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"git.autistici.org/ai3/tools/routegraphs/datastore/sqlite"
)

// Store provides typed access to the topology database. The query
// engines use a read-only Store; only the ingestion pipeline opens a
// read-write one, and it always writes into a fresh database that is
// atomically renamed into place once complete.
type Store struct {
	db *sqlx.DB
}

// Open creates or opens a topology database read-write, applying the
// schema to a fresh file.
func Open(path string) (*Store, error) {
	db, err := sqlite.OpenDB(path, schemaVersion, schema)
	if err != nil {
		return nil, fmt.Errorf("opening topology db %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenReadOnly opens an existing topology database for queries.
func OpenReadOnly(path string) (*Store, error) {
	db, err := sqlite.OpenRO(path, schemaVersion)
	if err != nil {
		return nil, fmt.Errorf("opening topology db %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs f within a SQL transaction.
func (s *Store) WithTx(f func(*Tx) error) error {
	return sqlite.WithTx(s.db, func(tx *sqlx.Tx) error {
		return f(&Tx{tx: tx})
	})
}

// Tx is a write transaction on the topology database.
type Tx struct {
	tx *sqlx.Tx
}

// UpsertASN records an AS, marking it as a direct collector feed when
// directFeed is true. The direct_feed flag only ever goes from false
// to true, and an existing name is left alone.
func (tx *Tx) UpsertASN(ctx context.Context, asn uint32, directFeed bool) error {
	_, err := tx.tx.ExecContext(ctx, `
INSERT INTO asns (asn, direct_feed) VALUES (?, ?)
  ON CONFLICT (asn) DO UPDATE SET direct_feed = MAX(direct_feed, excluded.direct_feed)
`, asn, directFeed)
	return err
}

// SetASNName sets the display name of an AS. Empty names are ignored
// so that a name learned earlier is never erased.
func (tx *Tx) SetASNName(ctx context.Context, asn uint32, name string) error {
	if name == "" {
		return nil
	}
	_, err := tx.tx.ExecContext(ctx, `UPDATE asns SET name = ? WHERE asn = ?`, name, asn)
	return err
}

// InsertPrefix records a prefix. Re-inserting an existing prefix is a
// no-op.
func (tx *Tx) InsertPrefix(ctx context.Context, p Prefix) error {
	_, err := tx.tx.ExecContext(ctx, `
INSERT OR IGNORE INTO prefixes (network, length, broadcast) VALUES (?, ?, ?)
`, p.Network, p.Length, p.Broadcast)
	return err
}

// HasPath reports whether a path with this content identifier has
// already been stored.
func (tx *Tx) HasPath(ctx context.Context, pathID int64) (bool, error) {
	var found bool
	err := tx.tx.GetContext(ctx, &found,
		`SELECT EXISTS (SELECT 1 FROM paths WHERE path_id = ?)`, pathID)
	return found, err
}

// InsertPath stores the ordered hops of a path.
func (tx *Tx) InsertPath(ctx context.Context, pathID int64, hops []uint32) error {
	for i, asn := range hops {
		if _, err := tx.tx.ExecContext(ctx, `
INSERT OR IGNORE INTO paths (path_id, list_index, asn) VALUES (?, ?, ?)
`, pathID, i, asn); err != nil {
			return err
		}
	}
	return nil
}

// LinkPrefixPath associates a stored path with a prefix it was
// observed announcing.
func (tx *Tx) LinkPrefixPath(ctx context.Context, p Prefix, pathID int64) error {
	_, err := tx.tx.ExecContext(ctx, `
INSERT OR IGNORE INTO prefix_paths (network, length, path_id) VALUES (?, ?, ?)
`, p.Network, p.Length, pathID)
	return err
}

// AddOrigin records that an AS originates a prefix.
func (tx *Tx) AddOrigin(ctx context.Context, p Prefix, asn uint32) error {
	_, err := tx.tx.ExecContext(ctx, `
INSERT OR IGNORE INTO prefix_origins (asn, network, length) VALUES (?, ?, ?)
`, asn, p.Network, p.Length)
	return err
}

// UpsertNeighbour records the adjacency (receiver learned from
// sender). The transit flag accumulates: once set it stays set.
func (tx *Tx) UpsertNeighbour(ctx context.Context, receiver, sender uint32, transit bool) error {
	_, err := tx.tx.ExecContext(ctx, `
INSERT INTO neighbours (receiver_asn, sender_asn, transit) VALUES (?, ?, ?)
  ON CONFLICT (receiver_asn, sender_asn) DO UPDATE SET transit = MAX(transit, excluded.transit)
`, receiver, sender, transit)
	return err
}

// InsertROAEntry records a route origin authorization.
func (tx *Tx) InsertROAEntry(ctx context.Context, e ROAEntry) error {
	_, err := tx.tx.ExecContext(ctx, `
INSERT OR IGNORE INTO roa_entries (network, length, broadcast, max_length, asn)
  VALUES (?, ?, ?, ?, ?)
`, e.Network, e.Length, e.Broadcast, e.MaxLength, e.ASN)
	return err
}

// AllASNs returns every AS seen so far, for the registry name pass.
func (tx *Tx) AllASNs(ctx context.Context) ([]uint32, error) {
	var out []uint32
	err := tx.tx.SelectContext(ctx, &out, `SELECT asn FROM asns ORDER BY asn`)
	return out, err
}

// OriginNetwork is an (origin AS, originated network address) pair.
type OriginNetwork struct {
	ASN     uint32 `db:"asn"`
	Network []byte `db:"network"`
}

// UnnamedOrigins returns, for every AS that still has no display name,
// the network addresses of the prefixes it originates.
func (tx *Tx) UnnamedOrigins(ctx context.Context) ([]OriginNetwork, error) {
	var out []OriginNetwork
	err := tx.tx.SelectContext(ctx, &out, `
SELECT o.asn AS asn, o.network AS network
  FROM prefix_origins o JOIN asns a ON a.asn = o.asn
 WHERE a.name = ''
 ORDER BY o.asn, o.network
`)
	return out, err
}
