package datastore

// schemaVersion stamps every database this binary builds. Readers
// refuse snapshots with a different version.
const schemaVersion = 1

var schema = []string{`
CREATE TABLE asns (
  asn INTEGER PRIMARY KEY NOT NULL,
  direct_feed BOOL NOT NULL DEFAULT 0,
  name TEXT NOT NULL DEFAULT ''
);
`, `
CREATE TABLE prefixes (
  network BLOB NOT NULL,
  length INTEGER NOT NULL,
  broadcast BLOB NOT NULL,
  PRIMARY KEY (network, length)
);
`, `
CREATE TABLE paths (
  path_id INTEGER NOT NULL,
  list_index INTEGER NOT NULL,
  asn INTEGER NOT NULL,
  PRIMARY KEY (path_id, list_index)
);
`, `
CREATE INDEX idx_paths_asn ON paths(asn);
`, `
CREATE TABLE prefix_paths (
  network BLOB NOT NULL,
  length INTEGER NOT NULL,
  path_id INTEGER NOT NULL,
  PRIMARY KEY (network, length, path_id)
);
`, `
CREATE TABLE prefix_origins (
  asn INTEGER NOT NULL,
  network BLOB NOT NULL,
  length INTEGER NOT NULL,
  PRIMARY KEY (asn, network, length)
);
`, `
CREATE INDEX idx_prefix_origins_prefix ON prefix_origins(network, length);
`, `
CREATE TABLE neighbours (
  receiver_asn INTEGER NOT NULL,
  sender_asn INTEGER NOT NULL,
  transit BOOL NOT NULL DEFAULT 0,
  PRIMARY KEY (receiver_asn, sender_asn)
);
`, `
CREATE INDEX idx_neighbours_sender ON neighbours(sender_asn);
`, `
CREATE TABLE roa_entries (
  network BLOB NOT NULL,
  length INTEGER NOT NULL,
  broadcast BLOB NOT NULL,
  max_length INTEGER NOT NULL,
  asn INTEGER NOT NULL,
  PRIMARY KEY (network, length, max_length, asn)
);
`}
