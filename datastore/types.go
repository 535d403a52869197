package datastore

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

// ErrNotFound is returned by lookups for records that do not exist.
var ErrNotFound = errors.New("not found")

// Prefix is a CIDR block as stored in the database: the network and
// broadcast (last) addresses in packed 4- or 16-byte form, plus the
// prefix length. Keeping the broadcast address materialized makes
// range containment a pair of blob comparisons.
type Prefix struct {
	Network   []byte `db:"network"`
	Length    int    `db:"length"`
	Broadcast []byte `db:"broadcast"`
}

// ParsePrefix parses a CIDR string. Host bits are silently masked off,
// IPv4 addresses are reduced to their packed 4-byte form.
func ParsePrefix(s string) (Prefix, error) {
	_, ipnet, err := net.ParseCIDR(s)
	if err != nil {
		return Prefix{}, err
	}
	return NewPrefix(ipnet), nil
}

// NewPrefix builds a Prefix from a parsed network.
func NewPrefix(ipnet *net.IPNet) Prefix {
	network := ipnet.IP
	if ip4 := network.To4(); ip4 != nil {
		network = ip4
	}
	ones, _ := ipnet.Mask.Size()

	// Broadcast address: network with all host bits set.
	mask := net.CIDRMask(ones, len(network)*8)
	broadcast := make([]byte, len(network))
	for i := range network {
		broadcast[i] = network[i] | ^mask[i]
	}

	return Prefix{
		Network:   append([]byte(nil), network...),
		Length:    ones,
		Broadcast: broadcast,
	}
}

// IPNet returns the prefix as a net.IPNet.
func (p Prefix) IPNet() *net.IPNet {
	return &net.IPNet{
		IP:   net.IP(p.Network),
		Mask: net.CIDRMask(p.Length, len(p.Network)*8),
	}
}

func (p Prefix) String() string {
	if len(p.Network) == 0 {
		return ""
	}
	return fmt.Sprintf("%s/%d", net.IP(p.Network), p.Length)
}

func (p Prefix) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Prefix) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParsePrefix(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// PathID derives the content identifier of an AS path from its ordered
// hop sequence, as the first 8 bytes of a SHA-256 digest. Identical
// paths collapse to one record regardless of which announcement they
// were seen in.
func PathID(hops []uint32) int64 {
	buf := make([]byte, 4*len(hops))
	for i, asn := range hops {
		binary.BigEndian.PutUint32(buf[4*i:], asn)
	}
	digest := sha256.Sum256(buf)
	return int64(binary.BigEndian.Uint64(digest[:8]))
}

// ASNInfo is one row of the asns table.
type ASNInfo struct {
	ASN        uint32 `json:"asn" db:"asn"`
	DirectFeed bool   `json:"direct_feed" db:"direct_feed"`
	Name       string `json:"name" db:"name"`
}

// ASNSummary is an AS with its adjacency (peer) count.
type ASNSummary struct {
	ASN        uint32 `json:"asn" db:"asn"`
	Name       string `json:"name" db:"name"`
	PeerCount  int    `json:"peer_count" db:"peer_count"`
	DirectFeed bool   `json:"direct_feed" db:"direct_feed"`
}

// PeerInfo describes one observed peering of an AS. ReceivesTransit
// and SendsTransit aggregate the transit flags of the adjacency in
// both directions, from the point of view of the AS that was queried.
type PeerInfo struct {
	ASN             uint32 `json:"asn" db:"asn"`
	Name            string `json:"name" db:"name"`
	DirectFeed      bool   `json:"direct_feed" db:"direct_feed"`
	ReceivesTransit bool   `json:"receives_transit" db:"receives_transit"`
	SendsTransit    bool   `json:"sends_transit" db:"sends_transit"`
}

// Neighbour is a directed adjacency: the receiver AS learned a route
// from the sender AS in some observed path. The transit flag is set
// once the sender is seen forwarding a prefix it does not originate.
type Neighbour struct {
	ReceiverASN uint32 `json:"receiver_asn" db:"receiver_asn"`
	SenderASN   uint32 `json:"sender_asn" db:"sender_asn"`
	Transit     bool   `json:"transit" db:"transit"`
}

// ROAEntry is a route origin authorization: ASN may originate
// announcements within the covered range up to MaxLength bits.
type ROAEntry struct {
	Network   []byte `db:"network"`
	Length    int    `db:"length"`
	Broadcast []byte `db:"broadcast"`
	MaxLength int    `db:"max_length"`
	ASN       uint32 `db:"asn"`
}

// Prefix returns the covered range as a Prefix.
func (e ROAEntry) Prefix() Prefix {
	return Prefix{Network: e.Network, Length: e.Length, Broadcast: e.Broadcast}
}

// PathRef locates one occurrence of an AS inside a stored path.
type PathRef struct {
	PathID int64 `db:"path_id"`
	Index  int   `db:"list_index"`
}

// CoOccurrence locates a pair of ASes appearing within the same stored
// path.
type CoOccurrence struct {
	PathID      int64 `db:"path_id"`
	FirstIndex  int   `db:"first_index"`
	SecondIndex int   `db:"second_index"`
}
