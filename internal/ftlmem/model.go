package ftlmem

import (
	"github.com/miekg/dns"
)

// magicByte marks initialized records in shared memory.  The resolver writes
// it into every array entry it has filled in.
const magicByte = 0x57

// QueryType is the type of a DNS query as classified by the resolver.  The
// ordinal doubles as the index into [Counters.QueryTypeCounters].
type QueryType uint8

// Query types tracked by the resolver.
const (
	QueryTypeA QueryType = iota
	QueryTypeAAAA
	QueryTypeANY
	QueryTypeSRV
	QueryTypeSOA
	QueryTypePTR
	QueryTypeTXT

	// QueryTypeCount is the number of tracked query types.
	QueryTypeCount = iota
)

// rrType returns the DNS resource-record type corresponding to qt.
func (qt QueryType) rrType() (rr uint16) {
	switch qt {
	case QueryTypeA:
		return dns.TypeA
	case QueryTypeAAAA:
		return dns.TypeAAAA
	case QueryTypeANY:
		return dns.TypeANY
	case QueryTypeSRV:
		return dns.TypeSRV
	case QueryTypeSOA:
		return dns.TypeSOA
	case QueryTypePTR:
		return dns.TypePTR
	case QueryTypeTXT:
		return dns.TypeTXT
	default:
		return dns.TypeNone
	}
}

// String implements the [fmt.Stringer] interface for QueryType.
func (qt QueryType) String() (s string) {
	return dns.TypeToString[qt.rrType()]
}

// QueryStatus is the filtering outcome of a query.
type QueryStatus uint8

// Query statuses assigned by the resolver.
const (
	StatusUnknown QueryStatus = iota
	StatusGravity
	StatusForward
	StatusCache
	StatusWildcard
	StatusBlacklist
	StatusExternalBlock
)

// BlockedStatuses lists the statuses which mark a query as blocked.
var BlockedStatuses = []QueryStatus{
	StatusGravity,
	StatusWildcard,
	StatusBlacklist,
	StatusExternalBlock,
}

// IsBlocked reports whether st is one of the blocking statuses.
func (st QueryStatus) IsBlocked() (ok bool) {
	switch st {
	case StatusGravity, StatusWildcard, StatusBlacklist, StatusExternalBlock:
		return true
	default:
		return false
	}
}

// ReplyType is the DNS reply kind recorded for a query.
type ReplyType uint8

// Reply types recorded by the resolver.
const (
	ReplyUnknown ReplyType = iota
	ReplyNODATA
	ReplyNXDOMAIN
	ReplyCNAME
	ReplyIP
	ReplyDomain
	ReplyRRName
)

// DnssecType is the DNSSEC validation state of a query.
type DnssecType uint8

// DNSSEC states recorded by the resolver.
const (
	DnssecUnspecified DnssecType = iota
	DnssecSecure
	DnssecInsecure
	DnssecBogus
	DnssecAbandoned
	DnssecUnknown
)

// RegexMatch is the cached regex-blocklist state of a domain.
type RegexMatch uint8

// Regex match states.
const (
	RegexUnknown RegexMatch = iota
	RegexBlocked
	RegexNotBlocked
)

// PrivacyLevel is the ordinal setting controlling how much per-query detail
// the bridge exposes.  Higher levels hide more.
type PrivacyLevel uint8

// Privacy levels, in increasing order of restriction.
const (
	PrivacyShowAll PrivacyLevel = iota
	PrivacyHideDomains
	PrivacyHideDomainsAndClients
	PrivacyMaximum
)

// Settings is the layout of the settings segment.  It is read before any
// other segment to verify the schema version.
type Settings struct {
	Version int32
}

// Counters is the layout of the counters segment.  The total fields bound
// iteration over the over-allocated record arrays; the capacity fields
// reflect the raw allocation and must not be used for iteration.
type Counters struct {
	TotalQueries   int32
	BlockedQueries int32
	CachedQueries  int32
	UnknownQueries int32

	TotalUpstreams int32
	TotalClients   int32
	TotalDomains   int32

	QueryCapacity    int32
	UpstreamCapacity int32
	ClientCapacity   int32
	DomainCapacity   int32
	OverTimeCapacity int32

	GravitySize int32
	GravityConf int32

	OverTimeSize int32

	QueryTypeCounters [QueryTypeCount]int32

	ForwardedQueries int32

	ReplyNODATA   int32
	ReplyNXDOMAIN int32
	ReplyCNAME    int32
	ReplyIP       int32
	ReplyDomain   int32
}

// QueryTypeCount returns the number of queries of type qt.
func (c *Counters) QueryTypeCount(qt QueryType) (n int) {
	return int(c.QueryTypeCounters[qt])
}

// Query is the layout of one entry of the queries segment.  Field order and
// padding mirror the resolver's C struct for schema version [SchemaVersion].
type Query struct {
	magic     uint8
	_         [7]byte
	Timestamp int64
	TimeIndex int32
	Type      QueryType
	Status    QueryStatus
	_         [2]byte
	DomainID   int32
	ClientID   int32
	UpstreamID int32
	_          [4]byte

	// DBID is the row id the resolver assigned when persisting this query
	// to its long-term database, or 0 if the query has not been persisted.
	DBID int64

	// ID is the live sequence id, unique within the in-memory buffer.
	ID int32

	Complete bool
	Privacy  PrivacyLevel
	_        [2]byte

	// ResponseTime is in units of 100 microseconds.
	ResponseTime uint64

	Reply  ReplyType
	Dnssec DnssecType
	_      [6]byte
}

// Blocked reports whether the query was blocked.
func (q *Query) Blocked() (ok bool) {
	return q.Status.IsBlocked()
}

// Client is the layout of one entry of the clients segment.
type Client struct {
	magic        uint8
	_            [3]byte
	QueryCount   int32
	BlockedCount int32
	_            [4]byte
	ipStrID      uint64
	nameStrID    uint64
	nameUnknown  bool
	_            [7]byte
}

// IP returns the IP address of the client, or the empty string if its string
// entry is damaged.
func (c *Client) IP(st StringTable) (ip string) {
	ip, _ = st.Get(int(c.ipStrID))

	return ip
}

// Name returns the resolved hostname of the client.  ok is false if the name
// is unknown or not yet resolved.
func (c *Client) Name(st StringTable) (name string, ok bool) {
	if c.nameUnknown || c.nameStrID == 0 {
		return "", false
	}

	name, _ = st.Get(int(c.nameStrID))

	return name, true
}

// Domain is the layout of one entry of the domains segment.
type Domain struct {
	magic        uint8
	_            [3]byte
	QueryCount   int32
	BlockedCount int32
	_            [4]byte
	domainStrID  uint64
	Regex        RegexMatch
	_            [7]byte
}

// Name returns the domain name, or the empty string if its string entry is
// damaged.
func (d *Domain) Name(st StringTable) (name string) {
	name, _ = st.Get(int(d.domainStrID))

	return name
}

// Upstream is the layout of one entry of the upstreams segment.
type Upstream struct {
	magic       uint8
	_           [3]byte
	QueryCount  int32
	FailedCount int32
	_           [4]byte
	ipStrID     uint64
	nameStrID   uint64
	nameUnknown bool
	_           [7]byte
}

// IP returns the IP address of the upstream, or the empty string if its
// string entry is damaged.
func (u *Upstream) IP(st StringTable) (ip string) {
	ip, _ = st.Get(int(u.ipStrID))

	return ip
}

// Name returns the hostname of the upstream.  ok is false if the name is
// unknown.
func (u *Upstream) Name(st StringTable) (name string, ok bool) {
	if u.nameUnknown || u.nameStrID == 0 {
		return "", false
	}

	name, _ = st.Get(int(u.nameStrID))

	return name, true
}

// OverTime is the layout of one entry of the over-time segment, a ten-minute
// activity bucket.
type OverTime struct {
	magic            uint8
	_                [7]byte
	Timestamp        int64
	TotalQueries     int32
	BlockedQueries   int32
	CachedQueries    int32
	ForwardedQueries int32
	QueryTypes       [QueryTypeCount]int32
	_                [4]byte
}
