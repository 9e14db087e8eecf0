package ftlmem

// TestMemory is the fixture [Memory] used in tests.  It serves the data it
// was constructed with and performs no real mapping.  Choosing between
// TestMemory and [ShmMemory] happens once, at construction of whatever
// consumes the [Memory].
type TestMemory struct {
	Settings  Settings
	Counters  Counters
	Queries   []Query
	Clients   []Client
	Domains   []Domain
	Upstreams []Upstream
	OverTime  []OverTime
	Strings   map[int]string
}

// type check
var _ Memory = (*TestMemory)(nil)

// Open implements the [Memory] interface for *TestMemory.
func (m *TestMemory) Open() (v View, err error) {
	return &testView{m: m}, nil
}

// testView adapts [TestMemory] fixture data to the [View] interface.
type testView struct {
	m *TestMemory
}

// type check
var _ View = (*testView)(nil)

// Settings implements the [View] interface for *testView.
func (v *testView) Settings() (s *Settings, err error) { return &v.mem().Settings, nil }

// Counters implements the [View] interface for *testView.
func (v *testView) Counters() (c *Counters, err error) { return &v.mem().Counters, nil }

// Queries implements the [View] interface for *testView.
func (v *testView) Queries() (qs []Query, err error) { return v.mem().Queries, nil }

// Clients implements the [View] interface for *testView.
func (v *testView) Clients() (cs []Client, err error) { return v.mem().Clients, nil }

// Domains implements the [View] interface for *testView.
func (v *testView) Domains() (ds []Domain, err error) { return v.mem().Domains, nil }

// Upstreams implements the [View] interface for *testView.
func (v *testView) Upstreams() (us []Upstream, err error) { return v.mem().Upstreams, nil }

// OverTime implements the [View] interface for *testView.
func (v *testView) OverTime() (ot []OverTime, err error) { return v.mem().OverTime, nil }

// Strings implements the [View] interface for *testView.
func (v *testView) Strings() (st StringTable, err error) {
	return mapStrings(v.mem().Strings), nil
}

// Close implements the [View] interface for *testView.
func (v *testView) Close() (err error) { return nil }

// mem returns the fixture data backing v.
func (v *testView) mem() (m *TestMemory) { return v.m }

// MakeQuery builds a fixture [Query].
func MakeQuery(
	id int32,
	dbID int64,
	timestamp int64,
	qt QueryType,
	status QueryStatus,
	domainID int32,
	clientID int32,
	upstreamID int32,
	privacy PrivacyLevel,
) (q Query) {
	return Query{
		magic:        magicByte,
		Timestamp:    timestamp,
		TimeIndex:    1,
		Type:         qt,
		Status:       status,
		DomainID:     domainID,
		ClientID:     clientID,
		UpstreamID:   upstreamID,
		DBID:         dbID,
		ID:           id,
		Complete:     true,
		Privacy:      privacy,
		ResponseTime: 1,
		Reply:        ReplyIP,
		Dnssec:       DnssecUnspecified,
	}
}

// MakeClient builds a fixture [Client].  nameStrID == 0 means the name is
// unknown.
func MakeClient(queryCount, blockedCount int32, ipStrID, nameStrID uint64) (c Client) {
	return Client{
		magic:        magicByte,
		QueryCount:   queryCount,
		BlockedCount: blockedCount,
		ipStrID:      ipStrID,
		nameStrID:    nameStrID,
		nameUnknown:  nameStrID == 0,
	}
}

// MakeDomain builds a fixture [Domain].
func MakeDomain(queryCount, blockedCount int32, domainStrID uint64, regex RegexMatch) (d Domain) {
	return Domain{
		magic:        magicByte,
		QueryCount:   queryCount,
		BlockedCount: blockedCount,
		domainStrID:  domainStrID,
		Regex:        regex,
	}
}

// MakeUpstream builds a fixture [Upstream].  nameStrID == 0 means the name
// is unknown.
func MakeUpstream(queryCount, failedCount int32, ipStrID, nameStrID uint64) (u Upstream) {
	return Upstream{
		magic:        magicByte,
		QueryCount:   queryCount,
		FailedCount:  failedCount,
		ipStrID:      ipStrID,
		nameStrID:    nameStrID,
		nameUnknown:  nameStrID == 0,
	}
}
