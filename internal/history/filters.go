package history

import (
	"strings"

	"github.com/adhole/ftlbridge/internal/ftlmem"
)

// idSet is a set of record-table indices.
type idSet map[int32]struct{}

// has reports whether id is in the set.
func (s idSet) has(id int32) (ok bool) {
	_, ok = s[id]

	return ok
}

// recordFilter is the compiled form of one request's filters.  Substring and
// exclusion criteria are resolved to id sets once per search, so the hot
// per-record loop does set membership instead of string comparison.
type recordFilter struct {
	params *Params

	// show is the query-log visibility mode from configuration.
	show string

	// nil sets mean "unconstrained".
	domainIDs   idSet
	clientIDs   idSet
	upstreamIDs idSet

	exclDomainIDs idSet
	exclClientIDs idSet

	// noLiveMatch is set when a requested substring matched no table entry
	// at all: no live record can match, so the scan is skipped entirely.
	noLiveMatch bool
}

// compileFilter resolves the request's string criteria against the
// snapshot's tables.
func (e *Engine) compileFilter(s *ftlmem.Snapshot, params *Params) (f *recordFilter, err error) {
	f = &recordFilter{
		params: params,
		show:   e.confSrc.QueryLogShow(),
	}

	if f.show == "nothing" {
		f.noLiveMatch = true

		return f, nil
	}

	st, err := s.Strings()
	if err != nil {
		return nil, err
	}

	err = f.compileDomains(s, st, params.Domain, e.confSrc.ExcludedDomains())
	if err != nil {
		return nil, err
	}

	err = f.compileClients(s, st, params.Client, e.confSrc.ExcludedClients())
	if err != nil {
		return nil, err
	}

	err = f.compileUpstreams(s, st, params.Upstream)
	if err != nil {
		return nil, err
	}

	return f, nil
}

// compileDomains resolves the domain substring filter and the domain
// exclusion list to id sets.
func (f *recordFilter) compileDomains(
	s *ftlmem.Snapshot,
	st ftlmem.StringTable,
	substr string,
	excluded []string,
) (err error) {
	if substr == "" && len(excluded) == 0 {
		return nil
	}

	domains, err := s.Domains()
	if err != nil {
		return err
	}

	if substr != "" {
		f.domainIDs = idSet{}
	}

	if len(excluded) > 0 {
		f.exclDomainIDs = idSet{}
	}

	for i := range domains {
		name := domains[i].Name(st)
		if substr != "" && strings.Contains(name, substr) {
			f.domainIDs[int32(i)] = struct{}{}
		}

		for _, excl := range excluded {
			if name == excl {
				f.exclDomainIDs[int32(i)] = struct{}{}

				break
			}
		}
	}

	if substr != "" && len(f.domainIDs) == 0 {
		f.noLiveMatch = true
	}

	return nil
}

// compileClients resolves the client substring filter and the client
// exclusion list to id sets.  Both the IP address and the resolved name are
// matched.
func (f *recordFilter) compileClients(
	s *ftlmem.Snapshot,
	st ftlmem.StringTable,
	substr string,
	excluded []string,
) (err error) {
	if substr == "" && len(excluded) == 0 {
		return nil
	}

	clients, err := s.Clients()
	if err != nil {
		return err
	}

	if substr != "" {
		f.clientIDs = idSet{}
	}

	if len(excluded) > 0 {
		f.exclClientIDs = idSet{}
	}

	for i := range clients {
		c := &clients[i]
		ip := c.IP(st)
		name, _ := c.Name(st)

		if substr != "" &&
			(strings.Contains(ip, substr) || (name != "" && strings.Contains(name, substr))) {
			f.clientIDs[int32(i)] = struct{}{}
		}

		for _, excl := range excluded {
			if ip == excl || (name != "" && name == excl) {
				f.exclClientIDs[int32(i)] = struct{}{}

				break
			}
		}
	}

	if substr != "" && len(f.clientIDs) == 0 {
		f.noLiveMatch = true
	}

	return nil
}

// compileUpstreams resolves the upstream substring filter to an id set.
func (f *recordFilter) compileUpstreams(
	s *ftlmem.Snapshot,
	st ftlmem.StringTable,
	substr string,
) (err error) {
	if substr == "" {
		return nil
	}

	upstreams, err := s.Upstreams()
	if err != nil {
		return err
	}

	f.upstreamIDs = idSet{}
	for i := range upstreams {
		u := &upstreams[i]
		ip := u.IP(st)
		name, _ := u.Name(st)

		if strings.Contains(ip, substr) || (name != "" && strings.Contains(name, substr)) {
			f.upstreamIDs[int32(i)] = struct{}{}
		}
	}

	if len(f.upstreamIDs) == 0 {
		f.noLiveMatch = true
	}

	return nil
}

// match reports whether a live record passes all compiled criteria.
func (f *recordFilter) match(q *ftlmem.Query) (ok bool) {
	// Records flagged private at capture time never leave the resolver's
	// memory, regardless of the request.
	if q.Privacy >= ftlmem.PrivacyMaximum {
		return false
	}

	switch f.show {
	case "permittedonly":
		if q.Blocked() {
			return false
		}
	case "blockedonly":
		if !q.Blocked() {
			return false
		}
	}

	p := f.params
	if p.From != 0 && q.Timestamp < p.From {
		return false
	}

	if p.Until != 0 && q.Timestamp > p.Until {
		return false
	}

	if p.QueryType != nil && q.Type != *p.QueryType {
		return false
	}

	if p.Status != nil && q.Status != *p.Status {
		return false
	}

	if p.Blocked != nil && q.Blocked() != *p.Blocked {
		return false
	}

	if p.Dnssec != nil && q.Dnssec != *p.Dnssec {
		return false
	}

	if p.Reply != nil && q.Reply != *p.Reply {
		return false
	}

	if f.domainIDs != nil && !f.domainIDs.has(q.DomainID) {
		return false
	}

	if f.clientIDs != nil && !f.clientIDs.has(q.ClientID) {
		return false
	}

	if f.upstreamIDs != nil && !f.upstreamIDs.has(q.UpstreamID) {
		return false
	}

	if f.exclDomainIDs.has(q.DomainID) || f.exclClientIDs.has(q.ClientID) {
		return false
	}

	return true
}
