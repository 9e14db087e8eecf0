package bridgehttp

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/adhole/ftlbridge/internal/ftlmem"
	"github.com/adhole/ftlbridge/internal/ftlsock"
	"github.com/adhole/ftlbridge/internal/history"
)

// Handlers bundles the bridge's HTTP handlers and their collaborators.
type Handlers struct {
	logger *slog.Logger
	engine *history.Engine
	sock   *ftlsock.Client
}

// NewHandlers creates the handler set.  All arguments must not be nil.
func NewHandlers(logger *slog.Logger, engine *history.Engine, sock *ftlsock.Client) (h *Handlers) {
	return &Handlers{
		logger: logger,
		engine: engine,
		sock:   sock,
	}
}

// Register sets up the handlers.
func (h *Handlers) Register(reg RegisterFunc) {
	reg(http.MethodGet, "/stats/history", h.handleHistory)
	reg(http.MethodGet, "/dns/cacheinfo", h.handleCacheInfo)
	reg(http.MethodPost, "/dns/regex/recompile", h.handleRecompileRegex)
}

// historyReply is the payload of the history endpoint.
type historyReply struct {
	History []history.Record `json:"history"`
	Cursor  *string          `json:"cursor"`
}

// emptyHistory is the empty default of the history payload.
func emptyHistory() (data *historyReply) {
	return &historyReply{History: []history.Record{}}
}

// handleHistory is the handler for the GET /stats/history HTTP API.
func (h *Handlers) handleHistory(w http.ResponseWriter, r *http.Request) {
	params, err := parseHistoryParams(r.URL.Query())
	if err != nil {
		WriteError(h.logger, w, emptyHistory(), KeyBadRequest, err.Error())

		return
	}

	recs, next, err := h.engine.Search(r.Context(), params)
	if err != nil {
		WriteFromError(h.logger, w, r, emptyHistory(), err)

		return
	}

	data := &historyReply{History: recs}
	if next != nil {
		token := next.String()
		data.Cursor = &token
	}

	WriteReply(h.logger, w, data)
}

// cacheInfoReply is the payload of the cache-info endpoint.
type cacheInfoReply struct {
	Size     int32 `json:"cache_size"`
	Inserted int32 `json:"cache_inserted"`
	Evicted  int32 `json:"cache_evicted"`
}

// handleCacheInfo is the handler for the GET /dns/cacheinfo HTTP API.
func (h *Handlers) handleCacheInfo(w http.ResponseWriter, r *http.Request) {
	size, inserted, evicted, err := h.sock.CacheInfo()
	if err != nil {
		WriteFromError(h.logger, w, r, &cacheInfoReply{}, err)

		return
	}

	WriteReply(h.logger, w, &cacheInfoReply{
		Size:     size,
		Inserted: inserted,
		Evicted:  evicted,
	})
}

// recompileReply is the payload of the regex-recompile endpoint.
type recompileReply struct {
	Recompiled bool `json:"recompiled"`
}

// handleRecompileRegex is the handler for the POST /dns/regex/recompile HTTP
// API.
func (h *Handlers) handleRecompileRegex(w http.ResponseWriter, r *http.Request) {
	ok, err := h.sock.RecompileRegex()
	if err != nil {
		WriteFromError(h.logger, w, r, &recompileReply{}, err)

		return
	}

	WriteReply(h.logger, w, &recompileReply{Recompiled: ok})
}

// parseHistoryParams translates URL query values into search parameters.
func parseHistoryParams(vals url.Values) (params *history.Params, err error) {
	params = &history.Params{
		Domain:   vals.Get("domain"),
		Client:   vals.Get("client"),
		Upstream: vals.Get("upstream"),
	}

	if s := vals.Get("cursor"); s != "" {
		params.Cursor, err = history.ParseCursor(s)
		if err != nil {
			return nil, err
		}
	}

	params.From, err = parseInt64(vals, "from")
	if err != nil {
		return nil, err
	}

	params.Until, err = parseInt64(vals, "until")
	if err != nil {
		return nil, err
	}

	if s := vals.Get("limit"); s != "" {
		limit, lerr := strconv.Atoi(s)
		if lerr != nil || limit <= 0 {
			return nil, fmt.Errorf("bad limit %q", s)
		}

		params.Limit = limit
	}

	if s := vals.Get("query_type"); s != "" {
		n, terr := parseEnum(s, "query_type", int(ftlmem.QueryTypeCount)-1)
		if terr != nil {
			return nil, terr
		}

		qt := ftlmem.QueryType(n)
		params.QueryType = &qt
	}

	if s := vals.Get("status"); s != "" {
		n, serr := parseEnum(s, "status", int(ftlmem.StatusExternalBlock))
		if serr != nil {
			return nil, serr
		}

		st := ftlmem.QueryStatus(n)
		params.Status = &st
	}

	if s := vals.Get("blocked"); s != "" {
		blocked, berr := strconv.ParseBool(s)
		if berr != nil {
			return nil, fmt.Errorf("bad blocked %q", s)
		}

		params.Blocked = &blocked
	}

	if s := vals.Get("dnssec"); s != "" {
		n, derr := parseEnum(s, "dnssec", int(ftlmem.DnssecUnknown))
		if derr != nil {
			return nil, derr
		}

		d := ftlmem.DnssecType(n)
		params.Dnssec = &d
	}

	if s := vals.Get("reply"); s != "" {
		n, rerr := parseEnum(s, "reply", int(ftlmem.ReplyRRName))
		if rerr != nil {
			return nil, rerr
		}

		rt := ftlmem.ReplyType(n)
		params.Reply = &rt
	}

	return params, nil
}

// parseInt64 parses an optional integer query value, zero when absent.
func parseInt64(vals url.Values, name string) (n int64, err error) {
	s := vals.Get(name)
	if s == "" {
		return 0, nil
	}

	n, err = strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q", name, s)
	}

	return n, nil
}

// parseEnum parses a numeric enum value bounded by max inclusive.
func parseEnum(s, name string, max int) (n int, err error) {
	n, err = strconv.Atoi(s)
	if err != nil || n < 0 || n > max {
		return 0, fmt.Errorf("bad %s %q", name, s)
	}

	return n, nil
}
