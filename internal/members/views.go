package members

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"membership/internal/accounting"
	"membership/internal/cache"
	"membership/internal/core"
	"membership/internal/query"
	"membership/internal/remote"
	"membership/internal/transactions"
)

const (
	allMembersKey = "all"
	// maxFetchPages bounds how many pages one full fetch may request,
	// whatever the API reports.
	maxFetchPages = 1000
)

var allTags = []cache.Tag{cache.TagMembers, cache.TagMember, cache.TagMeatStatus, cache.TagTransactions}

type fetchFunc func(context.Context, remote.ListParams) (query.Page[core.Member], error)

// ListMembers returns one page of members. In local search mode the full
// list is fetched once and filtered and paged here.
func (s *Service) ListMembers(ctx context.Context, f query.MemberFilter) (query.Page[core.Member], error) {
	f = f.Normalize(s.cfg.PageLimit)
	if s.cfg.SearchMode == SearchLocal {
		return s.localPage(ctx, f)
	}
	return s.cachedPage(ctx, "members", f, []cache.Tag{cache.TagMembers}, s.remote.ListMembers)
}

// MeatStatusPage returns one page of members with their meat flags for
// f.Year.
func (s *Service) MeatStatusPage(ctx context.Context, f query.MemberFilter) (query.Page[core.Member], error) {
	f = f.Normalize(s.cfg.PageLimit)
	if f.Year == 0 {
		f.Year = s.Now().Year()
	}
	if s.cfg.SearchMode == SearchLocal {
		return s.localPage(ctx, f)
	}
	// New members show up in the meat view too.
	tags := []cache.Tag{cache.TagMeatStatus, cache.TagMembers}
	return s.cachedPage(ctx, "meat", f, tags, s.remote.MeatStatus)
}

func (s *Service) cachedPage(
	ctx context.Context,
	prefix string,
	f query.MemberFilter,
	tags []cache.Tag,
	fetch fetchFunc,
) (query.Page[core.Member], error) {
	key := pageKey(prefix, f)
	if page, ok := s.pages.Get(key); ok {
		return page, nil
	}
	gen := s.manager.Generation(tags...)
	page, err := fetch(ctx, remote.ListParams{SearchTerm: f.SearchTerm, Year: f.Year, Page: f.Page, Limit: f.Limit})
	if err != nil {
		return page, err
	}
	if page.Data == nil {
		page.Data = []core.Member{}
	}
	if ctx.Err() == nil {
		s.manager.Fill(gen, tags, func() { s.pages.SetTagged(key, page, tags...) })
	}
	return page, nil
}

func (s *Service) localPage(ctx context.Context, f query.MemberFilter) (query.Page[core.Member], error) {
	all, err := s.AllMembers(ctx)
	if err != nil {
		return query.Page[core.Member]{}, err
	}
	return query.Paginate(query.FilterMembers(all, f.SearchTerm), f.Page, f.Limit), nil
}

func pageKey(prefix string, f query.MemberFilter) string {
	return strings.Join([]string{
		prefix,
		strings.ToLower(f.SearchTerm),
		strconv.Itoa(f.Year),
		strconv.Itoa(f.Page),
		strconv.Itoa(f.Limit),
	}, "|")
}

// GetMember returns one member by member id.
func (s *Service) GetMember(ctx context.Context, id string) (core.Member, error) {
	if strings.TrimSpace(id) == "" {
		return core.Member{}, &core.FieldError{Field: "memberId", Err: core.ErrEmptyMemberID}
	}
	if m, ok := s.single.Get(id); ok {
		return m, nil
	}
	tags := []cache.Tag{cache.TagMember}
	gen := s.manager.Generation(tags...)
	m, err := s.fetchMember(ctx, id)
	if err != nil {
		return core.Member{}, err
	}
	if ctx.Err() == nil {
		s.manager.Fill(gen, tags, func() { s.single.SetTagged(id, m, tags...) })
	}
	return m, nil
}

// AllMembers fetches every page of the member list.
func (s *Service) AllMembers(ctx context.Context) ([]core.Member, error) {
	return s.everyMember(ctx, allMembersKey, s.remote.ListMembers, remote.ListParams{}, allTags)
}

// everyMember fetches every page behind p and caches the concatenation
// under key. The first page tells how many pages there are; the rest are
// fetched concurrently.
func (s *Service) everyMember(ctx context.Context, key string, fetch fetchFunc, p remote.ListParams, tags []cache.Tag) ([]core.Member, error) {
	if all, ok := s.all.Get(key); ok {
		return all, nil
	}
	gen := s.manager.Generation(tags...)

	p.Page, p.Limit = 1, s.cfg.FetchLimit
	first, err := fetch(ctx, p)
	if err != nil {
		return nil, err
	}

	// The paging block comes from the API; never size anything from it
	// beyond what the reported total can fill.
	total := max(first.Meta.Total, len(first.Data))
	size := p.Limit
	if first.Meta.Limit > 0 {
		size = first.Meta.Limit
	}
	count := min(max(first.Meta.TotalPages, 1), max(query.TotalPagesFor(total, size), 1), maxFetchPages)

	pages := make([][]core.Member, count)
	pages[0] = first.Data

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)
	for n := 2; n <= count; n++ {
		g.Go(func() error {
			q := p
			q.Page = n
			page, err := fetch(gctx, q)
			if err != nil {
				return fmt.Errorf("fetch page %d: %w", n, err)
			}
			pages[n-1] = page.Data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	capacity := min(total, count*p.Limit)
	all := make([]core.Member, 0, capacity)
	seen := make(map[string]struct{}, capacity)
	for _, page := range pages {
		for _, m := range page {
			// Pages can shift under concurrent inserts.
			if _, dup := seen[m.MemberID]; dup && m.MemberID != "" {
				continue
			}
			seen[m.MemberID] = struct{}{}
			all = append(all, m)
		}
	}

	if ctx.Err() == nil {
		s.manager.Fill(gen, tags, func() { s.all.SetTagged(key, all, tags...) })
	}
	return all, nil
}

// wholeResult returns every member behind page, the population the view
// aggregates are counted over. A page that already holds the whole result
// is used as is.
func (s *Service) wholeResult(ctx context.Context, prefix string, f query.MemberFilter, page query.Page[core.Member], fetch fetchFunc, tags []cache.Tag) ([]core.Member, error) {
	f = f.Normalize(s.cfg.PageLimit)
	if page.Meta.Page <= 1 && page.Meta.Total <= len(page.Data) {
		return page.Data, nil
	}
	if s.cfg.SearchMode == SearchLocal {
		all, err := s.AllMembers(ctx)
		if err != nil {
			return nil, err
		}
		return query.FilterMembers(all, f.SearchTerm), nil
	}
	key := pageKey(prefix, query.MemberFilter{SearchTerm: f.SearchTerm, Year: f.Year})
	return s.everyMember(ctx, key, fetch, remote.ListParams{SearchTerm: f.SearchTerm, Year: f.Year}, tags)
}

// TransactionView is the grouped transaction list with its aggregates.
type TransactionView struct {
	Filter       query.TransactionFilter `json:"-"`
	Transactions []core.Transaction      `json:"transactions"`
	Stats        query.TransactionStats  `json:"stats"`
	// MonthsPaid counts the member-months the listed transactions cover.
	MonthsPaid int                  `json:"monthsPaid"`
	Methods    []core.PaymentMethod `json:"methods"`
}

func (s *Service) Transactions(ctx context.Context, f query.TransactionFilter) (TransactionView, error) {
	all, err := s.AllMembers(ctx)
	if err != nil {
		return TransactionView{}, err
	}
	txs := query.FilterTransactions(transactions.Group(all, s.cfg.Location), f, s.cfg.Location)
	return TransactionView{
		Filter:       f,
		Transactions: txs,
		Stats:        query.ComputeTransactionStats(txs),
		MonthsPaid:   len(transactions.Flatten(txs)),
		Methods:      core.PaymentMethods(),
	}, nil
}

// MemberTransactions returns the grouped payments of one member, newest first.
func (s *Service) MemberTransactions(m core.Member) []core.Transaction {
	return transactions.Group([]core.Member{m}, s.cfg.Location)
}

// DashboardView is the landing page: a page of enriched members and the
// member counts.
type DashboardView struct {
	Year    int                  `json:"year"`
	Members []accounting.Summary `json:"members"`
	Meta    query.Meta           `json:"meta"`
	Stats   query.MemberStats    `json:"stats"`
}

func (s *Service) Dashboard(ctx context.Context, f query.MemberFilter) (DashboardView, error) {
	now := s.Now()
	if f.Year == 0 {
		f.Year = now.Year()
	}
	page, err := s.ListMembers(ctx, f)
	if err != nil {
		return DashboardView{}, err
	}
	everyone, err := s.wholeResult(ctx, "members-all", f, page, s.remote.ListMembers, []cache.Tag{cache.TagMembers})
	if err != nil {
		return DashboardView{}, err
	}
	return DashboardView{
		Year:    f.Year,
		Members: accounting.SummarizeAll(page.Data, f.Year, now),
		Meta:    page.Meta,
		Stats:   query.ComputeMemberStats(everyone),
	}, nil
}

// MeatRow is one line of the meat distribution view.
type MeatRow struct {
	MemberID      string `json:"memberId"`
	Name          string `json:"name"`
	NameInBengali string `json:"name_in_bengali"`
	Phone         string `json:"phone,omitempty"`
	Taken         bool   `json:"taken"`
}

type MeatView struct {
	Year    int             `json:"year"`
	Members []MeatRow       `json:"members"`
	Meta    query.Meta      `json:"meta"`
	Stats   query.MeatStats `json:"stats"`
	Years   []int           `json:"years"`
}

func (s *Service) MeatDistribution(ctx context.Context, f query.MemberFilter) (MeatView, error) {
	if f.Year == 0 {
		f.Year = s.Now().Year()
	}
	page, err := s.MeatStatusPage(ctx, f)
	if err != nil {
		return MeatView{}, err
	}
	rows := make([]MeatRow, len(page.Data))
	for i, m := range page.Data {
		rows[i] = MeatRow{
			MemberID:      m.MemberID,
			Name:          m.Name,
			NameInBengali: m.NameInBengali,
			Phone:         m.Phone,
			Taken:         accounting.MeatStatus(m, f.Year),
		}
	}
	everyone, err := s.wholeResult(ctx, "meat-all", f, page, s.remote.MeatStatus, []cache.Tag{cache.TagMeatStatus, cache.TagMembers})
	if err != nil {
		return MeatView{}, err
	}
	return MeatView{
		Year:    f.Year,
		Members: rows,
		Meta:    page.Meta,
		Stats:   query.ComputeMeatStats(everyone, f.Year),
		Years:   accounting.YearWindow(s.Now()),
	}, nil
}

// MemberDetail is the member page for one year.
type MemberDetail struct {
	Summary      accounting.Summary     `json:"summary"`
	Grid         []accounting.MonthCell `json:"grid"`
	Years        []int                  `json:"years"`
	Transactions []core.Transaction     `json:"transactions"`
}

func (s *Service) MemberDetail(ctx context.Context, id string, year int) (MemberDetail, error) {
	now := s.Now()
	if year == 0 {
		year = now.Year()
	}
	if year < core.MinYear {
		return MemberDetail{}, &core.FieldError{Field: "year", Err: core.ErrInvalidYear}
	}
	m, err := s.GetMember(ctx, id)
	if err != nil {
		return MemberDetail{}, err
	}
	years := accounting.YearWindow(now)
	if !slices.Contains(years, year) {
		years = append(years, year)
		slices.Sort(years)
	}
	return MemberDetail{
		Summary:      accounting.Summarize(m, year, now),
		Grid:         accounting.MonthGrid(m, year),
		Years:        years,
		Transactions: s.MemberTransactions(m),
	}, nil
}

// IsNotFound reports whether err means the member does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMemberNotFound) || errors.Is(err, remote.ErrNotFound)
}
