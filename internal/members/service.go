// Package members is the command and view layer over the membership API.
// Reads go through a tagged cache; commands are validated, submitted once,
// invalidate the tags they affect and emit a ledger event.
package members

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"membership/internal/cache"
	"membership/internal/core"
	"membership/internal/log"
	"membership/internal/query"
	"membership/internal/remote"
)

var ErrMemberNotFound = errors.New("member not found")

// Remote is the membership API.
type Remote interface {
	CreateMember(ctx context.Context, in core.NewMember) (core.Member, error)
	ListMembers(ctx context.Context, p remote.ListParams) (query.Page[core.Member], error)
	GetMember(ctx context.Context, id string) (core.Member, error)
	MeatStatus(ctx context.Context, p remote.ListParams) (query.Page[core.Member], error)
	MarkMeatTaken(ctx context.Context, in core.MeatRequest) error
	MarkMeatNotTaken(ctx context.Context, in core.MeatRequest) error
	RecordPayment(ctx context.Context, in core.PaymentRequest) error
	UpdateMember(ctx context.Context, id string, patch core.MemberPatch) (core.Member, error)
}

// Publisher emits ledger events once a command has been accepted.
type Publisher interface {
	Publish(ctx context.Context, ev core.LedgerEvent) error
}

// Search modes.
const (
	SearchServer = "server"
	SearchLocal  = "local"
)

type Config struct {
	PageLimit  int
	SearchMode string
	Location   *time.Location
	CacheSize  int
	CacheTTL   time.Duration
	// FetchLimit is the page size used when every member is needed.
	FetchLimit int
	// FetchConcurrency bounds the pages fetched at once.
	FetchConcurrency int
}

func DefaultConfig() Config {
	return Config{
		PageLimit:        10,
		SearchMode:       SearchServer,
		Location:         time.Local,
		CacheSize:        256,
		CacheTTL:         2 * time.Minute,
		FetchLimit:       100,
		FetchConcurrency: 4,
	}
}

// Result describes an accepted command.
type Result struct {
	Member      *core.Member `json:"member,omitempty"`
	MeatTaken   *bool        `json:"meatTaken,omitempty"`
	EventID     string       `json:"eventId,omitempty"`
	Invalidated []cache.Tag  `json:"invalidated"`
}

type Service struct {
	remote    Remote
	publisher Publisher
	cfg       Config
	now       func() time.Time

	pages   *cache.LRUCache[query.Page[core.Member]]
	single  *cache.LRUCache[core.Member]
	all     *cache.LRUCache[[]core.Member]
	manager *cache.Manager

	// commands are serialised
	mu     sync.Mutex
	logger *log.Logger
	events *log.StructuredLogger
}

// New builds a Service. publisher may be nil, in which case no ledger
// events are emitted.
func New(r Remote, publisher Publisher, cfg Config, logger *log.Logger) *Service {
	def := DefaultConfig()
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = def.PageLimit
	}
	if cfg.SearchMode == "" {
		cfg.SearchMode = def.SearchMode
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = def.FetchLimit
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = def.FetchConcurrency
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentMembers)

	s := &Service{
		remote:    r,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		pages:     cache.NewLRUCache[query.Page[core.Member]](cfg.CacheSize, cfg.CacheTTL),
		single:    cache.NewLRUCache[core.Member](cfg.CacheSize, cfg.CacheTTL),
		all:       cache.NewLRUCache[[]core.Member](16, cfg.CacheTTL),
		manager:   cache.NewManager(logger),
		logger:    logger,
		events:    log.NewStructuredLogger(logger),
	}
	s.manager.Register(s.pages)
	s.manager.Register(s.single)
	s.manager.Register(s.all)
	return s
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// StartCacheCleanup evicts expired entries every interval until Close.
func (s *Service) StartCacheCleanup(interval time.Duration) {
	s.manager.StartCleanup(interval)
}

func (s *Service) Close() {
	s.manager.Stop()
}

func (s *Service) Location() *time.Location {
	return s.cfg.Location
}

func (s *Service) PageLimit() int {
	return s.cfg.PageLimit
}

// Now returns the current time in the configured location.
func (s *Service) Now() time.Time {
	return s.now().In(s.cfg.Location)
}

// CreateMember validates in, submits it and invalidates the member lists.
func (s *Service) CreateMember(ctx context.Context, in core.NewMember) (Result, error) {
	in = in.Normalize()
	if err := in.Validate(s.Now()); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.remote.CreateMember(ctx, in)
	if err != nil {
		s.events.LogCommandFailed(ctx, log.OpCreate, err, errorType(err))
		return Result{}, err
	}
	if created.MemberID == "" && created.Name == "" {
		// API accepted the member without echoing it.
		created = core.Member{Name: in.Name, NameInBengali: in.NameInBengali, Phone: in.Phone,
			Address: in.Address, Fee: in.Fee, Status: in.Status, JoinedDate: in.JoinedDate}
	}

	res := s.accept(ctx, []cache.Tag{cache.TagMembers}, core.EventMemberCreated, created.MemberID, func(ev *core.LedgerEvent) {
		ev.MemberName = created.Name
	})
	res.Member = &created
	s.logger.InfoContext(ctx, "Member created", log.FieldMemberID, created.MemberID)
	return res, nil
}

// RecordPayment records req.Months of req.Year for one member. A month the
// member already paid is replaced by the new payment.
func (s *Service) RecordPayment(ctx context.Context, req core.PaymentRequest) (Result, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	member, err := s.fetchMember(ctx, req.MemberID)
	if err != nil {
		return Result{}, err
	}

	if err := s.remote.RecordPayment(ctx, req); err != nil {
		s.events.LogCommandFailed(ctx, log.OpPay, err, errorType(err))
		return Result{}, err
	}

	tags := []cache.Tag{cache.TagMember, cache.TagMembers, cache.TagTransactions}
	res := s.accept(ctx, tags, core.EventPaymentRecorded, req.MemberID, func(ev *core.LedgerEvent) {
		ev.MemberName = member.Name
		ev.Year = req.Year
		ev.Months = req.Months
		ev.Method = req.Method
		ev.Amount = int64(len(req.Months)) * member.Fee
	})
	s.events.LogPaymentRecorded(ctx, req.MemberID, req.Year, req.Months, string(req.Method), cache.Strings(tags))
	return res, nil
}

// MarkMeatTaken flags the member as having received meat for req.Year.
func (s *Service) MarkMeatTaken(ctx context.Context, req core.MeatRequest) (Result, error) {
	return s.setMeat(ctx, req, true)
}

func (s *Service) MarkMeatNotTaken(ctx context.Context, req core.MeatRequest) (Result, error) {
	return s.setMeat(ctx, req, false)
}

// ToggleMeat reads the current flag and submits its opposite. The read and
// the submit happen under the command lock.
func (s *Service) ToggleMeat(ctx context.Context, memberID string, year int, adminID string) (Result, error) {
	req := core.MeatRequest{MemberID: memberID, Year: year, AdminID: adminID}
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	member, err := s.fetchMember(ctx, memberID)
	if err != nil {
		return Result{}, err
	}
	return s.submitMeat(ctx, req, !member.MeatTaken[core.YearKey(year)])
}

func (s *Service) setMeat(ctx context.Context, req core.MeatRequest, taken bool) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitMeat(ctx, req, taken)
}

// submitMeat expects s.mu to be held.
func (s *Service) submitMeat(ctx context.Context, req core.MeatRequest, taken bool) (Result, error) {
	submit, evType := s.remote.MarkMeatNotTaken, core.EventMeatNotTaken
	if taken {
		submit, evType = s.remote.MarkMeatTaken, core.EventMeatTaken
	}
	if err := submit(ctx, req); err != nil {
		s.events.LogCommandFailed(ctx, log.OpMeat, err, errorType(err))
		return Result{}, err
	}

	res := s.accept(ctx, []cache.Tag{cache.TagMeatStatus, cache.TagMember}, evType, req.MemberID, func(ev *core.LedgerEvent) {
		ev.Year = req.Year
		ev.Actor = req.AdminID
	})
	res.MeatTaken = &taken
	s.logger.InfoContext(ctx, "Meat status changed",
		log.FieldMemberID, req.MemberID,
		log.FieldYear, req.Year,
		"taken", taken)
	return res, nil
}

// UpdateMember applies the non-nil fields of patch.
func (s *Service) UpdateMember(ctx context.Context, id string, patch core.MemberPatch) (Result, error) {
	if id == "" {
		return Result{}, &core.FieldError{Field: "memberId", Err: core.ErrEmptyMemberID}
	}
	if patch.Empty() {
		return Result{}, &core.FieldError{Field: "patch", Err: errors.New("nothing to update")}
	}
	if err := patch.Validate(s.Now()); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, cached := s.single.Get(id)
	updated, err := s.remote.UpdateMember(ctx, id, patch)
	if err != nil {
		s.events.LogCommandFailed(ctx, log.OpUpdate, err, errorType(err))
		return Result{}, err
	}
	if updated.MemberID == "" && cached {
		// API accepted the patch without echoing the member.
		updated = patch.Apply(prev)
	}

	res := s.accept(ctx, []cache.Tag{cache.TagMembers, cache.TagMember}, core.EventMemberUpdated, id, func(ev *core.LedgerEvent) {
		ev.MemberName = updated.Name
	})
	if updated.MemberID != "" {
		res.Member = &updated
	}
	return res, nil
}

// accept runs after the API confirmed a command: it invalidates tags and
// publishes the ledger event. Neither step can fail the command.
func (s *Service) accept(ctx context.Context, tags []cache.Tag, t core.EventType, memberID string, fill func(*core.LedgerEvent)) Result {
	removed := s.manager.Invalidate(tags...)
	s.logger.DebugContext(ctx, "Cache invalidated",
		log.FieldTags, cache.Strings(tags),
		"removed", removed)

	res := Result{Invalidated: tags}
	if s.publisher == nil || memberID == "" {
		return res
	}

	ev := core.NewLedgerEvent(t, memberID, s.now())
	fill(&ev)
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish ledger event",
			log.FieldEventID, ev.ID,
			log.FieldEventType, ev.Type,
			log.FieldError, err)
		return res
	}
	res.EventID = ev.ID
	return res
}

// fetchMember bypasses the cache; commands decide on fresh state.
func (s *Service) fetchMember(ctx context.Context, id string) (core.Member, error) {
	m, err := s.remote.GetMember(ctx, id)
	if errors.Is(err, remote.ErrNotFound) {
		return core.Member{}, fmt.Errorf("%s: %w", id, ErrMemberNotFound)
	}
	return m, err
}

func errorType(err error) string {
	var fe *core.FieldError
	var de *remote.DomainError
	switch {
	case errors.As(err, &fe):
		return log.ErrorTypeValidation
	case errors.As(err, &de):
		return log.ErrorTypeDomain
	case errors.Is(err, remote.ErrNotFound), errors.Is(err, ErrMemberNotFound):
		return log.ErrorTypeNotFound
	case errors.Is(err, remote.ErrUnauthorized), errors.Is(err, remote.ErrForbidden):
		return log.ErrorTypeAuth
	default:
		return log.ErrorTypeNetwork
	}
}
