package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"apato/internal/model"
	"apato/internal/source"
	"apato/internal/yield"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type linkKey struct {
	watchlistID uint
	cardID      int64
}

// memStore 是 Store 的内存实现。
type memStore struct {
	mu         sync.Mutex
	clock      *fakeClock
	watchlists []model.Watchlist
	listings   map[int64]model.Listing
	links      map[linkKey]model.WatchlistListingLink

	insertLinkCalls atomic.Int32
	// unsentDelay 让 UnsentLinks 变慢，模拟通知任务先于重新入队完成
	unsentDelay time.Duration
}

func newMemStore(clock *fakeClock, watchlists ...model.Watchlist) *memStore {
	return &memStore{
		clock:      clock,
		watchlists: watchlists,
		listings:   make(map[int64]model.Listing),
		links:      make(map[linkKey]model.WatchlistListingLink),
	}
}

func (s *memStore) GetAllWatchlists(ctx context.Context) ([]model.Watchlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Watchlist(nil), s.watchlists...), nil
}

func (s *memStore) GetWatchlist(ctx context.Context, id uint) (*model.Watchlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.watchlists {
		if s.watchlists[i].ID == id {
			w := s.watchlists[i]
			return &w, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetListing(ctx context.Context, cardID int64) (*model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[cardID]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (s *memStore) InsertListing(ctx context.Context, l *model.Listing) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listings[l.CardID]; ok {
		return false, nil
	}
	now := s.clock.Now()
	l.CreatedAt, l.UpdatedAt = now, now
	s.listings[l.CardID] = *l
	return true, nil
}

func (s *memStore) UpdateRentAndYield(ctx context.Context, cardID int64, rent int, estimatedYield float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[cardID]
	if !ok {
		return errors.New("not found")
	}
	l.Rent = rent
	l.EstimatedYield = estimatedYield
	l.UpdatedAt = s.clock.Now()
	s.listings[cardID] = l
	return nil
}

func (s *memStore) StaleListings(ctx context.Context, w *model.Watchlist, window time.Duration) ([]model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Listing
	for _, l := range s.listings {
		if l.LocationID != w.LocationID || l.LocationLevel != w.LocationLevel || !w.MatchesSize(l.Size) {
			continue
		}
		if !l.IsFresh(s.clock.Now(), window) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CardID < out[j].CardID })
	return out, nil
}

func (s *memStore) GetLink(ctx context.Context, watchlistID uint, cardID int64) (*model.WatchlistListingLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[linkKey{watchlistID, cardID}]
	if !ok {
		return nil, nil
	}
	return &link, nil
}

func (s *memStore) InsertLink(ctx context.Context, watchlistID uint, cardID int64) (bool, error) {
	s.insertLinkCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	k := linkKey{watchlistID, cardID}
	if _, ok := s.links[k]; ok {
		return false, nil
	}
	s.links[k] = model.WatchlistListingLink{WatchlistID: watchlistID, CardID: cardID, CreatedAt: s.clock.Now()}
	return true, nil
}

func (s *memStore) MarkSent(ctx context.Context, watchlistID uint, cardID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := linkKey{watchlistID, cardID}
	link, ok := s.links[k]
	if !ok || link.Sent {
		return false, nil
	}
	link.Sent = true
	s.links[k] = link
	return true, nil
}

func (s *memStore) UnsentLinks(ctx context.Context, watchlistID uint) ([]model.WatchlistListingLink, error) {
	if s.unsentDelay > 0 {
		time.Sleep(s.unsentDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.WatchlistListingLink
	for k, link := range s.links {
		if k.watchlistID == watchlistID && !link.Sent {
			out = append(out, link)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CardID < out[j].CardID })
	return out, nil
}

func (s *memStore) link(watchlistID uint, cardID int64) (model.WatchlistListingLink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[linkKey{watchlistID, cardID}]
	return link, ok
}

func (s *memStore) linkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

func (s *memStore) listing(cardID int64) (model.Listing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[cardID]
	return l, ok
}

// fakeSource 返回固定的搜索结果。
type fakeSource struct {
	mu          sync.Mutex
	cards       []source.Card
	details     map[int64]source.Detail
	rentals     []yield.Comparable
	searchErr   error
	searchDelay time.Duration
	detailDelay time.Duration

	rentalQueries []source.Query

	searchCalls  atomic.Int32
	detailCalls  atomic.Int32
	rentalsCalls atomic.Int32
}

func (f *fakeSource) Search(ctx context.Context, q source.Query) ([]source.Card, error) {
	f.searchCalls.Add(1)
	if f.searchDelay > 0 {
		time.Sleep(f.searchDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return append([]source.Card(nil), f.cards...), nil
}

func (f *fakeSource) SearchRentals(ctx context.Context, q source.Query) ([]yield.Comparable, error) {
	f.rentalsCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rentalQueries = append(f.rentalQueries, q)
	var out []yield.Comparable
	for _, c := range f.rentals {
		if q.Contains(c.Size) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeSource) FetchDetail(ctx context.Context, cardID int64) (source.Detail, error) {
	f.detailCalls.Add(1)
	if f.detailDelay > 0 {
		time.Sleep(f.detailDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.details[cardID]
	if !ok {
		return source.Detail{}, errors.New("detail unavailable")
	}
	return d, nil
}

func (f *fakeSource) setRentals(r []yield.Comparable) {
	f.mu.Lock()
	f.rentals = r
	f.mu.Unlock()
}

func (f *fakeSource) setCards(cards []source.Card) {
	f.mu.Lock()
	f.cards = cards
	f.mu.Unlock()
}

type fixedRate float64

func (r fixedRate) InterestRate(ctx context.Context) float64 { return float64(r) }

// recordSubmitter 记录提交的任务而不执行。
type recordSubmitter struct {
	mu    sync.Mutex
	tasks []Task
	err   error
}

func (r *recordSubmitter) Submit(t Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.tasks = append(r.tasks, t)
	return nil
}

func (r *recordSubmitter) drain() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.tasks
	r.tasks = nil
	return out
}

type sentMessage struct {
	destination string
	text        string
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []sentMessage
	err   error
	delay time.Duration

	attempts atomic.Int32
}

func (n *fakeNotifier) Send(ctx context.Context, destination, text string) error {
	n.attempts.Add(1)
	if n.delay > 0 {
		time.Sleep(n.delay)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMessage{destination, text})
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *fakeNotifier) setErr(err error) {
	n.mu.Lock()
	n.err = err
	n.mu.Unlock()
}
