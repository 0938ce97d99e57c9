// Package memstore is an in-memory implementation of the repository
// contracts. It keeps the semantics of the Postgres repositories (unique
// (broadcast, user) log rows, compare-and-set transitions, all-or-nothing
// requeue) without a database.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/communitybot-admin/internal/errors"
	"github.com/unclebandit/communitybot-admin/internal/model"
	"github.com/unclebandit/communitybot-admin/internal/repository"
)

type logKey struct {
	broadcastID int64
	userID      int64
}

type subKey struct {
	userID     int64
	interestID int64
}

type Store struct {
	mu sync.Mutex

	now func() time.Time

	profiles      map[int64]string
	subscriptions map[subKey]bool
	broadcasts    map[int64]*model.Broadcast
	logs          map[logKey]*model.DeliveryLog
	polls         map[int64]*model.Poll
	votes         map[int64][]model.PollVote

	nextBroadcastID int64
	nextLogID       int64
	nextPollID      int64
	nextOptionID    int64
	nextVoteID      int64

	// FailNext makes the next mutating call return this error, once.
	FailNext error
}

func New() *Store {
	return &Store{
		now:           time.Now,
		profiles:      map[int64]string{},
		subscriptions: map[subKey]bool{},
		broadcasts:    map[int64]*model.Broadcast{},
		logs:          map[logKey]*model.DeliveryLog{},
		polls:         map[int64]*model.Poll{},
		votes:         map[int64][]model.PollVote{},
	}
}

// SetClock replaces time.Now for created/updated timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) AddProfile(userID int64, name string) {
	s.mu.Lock()
	s.profiles[userID] = name
	s.mu.Unlock()
}

// Subscribe sets the (user, interest) subscription's active flag.
func (s *Store) Subscribe(userID, interestID int64, active bool) {
	s.mu.Lock()
	s.subscriptions[subKey{userID, interestID}] = active
	s.mu.Unlock()
}

func (s *Store) takeFailure() error {
	err := s.FailNext
	s.FailNext = nil
	return err
}

// Broadcasts returns the store as a BroadcastRepositoryInterface.
func (s *Store) Broadcasts() repository.BroadcastRepositoryInterface { return broadcastRepo{s} }
func (s *Store) Audience() repository.AudienceRepositoryInterface { return audienceRepo{s} }
func (s *Store) Logs() repository.DeliveryLogRepositoryInterface { return logRepo{s} }
func (s *Store) Polls() repository.PollRepositoryInterface { return pollRepo{s} }

// ---- audience ----

type audienceRepo struct{ s *Store }

func (r audienceRepo) ActiveSubscribers(ctx context.Context, interestIDs []int64) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.subscribersLocked(interestIDs), nil
}

func (s *Store) subscribersLocked(interestIDs []int64) []int64 {
	wanted := map[int64]bool{}
	for _, id := range interestIDs {
		wanted[id] = true
	}
	seen := map[int64]bool{}
	users := []int64{}
	for k, active := range s.subscriptions {
		if !active || !wanted[k.interestID] {
			continue
		}
		if !seen[k.userID] {
			seen[k.userID] = true
			users = append(users, k.userID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

func (r audienceRepo) TargetUsers(ctx context.Context, interestIDs []int64) ([]model.TargetUser, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := r.s.subscribersLocked(interestIDs)
	users := make([]model.TargetUser, 0, len(ids))
	for _, id := range ids {
		users = append(users, model.TargetUser{UserID: id, Name: r.s.profiles[id]})
	}
	sort.SliceStable(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].UserID < users[j].UserID
	})
	return users, nil
}

// ---- broadcasts ----

type broadcastRepo struct{ s *Store }

func (r broadcastRepo) Create(ctx context.Context, b *model.Broadcast) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(); err != nil {
		return err
	}
	r.s.nextBroadcastID++
	b.ID = r.s.nextBroadcastID
	b.CreatedAt = r.s.now()
	if b.Status == "" {
		b.Status = model.StatePending
	}
	cp := *b
	cp.InterestIDs = append([]int64(nil), b.InterestIDs...)
	r.s.broadcasts[b.ID] = &cp
	return nil
}

func (r broadcastRepo) GetByID(ctx context.Context, id int64) (*model.Broadcast, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.broadcasts[id]
	if !ok {
		return nil, appErrors.NewBroadcastNotFound(id)
	}
	return r.s.snapshotLocked(b), nil
}

func (s *Store) snapshotLocked(b *model.Broadcast) *model.Broadcast {
	cp := *b
	cp.InterestIDs = append([]int64(nil), b.InterestIDs...)
	cp.TargetCount = len(s.subscribersLocked(b.InterestIDs))
	return &cp
}

func (r broadcastRepo) List(ctx context.Context, f repository.BroadcastFilter) ([]*model.Broadcast, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.Broadcast{}
	for _, b := range r.s.broadcasts {
		if f.Matches(b) {
			out = append(out, r.s.snapshotLocked(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.ScheduledTime.Equal(b.ScheduledTime) {
			if f.OldestFirst {
				return a.ScheduledTime.Before(b.ScheduledTime)
			}
			return a.ScheduledTime.After(b.ScheduledTime)
		}
		if f.OldestFirst {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r broadcastRepo) ApplyTransition(ctx context.Context, id int64, t model.Transition, by *int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(); err != nil {
		return false, err
	}
	b, ok := r.s.broadcasts[id]
	if !ok || !t.Allows(b.Status) {
		return false, nil
	}
	r.s.setStateLocked(b, t.To, by)
	return true, nil
}

func (s *Store) setStateLocked(b *model.Broadcast, to model.BroadcastState, by *int64) {
	now := s.now()
	b.Status = to
	b.UpdatedAt = &now
	if by != nil {
		v := *by
		b.UpdatedBy = &v
	}
}

func (r broadcastRepo) Requeue(ctx context.Context, id int64, t model.Transition, by *int64) (int64, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.broadcasts[id]
	if !ok {
		return 0, false, appErrors.NewBroadcastNotFound(id)
	}
	if !t.Allows(b.Status) {
		return 0, false, nil
	}
	// all-or-nothing: fail before touching anything
	if err := r.s.takeFailure(); err != nil {
		return 0, false, fmt.Errorf("reset status: %w", err)
	}
	var cleared int64
	for k, l := range r.s.logs {
		if k.broadcastID == id && l.Status == model.DeliveryFailed {
			delete(r.s.logs, k)
			cleared++
		}
	}
	r.s.setStateLocked(b, t.To, by)
	return cleared, true, nil
}

// ---- delivery logs ----

type logRepo struct{ s *Store }

func (r logRepo) Upsert(ctx context.Context, a model.DeliveryAttempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(); err != nil {
		return err
	}
	if _, ok := r.s.broadcasts[a.BroadcastID]; !ok {
		return fmt.Errorf("insert broadcast log: broadcast %d does not exist", a.BroadcastID)
	}
	at := a.At
	if at.IsZero() {
		at = r.s.now()
	}
	key := logKey{a.BroadcastID, a.UserID}
	row, ok := r.s.logs[key]
	if !ok {
		r.s.nextLogID++
		row = &model.DeliveryLog{ID: r.s.nextLogID, BroadcastID: a.BroadcastID, UserID: a.UserID}
		r.s.logs[key] = row
	}
	row.Status = a.Status
	row.CreatedAt = at
	row.ErrorDetail = nil
	if a.ErrorDetail != "" {
		v := a.ErrorDetail
		row.ErrorDetail = &v
	}
	return nil
}

func (r logRepo) ListByBroadcast(ctx context.Context, broadcastID int64) ([]model.DeliveryLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.DeliveryLog{}
	for k, l := range r.s.logs {
		if k.broadcastID != broadcastID {
			continue
		}
		cp := *l
		cp.UserName = r.s.profiles[l.UserID]
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// ---- polls ----

type pollRepo struct{ s *Store }

func (r pollRepo) Create(ctx context.Context, p *model.Poll, options []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(); err != nil {
		return err
	}
	r.s.nextPollID++
	now := r.s.now()
	p.ID = r.s.nextPollID
	p.CreatedAt, p.UpdatedAt = now, now
	p.Options = make([]model.PollOption, 0, len(options))
	for _, text := range options {
		r.s.nextOptionID++
		p.Options = append(p.Options, model.PollOption{ID: r.s.nextOptionID, PollID: p.ID, Text: text})
	}
	cp := *p
	cp.Options = append([]model.PollOption(nil), p.Options...)
	r.s.polls[p.ID] = &cp
	return nil
}

func (r pollRepo) List(ctx context.Context) ([]*model.Poll, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*model.Poll, 0, len(r.s.polls))
	for _, p := range r.s.polls {
		cp := *p
		cp.Options = append([]model.PollOption{}, p.Options...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.After(out[j].ScheduledAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r pollRepo) GetByID(ctx context.Context, id int64) (*model.Poll, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.polls[id]
	if !ok {
		return nil, appErrors.NewPollNotFound(id)
	}
	cp := *p
	cp.Options = append([]model.PollOption{}, p.Options...)
	cp.Voters = make([]model.PollVote, 0, len(r.s.votes[id]))
	for _, v := range r.s.votes[id] {
		v.UserName = r.s.profiles[v.UserID]
		v.OptionIDs = append([]int64(nil), v.OptionIDs...)
		cp.Voters = append(cp.Voters, v)
	}
	sort.Slice(cp.Voters, func(i, j int) bool {
		a, b := cp.Voters[i], cp.Voters[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return &cp, nil
}

func (r pollRepo) Delete(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.polls[id]
	if !ok {
		return appErrors.NewPollNotFound(id)
	}
	if p.IsSent {
		return fmt.Errorf("poll %d already sent: %w", id, appErrors.ErrNotApplicable)
	}
	delete(r.s.polls, id)
	delete(r.s.votes, id)
	return nil
}

// MarkPollSent flips is_sent, standing in for the external poll sender.
func (s *Store) MarkPollSent(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.polls[id]; ok {
		p.IsSent = true
	}
}

// AddVote records a poll answer, standing in for the bot.
func (s *Store) AddVote(pollID, userID int64, optionIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextVoteID++
	s.votes[pollID] = append(s.votes[pollID], model.PollVote{
		ID:        s.nextVoteID,
		PollID:    pollID,
		UserID:    userID,
		OptionIDs: append([]int64{}, optionIDs...),
		CreatedAt: s.now(),
	})
}
