package scheduler

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/election"
	"github.com/scendere/scendere-node/ledger"
	"github.com/scendere/scendere-node/store"
)

var log = logrus.WithField("prefix", "election_scheduler")

// manualEntry is one request to start an election for a specific block,
// bypassing the priority queue, e.g. for a block a wallet just created.
type manualEntry struct {
	block              *blocks.Block
	behavior           election.Behavior
	confirmationAction election.ConfirmationAction
}

// Container is the subset of election.Container the scheduler drives.
type Container interface {
	Insert(height uint64, b *blocks.Block, behavior election.Behavior, confirmationAction election.ConfirmationAction, liveVoteAction election.LiveVoteAction) (*election.Election, bool, error)
	Len() int
}

// Scheduler admits blocks whose ledger dependents are already confirmed
// into new elections, at a rate bounded by container vacancy: a manual
// queue for explicitly requested elections always drains first, then the
// bucketed priority queue, round-robin across balance magnitude classes
// so no single heavy account starves the rest.
type Scheduler struct {
	ledger    *ledger.Ledger
	container Container
	maxActive int

	mu      sync.Mutex
	cond    *sync.Cond
	manual  []manualEntry
	prio    *Prioritization
	stopped bool
}

// New builds a Scheduler over l/s, admitting into container, capping the
// number of concurrently active elections the priority queue will start
// at maxActive (manual requests are never throttled by vacancy).
func New(l *ledger.Ledger, container Container, maxActive int) *Scheduler {
	sc := &Scheduler{
		ledger:    l,
		container: container,
		maxActive: maxActive,
		prio:      NewPrioritization(0),
	}
	sc.cond = sync.NewCond(&sc.mu)
	return sc
}

// Manual enqueues an explicit election request for b, run ahead of
// anything already in the priority queue.
func (s *Scheduler) Manual(b *blocks.Block, behavior election.Behavior, confirmationAction election.ConfirmationAction) {
	s.mu.Lock()
	s.manual = append(s.manual, manualEntry{block: b, behavior: behavior, confirmationAction: confirmationAction})
	s.mu.Unlock()
	s.Notify()
}

// Activate looks up account's first not-yet-confirmed block and, if its
// own dependents are already confirmed, enqueues it in the priority
// queue bucketed by the account's balance magnitude.
func (s *Scheduler) Activate(tx store.ReadTransaction, account types.Account) error {
	info, err := s.ledger.GetAccountInfo(tx, account)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil
		}
		return err
	}
	confHeight, err := s.ledger.GetConfirmationHeight(tx, account)
	if err != nil {
		return err
	}
	if confHeight.Height >= info.BlockCount {
		return nil
	}

	var hash types.BlockHash
	if confHeight.Height == 0 {
		hash = info.OpenBlock
	} else {
		hash, err = s.ledger.Successor(tx, confHeight.Frontier)
		if err != nil {
			return err
		}
	}
	if hash.IsZero() {
		return nil
	}
	b, err := s.ledger.GetBlock(tx, hash)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil
		}
		return err
	}
	confirmed, err := s.ledger.DependentsConfirmed(tx, b)
	if err != nil {
		return err
	}
	if !confirmed {
		return nil
	}

	s.mu.Lock()
	err = s.prio.Push(info.ModifiedTime, info.Balance, b)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.Notify()
	return nil
}

// Notify wakes the run loop, e.g. after container vacancy changes.
func (s *Scheduler) Notify() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Size returns the total number of blocks queued (manual plus priority).
func (s *Scheduler) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.manual) + s.prio.Size()
}

// Empty reports whether both queues are empty.
func (s *Scheduler) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.manual) == 0 && s.prio.Empty()
}

func (s *Scheduler) vacancy() int {
	return s.maxActive - s.container.Len()
}

// Stop unblocks Run and causes it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.Notify()
}

// Run admits queued blocks into container until Stop is called,
// preferring the manual queue over the priority queue, and idling
// whenever there's no vacancy and nothing manual waiting.
func (s *Scheduler) Run() {
	for {
		s.mu.Lock()
		for !s.stopped && len(s.manual) == 0 && (s.prio.Empty() || s.vacancy() <= 0) {
			s.cond.Wait()
		}
		if s.stopped {
			s.mu.Unlock()
			return
		}

		var (
			manual  *manualEntry
			queued  *blocks.Block
			height  uint64
			fromPri bool
		)
		if len(s.manual) > 0 {
			m := s.manual[0]
			s.manual = s.manual[1:]
			manual = &m
		} else if !s.prio.Empty() && s.vacancy() > 0 {
			queued = s.prio.Top()
			s.prio.Pop()
			fromPri = true
		}
		s.mu.Unlock()

		switch {
		case manual != nil:
			if _, _, err := s.container.Insert(0, manual.block, manual.behavior, manual.confirmationAction, nil); err != nil {
				log.WithError(err).Error("manual election insert failed")
			}
		case fromPri:
			if queued.Sideband != nil {
				height = queued.Sideband.Height
			}
			e, inserted, err := s.container.Insert(height, queued, election.BehaviorNormal, nil, nil)
			if err != nil {
				log.WithError(err).Error("priority election insert failed")
				break
			}
			if inserted {
				e.TransitionActive()
			}
		}
	}
}
