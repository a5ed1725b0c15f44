package ledger

import (
	"time"

	"github.com/pkg/errors"
	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/epoch"
	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/core/work"
	"github.com/scendere/scendere-node/store"
)

// Result classifies the outcome of Ledger.Process.
type Result int

const (
	Progress Result = iota
	Old
	Fork
	GapPrevious
	GapSource
	GapEpochOpenPending
	BadSignature
	NegativeSpend
	Unreceivable
	OpenedBurnAccount
	BalanceMismatch
	RepresentativeMismatch
	BlockPosition
	InsufficientWork
)

func (r Result) String() string {
	switch r {
	case Progress:
		return "progress"
	case Old:
		return "old"
	case Fork:
		return "fork"
	case GapPrevious:
		return "gap_previous"
	case GapSource:
		return "gap_source"
	case GapEpochOpenPending:
		return "gap_epoch_open_pending"
	case BadSignature:
		return "bad_signature"
	case NegativeSpend:
		return "negative_spend"
	case Unreceivable:
		return "unreceivable"
	case OpenedBurnAccount:
		return "opened_burn_account"
	case BalanceMismatch:
		return "balance_mismatch"
	case RepresentativeMismatch:
		return "representative_mismatch"
	case BlockPosition:
		return "block_position"
	case InsufficientWork:
		return "insufficient_work"
	default:
		return "unknown"
	}
}

var errUnknownBlockType = errors.New("ledger: unknown block type")

// Process classifies b and, on Progress, applies it atomically within
// tx: storing the block, updating the account's head pointer, moving
// pending entries and updating representative weights. Every other
// result leaves the store and the weight map untouched.
func (l *Ledger) Process(tx store.WriteTransaction, b *blocks.Block) (Result, error) {
	switch b.Type {
	case blocks.TypeOpen:
		return l.processOpen(tx, b)
	case blocks.TypeSend:
		return l.processSend(tx, b)
	case blocks.TypeReceive:
		return l.processReceive(tx, b)
	case blocks.TypeChange:
		return l.processChange(tx, b)
	case blocks.TypeState:
		return l.processState(tx, b)
	default:
		return Result(0), errUnknownBlockType
	}
}

func now() uint64 { return uint64(time.Now().Unix()) }

// setSuccessor rewrites prevHash's stored sideband to point its
// successor at succHash, linking the new block into its account chain.
func (l *Ledger) setSuccessor(tx store.WriteTransaction, prevHash, succHash types.BlockHash) error {
	prev, err := l.GetBlock(tx, prevHash)
	if err != nil {
		return err
	}
	prev.Sideband.Successor = succHash
	return l.PutBlock(tx, prevHash, prev)
}

// hasPendingForAccount reports whether any pending entry is addressed
// to account, used to gate an epoch block from opening an account that
// has never received anything.
func (l *Ledger) hasPendingForAccount(tx store.ReadTransaction, account types.Account) (bool, error) {
	found := false
	err := tx.Iterate(store.TablePending, accountKey(account), func(key, _ []byte) bool {
		if len(key) >= 32 {
			var dest types.Account
			copy(dest[:], key[:32])
			found = dest == account
		}
		return false
	})
	return found, err
}

func (l *Ledger) processOpen(tx store.WriteTransaction, b *blocks.Block) (Result, error) {
	hash, err := b.Hash()
	if err != nil {
		return 0, err
	}
	if exists, err := l.BlockExists(tx, hash); err != nil {
		return 0, err
	} else if exists {
		return Old, nil
	}
	account := b.Account
	if account == l.BurnAccount {
		return OpenedBurnAccount, nil
	}
	if _, err := l.GetAccountInfo(tx, account); err == nil {
		return Fork, nil
	} else if !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	key := PendingKey{Destination: account, SendHash: b.Source}
	pending, err := l.GetPending(tx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return GapSource, nil
		}
		return 0, err
	}
	ok, err := b.VerifySignature(account)
	if err != nil {
		return 0, err
	}
	if !ok {
		return BadSignature, nil
	}
	threshold := l.Thresholds.Threshold(work.BlockDetails{Epoch: pending.Epoch, IsReceive: true})
	if !work.Valid(b.Root(), b.Work, threshold) {
		return InsufficientWork, nil
	}

	if err := l.Reps.Update(types.Account{}, types.ZeroAmount, b.Representative, pending.Amount); err != nil {
		return 0, err
	}
	b.Sideband = &blocks.Sideband{
		Balance:   pending.Amount,
		Height:    1,
		Timestamp: now(),
		Details:   blocks.Details{IsReceive: true, Epoch: pending.Epoch},
	}
	if err := l.PutBlock(tx, hash, b); err != nil {
		return 0, err
	}
	newInfo := AccountInfo{
		Head:           hash,
		OpenBlock:      hash,
		Representative: b.Representative,
		Balance:        pending.Amount,
		ModifiedTime:   now(),
		BlockCount:     1,
		Epoch:          pending.Epoch,
	}
	if err := l.PutAccountInfo(tx, account, newInfo); err != nil {
		return 0, err
	}
	if err := l.DeletePending(tx, key); err != nil {
		return 0, err
	}
	if err := tx.Put(store.TableFrontiers, hashKey(hash), account[:]); err != nil {
		return 0, err
	}
	return Progress, nil
}

func (l *Ledger) processSend(tx store.WriteTransaction, b *blocks.Block) (Result, error) {
	hash, err := b.Hash()
	if err != nil {
		return 0, err
	}
	if exists, err := l.BlockExists(tx, hash); err != nil {
		return 0, err
	} else if exists {
		return Old, nil
	}
	prevBlock, err := l.GetBlock(tx, b.Previous)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return GapPrevious, nil
		}
		return 0, err
	}
	account := accountOf(prevBlock)
	info, err := l.GetAccountInfo(tx, account)
	if err != nil {
		return 0, err
	}
	if info.Head != b.Previous {
		return Fork, nil
	}
	if b.Balance.Cmp(info.Balance) >= 0 {
		return NegativeSpend, nil
	}
	ok, err := b.VerifySignature(account)
	if err != nil {
		return 0, err
	}
	if !ok {
		return BadSignature, nil
	}
	threshold := l.Thresholds.Threshold(work.BlockDetails{Epoch: info.Epoch, IsSend: true})
	if !work.Valid(b.Root(), b.Work, threshold) {
		return InsufficientWork, nil
	}

	delta, err := types.Sub(info.Balance, b.Balance)
	if err != nil {
		return 0, err
	}
	if err := l.Reps.Update(info.Representative, info.Balance, info.Representative, b.Balance); err != nil {
		return 0, err
	}
	b.Sideband = &blocks.Sideband{
		Account:   account,
		Balance:   b.Balance,
		Height:    info.BlockCount + 1,
		Timestamp: now(),
		Details:   blocks.Details{IsSend: true, Epoch: info.Epoch},
	}
	if err := l.PutBlock(tx, hash, b); err != nil {
		return 0, err
	}
	newInfo := info
	newInfo.Head = hash
	newInfo.Balance = b.Balance
	newInfo.ModifiedTime = now()
	newInfo.BlockCount++
	if err := l.PutAccountInfo(tx, account, newInfo); err != nil {
		return 0, err
	}
	pendingKey := PendingKey{Destination: b.Destination, SendHash: hash}
	if err := l.PutPending(tx, pendingKey, PendingInfo{Source: account, Amount: delta, Epoch: info.Epoch}); err != nil {
		return 0, err
	}
	if err := l.setSuccessor(tx, b.Previous, hash); err != nil {
		return 0, err
	}
	return Progress, nil
}

func (l *Ledger) processReceive(tx store.WriteTransaction, b *blocks.Block) (Result, error) {
	hash, err := b.Hash()
	if err != nil {
		return 0, err
	}
	if exists, err := l.BlockExists(tx, hash); err != nil {
		return 0, err
	} else if exists {
		return Old, nil
	}
	prevBlock, err := l.GetBlock(tx, b.Previous)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return GapPrevious, nil
		}
		return 0, err
	}
	account := accountOf(prevBlock)
	info, err := l.GetAccountInfo(tx, account)
	if err != nil {
		return 0, err
	}
	if info.Head != b.Previous {
		return Fork, nil
	}
	pendingKey := PendingKey{Destination: account, SendHash: b.Source}
	pending, err := l.GetPending(tx, pendingKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return 0, err
		}
		if sourceExists, serr := l.BlockExists(tx, b.Source); serr != nil {
			return 0, serr
		} else if !sourceExists {
			return GapSource, nil
		}
		return Unreceivable, nil
	}
	ok, err := b.VerifySignature(account)
	if err != nil {
		return 0, err
	}
	if !ok {
		return BadSignature, nil
	}
	threshold := l.Thresholds.Threshold(work.BlockDetails{Epoch: info.Epoch, IsReceive: true})
	if !work.Valid(b.Root(), b.Work, threshold) {
		return InsufficientWork, nil
	}

	newBalance, err := types.Add(info.Balance, pending.Amount)
	if err != nil {
		return 0, err
	}
	if err := l.Reps.Update(info.Representative, info.Balance, info.Representative, newBalance); err != nil {
		return 0, err
	}
	b.Sideband = &blocks.Sideband{
		Account:     account,
		Balance:     newBalance,
		Height:      info.BlockCount + 1,
		Timestamp:   now(),
		Details:     blocks.Details{IsReceive: true, Epoch: info.Epoch},
		SourceEpoch: pending.Epoch,
	}
	if err := l.PutBlock(tx, hash, b); err != nil {
		return 0, err
	}
	newInfo := info
	newInfo.Head = hash
	newInfo.Balance = newBalance
	newInfo.ModifiedTime = now()
	newInfo.BlockCount++
	if err := l.PutAccountInfo(tx, account, newInfo); err != nil {
		return 0, err
	}
	if err := l.DeletePending(tx, pendingKey); err != nil {
		return 0, err
	}
	if err := l.setSuccessor(tx, b.Previous, hash); err != nil {
		return 0, err
	}
	return Progress, nil
}

func (l *Ledger) processChange(tx store.WriteTransaction, b *blocks.Block) (Result, error) {
	hash, err := b.Hash()
	if err != nil {
		return 0, err
	}
	if exists, err := l.BlockExists(tx, hash); err != nil {
		return 0, err
	} else if exists {
		return Old, nil
	}
	prevBlock, err := l.GetBlock(tx, b.Previous)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return GapPrevious, nil
		}
		return 0, err
	}
	account := accountOf(prevBlock)
	info, err := l.GetAccountInfo(tx, account)
	if err != nil {
		return 0, err
	}
	if info.Head != b.Previous {
		return Fork, nil
	}
	ok, err := b.VerifySignature(account)
	if err != nil {
		return 0, err
	}
	if !ok {
		return BadSignature, nil
	}
	threshold := l.Thresholds.Threshold(work.BlockDetails{Epoch: info.Epoch})
	if !work.Valid(b.Root(), b.Work, threshold) {
		return InsufficientWork, nil
	}

	if err := l.Reps.Update(info.Representative, info.Balance, b.Representative, info.Balance); err != nil {
		return 0, err
	}
	b.Sideband = &blocks.Sideband{
		Account:   account,
		Balance:   info.Balance,
		Height:    info.BlockCount + 1,
		Timestamp: now(),
		Details:   blocks.Details{Epoch: info.Epoch},
	}
	if err := l.PutBlock(tx, hash, b); err != nil {
		return 0, err
	}
	newInfo := info
	newInfo.Head = hash
	newInfo.Representative = b.Representative
	newInfo.ModifiedTime = now()
	newInfo.BlockCount++
	if err := l.PutAccountInfo(tx, account, newInfo); err != nil {
		return 0, err
	}
	if err := l.setSuccessor(tx, b.Previous, hash); err != nil {
		return 0, err
	}
	return Progress, nil
}

func (l *Ledger) processState(tx store.WriteTransaction, b *blocks.Block) (Result, error) {
	hash, err := b.Hash()
	if err != nil {
		return 0, err
	}
	if exists, err := l.BlockExists(tx, hash); err != nil {
		return 0, err
	} else if exists {
		return Old, nil
	}
	account := b.Account
	if account == l.BurnAccount && b.Previous.IsZero() {
		return OpenedBurnAccount, nil
	}

	info, err := l.GetAccountInfo(tx, account)
	isNewAccount := errors.Is(err, ErrNotFound)
	if err != nil && !isNewAccount {
		return 0, err
	}
	if isNewAccount {
		if !b.Previous.IsZero() {
			return GapPrevious, nil
		}
	} else if info.Head != b.Previous {
		return Fork, nil
	}

	prevBalance := types.ZeroAmount
	curEpoch := epoch.Epoch0
	if !isNewAccount {
		prevBalance = info.Balance
		curEpoch = info.Epoch
	}

	isEpochSigner := false
	var linkEpoch epoch.Epoch
	if le, ok := l.Epochs.EpochForLink(b.Link); ok {
		signer, _ := l.Epochs.Signer(le)
		sigOK, verr := b.VerifySignature(signer)
		if verr != nil {
			return 0, verr
		}
		if sigOK && (isNewAccount || epoch.IsSequential(curEpoch, le)) {
			isEpochSigner = true
			linkEpoch = le
		}
	}

	details, _ := blocks.ClassifyState(b, prevBalance, isEpochSigner)

	switch {
	case details.IsEpoch:
		return l.applyStateEpoch(tx, b, hash, account, info, isNewAccount, linkEpoch)
	case details.IsSend:
		if isNewAccount {
			return BlockPosition, nil
		}
		return l.applyStateSend(tx, b, hash, account, info, details)
	case details.IsReceive:
		return l.applyStateReceive(tx, b, hash, account, info, isNewAccount, details)
	default:
		// Neither send, receive nor epoch: the balance must be unchanged,
		// since a state block only leaves the balance untouched when it
		// is a plain representative change. A state block that claims a
		// higher balance without naming a link (so it can't classify as
		// a receive) is self-contradictory rather than a valid change.
		if b.Balance.Cmp(prevBalance) != 0 {
			return BalanceMismatch, nil
		}
		if isNewAccount {
			return BlockPosition, nil
		}
		return l.applyStateChange(tx, b, hash, account, info, details)
	}
}

func (l *Ledger) applyStateEpoch(tx store.WriteTransaction, b *blocks.Block, hash types.BlockHash, account types.Account, info AccountInfo, isNewAccount bool, newEpoch epoch.Epoch) (Result, error) {
	if isNewAccount {
		hasPending, err := l.hasPendingForAccount(tx, account)
		if err != nil {
			return 0, err
		}
		if !hasPending {
			return GapEpochOpenPending, nil
		}
	} else if b.Representative != info.Representative {
		// An epoch block carries the account's existing representative
		// forward unchanged; it is signed by the epoch authority, not the
		// account, so it must not be used to sneak in a representative
		// change.
		return RepresentativeMismatch, nil
	}
	threshold := l.Thresholds.Threshold(work.BlockDetails{Epoch: newEpoch, IsEpoch: true})
	if !work.Valid(b.Root(), b.Work, threshold) {
		return InsufficientWork, nil
	}

	balance := types.ZeroAmount
	rep := types.Account{}
	if !isNewAccount {
		balance = info.Balance
		rep = info.Representative
	}
	if err := l.Reps.Update(rep, balance, rep, balance); err != nil {
		return 0, err
	}
	b.Sideband = &blocks.Sideband{
		Balance:   balance,
		Height:    info.BlockCount + 1,
		Timestamp: now(),
		Details:   blocks.Details{IsEpoch: true, Epoch: newEpoch},
	}
	if err := l.PutBlock(tx, hash, b); err != nil {
		return 0, err
	}
	newInfo := AccountInfo{
		Head:           hash,
		OpenBlock:      hash,
		Representative: rep,
		Balance:        balance,
		ModifiedTime:   now(),
		BlockCount:     info.BlockCount + 1,
		Epoch:          newEpoch,
	}
	if !isNewAccount {
		newInfo.OpenBlock = info.OpenBlock
	}
	if err := l.PutAccountInfo(tx, account, newInfo); err != nil {
		return 0, err
	}
	if !isNewAccount && !b.Previous.IsZero() {
		if err := l.setSuccessor(tx, b.Previous, hash); err != nil {
			return 0, err
		}
	}
	return Progress, nil
}

func (l *Ledger) applyStateSend(tx store.WriteTransaction, b *blocks.Block, hash types.BlockHash, account types.Account, info AccountInfo, details blocks.Details) (Result, error) {
	ok, err := b.VerifySignature(account)
	if err != nil {
		return 0, err
	}
	if !ok {
		return BadSignature, nil
	}
	threshold := l.Thresholds.Threshold(work.BlockDetails{Epoch: info.Epoch, IsSend: true})
	if !work.Valid(b.Root(), b.Work, threshold) {
		return InsufficientWork, nil
	}
	delta, err := types.Sub(info.Balance, b.Balance)
	if err != nil {
		return 0, err
	}
	if err := l.Reps.Update(info.Representative, info.Balance, info.Representative, b.Balance); err != nil {
		return 0, err
	}
	b.Sideband = &blocks.Sideband{
		Balance:   b.Balance,
		Height:    info.BlockCount + 1,
		Timestamp: now(),
		Details:   details,
	}
	if err := l.PutBlock(tx, hash, b); err != nil {
		return 0, err
	}
	newInfo := info
	newInfo.Head = hash
	newInfo.Balance = b.Balance
	newInfo.ModifiedTime = now()
	newInfo.BlockCount++
	if err := l.PutAccountInfo(tx, account, newInfo); err != nil {
		return 0, err
	}
	pendingKey := PendingKey{Destination: b.Link, SendHash: hash}
	if err := l.PutPending(tx, pendingKey, PendingInfo{Source: account, Amount: delta, Epoch: info.Epoch}); err != nil {
		return 0, err
	}
	if err := l.setSuccessor(tx, b.Previous, hash); err != nil {
		return 0, err
	}
	return Progress, nil
}

func (l *Ledger) applyStateReceive(tx store.WriteTransaction, b *blocks.Block, hash types.BlockHash, account types.Account, info AccountInfo, isNewAccount bool, details blocks.Details) (Result, error) {
	pendingKey := PendingKey{Destination: account, SendHash: b.Link}
	pending, err := l.GetPending(tx, pendingKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return 0, err
		}
		if sourceExists, serr := l.BlockExists(tx, b.Link); serr != nil {
			return 0, serr
		} else if !sourceExists {
			return GapSource, nil
		}
		return Unreceivable, nil
	}
	signer := account
	ok, err := b.VerifySignature(signer)
	if err != nil {
		return 0, err
	}
	if !ok {
		return BadSignature, nil
	}
	epochForThreshold := pending.Epoch
	if !isNewAccount && info.Epoch > epochForThreshold {
		epochForThreshold = info.Epoch
	}
	threshold := l.Thresholds.Threshold(work.BlockDetails{Epoch: epochForThreshold, IsReceive: true})
	if !work.Valid(b.Root(), b.Work, threshold) {
		return InsufficientWork, nil
	}

	prevBalance := types.ZeroAmount
	prevRep := b.Representative
	prevCount := uint64(0)
	openBlock := hash
	if !isNewAccount {
		prevBalance = info.Balance
		prevRep = info.Representative
		prevCount = info.BlockCount
		openBlock = info.OpenBlock
	}
	newBalance, err := types.Add(prevBalance, pending.Amount)
	if err != nil {
		return 0, err
	}
	if err := l.Reps.Update(prevRep, prevBalance, b.Representative, newBalance); err != nil {
		return 0, err
	}
	newEpoch := details.Epoch
	if !isNewAccount && info.Epoch > newEpoch {
		newEpoch = info.Epoch
	}
	b.Sideband = &blocks.Sideband{
		Balance:     newBalance,
		Height:      prevCount + 1,
		Timestamp:   now(),
		Details:     blocks.Details{IsReceive: true, Epoch: newEpoch},
		SourceEpoch: pending.Epoch,
	}
	if err := l.PutBlock(tx, hash, b); err != nil {
		return 0, err
	}
	newInfo := AccountInfo{
		Head:           hash,
		OpenBlock:      openBlock,
		Representative: b.Representative,
		Balance:        newBalance,
		ModifiedTime:   now(),
		BlockCount:     prevCount + 1,
		Epoch:          newEpoch,
	}
	if err := l.PutAccountInfo(tx, account, newInfo); err != nil {
		return 0, err
	}
	if err := l.DeletePending(tx, pendingKey); err != nil {
		return 0, err
	}
	if !isNewAccount && !b.Previous.IsZero() {
		if err := l.setSuccessor(tx, b.Previous, hash); err != nil {
			return 0, err
		}
	}
	return Progress, nil
}

func (l *Ledger) applyStateChange(tx store.WriteTransaction, b *blocks.Block, hash types.BlockHash, account types.Account, info AccountInfo, details blocks.Details) (Result, error) {
	ok, err := b.VerifySignature(account)
	if err != nil {
		return 0, err
	}
	if !ok {
		return BadSignature, nil
	}
	threshold := l.Thresholds.Threshold(work.BlockDetails{Epoch: info.Epoch})
	if !work.Valid(b.Root(), b.Work, threshold) {
		return InsufficientWork, nil
	}
	if err := l.Reps.Update(info.Representative, info.Balance, b.Representative, info.Balance); err != nil {
		return 0, err
	}
	b.Sideband = &blocks.Sideband{
		Balance:   info.Balance,
		Height:    info.BlockCount + 1,
		Timestamp: now(),
		Details:   details,
	}
	if err := l.PutBlock(tx, hash, b); err != nil {
		return 0, err
	}
	newInfo := info
	newInfo.Head = hash
	newInfo.Representative = b.Representative
	newInfo.ModifiedTime = now()
	newInfo.BlockCount++
	if err := l.PutAccountInfo(tx, account, newInfo); err != nil {
		return 0, err
	}
	if err := l.setSuccessor(tx, b.Previous, hash); err != nil {
		return 0, err
	}
	return Progress, nil
}

// accountOf resolves the account that owns b's chain: the block's own
// Account field for Open/State, or the sideband account recorded when
// the chain owner applied it, for the three legacy variants that carry
// no Account field of their own.
func accountOf(b *blocks.Block) types.Account {
	if b.Type == blocks.TypeOpen || b.Type == blocks.TypeState {
		return b.Account
	}
	return b.Sideband.Account
}
