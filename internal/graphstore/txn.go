package graphstore

import (
	"sync/atomic"

	"clarium/internal/apperror"
)

// TxnState is the write-path state machine from spec §4.3:
// Begin -> Buffered -> Prepared(WAL durable) -> Committed(delta applied) | Aborted.
type TxnState int

const (
	TxnBuffered TxnState = iota
	TxnPrepared
	TxnCommitted
	TxnAborted
)

// Txn buffers writes in memory until Prepare/Commit, per spec §4.3 step 2.
type Txn struct {
	store   *Store
	id      uint64
	epoch   uint64
	state   TxnState
	intents []EdgeIntent
}

// Begin assigns a TxnId and snapshots the current manifest epoch (spec
// §4.3 step 1).
func (s *Store) Begin() *Txn {
	id := atomic.AddUint64(&s.nextTxn, 1)
	return &Txn{store: s, id: id, epoch: s.Epoch(), state: TxnBuffered}
}

func (t *Txn) ID() uint64 { return t.id }

// AddEdge buffers an edge-add intent (not yet durable).
func (t *Txn) AddEdge(srcKey, dstKey, etype string, tsBegin, tsEnd int64) error {
	if t.state != TxnBuffered {
		return apperror.Exec("txn_not_buffered", "transaction %d is not accepting writes", t.id)
	}
	t.intents = append(t.intents, EdgeIntent{SrcKey: srcKey, DstKey: dstKey, EType: etype, TsBegin: tsBegin, TsEnd: tsEnd})
	return nil
}

// TombstoneEdge buffers a tombstone intent.
func (t *Txn) TombstoneEdge(srcKey, dstKey, etype string) error {
	if t.state != TxnBuffered {
		return apperror.Exec("txn_not_buffered", "transaction %d is not accepting writes", t.id)
	}
	t.intents = append(t.intents, EdgeIntent{Tombstone: true, SrcKey: srcKey, DstKey: dstKey, EType: etype})
	return nil
}

// Prepare appends one WAL record covering all buffered intents plus a
// content checksum (the frame's own CRC32), requiring a durable flush
// before returning (spec §4.3 step 3).
func (t *Txn) Prepare() error {
	if t.state != TxnBuffered {
		return apperror.Exec("txn_not_buffered", "transaction %d already prepared/decided", t.id)
	}
	rec := WALRecord{TxnID: t.id, Kind: WALPrepare, Epoch: t.epoch, Intents: t.intents}
	if err := t.store.wal.Append(rec); err != nil {
		return err
	}
	t.state = TxnPrepared
	return nil
}

// Commit appends the commit marker to the WAL and applies every intent
// to its partition's delta.log (spec §4.3 step 4).
func (t *Txn) Commit() error {
	if t.state != TxnPrepared {
		return apperror.Exec("txn_not_prepared", "transaction %d must be prepared before commit", t.id)
	}
	if err := t.store.wal.Append(WALRecord{TxnID: t.id, Kind: WALCommit, Epoch: t.epoch}); err != nil {
		return err
	}
	if err := t.store.applyIntents(t.id, t.intents); err != nil {
		return err
	}
	t.state = TxnCommitted
	return nil
}

// Abort writes an abort marker; recovery ignores aborted txns (spec
// §4.3 step 4, §8 property 8).
func (t *Txn) Abort() error {
	if t.state == TxnCommitted {
		return apperror.Exec("txn_already_committed", "transaction %d already committed", t.id)
	}
	if err := t.store.wal.Append(WALRecord{TxnID: t.id, Kind: WALAbort, Epoch: t.epoch}); err != nil {
		return err
	}
	t.state = TxnAborted
	return nil
}
