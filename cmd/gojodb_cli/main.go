// Command gojodb_cli is a local REPL over the storage engine: it opens a
// buffer pool and a B+ tree directly against a data file, same as
// cmd/gojodb_standalone_server's handleRequest loop but in-process rather
// than over a socket, and drives its interactive prompt with readline
// instead of a bare bufio.Scanner.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gojodb-core/gojodb/config"
	"github.com/gojodb-core/gojodb/core/btree"
	"github.com/gojodb-core/gojodb/core/lockmanager"
	"github.com/gojodb-core/gojodb/core/storage/buffer"
	"github.com/gojodb-core/gojodb/core/storage/disk"
	"github.com/gojodb-core/gojodb/core/txn"
	"github.com/gojodb-core/gojodb/internal/metrics"
	"github.com/gojodb-core/gojodb/pkg/logger"
	"github.com/gojodb-core/gojodb/pkg/telemetry"
)

const indexName = "cli_default"

type session struct {
	log      *zap.Logger
	bpm      *buffer.Manager
	disk     *disk.Manager
	tree     *btree.BTree[string, string]
	locks    *lockmanager.Manager
	curTxn   *txn.Transaction
	nextTID  uint64
	telem    *telemetry.Telemetry
	shutdown telemetry.ShutdownFunc
}

func stringCodec() (func(string) ([]byte, error), func([]byte) (string, error)) {
	enc := func(s string) ([]byte, error) { return []byte(s), nil }
	dec := func(b []byte) (string, error) { return string(b), nil }
	return enc, dec
}

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file (defaults are used if omitted)")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}
		cfg = loaded
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Printf("failed to build logger: %v\n", err)
		return
	}
	defer log.Sync()

	sess, err := newSession(cfg, log)
	if err != nil {
		log.Fatal("failed to start session", zap.Error(err))
	}
	defer sess.close()

	rl, err := readline.New("gojodb> ")
	if err != nil {
		log.Fatal("failed to start readline", zap.Error(err))
	}
	defer rl.Close()

	fmt.Println("GojoDB CLI (interactive mode). Type 'help' for commands, 'exit' or 'quit' to leave.")
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			fmt.Println("\nExiting GojoDB CLI.")
			return
		}
		if err != nil {
			fmt.Printf("error reading input: %v\n", err)
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		args := strings.Fields(line)
		if args[0] == "exit" || args[0] == "quit" {
			fmt.Println("Exiting GojoDB CLI.")
			return
		}
		sess.process(args)
	}
}

func newSession(cfg config.Config, log *zap.Logger) (*session, error) {
	telem, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("starting telemetry: %w", err)
	}

	dm, err := disk.Open(cfg.Storage.DataFile, cfg.Storage.PageSize, false, log)
	if errors.Is(err, disk.ErrFileNotFound) {
		dm, err = disk.Open(cfg.Storage.DataFile, cfg.Storage.PageSize, true, log)
	}
	if err != nil {
		shutdown(context.Background())
		return nil, fmt.Errorf("opening data file: %w", err)
	}

	storageMetrics, err := metrics.NewStorageMetrics(telem.Meter)
	if err != nil {
		shutdown(context.Background())
		return nil, fmt.Errorf("registering storage instruments: %w", err)
	}
	ctx := context.Background()
	bpm := buffer.NewManager(cfg.Storage.PoolSize, cfg.Storage.ReplacerK, dm, log, buffer.Metrics{
		OnHit:   func() { storageMetrics.RecordHit(ctx) },
		OnMiss:  func() { storageMetrics.RecordMiss(ctx) },
		OnEvict: func() { storageMetrics.RecordEvict(ctx) },
		OnFlush: func() { storageMetrics.RecordFlush(ctx) },
	})

	keyEnc, keyDec := stringCodec()
	valEnc, valDec := stringCodec()
	tree, err := btree.Open(btree.Config[string, string]{
		Name:            indexName,
		LeafMaxSize:     cfg.BTree.LeafMaxSize,
		InternalMaxSize: cfg.BTree.InternalMaxSize,
		Compare:         strings.Compare,
		KeyEncode:       keyEnc,
		KeyDecode:       keyDec,
		ValueEncode:     valEnc,
		ValueDecode:     valDec,
	}, bpm, dm, log)
	if err != nil {
		shutdown(context.Background())
		return nil, fmt.Errorf("opening btree: %w", err)
	}

	lockMetrics, err := metrics.NewLockMetrics(telem.Meter)
	if err != nil {
		shutdown(context.Background())
		return nil, fmt.Errorf("registering lock instruments: %w", err)
	}
	lm := lockmanager.NewManager(cfg.LockManager.CycleDetectionInterval, log, lockmanager.Metrics{
		OnLockWait: func(d time.Duration) { lockMetrics.RecordWait(ctx, float64(d.Milliseconds())) },
		OnDeadlock: func(victimTxnID uint64) { lockMetrics.RecordDeadlockVictim(ctx) },
		OnAbort:    func(reason lockmanager.AbortReason) { lockMetrics.RecordAbort(ctx, reason.String()) },
	})
	lm.Start()

	return &session{log: log, bpm: bpm, disk: dm, tree: tree, locks: lm, telem: telem, shutdown: shutdown}, nil
}

func (s *session) close() {
	s.locks.Stop()
	s.bpm.FlushAll()
	s.disk.Close()
	s.shutdown(context.Background())
}

func (s *session) process(args []string) {
	switch strings.ToLower(args[0]) {
	case "put":
		if len(args) < 3 {
			fmt.Println("usage: put <key> <value>")
			return
		}
		s.withRowLock(args[1], txn.Exclusive, func(t *txn.Transaction) error {
			_, err := s.tree.Insert(args[1], strings.Join(args[2:], " "), t)
			return err
		})
	case "get":
		if len(args) < 2 {
			fmt.Println("usage: get <key>")
			return
		}
		s.withRowLock(args[1], txn.Shared, func(t *txn.Transaction) error {
			var results []string
			if err := s.tree.GetValue(args[1], &results, t); err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("NOT_FOUND")
				return nil
			}
			fmt.Printf("OK %s\n", results[0])
			return nil
		})
	case "delete":
		if len(args) < 2 {
			fmt.Println("usage: delete <key>")
			return
		}
		s.withRowLock(args[1], txn.Exclusive, func(t *txn.Transaction) error {
			return s.tree.Remove(args[1], t)
		})
	case "scan":
		s.scan()
	case "begin":
		s.begin(args[1:])
	case "commit":
		s.endTxn(txn.StateCommitted)
	case "abort":
		s.endTxn(txn.StateAborted)
	case "lock":
		s.lockCommand(args[1:])
	case "unlock":
		s.unlockCommand(args[1:])
	case "help":
		printHelp()
	default:
		fmt.Println("unknown command, type 'help' for a list")
	}
}

func (s *session) begin(args []string) {
	level := txn.RepeatableRead
	if len(args) > 0 {
		switch strings.ToUpper(args[0]) {
		case "READ_UNCOMMITTED":
			level = txn.ReadUncommitted
		case "READ_COMMITTED":
			level = txn.ReadCommitted
		case "REPEATABLE_READ":
			level = txn.RepeatableRead
		default:
			fmt.Println("unknown isolation level, using REPEATABLE_READ")
		}
	}
	s.nextTID++
	s.curTxn = txn.New(s.nextTID, level)
	s.locks.RegisterTransaction(s.curTxn)
	fmt.Printf("OK started txn %d (%s)\n", s.curTxn.ID, level)
}

func (s *session) endTxn(final txn.State) {
	if s.curTxn == nil {
		fmt.Println("ERROR no active transaction")
		return
	}
	id := s.curTxn.ID
	s.curTxn.SetState(final)
	s.locks.UnregisterTransaction(s.curTxn)
	s.curTxn = nil
	fmt.Printf("OK txn %d %s\n", id, strings.ToLower(final.String()))
}

// withRowLock runs op under an ad hoc single-statement transaction if no
// explicit one is active, mirroring handleRequest's per-command locking in
// the socket server this CLI is modeled on.
func (s *session) withRowLock(key string, mode txn.LockMode, op func(*txn.Transaction) error) {
	t := s.curTxn
	adHoc := t == nil
	if adHoc {
		s.nextTID++
		t = txn.New(s.nextTID, txn.ReadCommitted)
		s.locks.RegisterTransaction(t)
	}

	tableMode := txn.IntentionShared
	if mode == txn.Exclusive {
		tableMode = txn.IntentionExclusive
	}
	if err := s.locks.LockTable(t, tableMode, indexName); err != nil {
		fmt.Printf("ERROR %v\n", err)
		s.cleanupAdHoc(t, adHoc)
		return
	}

	rid := uuid.NewSHA1(uuid.NameSpaceOID, []byte(key))
	if err := s.locks.LockRow(t, mode, indexName, rid); err != nil {
		fmt.Printf("ERROR %v\n", err)
		s.cleanupAdHoc(t, adHoc)
		return
	}

	if err := op(t); err != nil {
		fmt.Printf("ERROR %v\n", err)
	} else if adHoc {
		fmt.Println("OK")
	}

	s.cleanupAdHoc(t, adHoc)
}

func (s *session) cleanupAdHoc(t *txn.Transaction, adHoc bool) {
	if !adHoc {
		return
	}
	t.SetState(txn.StateCommitted)
	s.locks.UnregisterTransaction(t)
}

func (s *session) scan() {
	it, err := s.tree.Begin()
	if err != nil {
		fmt.Printf("ERROR %v\n", err)
		return
	}
	defer it.Close()
	for !it.IsEnd() {
		fmt.Printf("%s = %s\n", it.Key(), it.Value())
		it.Next()
	}
}

func (s *session) lockCommand(args []string) {
	if s.curTxn == nil {
		fmt.Println("ERROR no active transaction, use 'begin' first")
		return
	}
	if len(args) < 3 {
		fmt.Println("usage: lock table <IS|IX|S|SIX|X> <oid> | lock row <S|X> <oid> <rowid>")
		return
	}
	mode, ok := parseMode(args[1])
	if !ok {
		fmt.Println("unknown lock mode")
		return
	}
	switch args[0] {
	case "table":
		if err := s.locks.LockTable(s.curTxn, mode, args[2]); err != nil {
			fmt.Printf("ERROR %v\n", err)
			return
		}
		fmt.Println("OK")
	case "row":
		if len(args) < 4 {
			fmt.Println("usage: lock row <S|X> <oid> <rowid>")
			return
		}
		rid := uuid.NewSHA1(uuid.NameSpaceOID, []byte(args[3]))
		if err := s.locks.LockRow(s.curTxn, mode, args[2], rid); err != nil {
			fmt.Printf("ERROR %v\n", err)
			return
		}
		fmt.Println("OK")
	default:
		fmt.Println("usage: lock table|row ...")
	}
}

func (s *session) unlockCommand(args []string) {
	if s.curTxn == nil {
		fmt.Println("ERROR no active transaction")
		return
	}
	if len(args) < 2 {
		fmt.Println("usage: unlock table <oid> | unlock row <oid> <rowid>")
		return
	}
	switch args[0] {
	case "table":
		if err := s.locks.UnlockTable(s.curTxn, args[1]); err != nil {
			fmt.Printf("ERROR %v\n", err)
			return
		}
		fmt.Println("OK")
	case "row":
		if len(args) < 3 {
			fmt.Println("usage: unlock row <oid> <rowid>")
			return
		}
		rid := uuid.NewSHA1(uuid.NameSpaceOID, []byte(args[2]))
		if err := s.locks.UnlockRow(s.curTxn, args[1], rid); err != nil {
			fmt.Printf("ERROR %v\n", err)
			return
		}
		fmt.Println("OK")
	default:
		fmt.Println("usage: unlock table|row ...")
	}
}

func parseMode(s string) (txn.LockMode, bool) {
	switch strings.ToUpper(s) {
	case "IS":
		return txn.IntentionShared, true
	case "IX":
		return txn.IntentionExclusive, true
	case "S":
		return txn.Shared, true
	case "SIX":
		return txn.SharedIntentionExclusive, true
	case "X":
		return txn.Exclusive, true
	}
	return 0, false
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  put <key> <value>")
	fmt.Println("  get <key>")
	fmt.Println("  delete <key>")
	fmt.Println("  scan")
	fmt.Println("  begin [READ_UNCOMMITTED|READ_COMMITTED|REPEATABLE_READ]")
	fmt.Println("  commit")
	fmt.Println("  abort")
	fmt.Println("  lock table <IS|IX|S|SIX|X> <oid>")
	fmt.Println("  lock row <S|X> <oid> <rowid>")
	fmt.Println("  unlock table <oid>")
	fmt.Println("  unlock row <oid> <rowid>")
	fmt.Println("  help")
	fmt.Println("  exit / quit")
}
