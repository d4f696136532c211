// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package broker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
)

const (
	// deadLetterKey is the Redis list holding dead tasks, oldest first.
	deadLetterKey = "autosched:dead_letter"

	// deadLetterFile is the filesystem fallback, one JSON record per line.
	deadLetterFile = "dead_letter.ndjson"

	deadLetterTimeout = 5 * time.Second
)

// DeadLetters is the durable dead-letter store. Redis is the primary; when
// it is absent or failing, records land in an append-only file so nothing is
// lost. Replay re-enqueues stored tasks and requires administrator intent.
type DeadLetters struct {
	logger hclog.Logger
	rdb    *redis.Client

	mu   sync.Mutex
	path string
}

// NewDeadLetters builds the store. rdb may be nil to run file-only; dir is
// where the fallback file lives.
func NewDeadLetters(logger hclog.Logger, rdb *redis.Client, dir string) (*DeadLetters, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dead-letter dir setup failed: %w", err)
	}
	return &DeadLetters{
		logger: logger.Named("dead_letter"),
		rdb:    rdb,
		path:   filepath.Join(dir, deadLetterFile),
	}, nil
}

// Push records a dead task. Redis failures fall back to the file; only a
// failure of both surfaces, and then only in the log.
func (d *DeadLetters) Push(ctx context.Context, dead *DeadTask) {
	metrics.IncrCounter([]string{"autosched", "dead_letter", "pushed"}, 1)

	raw, err := json.Marshal(dead)
	if err != nil {
		d.logger.Error("dead task not serializable, dropping", "task_id", dead.Task.ID, "error", err)
		return
	}

	if d.rdb != nil {
		rctx, cancel := context.WithTimeout(ctx, deadLetterTimeout)
		err := d.rdb.RPush(rctx, deadLetterKey, raw).Err()
		cancel()
		if err == nil {
			return
		}
		d.logger.Warn("dead-letter primary unavailable, using file fallback",
			"task_id", dead.Task.ID, "error", err)
	}

	if err := d.appendFile(raw); err != nil {
		d.logger.Error("dead-letter fallback write failed", "task_id", dead.Task.ID, "error", err)
	}
}

func (d *DeadLetters) appendFile(raw []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// List returns every stored dead task, Redis records first, then the file
// fallback, each oldest first.
func (d *DeadLetters) List(ctx context.Context) ([]*DeadTask, error) {
	var out []*DeadTask
	var mErr multierror.Error

	if d.rdb != nil {
		rctx, cancel := context.WithTimeout(ctx, deadLetterTimeout)
		raws, err := d.rdb.LRange(rctx, deadLetterKey, 0, -1).Result()
		cancel()
		if err != nil {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("dead-letter primary list failed: %w", err))
		}
		for _, raw := range raws {
			dead, err := decodeDeadTask([]byte(raw))
			if err != nil {
				d.logger.Warn("skipping undecodable dead-letter record", "error", err)
				continue
			}
			out = append(out, dead)
		}
	}

	fileRecords, err := d.listFile()
	if err != nil {
		mErr.Errors = append(mErr.Errors, err)
	}
	out = append(out, fileRecords...)

	return out, mErr.ErrorOrNil()
}

func (d *DeadLetters) listFile() ([]*DeadTask, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.Open(d.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dead-letter fallback open failed: %w", err)
	}
	defer f.Close()

	var out []*DeadTask
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		dead, err := decodeDeadTask(line)
		if err != nil {
			d.logger.Warn("skipping undecodable fallback record", "error", err)
			continue
		}
		out = append(out, dead)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("dead-letter fallback read failed: %w", err)
	}
	return out, nil
}

func decodeDeadTask(raw []byte) (*DeadTask, error) {
	var dead DeadTask
	if err := json.Unmarshal(raw, &dead); err != nil {
		return nil, err
	}
	if dead.Task == nil {
		return nil, fmt.Errorf("dead-letter record has no task")
	}
	return &dead, nil
}

// Replay drains the store and re-enqueues every task, resetting attempt
// counts. It is gated on explicit administrator intent.
func (d *DeadLetters) Replay(ctx context.Context, b *Broker, admin bool) (int, error) {
	if !admin {
		return 0, fmt.Errorf("dead-letter replay requires administrator approval")
	}

	stored, err := d.List(ctx)
	if err != nil {
		return 0, err
	}

	var mErr multierror.Error
	replayed := 0
	for _, dead := range stored {
		task := dead.Task.Copy()
		task.Attempts = 0
		if err := b.Enqueue(ctx, task); err != nil {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("replay of %s failed: %w", task.ID, err))
			continue
		}
		replayed++
	}

	if err := d.clear(ctx); err != nil {
		mErr.Errors = append(mErr.Errors, err)
	}

	metrics.IncrCounter([]string{"autosched", "dead_letter", "replayed"}, float32(replayed))
	d.logger.Info("dead-letter replay finished", "replayed", replayed, "stored", len(stored))
	return replayed, mErr.ErrorOrNil()
}

func (d *DeadLetters) clear(ctx context.Context) error {
	var mErr multierror.Error

	if d.rdb != nil {
		rctx, cancel := context.WithTimeout(ctx, deadLetterTimeout)
		err := d.rdb.Del(rctx, deadLetterKey).Err()
		cancel()
		if err != nil {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("dead-letter primary clear failed: %w", err))
		}
	}

	d.mu.Lock()
	err := os.Remove(d.path)
	d.mu.Unlock()
	if err != nil && !os.IsNotExist(err) {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("dead-letter fallback clear failed: %w", err))
	}
	return mErr.ErrorOrNil()
}
