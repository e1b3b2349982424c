// Copyright 2025 The Nereid Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package querydaemon

import (
	"database/sql"
	"sync/atomic"
	"weak"

	nereiderrors "github.com/nereid-io/nereid/pkg/errors"
	"github.com/nereid-io/nereid/pkg/promise"
)

// QueryCallback receives the positioned result rows of a batch load,
// once per row.
type QueryCallback func(rows *sql.Rows) error

// AccessCallback receives a worker's raw connection for low-level use.
type AccessCallback func(conn *sql.DB) error

// operation is one queued unit of database work.
type operation interface {
	// promise upgrades the weak promise reference, or returns nil if
	// the consumer abandoned it.
	promise() *promise.Basic

	// useReplica routes execution to the worker's replica connection.
	useReplica() bool

	// combinable returns the record whose writes may coalesce, or nil.
	combinable() Record

	// table returns the routing hint.
	table() string

	// generateSQL renders the statement to execute; empty for
	// operations that take the connection directly.
	generateSQL() string

	// execute runs the operation on the chosen connection.
	execute(conn *sql.DB, query string) error

	// skipIfAbandoned marks operations whose only effect is filling
	// the consumer's object; they are skipped when the promise died.
	skipIfAbandoned() bool

	// kind labels the operation for metrics.
	kind() string

	// attachProbe and releaseProbe tie the operation's lifetime to its
	// route's reference count.
	attachProbe(p *probe)
	releaseProbe()
}

// releaser is implemented by operations with completion work to do when
// their entry leaves the queue.
type releaser interface {
	release()
}

// operationBase carries the promise and probe references common to all
// operations.
type operationBase struct {
	weakPromise weak.Pointer[promise.Basic]
	probeRef    *probe
}

func (b *operationBase) promise() *promise.Basic {
	return b.weakPromise.Value()
}

func (b *operationBase) attachProbe(p *probe) {
	b.probeRef = p
}

func (b *operationBase) releaseProbe() {
	if b.probeRef != nil {
		b.probeRef.refs.Add(-1)
		b.probeRef = nil
	}
}

type saveOperation struct {
	operationBase
	object    Record
	toReplace bool
}

func (o *saveOperation) useReplica() bool      { return false }
func (o *saveOperation) combinable() Record    { return o.object }
func (o *saveOperation) table() string         { return o.object.Table() }
func (o *saveOperation) generateSQL() string   { return buildSaveSQL(o.object, o.toReplace) }
func (o *saveOperation) skipIfAbandoned() bool { return false }
func (o *saveOperation) kind() string          { return "save" }

func (o *saveOperation) execute(conn *sql.DB, query string) error {
	_, err := conn.Exec(query)
	return asDriverError(err)
}

type loadOperation struct {
	operationBase
	object Record
	query  string
}

func (o *loadOperation) useReplica() bool      { return true }
func (o *loadOperation) combinable() Record    { return nil }
func (o *loadOperation) table() string         { return o.object.Table() }
func (o *loadOperation) generateSQL() string   { return o.query }
func (o *loadOperation) skipIfAbandoned() bool { return true }
func (o *loadOperation) kind() string          { return "load" }

func (o *loadOperation) execute(conn *sql.DB, query string) error {
	rows, err := conn.Query(query)
	if err != nil {
		return asDriverError(err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return asDriverError(err)
		}
		return &nereiderrors.NoDataError{Table: o.table(), Query: query}
	}
	if err := o.object.Fetch(rows); err != nil {
		return err
	}
	// Residual rows are discarded by Close.
	return nil
}

type deleteOperation struct {
	operationBase
	tableHint string
	query     string
}

func (o *deleteOperation) useReplica() bool      { return false }
func (o *deleteOperation) combinable() Record    { return nil }
func (o *deleteOperation) table() string         { return o.tableHint }
func (o *deleteOperation) generateSQL() string   { return o.query }
func (o *deleteOperation) skipIfAbandoned() bool { return false }
func (o *deleteOperation) kind() string          { return "delete" }

func (o *deleteOperation) execute(conn *sql.DB, query string) error {
	_, err := conn.Exec(query)
	return asDriverError(err)
}

type batchLoadOperation struct {
	operationBase
	callback  QueryCallback
	tableHint string
	query     string
}

func (o *batchLoadOperation) useReplica() bool      { return true }
func (o *batchLoadOperation) combinable() Record    { return nil }
func (o *batchLoadOperation) table() string         { return o.tableHint }
func (o *batchLoadOperation) generateSQL() string   { return o.query }
func (o *batchLoadOperation) skipIfAbandoned() bool { return true }
func (o *batchLoadOperation) kind() string          { return "batch_load" }

func (o *batchLoadOperation) execute(conn *sql.DB, query string) error {
	rows, err := conn.Query(query)
	if err != nil {
		return asDriverError(err)
	}
	defer rows.Close()
	if o.callback != nil {
		for rows.Next() {
			if err := o.callback(rows); err != nil {
				return err
			}
		}
	}
	return asDriverError(rows.Err())
}

type lowLevelOperation struct {
	operationBase
	callback    AccessCallback
	tableHint   string
	fromReplica bool
}

func (o *lowLevelOperation) useReplica() bool      { return o.fromReplica }
func (o *lowLevelOperation) combinable() Record    { return nil }
func (o *lowLevelOperation) table() string         { return o.tableHint }
func (o *lowLevelOperation) generateSQL() string   { return "" }
func (o *lowLevelOperation) skipIfAbandoned() bool { return false }
func (o *lowLevelOperation) kind() string          { return "low_level" }

func (o *lowLevelOperation) execute(conn *sql.DB, _ string) error {
	return o.callback(conn)
}

// waitOperation is broadcast to every worker; the shared promise is
// fulfilled when the last copy leaves its queue.
type waitOperation struct {
	operationBase
	remaining *atomic.Int64
}

// The normal fulfilment path is bypassed; release settles the promise.
func (o *waitOperation) promise() *promise.Basic { return nil }
func (o *waitOperation) useReplica() bool        { return false }
func (o *waitOperation) combinable() Record      { return nil }
func (o *waitOperation) table() string           { return "" }
func (o *waitOperation) generateSQL() string     { return "SELECT 0" }
func (o *waitOperation) skipIfAbandoned() bool   { return false }
func (o *waitOperation) kind() string            { return "wait" }

func (o *waitOperation) execute(conn *sql.DB, query string) error {
	_, err := conn.Exec(query)
	return asDriverError(err)
}

func (o *waitOperation) release() {
	if o.remaining.Add(-1) != 0 {
		return
	}
	if p := o.operationBase.weakPromise.Value(); p != nil {
		p.SetSuccess(promise.Unit{}, false)
	}
}
