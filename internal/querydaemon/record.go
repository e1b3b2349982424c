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
)

// Assignment is one column value of a record to persist.
type Assignment struct {
	Column string
	Value  any
}

// Record is a persistable object. Implementations embed RecordBase,
// which carries the combined-write bookkeeping.
type Record interface {
	// Table returns the table this record belongs to.
	Table() string

	// Assignments returns the column values a save writes.
	Assignments() []Assignment

	// Fetch fills the record from the current row of a load query.
	Fetch(rows *sql.Rows) error

	stampCell() *atomic.Pointer[queueEntry]
}

// RecordBase provides the combined-write stamp every Record embeds.
// The stamp holds the most recently queued write entry for the record;
// queued writes it supersedes turn into no-ops when their turn comes.
type RecordBase struct {
	combinedWrite atomic.Pointer[queueEntry]
}

func (b *RecordBase) stampCell() *atomic.Pointer[queueEntry] {
	return &b.combinedWrite
}
