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
	"errors"

	sqlite "modernc.org/sqlite"

	"github.com/nereid-io/nereid/internal/config"
	nereiderrors "github.com/nereid-io/nereid/pkg/errors"
)

// Connector establishes worker connections. Each worker owns its
// connections exclusively; the connector is only the factory.
type Connector interface {
	// Connect opens a connection. For replica connections, primary is
	// the worker's existing primary connection, which is reused when no
	// replica is configured.
	Connect(fromReplica bool, primary *sql.DB) (*sql.DB, error)
}

// sqliteConnector opens SQLite databases through database/sql. Writes
// are serialized on a single connection per handle, the way the
// driver expects.
type sqliteConnector struct {
	cfg config.DBConfig
}

func (c *sqliteConnector) Connect(fromReplica bool, primary *sql.DB) (*sql.DB, error) {
	addr := c.cfg.PrimaryAddr
	if fromReplica {
		if c.cfg.ReplicaAddr == "" {
			if primary != nil {
				return primary, nil
			}
		} else {
			addr = c.cfg.ReplicaAddr
		}
	}

	db, err := sql.Open("sqlite", addr)
	if err != nil {
		return nil, asDriverError(err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, asDriverError(err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, asDriverError(err)
	}
	return db, nil
}

// asDriverError wraps driver failures into the tagged DriverError the
// retry loop dispatches on. Errors that already carry a tag, and nil,
// pass through.
func asDriverError(err error) error {
	if err == nil {
		return nil
	}
	var already *nereiderrors.DriverError
	if errors.As(err, &already) {
		return err
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return &nereiderrors.DriverError{Code: serr.Code(), Message: serr.Error(), Cause: err}
	}
	return &nereiderrors.DriverError{Message: err.Error(), Cause: err}
}
