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

package errors

import (
	"errors"
)

// IsAlreadySet reports whether err is an AlreadySetError.
func IsAlreadySet(err error) bool {
	var e *AlreadySetError
	return errors.As(err, &e)
}

// IsLoadError reports whether err is a LoadError.
func IsLoadError(err error) bool {
	var e *LoadError
	return errors.As(err, &e)
}

// IsResolveError reports whether err is a ResolveError.
func IsResolveError(err error) bool {
	var e *ResolveError
	return errors.As(err, &e)
}

// IsDriverError reports whether err is a DriverError.
func IsDriverError(err error) bool {
	var e *DriverError
	return errors.As(err, &e)
}

// IsNoData reports whether err is a NoDataError.
func IsNoData(err error) bool {
	var e *NoDataError
	return errors.As(err, &e)
}

// IsNotEnabled reports whether err is a NotEnabledError.
func IsNotEnabled(err error) bool {
	var e *NotEnabledError
	return errors.As(err, &e)
}

// IsShuttingDown reports whether err is a ShuttingDownError.
func IsShuttingDown(err error) bool {
	var e *ShuttingDownError
	return errors.As(err, &e)
}

// DriverCode extracts the driver error code from err, or 0 if err does
// not carry one.
func DriverCode(err error) int {
	var e *DriverError
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// As is a re-export of the standard errors.As for callers that already
// import this package.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is is a re-export of the standard errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// New is a re-export of the standard errors.New.
func New(text string) error {
	return errors.New(text)
}
