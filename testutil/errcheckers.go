// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2022-2024 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package testutil

import (
	"errors"
	"fmt"
	"reflect"

	"gopkg.in/check.v1"
)

type errorChecker struct {
	*check.CheckerInfo
	check func(err error, target interface{}) (bool, string)
}

func (ec *errorChecker) Check(params []interface{}, names []string) (bool, string) {
	if params[0] == nil {
		return params[1] == nil, ""
	}
	err, ok := params[0].(error)
	if !ok {
		return false, fmt.Sprintf("%s must be an error, not %T", names[0], params[0])
	}
	return ec.check(err, params[1])
}

// ErrorIs checks that errors.Is(error, target) holds.
//
// For example:
//
//	c.Check(err, testutil.ErrorIs, squashfs.ErrCorrupt)
var ErrorIs check.Checker = &errorChecker{
	CheckerInfo: &check.CheckerInfo{Name: "ErrorIs", Params: []string{"error", "target"}},
	check: func(err error, target interface{}) (bool, string) {
		t, ok := target.(error)
		if !ok {
			return false, "target must be an error"
		}
		return errors.Is(err, t), ""
	},
}

// ErrorAs checks that errors.As(error, target) holds, target is set to
// the matching error in the chain.
//
// For example:
//
//	var cerr *squashfs.CorruptError
//	c.Assert(err, testutil.ErrorAs, &cerr)
//	c.Check(cerr.Offset, Equals, int64(96))
var ErrorAs check.Checker = &errorChecker{
	CheckerInfo: &check.CheckerInfo{Name: "ErrorAs", Params: []string{"error", "target"}},
	check: func(err error, target interface{}) (bool, string) {
		v := reflect.ValueOf(target)
		if target == nil || v.Kind() != reflect.Ptr || v.IsNil() {
			return false, "target must be a non-nil pointer"
		}
		elem := v.Type().Elem()
		if elem.Kind() != reflect.Interface && !elem.Implements(reflect.TypeOf((*error)(nil)).Elem()) {
			return false, fmt.Sprintf("target must point to an error type, not %s", elem)
		}
		return errors.As(err, target), ""
	},
}
