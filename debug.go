// Copyright 2024 The godbusd Authors.
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

package dbus

import (
	"flag"
	"os"
	"sync"

	"github.com/op/go-logging"
)

var fEnableDebug = flag.Bool(
	"dbus.debug",
	false,
	"Log verbose connection/dispatcher activity to stderr.")

var gLogger *logging.Logger
var gLoggerOnce sync.Once

var gFormat = logging.MustStringFormatter(
	`%{time:15:04:05.000} %{level:.4s} dbus ▶ %{message}`,
)

func initLogger() {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, gFormat)
	leveled := logging.AddModuleLevel(formatted)
	if fEnableDebug != nil && *fEnableDebug {
		leveled.SetLevel(logging.DEBUG, "")
	} else {
		leveled.SetLevel(logging.WARNING, "")
	}
	gLogger = logging.MustGetLogger("dbus")
	gLogger.SetBackend(leveled)
}

// defaultLogger returns the package-wide logger used by connections that
// weren't given one explicitly via WithLogger.
func defaultLogger() *logging.Logger {
	gLoggerOnce.Do(initLogger)
	return gLogger
}
