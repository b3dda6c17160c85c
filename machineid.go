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
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// machineID lazily generates and persists the host identifier returned by
// the inline Peer.GetMachineId handler, caching it in memory for the
// process lifetime. A missing or unwritable state directory falls back to
// an in-memory-only ID rather than failing the RPC: GetMachineId has no
// legitimate failure mode other than UnknownMethod.
type machineID struct {
	once sync.Once
	dir  string
	id   string
}

func (m *machineID) get() string {
	m.once.Do(func() {
		if m.dir != "" {
			if id, err := readMachineIDFile(m.dir); err == nil {
				m.id = id
				return
			}
		}

		m.id = strings.ReplaceAll(uuid.New().String(), "-", "")

		if m.dir != "" {
			_ = writeMachineIDFile(m.dir, m.id)
		}
	})
	return m.id
}

func machineIDPath(dir string) string {
	return filepath.Join(dir, "machine-id")
}

func readMachineIDFile(dir string) (string, error) {
	b, err := os.ReadFile(machineIDPath(dir))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func writeMachineIDFile(dir, id string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(machineIDPath(dir), []byte(id+"\n"), 0o600)
}
