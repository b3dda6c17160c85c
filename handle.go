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

import "sync"

// Handle disposes of one registration (a filter, a signal receiver) made
// against a Connection. Remove is safe to call more than once and from
// more than one goroutine; only the first call has any effect.
type Handle struct {
	remove func()
	once   sync.Once
}

// Remove undoes the registration this Handle was returned for.
func (h *Handle) Remove() {
	if h == nil {
		return
	}
	h.once.Do(h.remove)
}
