/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package worker

import (
	"io"
	"sync"
)

// ConnHolder keeps at most one live command channel. A newer channel
// supersedes the older one, which is closed.
type ConnHolder struct {
	mu      sync.Mutex
	current io.Closer
}

// Replace installs c and closes the handle it displaces.
func (h *ConnHolder) Replace(c io.Closer) {
	h.mu.Lock()
	prev := h.current
	h.current = c
	h.mu.Unlock()

	if prev != nil && prev != c {
		_ = prev.Close()
	}
}

// Clear empties the slot only if c is still the current handle, so a
// superseded read loop cannot drop its replacement.
func (h *ConnHolder) Clear(c io.Closer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current != c {
		return false
	}

	h.current = nil

	return true
}

// Current returns the live handle, if any.
func (h *ConnHolder) Current() io.Closer {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.current
}
