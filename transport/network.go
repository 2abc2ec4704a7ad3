/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package transport

// NetworkMonitor reports whether a network path to the signaling server
// exists and notifies subscribers when that changes. Host environments
// plug in their platform connectivity source; the default assumes the
// network is always reachable.
type NetworkMonitor interface {
	// Online reports whether a network path currently exists.
	Online() bool

	// OnChange registers a callback fired on every availability
	// transition. Implementations must not fire it concurrently.
	OnChange(fn func(online bool))
}

// AlwaysOnline is a NetworkMonitor for environments without a
// connectivity source. It reports online and never fires a change.
type AlwaysOnline struct{}

// Online always returns true.
func (AlwaysOnline) Online() bool { return true }

// OnChange is a no-op; the availability never changes.
func (AlwaysOnline) OnChange(func(online bool)) {}
