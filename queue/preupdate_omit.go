//go:build !sqlite_preupdate_hook

package queue

// registerPreUpdateHook is unavailable without the engine's pre-update hook.
func registerPreUpdateHook(*Conn) bool { return false }
