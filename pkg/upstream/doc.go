// Package upstream exposes the global configuration file as read-only
// snapshots: per-tool default upstreams, named profiles and the network
// proxy settings.
//
// FileSource watches the file with fsnotify and swaps in a new snapshot on
// every change, notifying listeners registered with OnChange. A file that
// fails to parse leaves the previous snapshot in place.
package upstream
