package daemon

import "errors"

// Sentinel errors, wrapped with %w so callers can classify via errors.Is
// and map to bounded-cardinality metrics labels (spec §7).
var (
	// ErrBind marks a failure to bind the daemon's primary, caller-requested
	// listener (spec §7 "bind failure on requested port/IP" — a configuration
	// error, raised to AddNode/Run's caller rather than recovered locally).
	ErrBind = errors.New("bind")
	// ErrListen marks a failure to open a secondary, internally-allocated
	// socket (e.g. UASP's data-plane port, UASP2's data socket).
	ErrListen = errors.New("listen")
	ErrAccept = errors.New("accept")
)
