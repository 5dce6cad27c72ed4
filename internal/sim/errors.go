package sim

import "errors"

// ErrConfig marks a configuration error per spec §7: AddNode while running,
// orate not a multiple of irate, or an unknown daemon framing.
var ErrConfig = errors.New("config")
