package xlink

import "github.com/luxonis/xlink/internal/xlinkerr"

// IsTimeout reports whether err is a deadline expiry from one of the
// *WithTimeout calls or ResetRemote (spec §7's Timeout code).
func IsTimeout(err error) bool { return xlinkerr.Is(err, xlinkerr.Timeout) }
