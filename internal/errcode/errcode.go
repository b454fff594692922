// Package errcode holds the numeric codes returned in API error bodies and
// pushed in notifications. 4xxx codes are client-recoverable, 5xxx are not.
package errcode

const (
	OK                     = 0
	ValidationFailed       = 4000
	AuthenticationRequired = 4010
	Forbidden              = 4030
	NotFound               = 4040
	Conflict               = 4090
	Expired                = 4100
	PayloadTooLarge        = 4130
	InvalidDraft           = 4220
	RateLimited            = 4290
	SystemError            = 5000
)
