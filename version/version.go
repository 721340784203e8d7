package version

import "fmt"

const (
	appMajor = 0
	appMinor = 3
	appPatch = 0
)

// UserAgent is sent with outbound webhook requests.
const UserAgent = "xmr-escrow"

// String returns the application version as a properly formed string.
func String() string {
	return fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
}
