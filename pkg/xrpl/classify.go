package xrpl

import (
	"strings"

	"github.com/nexus-labs/nexus/core/pkg/contracts"
)

// ClassifyEngineResult maps an XRPL engine result code onto the stable
// failure codes. All four rejection classes (malformed, failure, claimed
// fee, retryable) collapse to REJECTED; a retry decision belongs to the
// queue, not to the classifier. tesSUCCESS never names a failure, so it
// falls through to UNKNOWN like any unrecognized prefix.
func ClassifyEngineResult(engineResult string) string {
	for _, prefix := range []string{"tem", "tef", "tec", "ter"} {
		if strings.HasPrefix(engineResult, prefix) {
			return contracts.CodeRejected
		}
	}
	return contracts.CodeUnknown
}
