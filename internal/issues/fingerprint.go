package issues

import (
	"github.com/sitescope/engine/internal/resultstore"
	"github.com/sitescope/engine/pkg/hashutil"
)

// Fingerprint computes the stable identity of a finding:
// blake3(plugin_name + "\x1f" + category + "\x1f" + normalized_target),
// hex-encoded. The normalized target is the finding's URL for per-URL
// findings, or the literal category for findings a plugin declares
// site-wide (collapsing every affected URL under one issue).
func Fingerprint(pluginName string, finding resultstore.Finding) string {
	target := finding.URL
	if finding.SiteWide {
		target = finding.Category
	}

	raw := pluginName + "\x1f" + finding.Category + "\x1f" + target
	// HashBytes only fails for an unrecognized algorithm constant, never
	// for input content, so the error here can't occur with a literal.
	hash, _ := hashutil.HashBytes([]byte(raw), hashutil.HashAlgoBLAKE3)
	return hash
}
