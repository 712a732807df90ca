package llm

// maskPrefixLen is the number of leading credential bytes kept in logs and
// error payloads.
const maskPrefixLen = 8

// redactionMarker terminates every masked credential.
const redactionMarker = "***"

// MaskCredential renders a credential safe for logs and error payloads.
// At most maskPrefixLen leading bytes survive; the rest is replaced by the
// redaction marker. The transform is pure and lossy: equal credentials mask
// equally, and the suffix is not recoverable from the output.
func MaskCredential(credential string) string {
	if len(credential) > maskPrefixLen {
		credential = credential[:maskPrefixLen]
	}
	return credential + redactionMarker
}
