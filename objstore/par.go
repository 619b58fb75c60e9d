package objstore

import (
	"strings"
	"time"

	"github.com/svctrust/core/encoding"
	"github.com/svctrust/core/metrics"
	"github.com/svctrust/core/svcerrors"
)

// AccessType is the OCI-style access string a driver's presigned-request
// API is configured with, following the exact vocabulary
// _oci_objstore.py:create_par uses.
type AccessType string

const (
	AccessObjectRead      AccessType = "ObjectRead"
	AccessObjectWrite     AccessType = "ObjectWrite"
	AccessObjectReadWrite AccessType = "ObjectReadWrite"
	AccessAnyObjectWrite  AccessType = "AnyObjectWrite"
)

// PAR is a time-limited capability URL scoped to a bucket or an object.
type PAR struct {
	URL         string    `json:"url"`
	Key         *string   `json:"key,omitempty"` // nil means bucket-scope
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	IsReadable  bool      `json:"is_readable"`
	IsWriteable bool      `json:"is_writeable"`
	ParID       string    `json:"par_id"`
	ParName     string    `json:"par_name"`
	Driver      string    `json:"driver"`
}

// ResolveAccessType implements the scope-selection table of spec §4.7. It
// is called by every concrete driver before touching its SDK, so the
// "bucket-scope PAR is never simultaneously readable" platform limitation
// is enforced identically everywhere instead of being re-derived per
// backend.
func ResolveAccessType(isBucketScope, readable, writeable bool) (AccessType, error) {
	access, err := resolveAccessType(isBucketScope, readable, writeable)
	if err != nil {
		return "", err
	}
	metrics.RecordPARIssued(string(access))
	return access, nil
}

func resolveAccessType(isBucketScope, readable, writeable bool) (AccessType, error) {
	if isBucketScope {
		if readable {
			return "", svcerrors.NewPARError(
				"cannot create a bucket PAR with read permissions: the underlying platform does not support it")
		}
		// The original driver (_oci_objstore.py:create_par) assigns
		// AnyObjectWrite for every non-readable bucket-scope PAR
		// unconditionally, without itself checking writeable; matched here
		// rather than tightened, since spec §4.7's scope table leaves the
		// bucket+F+F cell unspecified and the review of this component
		// resolved the ambiguity in favour of the original's behaviour.
		return AccessAnyObjectWrite, nil
	}
	switch {
	case readable && writeable:
		return AccessObjectReadWrite, nil
	case readable:
		return AccessObjectRead, nil
	case writeable:
		return AccessObjectWrite, nil
	default:
		return "", svcerrors.NewPARError("an object PAR must be readable, writeable, or both")
	}
}

// DefaultPARDuration is used when a caller does not specify one.
const DefaultPARDuration = 1 * time.Hour

// ValidateDuration enforces the same >=5s floor that
// encoding.GetDatetimeFuture applies to every future timestamp this module
// computes, since a PAR's expiry is exactly such a timestamp.
func ValidateDuration(d time.Duration) error {
	if d < encoding.MinFutureDelta {
		return svcerrors.NewPARError("PAR duration %s is below the minimum of %s", d, encoding.MinFutureDelta)
	}
	return nil
}

// QualifyURL canonicalises a driver-returned access URI into a fully
// qualified URL, stripping any leading slash, the same convention
// _get_object_url_for_region used for OCI.
func QualifyURL(host, accessURI string) string {
	accessURI = strings.TrimLeft(accessURI, "/")
	host = strings.TrimRight(host, "/")
	return host + "/" + accessURI
}
