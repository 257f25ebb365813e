// Package msurl parses the msc:// URL scheme (and the file:// and bare
// absolute-path forms every client entry point also accepts) into a
// profile name plus a path within that profile.
package msurl

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultProfile is used when a URL carries no profile: file:// URLs
// and bare absolute paths.
const DefaultProfile = "default"

// Reference is a parsed msc URL: which profile to resolve against, and
// the path within that profile's namespace.
type Reference struct {
	Profile string
	Path    string
}

// Parse accepts:
//   - "msc://<profile>[/<path>]"
//   - "file://<absolute path>"
//   - a bare absolute POSIX path
//
// Any other scheme is rejected. Profile names cannot start with an
// underscore (reserved for internal use).
func Parse(raw string) (Reference, error) {
	if strings.HasPrefix(raw, "/") {
		return Reference{Profile: DefaultProfile, Path: raw}, nil
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return Reference{}, fmt.Errorf("msurl: invalid URL %q: %w", raw, err)
	}

	switch parsed.Scheme {
	case "msc":
		profile := parsed.Host
		if profile == "" {
			return Reference{}, fmt.Errorf("msurl: %q is missing a profile name", raw)
		}
		if strings.HasPrefix(profile, "_") {
			return Reference{}, fmt.Errorf("msurl: profile %q cannot start with an underscore", profile)
		}
		return Reference{Profile: profile, Path: strings.TrimPrefix(parsed.Path, "/")}, nil

	case "file":
		path := parsed.Path
		if path == "" {
			path = parsed.Opaque
		}
		if !strings.HasPrefix(path, "/") {
			return Reference{}, fmt.Errorf("msurl: file:// URL %q must carry an absolute path", raw)
		}
		return Reference{Profile: DefaultProfile, Path: path}, nil

	default:
		return Reference{}, fmt.Errorf("msurl: unsupported scheme %q in %q", parsed.Scheme, raw)
	}
}

// String renders ref back into its "msc://profile/path" canonical form.
func (r Reference) String() string {
	if r.Path == "" {
		return "msc://" + r.Profile
	}
	return "msc://" + r.Profile + "/" + r.Path
}
