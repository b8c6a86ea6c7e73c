package tombstone

import "strings"

// Suffix is appended by the overlay filesystem to the name of a deleted
// file to form its tombstone marker.
const Suffix = "_HIDDEN~"

// Marker is a tombstone with the locations it stands for.
type Marker struct {
	// Path is the marker file in the local tier.
	Path string
	// Rel is the hidden file's path below the local tier root, with a
	// leading slash.
	Rel string
	// CloudPath is the hidden file in the read-only cloud view.
	CloudPath string
	// RemotePath is the hidden file's object on the cold tier remote.
	RemotePath string
}

// Roots are the three locations markers are resolved against.
type Roots struct {
	Local  string
	Cloud  string
	Remote string
}

// IsMarker reports whether path names a tombstone marker.
func IsMarker(path string) bool {
	return strings.HasSuffix(path, Suffix) && len(path) > len(Suffix)
}

// Resolve derives the cloud view and remote locations of the marker at
// path by replacing the local root prefix and removing the exact suffix.
// It returns false when path is not a marker below the local root.
func (r Roots) Resolve(path string) (Marker, bool) {
	if !IsMarker(path) {
		return Marker{}, false
	}
	local := trimSlash(r.Local)
	if !strings.HasPrefix(path, local+"/") {
		return Marker{}, false
	}
	rel := strings.TrimSuffix(path[len(local):], Suffix)
	if rel == "/" {
		return Marker{}, false
	}
	return Marker{
		Path:       path,
		Rel:        rel,
		CloudPath:  trimSlash(r.Cloud) + rel,
		RemotePath: trimSlash(r.Remote) + rel,
	}, true
}

func trimSlash(p string) string {
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	if p == "/" {
		return ""
	}
	return p
}
