package wire

import "fmt"

// RemoteErrorKind is the closed set of failures a loader can report
// across the RPC boundary.
type RemoteErrorKind int

const (
	// KindTransport covers framing and connection faults.
	KindTransport RemoteErrorKind = iota
	// KindLoadingError is a content-level failure inside a loader.
	KindLoadingError
	// KindInternalLoaderError is a bug or unexpected state inside a
	// loader.
	KindInternalLoaderError
	// KindUnsupportedImageFormat reports an image variant the loader
	// does not handle.
	KindUnsupportedImageFormat
	// KindDimensionTooLarge reports dimensions beyond system limits.
	KindDimensionTooLarge
	// KindOutOfMemory reports an allocation failure inside the loader.
	KindOutOfMemory
)

// The error-name prefix preserves the taxonomy across the boundary.
const errorPrefix = "org.gnome.glycin.Error."

var kindNames = map[RemoteErrorKind]string{
	KindTransport:              errorPrefix + "Transport",
	KindLoadingError:           errorPrefix + "LoadingError",
	KindInternalLoaderError:    errorPrefix + "InternalLoaderError",
	KindUnsupportedImageFormat: errorPrefix + "UnsupportedImageFormat",
	KindDimensionTooLarge:      errorPrefix + "DimensionTooLarge",
	KindOutOfMemory:            errorPrefix + "OutOfMemory",
}

var namesToKind = func() map[string]RemoteErrorKind {
	m := make(map[string]RemoteErrorKind, len(kindNames))
	for k, v := range kindNames {
		m[v] = k
	}
	return m
}()

// WireName returns the stable error name used on the wire.
func (k RemoteErrorKind) WireName() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return errorPrefix + "Transport"
}

// KindFromWireName resolves a wire error name; unknown names map to
// the transport kind so newer loaders degrade gracefully.
func KindFromWireName(name string) RemoteErrorKind {
	if k, ok := namesToKind[name]; ok {
		return k
	}
	return KindTransport
}

// RemoteError is a loader failure as seen by the host.
type RemoteError struct {
	Kind    RemoteErrorKind
	Message string
}

func (e *RemoteError) Error() string {
	switch e.Kind {
	case KindDimensionTooLarge:
		return "dimension too large for system"
	default:
		return fmt.Sprintf("%s: %s", e.Kind.WireName(), e.Message)
	}
}
